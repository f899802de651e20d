package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/mapsync/mapsync/pkg/config"
	"github.com/mapsync/mapsync/pkg/logging"
	"github.com/mapsync/mapsync/pkg/metrics"
	"github.com/mapsync/mapsync/pkg/persist"
	"github.com/mapsync/mapsync/pkg/room"
	"github.com/mapsync/mapsync/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration (optional)")
	port := flag.Int("port", 0, "Listen port (overrides config, or set PORT)")
	flag.Parse()

	// Structured logging (Railway best practice)
	boot := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.ListenAddr = ":" + strconv.Itoa(*port)
	}

	logger := logging.NewDefaultLogger()
	reg := metrics.NewRegistry()

	var sink persist.Sink
	if cfg.Webhook.URL != "" {
		sink = persist.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Secret)
		boot.Info("webhook persistence enabled",
			"debounce_ms", cfg.Webhook.DebounceMs,
			"max_debounce_ms", cfg.Webhook.MaxDebounceMs,
		)
	} else {
		boot.Warn("no webhook endpoint configured, documents are in-memory only")
		sink = persist.NopSink{}
	}

	manager := room.NewManager(cfg, sink, logger, reg)

	var srv *server.GracefulServer

	mux := http.NewServeMux()
	mux.Handle(room.SyncPathPrefix, manager)
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if srv.IsShuttingDown() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv = server.NewGracefulServer(cfg.ListenAddr, mux, logger)
	srv.OnShutdown(manager.Shutdown)

	boot.Info("sync server starting", "addr", cfg.ListenAddr)
	if err := srv.Start(); err != nil {
		boot.Error("server error", "error", err)
		os.Exit(1)
	}
}
