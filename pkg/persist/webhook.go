// Package persist bridges the live in-memory documents to durable
// storage: it debounces change notifications per room and flushes
// snapshots to an external HTTP sink, bounding both write frequency and
// worst-case staleness.
package persist

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/mapsync/mapsync/pkg/document"
)

// Event is the kind tag attached to a delivered snapshot.
type Event string

const (
	// EventCreate marks the first successful flush of a room
	EventCreate Event = "create"
	// EventChange marks every flush after the first
	EventChange Event = "change"
)

// Sink delivers a room snapshot to durable storage.
type Sink interface {
	Deliver(ctx context.Context, roomID string, event Event, snap document.Snapshot) error
}

// payload is the wire shape of a delivered snapshot: plain entity arrays,
// ordered by id so identical documents always serialize identically.
type payload struct {
	Nodes []document.Node `json:"nodes"`
	Edges []document.Edge `json:"edges"`
}

// WebhookSink posts snapshots to a configured HTTP endpoint, authenticated
// with an HMAC-SHA256 signature over the request body.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSink creates a sink for the given endpoint and shared secret.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deliver posts one snapshot. Any transport error or non-2xx response is
// returned as an error; the caller decides whether and when to retry.
func (s *WebhookSink) Deliver(ctx context.Context, roomID string, event Event, snap document.Snapshot) error {
	body, err := json.Marshal(buildPayload(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sync-Event", string(event))
	req.Header.Set("X-Sync-Room", roomID)
	req.Header.Set("X-Sync-Signature", "sha256="+Signature(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver snapshot: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink responded %d", resp.StatusCode)
	}
	return nil
}

// NopSink discards snapshots. It stands in for the webhook when no
// endpoint is configured, keeping the rest of the pipeline live.
type NopSink struct{}

func (NopSink) Deliver(context.Context, string, Event, document.Snapshot) error {
	return nil
}

// Signature computes the hex HMAC-SHA256 of body under the shared secret.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func buildPayload(snap document.Snapshot) payload {
	p := payload{
		Nodes: make([]document.Node, 0, len(snap.Nodes)),
		Edges: make([]document.Edge, 0, len(snap.Edges)),
	}
	for _, node := range snap.Nodes {
		p.Nodes = append(p.Nodes, node)
	}
	for _, edge := range snap.Edges {
		p.Edges = append(p.Edges, edge)
	}
	sort.Slice(p.Nodes, func(i, j int) bool { return p.Nodes[i].ID < p.Nodes[j].ID })
	sort.Slice(p.Edges, func(i, j int) bool { return p.Edges[i].ID < p.Edges[j].ID })
	return p
}
