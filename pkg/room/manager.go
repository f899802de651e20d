package room

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mapsync/mapsync/pkg/config"
	"github.com/mapsync/mapsync/pkg/document"
	"github.com/mapsync/mapsync/pkg/logging"
	"github.com/mapsync/mapsync/pkg/metrics"
	"github.com/mapsync/mapsync/pkg/persist"
)

// handle tracks a live room plus the manager-side connection count. The
// count is authoritative for release decisions: it is incremented under
// the manager lock before the join command is even queued, so the grace
// timer can never observe zero while a join is in flight.
type handle struct {
	room  *Room
	conns int
	grace *time.Timer
}

// Manager creates rooms lazily on first join and releases them after a
// grace period once the last session leaves.
type Manager struct {
	cfg  *config.Config
	sink persist.Sink

	mu    sync.Mutex
	rooms map[string]*handle

	upgrader websocket.Upgrader

	logger logging.Logger
	reg    *metrics.Registry
}

func NewManager(cfg *config.Config, sink persist.Sink, logger logging.Logger, reg *metrics.Registry) *Manager {
	return &Manager{
		cfg:   cfg,
		sink:  sink,
		rooms: make(map[string]*handle),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced upstream by the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		reg:    reg,
	}
}

// ServeHTTP upgrades a sync connection. The room id is the path segment
// after SyncPathPrefix.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", logging.Room(roomID), logging.Error(err))
		return
	}

	rm := m.acquire(roomID)
	sess := newSession(conn, rm, m.logger, m.reg)
	if !rm.attach(sess) {
		// Lost the race against a shutdown. The room's handle is already
		// out of the map, so there is no connection count to unwind; the
		// client just reconnects.
		conn.Close()
		return
	}

	go sess.writePump()
	go sess.readPump()
}

func roomIDFromPath(path string) (string, error) {
	rest := strings.TrimPrefix(path, SyncPathPrefix)
	if rest == path {
		return "", fmt.Errorf("unknown sync path")
	}
	roomID := strings.Trim(rest, "/")
	if roomID == "" || strings.Contains(roomID, "/") {
		return "", fmt.Errorf("missing or malformed room id")
	}
	return roomID, nil
}

// acquire returns the live room for roomID, creating it if needed, and
// counts the incoming connection so the room cannot be released under it.
func (m *Manager) acquire(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.rooms[roomID]
	if !ok {
		h = &handle{room: m.newRoom(roomID)}
		m.rooms[roomID] = h
		m.reg.RoomsActive.Inc()
		m.reg.RoomsOpenedTotal.Inc()
		m.logger.Info("room opened", logging.Room(roomID))
	}

	h.conns++
	if h.grace != nil {
		h.grace.Stop()
		h.grace = nil
	}
	return h.room
}

func (m *Manager) newRoom(roomID string) *Room {
	presence := document.NewPresenceTable(m.cfg.Presence.IdleTimeout(), m.cfg.Presence.Retention())
	store := document.NewStore(roomID, presence)
	bridge := persist.NewBridge(roomID, m.sink, store.Snapshot, persist.Options{
		Debounce:    m.cfg.Webhook.Debounce(),
		MaxDebounce: m.cfg.Webhook.MaxDebounce(),
		Retry:       m.cfg.Webhook.Retry(),
	}, m.logger, m.reg)

	return newRoom(roomID, store, bridge, m.cfg.Auth.TokenSecret,
		m.cfg.Presence.SweepInterval(), m.sessionDetached, m.logger, m.reg)
}

// sessionDetached is called by the room goroutine after a session leaves.
// When the last connection goes, the grace timer starts; a rejoin within
// the grace period cancels it and keeps the document warm.
func (m *Manager) sessionDetached(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.rooms[roomID]
	if !ok {
		return
	}
	h.conns--
	if h.conns > 0 {
		return
	}

	if h.grace != nil {
		h.grace.Stop()
	}
	h.grace = time.AfterFunc(m.cfg.Room.Grace(), func() {
		m.release(roomID)
	})
}

// release closes an empty room after its grace period. The final bridge
// flush happens inside Room.Close, off the manager lock.
func (m *Manager) release(roomID string) {
	m.mu.Lock()
	h, ok := m.rooms[roomID]
	if !ok || h.conns > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	m.reg.RoomsActive.Dec()
	m.reg.RoomsClosedTotal.Inc()
	m.mu.Unlock()

	h.room.Close()
	m.logger.Info("room released", logging.Room(roomID))
}

// RoomCount reports the number of live rooms, including empty rooms still
// inside their grace period.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Shutdown closes every room, forcing a final flush of unsaved documents.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.rooms))
	for id, h := range m.rooms {
		if h.grace != nil {
			h.grace.Stop()
		}
		handles = append(handles, h)
		delete(m.rooms, id)
		m.reg.RoomsActive.Dec()
		m.reg.RoomsClosedTotal.Inc()
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			h.room.Close()
		}(h)
	}
	wg.Wait()
	m.logger.Info("all rooms closed")
}
