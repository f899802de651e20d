package document

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// colorPalette is the fixed set of cursor colors. A user's color is picked
// by hashing the stable user id, so reconnects and extra tabs keep it.
var colorPalette = []string{
	"#3b82f6", "#6366f1", "#8b5cf6", "#a855f7", "#d946ef",
	"#ec4899", "#f43f5e", "#ef4444", "#f97316", "#f59e0b",
	"#eab308", "#84cc16", "#22c55e", "#10b981", "#14b8a6",
	"#06b6d4", "#0ea5e9",
}

// ColorFor returns the palette color for a user id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return colorPalette[int(h.Sum32())%len(colorPalette)]
}

// Cursor is a participant's pointer location in canvas coordinates.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PresenceEntry is the ephemeral state of one connection. It is never
// persisted; its lifecycle is bound to the connection that owns it.
// Several session ids may share one user id when a user has multiple tabs
// open.
type PresenceEntry struct {
	SessionID          string  `json:"sessionId"`
	UserID             string  `json:"userId"`
	DisplayName        string  `json:"displayName"`
	Color              string  `json:"color"`
	Cursor             *Cursor `json:"cursor,omitempty"`
	LastActiveAtMillis int64   `json:"lastActiveAtMillis"`

	// Inactive marks roster entries past the cursor-idle threshold but
	// still within the retention window: the cursor disappears quickly
	// while the avatar lingers.
	Inactive bool `json:"inactive,omitempty"`
}

// PresenceTable tracks the live participants of one room. Staleness is two
// tiered: after idleAfter an entry's cursor stops being reported, and
// after retainFor the entry is evicted entirely.
type PresenceTable struct {
	mu      sync.Mutex
	entries map[string]*PresenceEntry

	idleAfter time.Duration
	retainFor time.Duration
	now       func() time.Time
}

// NewPresenceTable creates an empty table with the given staleness tiers.
func NewPresenceTable(idleAfter, retainFor time.Duration) *PresenceTable {
	if retainFor < idleAfter {
		retainFor = idleAfter
	}
	return &PresenceTable{
		entries:   make(map[string]*PresenceEntry),
		idleAfter: idleAfter,
		retainFor: retainFor,
		now:       time.Now,
	}
}

// SetClock overrides the table's time source. Test hook.
func (p *PresenceTable) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Identify creates or replaces the entry for a session and returns a copy.
func (p *PresenceTable) Identify(sessionID, userID, displayName string) PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := &PresenceEntry{
		SessionID:          sessionID,
		UserID:             userID,
		DisplayName:        displayName,
		Color:              ColorFor(userID),
		LastActiveAtMillis: p.now().UnixMilli(),
	}
	p.entries[sessionID] = entry
	return *entry
}

// Touch records cursor movement for a session, refreshing its liveness.
// Returns false when the session has no entry (it was evicted or never
// identified).
func (p *PresenceTable) Touch(sessionID string, x, y float64) (PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[sessionID]
	if !ok {
		return PresenceEntry{}, false
	}
	entry.Cursor = &Cursor{X: x, Y: y}
	entry.LastActiveAtMillis = p.now().UnixMilli()
	return *entry, true
}

// Remove drops a session's entry, normally on disconnect.
func (p *PresenceTable) Remove(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[sessionID]
	delete(p.entries, sessionID)
	return ok
}

// Sweep evicts entries idle past the retention window and returns their
// session ids so the room can broadcast the departures.
func (p *PresenceTable) Sweep() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictExpired()
}

// evictExpired removes fully-expired entries. Caller holds the lock.
func (p *PresenceTable) evictExpired() []string {
	cutoff := p.now().Add(-p.retainFor).UnixMilli()

	var evicted []string
	for id, entry := range p.entries {
		if entry.LastActiveAtMillis < cutoff {
			delete(p.entries, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Entries returns the roster view: every retained entry, with those past
// the cursor-idle threshold flagged inactive and their cursors omitted.
// Reads sweep opportunistically.
func (p *PresenceTable) Entries() []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpired()

	idleCutoff := p.now().Add(-p.idleAfter).UnixMilli()

	out := make([]PresenceEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		copied := *entry
		if entry.LastActiveAtMillis < idleCutoff {
			copied.Inactive = true
			copied.Cursor = nil
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Cursors returns the cursor view: only entries active within the idle
// threshold that have reported a position.
func (p *PresenceTable) Cursors() []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpired()

	idleCutoff := p.now().Add(-p.idleAfter).UnixMilli()

	var out []PresenceEntry
	for _, entry := range p.entries {
		if entry.Cursor == nil || entry.LastActiveAtMillis < idleCutoff {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of retained entries.
func (p *PresenceTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
