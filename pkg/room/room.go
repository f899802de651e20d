package room

import (
	"sync"
	"time"

	"github.com/mapsync/mapsync/pkg/document"
	"github.com/mapsync/mapsync/pkg/logging"
	"github.com/mapsync/mapsync/pkg/metrics"
	"github.com/mapsync/mapsync/pkg/persist"
)

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdMessage
)

type command struct {
	kind commandKind
	sess *Session
	msg  ClientMessage
}

// inboxSize bounds how many commands can queue per room before producers
// block. Producers are session read pumps, so blocking applies natural
// backpressure to the clients themselves.
const inboxSize = 256

// Room owns one shared document. Every command for the room flows through
// the inbox and is handled by a single goroutine, which is what gives each
// room a total order over mutations; separate rooms run in parallel.
type Room struct {
	id          string
	store       *document.Store
	bridge      *persist.Bridge
	tokenSecret string

	inbox chan command
	quit  chan struct{}
	done  chan struct{}

	// identified tracks whether a session has sent identify yet; cursor
	// messages before that get an anonymous identity on the fly.
	sessions map[*Session]bool

	// activeCursors holds the sessions whose cursor was live at the last
	// sweep, so crossing the idle threshold can be announced once.
	activeCursors map[string]struct{}

	onDetach func(roomID string)

	logger logging.Logger
	reg    *metrics.Registry

	sweepEvery time.Duration
	closeOnce  sync.Once
}

func newRoom(id string, store *document.Store, bridge *persist.Bridge, tokenSecret string, sweepEvery time.Duration, onDetach func(string), logger logging.Logger, reg *metrics.Registry) *Room {
	r := &Room{
		id:            id,
		store:         store,
		bridge:        bridge,
		tokenSecret:   tokenSecret,
		inbox:         make(chan command, inboxSize),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		sessions:      make(map[*Session]bool),
		activeCursors: make(map[string]struct{}),
		onDetach:      onDetach,
		logger:        logger.With(logging.Room(id)),
		reg:           reg,
		sweepEvery:    sweepEvery,
	}
	go r.run()
	return r
}

// ID is the room identifier taken from the websocket path.
func (r *Room) ID() string {
	return r.id
}

// Store exposes the underlying document, mainly for the persistence
// bridge's snapshot closure and for tests.
func (r *Room) Store() *document.Store {
	return r.store
}

// submit enqueues a command unless the room is already shut down.
func (r *Room) submit(cmd command) bool {
	select {
	case r.inbox <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) attach(sess *Session) bool {
	return r.submit(command{kind: cmdJoin, sess: sess})
}

func (r *Room) detach(sess *Session) {
	r.submit(command{kind: cmdLeave, sess: sess})
}

// Close tears the room down: sessions are disconnected and the bridge
// flushes any unsaved state before Close returns.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
	<-r.done
}

func (r *Room) run() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-r.inbox:
			r.handle(cmd)
		case <-ticker.C:
			r.sweepPresence()
		case <-r.quit:
			r.teardown()
			return
		}
	}
}

func (r *Room) teardown() {
	for sess := range r.sessions {
		r.store.Presence().Remove(sess.ID())
		close(sess.send)
		sess.conn.Close()
		r.reg.SessionsActive.Dec()
	}
	r.sessions = nil

	// Flush whatever is still unsaved before Close observers proceed,
	// then release any producer stuck on a full inbox.
	r.bridge.Close()
	close(r.done)
	r.logger.Info("room closed")
}

func (r *Room) handle(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		r.handleJoin(cmd.sess)
	case cmdLeave:
		r.handleLeave(cmd.sess)
	case cmdMessage:
		if _, ok := r.sessions[cmd.sess]; !ok {
			return
		}
		switch cmd.msg.Type {
		case TypeIdentify:
			r.handleIdentify(cmd.sess, cmd.msg)
		case TypeUpdate:
			r.handleUpdate(cmd.sess, cmd.msg)
		case TypeCursor:
			r.handleCursor(cmd.sess, cmd.msg)
		}
	}
}

func (r *Room) handleJoin(sess *Session) {
	r.sessions[sess] = false
	r.reg.SessionsActive.Inc()
	r.reg.SessionsTotal.Inc()

	// The snapshot is always the session's first message; everything the
	// room broadcasts afterwards is an increment on top of it.
	sess.trySend(snapshotMessage(r.store.Snapshot(), r.store.Presence().Entries()))
	r.logger.Info("session joined", logging.Session(sess.ID()), logging.Count(len(r.sessions)))
}

func (r *Room) handleLeave(sess *Session) {
	if _, ok := r.sessions[sess]; !ok {
		return
	}
	delete(r.sessions, sess)
	delete(r.activeCursors, sess.ID())
	close(sess.send)
	r.reg.SessionsActive.Dec()

	if r.store.Presence().Remove(sess.ID()) {
		r.broadcast(presenceLeaveMessage(sess.ID()), nil)
	}
	r.logger.Info("session left", logging.Session(sess.ID()), logging.Count(len(r.sessions)))

	if r.onDetach != nil {
		r.onDetach(r.id)
	}
}

func (r *Room) handleIdentify(sess *Session, msg ClientMessage) {
	ident, err := identityFromToken(msg.Token, r.tokenSecret)
	if err != nil {
		// Presence attribution degrades gracefully; the session stays.
		r.logger.Warn("unverifiable identity token", logging.Session(sess.ID()), logging.Error(err))
		ident = anonymousIdentity()
	}

	entry := r.store.Presence().Identify(sess.ID(), ident.UserID, ident.DisplayName)
	r.sessions[sess] = true
	r.broadcast(presenceMessage(entry), sess)
	r.logger.Debug("session identified", logging.Session(sess.ID()), logging.User(ident.UserID))
}

func (r *Room) handleUpdate(sess *Session, msg ClientMessage) {
	applied, err := r.store.Apply(msg.Ops)
	if err != nil {
		r.reg.MalformedMessagesTotal.Inc()
		r.logger.Warn("rejected update batch", logging.Session(sess.ID()), logging.Error(err), logging.Count(len(msg.Ops)))
		return
	}
	if len(applied) == 0 {
		return
	}

	cascades := countCascades(msg.Ops, applied)
	for _, mut := range applied {
		r.reg.RecordMutation(mut.Map, mut.Action)
	}
	r.reg.CascadeDeletesTotal.Add(float64(cascades))
	if dropped := len(msg.Ops) - (len(applied) - cascades); dropped > 0 {
		r.reg.MutationsDroppedTotal.Add(float64(dropped))
	}

	r.broadcast(updateMessage(applied), sess)
	r.bridge.Notify()
}

func (r *Room) handleCursor(sess *Session, msg ClientMessage) {
	entry, ok := r.store.Presence().Touch(sess.ID(), msg.X, msg.Y)
	if !ok {
		// Cursor before identify: give the session an anonymous identity
		// rather than losing the movement.
		ident := anonymousIdentity()
		r.store.Presence().Identify(sess.ID(), ident.UserID, ident.DisplayName)
		r.sessions[sess] = true
		entry, ok = r.store.Presence().Touch(sess.ID(), msg.X, msg.Y)
		if !ok {
			return
		}
	}
	r.activeCursors[sess.ID()] = struct{}{}
	r.broadcast(presenceMessage(entry), sess)
}

func (r *Room) sweepPresence() {
	evicted := r.store.Presence().Sweep()
	for _, sessionID := range evicted {
		delete(r.activeCursors, sessionID)
		r.broadcast(presenceLeaveMessage(sessionID), nil)
	}
	if n := len(evicted); n > 0 {
		r.reg.PresenceEvictionsTotal.Add(float64(n))
		r.logger.Debug("presence entries evicted", logging.Count(n))
	}

	// First staleness tier: a participant whose cursor just crossed the
	// idle threshold is re-announced without it, so peers hide the cursor
	// without running their own timers.
	active := make(map[string]struct{})
	for _, entry := range r.store.Presence().Cursors() {
		active[entry.SessionID] = struct{}{}
	}
	if len(r.activeCursors) > 0 {
		for _, entry := range r.store.Presence().Entries() {
			if _, was := r.activeCursors[entry.SessionID]; was && entry.Inactive {
				r.broadcast(presenceMessage(entry), nil)
			}
		}
	}
	r.activeCursors = active
}

// broadcast queues msg for every session except origin. The room goroutine
// is the only sender, so every session observes broadcasts in the same
// relative order.
func (r *Room) broadcast(msg ServerMessage, origin *Session) {
	for sess := range r.sessions {
		if sess == origin {
			continue
		}
		sess.trySend(msg)
	}
}

// countCascades reports how many applied mutations were derived by the
// store rather than present in the inbound batch.
func countCascades(in, applied []document.Mutation) int {
	type mutKey struct {
		Map, Action, Key, Writer string
		Clock                    uint64
	}
	keyOf := func(m document.Mutation) mutKey {
		return mutKey{m.Map, m.Action, m.Key, m.Writer, m.Clock}
	}

	sent := make(map[mutKey]struct{}, len(in))
	for _, mut := range in {
		sent[keyOf(mut)] = struct{}{}
	}
	cascades := 0
	for _, mut := range applied {
		if _, ok := sent[keyOf(mut)]; !ok {
			cascades++
		}
	}
	return cascades
}
