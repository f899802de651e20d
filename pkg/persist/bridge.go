package persist

import (
	"context"
	"sync"
	"time"

	"github.com/mapsync/mapsync/pkg/document"
	"github.com/mapsync/mapsync/pkg/logging"
	"github.com/mapsync/mapsync/pkg/metrics"
)

// Options tunes one bridge. Zero fields fall back to the defaults from the
// original deployment.
type Options struct {
	// Debounce is the quiet period after the last change before a flush
	Debounce time.Duration
	// MaxDebounce bounds staleness: a flush happens at most this long
	// after the first unflushed change, even under continuous editing
	MaxDebounce time.Duration
	// Retry re-attempts a failed flush even when no further edits arrive
	Retry time.Duration
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.MaxDebounce < o.Debounce {
		o.MaxDebounce = 2000 * time.Millisecond
	}
	if o.Retry <= 0 {
		o.Retry = 5 * time.Second
	}
	return o
}

// Bridge debounces document change signals for one room and flushes
// snapshots to the sink. It never blocks the edit path: Notify is a
// non-blocking signal and delivery runs in the bridge's own goroutine.
// A failed flush keeps the dirty state and is retried on a timer, so a
// sink outage with no further edits still heals.
type Bridge struct {
	roomID   string
	sink     Sink
	snapshot func() document.Snapshot
	opts     Options
	logger   logging.Logger
	reg      *metrics.Registry

	changed chan struct{}
	quit    chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	// created is owned by the run goroutine until Close, after which the
	// final flush in Close reads it; the done channel orders the two.
	created bool
}

// NewBridge starts the bridge for one room. snapshot must be safe to call
// from the bridge goroutine at any time. reg may be nil.
func NewBridge(roomID string, sink Sink, snapshot func() document.Snapshot, opts Options, logger logging.Logger, reg *metrics.Registry) *Bridge {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	b := &Bridge{
		roomID:   roomID,
		sink:     sink,
		snapshot: snapshot,
		opts:     opts.withDefaults(),
		logger:   logger.With(logging.Room(roomID)),
		reg:      reg,
		changed:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Notify signals that the document changed. Never blocks; signals
// arriving while one is already pending coalesce.
func (b *Bridge) Notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// Close stops the bridge. Pending unflushed changes are force-flushed
// rather than discarded, so releasing a room never loses a committed edit.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
		<-b.done
	})
}

func (b *Bridge) run() {
	defer close(b.done)

	debounce := newStoppedTimer()
	maxWait := newStoppedTimer()
	retry := newStoppedTimer()

	dirty := false
	waitingMax := false

	for {
		select {
		case <-b.changed:
			dirty = true
			resetTimer(debounce, b.opts.Debounce)
			if !waitingMax {
				// measured from the first unflushed change
				waitingMax = true
				resetTimer(maxWait, b.opts.MaxDebounce)
			}

		case <-debounce.C:
			if !dirty {
				continue
			}
			if b.flush() {
				dirty = false
				waitingMax = false
				stopTimer(maxWait)
				stopTimer(retry)
			} else {
				resetTimer(retry, b.opts.Retry)
			}

		case <-maxWait.C:
			waitingMax = false
			if !dirty {
				continue
			}
			if b.flush() {
				dirty = false
				stopTimer(debounce)
				stopTimer(retry)
			} else {
				resetTimer(retry, b.opts.Retry)
			}

		case <-retry.C:
			if !dirty {
				continue
			}
			if b.flush() {
				dirty = false
				waitingMax = false
				stopTimer(debounce)
				stopTimer(maxWait)
			} else {
				resetTimer(retry, b.opts.Retry)
			}

		case <-b.quit:
			// drain a last-instant signal before deciding
			select {
			case <-b.changed:
				dirty = true
			default:
			}
			if dirty {
				b.flush()
			}
			return
		}
	}
}

// flush delivers the current snapshot and reports success. On failure the
// retry timer is armed.
func (b *Bridge) flush() bool {
	event := EventChange
	if !b.created {
		event = EventCreate
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := b.sink.Deliver(ctx, b.roomID, event, b.snapshot())
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		if b.reg != nil {
			b.reg.RecordFlush("failure", elapsed)
		}
		b.logger.Warn("flush failed",
			logging.Event(string(event)),
			logging.Error(err),
		)
		return false
	}

	b.created = true
	if b.reg != nil {
		b.reg.RecordFlush("success", elapsed)
	}
	b.logger.Debug("flushed snapshot",
		logging.Event(string(event)),
		logging.Duration("took", elapsed),
	)
	return true
}

// newStoppedTimer returns a timer that will not fire until reset.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
