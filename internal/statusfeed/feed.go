package statusfeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/vesselwatch/internal/models"
	"github.com/your-org/vesselwatch/internal/observability"
	"github.com/your-org/vesselwatch/internal/storage"
)

// Snapshot is the full list of statuses at one poll.
type Snapshot []models.VideoStatus

// Subscription receives snapshots on C. A slow reader only ever sees the
// latest snapshot; older ones are replaced, never queued.
type Subscription struct {
	C  <-chan Snapshot
	ch chan Snapshot
}

// Feed polls the status store on a fixed interval and fans each snapshot out
// to its subscribers. It only reads the store.
type Feed struct {
	store    storage.StatusStore
	interval time.Duration

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func New(store storage.StatusStore, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		store:    store,
		interval: interval,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. After Run has returned the
// subscription comes back already closed.
func (f *Feed) Subscribe() *Subscription {
	ch := make(chan Snapshot, 1)
	s := &Subscription{C: ch, ch: ch}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return s
	}
	f.subs[s] = struct{}{}
	n := len(f.subs)
	f.mu.Unlock()

	observability.FeedSubscribers.Set(float64(n))
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (f *Feed) Unsubscribe(s *Subscription) {
	f.mu.Lock()
	_, ok := f.subs[s]
	if ok {
		delete(f.subs, s)
		close(s.ch)
	}
	n := len(f.subs)
	f.mu.Unlock()

	observability.FeedSubscribers.Set(float64(n))
}

func (f *Feed) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Run polls until ctx is done, then closes every subscription. Ticks with no
// subscribers skip the store query.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	defer f.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.subscribers() == 0 {
				continue
			}
			if _, err := f.Poll(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("poll video statuses", "error", err)
			}
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	f.closed = true
	for s := range f.subs {
		delete(f.subs, s)
		close(s.ch)
	}
	f.mu.Unlock()

	observability.FeedSubscribers.Set(0)
}

// Poll runs one cycle: read every status and publish the snapshot.
func (f *Feed) Poll(ctx context.Context) (Snapshot, error) {
	statuses, err := f.store.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	snap := Snapshot(statuses)
	f.publish(snap)
	return snap, nil
}

func (f *Feed) publish(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for s := range f.subs {
		select {
		case s.ch <- snap:
			continue
		default:
		}
		// Full: replace the stale snapshot with this one.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}
