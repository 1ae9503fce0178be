package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	storeTimeout      = 2 * time.Second
	closeDrainTimeout = 5 * time.Second
)

// Ledger is the bounded, ordered record of message ids already acted upon.
// Membership checks never touch recency; eviction is strictly oldest first.
//
// The in-memory set is authoritative. Persistence runs on a single writer
// goroutine that appends ids in marking order, so MarkProcessed never waits
// on the store.
type Ledger struct {
	capacity int
	entries  *lru.Cache[string, struct{}]
	store    Store
	log      *slog.Logger

	mu      sync.Mutex
	queue   []string
	waiters []chan struct{}
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func New(capacity int, store Store, log *slog.Logger) (*Ledger, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating ledger cache: %w", err)
	}
	l := &Ledger{
		capacity: capacity,
		entries:  entries,
		store:    store,
		log:      log.With(slog.String("component", "dedup_ledger")),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	if store != nil {
		go l.persist()
	} else {
		close(l.done)
	}
	return l, nil
}

// Restore loads persisted ids into memory, preserving their order.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	ids, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	if len(ids) > l.capacity {
		ids = ids[len(ids)-l.capacity:]
	}
	for _, id := range ids {
		l.entries.Add(id, struct{}{})
	}
	l.log.Info("ledger restored", slog.Int("entries", l.entries.Len()))
	return nil
}

func (l *Ledger) IsProcessed(messageID string) bool {
	return l.entries.Contains(messageID)
}

// MarkProcessed appends messageID as the newest entry, evicting the oldest
// entries beyond capacity. Marking an id twice is a no-op.
func (l *Ledger) MarkProcessed(messageID string) {
	if l.entries.Contains(messageID) {
		return
	}
	l.entries.Add(messageID, struct{}{})

	if l.store == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("ledger closed, entry not persisted", slog.String("messageId", messageID))
		return
	}
	l.queue = append(l.queue, messageID)
	l.mu.Unlock()
	l.signal()
}

// Flush waits until every id marked so far has been handed to the store.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	w := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return nil
	}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()
	l.signal()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) Len() int {
	return l.entries.Len()
}

// IDs returns the recorded ids, oldest first.
func (l *Ledger) IDs() []string {
	return l.entries.Keys()
}

func (l *Ledger) Capacity() int {
	return l.capacity
}

// Close drains pending writes (bounded by a timeout) and closes the store.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		if l.store == nil {
			return
		}
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.signal()

		select {
		case <-l.done:
		case <-time.After(closeDrainTimeout):
			l.log.Warn("ledger writer did not drain in time, abandoning pending writes")
			l.cancel()
			<-l.done
		}
		l.cancel()
		l.closeErr = l.store.Close()
	})
	return l.closeErr
}

func (l *Ledger) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Ledger) persist() {
	defer close(l.done)
	for range l.wake {
		l.mu.Lock()
		batch, waiters, closed := l.queue, l.waiters, l.closed
		l.queue, l.waiters = nil, nil
		l.mu.Unlock()

		for _, id := range batch {
			ctx, cancel := context.WithTimeout(l.ctx, storeTimeout)
			err := l.store.Append(ctx, id, l.capacity)
			cancel()
			if err != nil {
				// the in-memory record stays authoritative for this process
				l.log.Error("failed to persist ledger entry", slog.String("messageId", id), slog.String("error", err.Error()))
			}
		}
		for _, w := range waiters {
			close(w)
		}
		if closed {
			return
		}
	}
}
