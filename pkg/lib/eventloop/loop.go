// Package eventloop provides a single-consumer serialized execution context.
// Every task posted to a Loop runs on the loop goroutine, one at a time, in
// arrival order. Timers created through the loop deliver their callbacks onto
// the loop as well, so code running inside tasks never needs its own locking.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrLoopClosed = errors.New("event loop closed")

const defaultQueueSize = 256

type Loop struct {
	tasks   chan func()
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	running atomic.Bool
	log     *slog.Logger
}

func New(log *slog.Logger, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log.With(slog.String("component", "event_loop")),
	}
}

// Run executes posted tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.log.Warn("Run called twice, ignoring")
		return
	}
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.stop()
			return
		case <-l.quit:
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

// Post queues fn for execution on the loop. It blocks while the queue is full
// and returns false once the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do posts fn and waits for it to finish. It must not be called from the loop
// goroutine.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Close stops the loop and waits for the running task to return. Tasks still
// queued are dropped. It must not be called from the loop goroutine.
func (l *Loop) Close() {
	l.stop()
	if l.running.Load() {
		<-l.done
	}
}

func (l *Loop) stop() {
	l.once.Do(func() { close(l.quit) })
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timer is a one-shot timer whose callback runs on the loop.
// Stop must be called from the loop for the no-late-fire guarantee to hold.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc schedules fn to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	timer := &Timer{}
	timer.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if timer.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return timer
}

// Stop cancels the timer. A callback already queued on the loop is discarded.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.t.Stop()
}

// Ticker fires fn on the loop every period until stopped.
type Ticker struct {
	t       *time.Ticker
	stopped atomic.Bool
	quit    chan struct{}
}

func (l *Loop) Every(period time.Duration, fn func()) *Ticker {
	ticker := &Ticker{
		t:    time.NewTicker(period),
		quit: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-ticker.t.C:
				if !l.Post(func() {
					if ticker.stopped.Load() {
						return
					}
					fn()
				}) {
					return
				}
			case <-ticker.quit:
				return
			case <-l.quit:
				return
			}
		}
	}()
	return ticker
}

func (t *Ticker) Stop() {
	if t == nil || t.stopped.Swap(true) {
		return
	}
	t.t.Stop()
	close(t.quit)
}
