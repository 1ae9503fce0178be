package reconnect

import (
	"log/slog"
	"time"

	"pushsync/pkg/lib/eventloop"
)

const (
	DefaultForegroundInterval = 5 * time.Second
	DefaultBackgroundInterval = 30 * time.Second
)

type Options struct {
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
}

// Preconditions are checked when scheduling and again when the timer fires.
type Preconditions interface {
	RealtimeEnabled() bool
	TokenValid() bool
}

// Scheduler holds at most one pending reconnect. Loop-bound.
type Scheduler struct {
	loop    *eventloop.Loop
	opts    Options
	pre     Preconditions
	connect func()
	log     *slog.Logger

	timer      *eventloop.Timer
	background bool
	deferred   bool
}

func New(loop *eventloop.Loop, opts Options, pre Preconditions, connect func(), log *slog.Logger) *Scheduler {
	if opts.ForegroundInterval <= 0 {
		opts.ForegroundInterval = DefaultForegroundInterval
	}
	if opts.BackgroundInterval <= 0 {
		opts.BackgroundInterval = DefaultBackgroundInterval
	}
	return &Scheduler{
		loop:    loop,
		opts:    opts,
		pre:     pre,
		connect: connect,
		log:     log.With(slog.String("component", "reconnect_scheduler")),
	}
}

// Schedule arms a reconnect after a connection loss, replacing any pending one.
func (s *Scheduler) Schedule(reason error) {
	log := s.log.With(slog.String("op", "Scheduler.Schedule"))
	if !s.allowed(log) {
		return
	}
	s.Cancel()

	interval := s.opts.ForegroundInterval
	if s.background {
		interval = s.opts.BackgroundInterval
	}
	s.timer = s.loop.AfterFunc(interval, s.fire)
	log.Info("reconnect scheduled", slog.Duration("in", interval), slog.Bool("background", s.background), slog.Any("reason", reason))
}

// Cancel drops the pending timer and any deferred attempt.
func (s *Scheduler) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deferred = false
}

// SetBackground records the host lifecycle state.
func (s *Scheduler) SetBackground(background bool) {
	s.background = background
}

func (s *Scheduler) Pending() bool { return s.timer != nil }

// Deferred reports an attempt that fired in background and is waiting for
// the foreground.
func (s *Scheduler) Deferred() bool { return s.deferred }

func (s *Scheduler) fire() {
	log := s.log.With(slog.String("op", "Scheduler.fire"))
	s.timer = nil
	if s.background {
		s.deferred = true
		log.Info("reconnect deferred until foreground")
		return
	}
	if !s.allowed(log) {
		return
	}
	log.Info("reconnecting")
	s.connect()
}

func (s *Scheduler) allowed(log *slog.Logger) bool {
	if !s.pre.RealtimeEnabled() {
		log.Info("realtime disabled, not reconnecting")
		return false
	}
	if !s.pre.TokenValid() {
		log.Warn("no valid client token, not reconnecting")
		return false
	}
	return true
}
