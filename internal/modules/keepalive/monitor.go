// Package keepalive detects a connection that has gone silent without the
// transport noticing. A ping ticker sends probes, a health ticker judges them.
// Both ticks run the probe that is due before anything else, so coinciding
// ticks give the same verdict whichever reaches the loop first.
package keepalive

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pushsync/pkg/lib/eventloop"
)

var ErrConnectionDead = errors.New("connection failed health check")

const (
	DefaultPingInterval   = 30 * time.Second
	DefaultHealthInterval = 60 * time.Second
	DefaultAckTimeout     = 10 * time.Second
	DefaultMaxPending     = 3
)

type Options struct {
	PingInterval   time.Duration
	HealthInterval time.Duration
	AckTimeout     time.Duration
	MaxPending     int
}

// Prober sends one liveness probe on the current connection.
type Prober interface {
	SendProbe() error
}

// Monitor is loop-bound: every method must run on the loop it was built with.
type Monitor struct {
	loop   *eventloop.Loop
	opts   Options
	prober Prober
	onDead func(reason error)
	log    *slog.Logger
	now    func() time.Time

	ping      *eventloop.Ticker
	health    *eventloop.Ticker
	pending   int
	lastAck   time.Time
	lastProbe time.Time
	active    bool
	suspended bool
}

func New(loop *eventloop.Loop, opts Options, prober Prober, onDead func(reason error), log *slog.Logger) *Monitor {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	return &Monitor{
		loop:   loop,
		opts:   opts,
		prober: prober,
		onDead: onDead,
		log:    log.With(slog.String("component", "keepalive")),
		now:    time.Now,
	}
}

// Start begins monitoring a freshly opened connection.
func (m *Monitor) Start() {
	m.stopTimers()
	m.active = true
	m.suspended = false
	m.reset()
	m.startTimers()
	m.probe()
}

// Stop ends monitoring; the connection is gone.
func (m *Monitor) Stop() {
	m.stopTimers()
	m.active = false
	m.suspended = false
}

// Suspend pauses both timers while the host is backgrounded.
func (m *Monitor) Suspend() {
	if !m.active || m.suspended {
		return
	}
	m.stopTimers()
	m.suspended = true
	m.log.Debug("suspended")
}

// Resume restarts the timers after Suspend with a clean slate.
func (m *Monitor) Resume() {
	if !m.active {
		return
	}
	m.stopTimers()
	m.suspended = false
	m.reset()
	m.startTimers()
	m.probe()
	m.log.Debug("resumed")
}

// Ack records an acknowledgment from the peer.
func (m *Monitor) Ack() {
	if !m.active {
		return
	}
	m.lastAck = m.now()
	if m.pending > 0 {
		m.pending--
	}
}

func (m *Monitor) Pending() int { return m.pending }

func (m *Monitor) Active() bool { return m.active && !m.suspended }

func (m *Monitor) reset() {
	m.pending = 0
	m.lastAck = m.now()
	m.lastProbe = time.Time{}
}

func (m *Monitor) startTimers() {
	m.ping = m.loop.Every(m.opts.PingInterval, m.onPingTick)
	m.health = m.loop.Every(m.opts.HealthInterval, m.onHealthTick)
}

func (m *Monitor) onPingTick() {
	if m.probeDue() {
		m.probe()
	}
}

func (m *Monitor) onHealthTick() {
	if m.probeDue() {
		m.probe()
	}
	m.evaluate()
}

// probeDue reports whether a ping tick is owed. Half an interval absorbs
// ticker jitter between the two tickers.
func (m *Monitor) probeDue() bool {
	return m.lastProbe.IsZero() || m.now().Sub(m.lastProbe) >= m.opts.PingInterval/2
}

func (m *Monitor) stopTimers() {
	m.ping.Stop()
	m.health.Stop()
	m.ping = nil
	m.health = nil
}

func (m *Monitor) probe() {
	if !m.Active() {
		return
	}
	m.lastProbe = m.now()
	if err := m.prober.SendProbe(); err != nil {
		m.log.Warn("failed to send probe", slog.String("error", err.Error()))
		return
	}
	m.pending++
}

func (m *Monitor) evaluate() {
	if !m.Active() {
		return
	}
	silence := m.now().Sub(m.lastAck)
	limit := 2*m.opts.PingInterval + m.opts.AckTimeout

	var reason error
	switch {
	case m.pending >= m.opts.MaxPending:
		reason = fmt.Errorf("%w: %d probes unanswered", ErrConnectionDead, m.pending)
	case silence > limit:
		reason = fmt.Errorf("%w: no acknowledgment for %s", ErrConnectionDead, silence.Round(time.Millisecond))
	default:
		return
	}

	m.log.Warn("connection declared dead", slog.String("reason", reason.Error()))
	m.Stop()
	if m.onDead != nil {
		m.onDead(reason)
	}
}
