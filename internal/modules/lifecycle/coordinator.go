package lifecycle

import (
	"log/slog"
	"time"

	"pushsync/pkg/lib/eventloop"
)

const (
	DefaultSettleDelay       = 300 * time.Millisecond
	DefaultActiveVerifyDelay = time.Second
)

// Coordinator turns host lifecycle transitions into connection behavior.
// Loop-bound, like everything it drives.
type Coordinator struct {
	loop  *eventloop.Loop
	opts  Options
	flags *Flags
	exec  ExecutionHost
	conn  Connection
	live  Liveness
	recon Reconnector
	log   *slog.Logger

	state    State
	grant    GrantHandle
	hasGrant bool
	grantSeq uint64
	settle   *eventloop.Timer
	verify   *eventloop.Timer
}

func NewCoordinator(
	loop *eventloop.Loop,
	opts Options,
	flags *Flags,
	exec ExecutionHost,
	conn Connection,
	live Liveness,
	recon Reconnector,
	log *slog.Logger,
) *Coordinator {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.ActiveVerifyDelay <= 0 {
		opts.ActiveVerifyDelay = DefaultActiveVerifyDelay
	}
	return &Coordinator{
		loop:  loop,
		opts:  opts,
		flags: flags,
		exec:  exec,
		conn:  conn,
		live:  live,
		recon: recon,
		log:   log.With(slog.String("component", "lifecycle_coordinator")),
		state: StateForeground,
	}
}

func (c *Coordinator) State() State { return c.state }

func (c *Coordinator) Background() bool { return c.state == StateBackground }

func (c *Coordinator) EnterBackground() {
	log := c.log.With(slog.String("op", "Coordinator.EnterBackground"))
	log.Info("entering background")

	c.state = StateBackground
	c.recon.SetBackground(true)
	c.stopDelayed()
	c.live.Suspend()

	if !c.flags.RealtimeEnabled() {
		return
	}

	c.endGrant()
	c.grantSeq++
	seq := c.grantSeq
	handle, ok := c.exec.RequestExtraExecutionTime(func() {
		c.loop.Post(func() { c.grantExpired(seq) })
	})
	if ok {
		c.grant = handle
		c.hasGrant = true
		log.Debug("extra execution granted", slog.String("grant", string(handle)))
	}

	switch {
	case c.flags.NotificationFallback():
		// Notification channel takes over delivery while backgrounded.
		c.conn.Disconnect()
		c.endGrant()
	case !ok:
		log.Warn("extra execution denied, disconnecting")
		c.conn.Disconnect()
	default:
		log.Info("keeping connection alive for the granted budget")
	}
}

func (c *Coordinator) EnterForeground() {
	c.log.Info("entering foreground", slog.String("op", "Coordinator.EnterForeground"))

	c.state = StateForeground
	c.recon.SetBackground(false)
	c.endGrant()

	c.settle.Stop()
	c.settle = c.loop.AfterFunc(c.opts.SettleDelay, c.settled)
}

func (c *Coordinator) BecomeActive() {
	c.log.Debug("became active", slog.String("op", "Coordinator.BecomeActive"))

	c.verify.Stop()
	c.verify = c.loop.AfterFunc(c.opts.ActiveVerifyDelay, c.verifyConnected)
}

func (c *Coordinator) ResignActive() {
	c.log.Debug("resigned active", slog.String("op", "Coordinator.ResignActive"))
}

// Close releases timers and any outstanding grant.
func (c *Coordinator) Close() {
	c.stopDelayed()
	c.endGrant()
}

func (c *Coordinator) settled() {
	log := c.log.With(slog.String("op", "Coordinator.settled"))
	c.settle = nil
	if c.state != StateForeground || !c.flags.RealtimeEnabled() {
		return
	}
	if c.conn.Connected() {
		log.Debug("resuming existing connection")
		c.live.Resume()
		return
	}
	log.Info("connection not viable, reconnecting")
	c.recon.Cancel()
	c.conn.Connect()
}

func (c *Coordinator) verifyConnected() {
	log := c.log.With(slog.String("op", "Coordinator.verifyConnected"))
	c.verify = nil
	if c.state != StateForeground || !c.flags.RealtimeEnabled() {
		return
	}
	if c.conn.Connected() {
		return
	}
	log.Info("not connected after becoming active, forcing reconnect")
	c.recon.Cancel()
	c.conn.Disconnect()
	c.conn.Connect()
}

func (c *Coordinator) grantExpired(seq uint64) {
	if seq != c.grantSeq || !c.hasGrant {
		return
	}
	c.log.Warn("extra execution expired in background, disconnecting", slog.String("op", "Coordinator.grantExpired"))
	if c.state == StateBackground {
		c.conn.Disconnect()
	}
	c.endGrant()
}

func (c *Coordinator) endGrant() {
	if !c.hasGrant {
		return
	}
	c.exec.EndExtraExecutionTime(c.grant)
	c.grant = ""
	c.hasGrant = false
}

func (c *Coordinator) stopDelayed() {
	c.settle.Stop()
	c.verify.Stop()
	c.settle = nil
	c.verify = nil
}
