// Package session owns one instance of the real-time delivery core. All
// components live on a single event loop; the exported methods are safe to
// call from any goroutine and hop onto that loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pushsync/config"
	"pushsync/internal/modules/confirm"
	"pushsync/internal/modules/keepalive"
	"pushsync/internal/modules/ledger"
	"pushsync/internal/modules/lifecycle"
	"pushsync/internal/modules/notification"
	"pushsync/internal/modules/reconciler"
	"pushsync/internal/modules/reconnect"
	"pushsync/internal/modules/stream"
	"pushsync/pkg/lib/eventloop"
)

var (
	ErrNotStarted = errors.New("session not started")
	ErrClosed     = errors.New("session closed")
)

const confirmDrainTimeout = 5 * time.Second

// Deps are the host collaborators. Store and Dialer may be nil.
type Deps struct {
	Store      ledger.Store
	Secure     lifecycle.SecureStore
	Executor   lifecycle.ExecutionHost
	Presenter  notification.Presenter
	Opener     notification.URLOpener
	HTTPClient *http.Client
	Dialer     stream.Dialer
}

type Snapshot struct {
	Status               string `json:"status"`
	Lifecycle            string `json:"lifecycle"`
	RealtimeEnabled      bool   `json:"realtimeEnabled"`
	NotificationFallback bool   `json:"notificationFallback"`
	TokenPresent         bool   `json:"tokenPresent"`
	TokenValid           bool   `json:"tokenValid"`
	LedgerSize           int    `json:"ledgerSize"`
	PendingProbes        int    `json:"pendingProbes"`
	ReconnectPending     bool   `json:"reconnectPending"`
	ReconnectDeferred    bool   `json:"reconnectDeferred"`
}

type Session struct {
	cfg *config.Config
	log *slog.Logger

	loop      *eventloop.Loop
	flags     *lifecycle.Flags
	tokens    *lifecycle.TokenManager
	ledger    *ledger.Ledger
	confirm   *confirm.Client
	machine   *stream.Machine
	monitor   *keepalive.Monitor
	scheduler *reconnect.Scheduler
	coord     *lifecycle.Coordinator
	rec       *reconciler.Reconciler

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	obsMu     sync.Mutex
	observers map[int]func(stream.Status)
	nextObs   int
}

func New(cfg *config.Config, deps Deps, log *slog.Logger) (*Session, error) {
	const op = "session.New"

	if deps.Secure == nil || deps.Executor == nil || deps.Presenter == nil {
		return nil, fmt.Errorf("%s: secure store, executor and presenter are required", op)
	}

	s := &Session{
		cfg:       cfg,
		log:       log.With(slog.String("component", "session")),
		loop:      eventloop.New(log, 0),
		flags:     lifecycle.NewFlags(lifecycle.Features{RealtimeEnabled: cfg.Features.RealtimeEnabled, NotificationFallback: cfg.Features.NotificationFallback}),
		observers: make(map[int]func(stream.Status)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.tokens = lifecycle.NewTokenManager(deps.Secure, cfg.SecureStore.TokenKey, log)

	l, err := ledger.New(cfg.Ledger.Capacity, deps.Store, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.ledger = l

	s.confirm = confirm.NewClient(cfg.Confirm.BaseURL, cfg.Confirm.Timeout, s.tokens, deps.HTTPClient, log)

	s.machine = stream.NewMachine(s.loop, stream.Options{
		URL:              cfg.Stream.URL,
		TokenInQuery:     cfg.Stream.TokenInQuery,
		TokenQueryParam:  cfg.Stream.TokenQueryParam,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		WriteWait:        cfg.Stream.WriteWait,
		MaxMessageSize:   cfg.Stream.MaxMessageSize,
		SendBuffer:       cfg.Stream.SendBuffer,
		ProbeMarker:      []byte(cfg.Keepalive.ProbeMarker),
		AckMarker:        []byte(cfg.Keepalive.AckMarker),
	}, s.tokens, deps.Dialer, log)

	s.monitor = keepalive.New(s.loop, keepalive.Options{
		PingInterval:   cfg.Keepalive.PingInterval,
		HealthInterval: cfg.Keepalive.HealthInterval,
		AckTimeout:     cfg.Keepalive.AckTimeout,
		MaxPending:     cfg.Keepalive.MaxPending,
	}, s.machine, s.machine.ConnectionLost, log)

	s.scheduler = reconnect.New(s.loop, reconnect.Options{
		ForegroundInterval: cfg.Reconnect.ForegroundInterval,
		BackgroundInterval: cfg.Reconnect.BackgroundInterval,
	}, gate{flags: s.flags, tokens: s.tokens}, s.connect, log)

	s.coord = lifecycle.NewCoordinator(s.loop, lifecycle.Options{
		SettleDelay:       cfg.Lifecycle.SettleDelay,
		ActiveVerifyDelay: cfg.Lifecycle.ActiveVerifyDelay,
	}, s.flags, deps.Executor, link{s}, s.monitor, s.scheduler, log)

	s.rec = reconciler.New(s.ledger, s.confirm, deps.Presenter, deps.Opener, conditions{coord: s.coord, flags: s.flags}, reconciler.Options{
		FallbackTitle: cfg.Display.FallbackTitle,
		FallbackBody:  cfg.Display.FallbackBody,
	}, log)

	s.machine.SetLiveness(s.monitor)
	s.machine.SetHooks(stream.Hooks{
		OnMessage:    func(msg notification.Message) { s.rec.Receive(s.ctx, msg, false) },
		OnLost:       s.scheduler.Schedule,
		OnDisconnect: s.scheduler.Cancel,
	})
	s.machine.Observe(s.notify)

	return s, nil
}

// Start restores the ledger, starts the loop and connects if enabled.
func (s *Session) Start(ctx context.Context) error {
	const op = "Session.Start"
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.ledger.Restore(ctx); err != nil {
		s.log.Error("ledger restore failed, starting empty", slog.String("op", op), slog.String("error", err.Error()))
	}

	go s.loop.Run(s.ctx)
	s.loop.Post(func() {
		if s.flags.RealtimeEnabled() {
			s.connect()
		}
	})
	s.log.Info("session started", slog.String("op", op))
	return nil
}

// Close tears everything down: connection, timers, loop, pending
// confirmations and the ledger store.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.started.Load() {
			_ = s.loop.Do(func() {
				s.coord.Close()
				s.scheduler.Cancel()
				s.machine.Disconnect()
			})
			s.loop.Close()
		}
		s.cancel()
		s.confirm.Close(confirmDrainTimeout)
		err = s.ledger.Close()
		s.log.Info("session closed")
	})
	return err
}

// --- Channels ---

// DeliverNotification feeds a push notification payload received by the host.
// presented is true when the host already displayed it.
func (s *Session) DeliverNotification(payload map[string]any, presented bool) (reconciler.Outcome, error) {
	msg, err := notification.FromPayload(payload, notification.SourceNotification)
	if err != nil {
		s.log.Warn("dropping notification payload", slog.String("op", "Session.DeliverNotification"), slog.String("error", err.Error()))
		return 0, err
	}
	var outcome reconciler.Outcome
	if err := s.run(func() { outcome = s.rec.Receive(s.ctx, msg, presented) }); err != nil {
		return 0, err
	}
	return outcome, nil
}

// NotificationActivated reports a user interaction with a displayed
// notification. An empty action means Click.
func (s *Session) NotificationActivated(payload map[string]any, action notification.Action) error {
	msg, err := notification.FromPayload(payload, notification.SourceNotification)
	if err != nil {
		return err
	}
	return s.run(func() { s.rec.Activated(s.ctx, msg, action) })
}

// SetHandler installs the application handler for inbound messages.
func (s *Session) SetHandler(h notification.Handler) error {
	if !s.started.Load() {
		s.rec.SetHandler(h)
		return nil
	}
	return s.run(func() { s.rec.SetHandler(h) })
}

// --- Host lifecycle ---

func (s *Session) EnterBackground() error { return s.post(s.coord.EnterBackground) }
func (s *Session) EnterForeground() error { return s.post(s.coord.EnterForeground) }
func (s *Session) BecomeActive() error    { return s.post(s.coord.BecomeActive) }
func (s *Session) ResignActive() error    { return s.post(s.coord.ResignActive) }

// --- Connection control ---

func (s *Session) Connect() error {
	return s.post(func() {
		if !s.flags.RealtimeEnabled() {
			s.log.Info("realtime disabled, ignoring connect")
			return
		}
		s.scheduler.Cancel()
		s.connect()
	})
}

func (s *Session) Disconnect() error {
	return s.post(s.machine.Disconnect)
}

func (s *Session) SetRealtimeEnabled(enabled bool) error {
	s.flags.SetRealtimeEnabled(enabled)
	return s.post(func() {
		if !enabled {
			s.machine.Disconnect()
			return
		}
		if !s.coord.Background() && !s.machine.Viable() {
			s.connect()
		}
	})
}

func (s *Session) SetNotificationFallback(enabled bool) {
	s.flags.SetNotificationFallback(enabled)
}

// --- Token ---

func (s *Session) SetToken(token string) error {
	if err := s.tokens.SetToken(token); err != nil {
		return err
	}
	return s.post(s.tokenChanged)
}

func (s *Session) ClearToken() error {
	s.tokens.Clear()
	return s.post(s.machine.Disconnect)
}

// ReloadToken re-reads the secure store, picking up tokens written by an
// external refresh flow.
func (s *Session) ReloadToken() error {
	if !s.tokens.Reload() {
		return nil
	}
	s.log.Info("client token changed in secure store")
	if s.tokens.Token() == "" {
		return s.post(s.machine.Disconnect)
	}
	return s.post(s.tokenChanged)
}

// --- Observation ---

// Status is the current ConnectionStatus.
func (s *Session) Status() stream.Status {
	return s.machine.CurrentStatus()
}

// Observe registers fn for every status change; fn runs on the loop and must
// not block. The returned func unregisters it.
func (s *Session) Observe(fn func(stream.Status)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.run(func() {
		snap = Snapshot{
			Status:               s.machine.Status().String(),
			Lifecycle:            s.coord.State().String(),
			RealtimeEnabled:      s.flags.RealtimeEnabled(),
			NotificationFallback: s.flags.NotificationFallback(),
			TokenPresent:         s.tokens.Token() != "",
			TokenValid:           s.tokens.Valid(),
			LedgerSize:           s.ledger.Len(),
			PendingProbes:        s.monitor.Pending(),
			ReconnectPending:     s.scheduler.Pending(),
			ReconnectDeferred:    s.scheduler.Deferred(),
		}
	})
	return snap, err
}

// --- Loop plumbing ---

func (s *Session) post(fn func()) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.loop.Post(fn) {
		return ErrClosed
	}
	return nil
}

func (s *Session) run(fn func()) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.loop.Do(fn); err != nil {
		return ErrClosed
	}
	return nil
}

func (s *Session) ready() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.Load() {
		return ErrNotStarted
	}
	return nil
}

func (s *Session) connect() {
	if !s.tokens.Valid() {
		s.log.Warn("no valid client token, not connecting", slog.String("op", "Session.connect"))
		return
	}
	s.machine.Connect()
}

func (s *Session) tokenChanged() {
	if s.flags.RealtimeEnabled() && !s.coord.Background() && s.machine.Status() == stream.StatusDisconnected {
		s.scheduler.Cancel()
		s.connect()
	}
}

func (s *Session) notify(status stream.Status) {
	s.obsMu.Lock()
	fns := make([]func(stream.Status), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

// --- Adapters ---

// link is the connection as the lifecycle coordinator drives it.
type link struct{ s *Session }

func (l link) Connect()        { l.s.connect() }
func (l link) Disconnect()     { l.s.machine.Disconnect() }
func (l link) Connected() bool { return l.s.machine.Viable() }

type gate struct {
	flags  *lifecycle.Flags
	tokens *lifecycle.TokenManager
}

func (g gate) RealtimeEnabled() bool { return g.flags.RealtimeEnabled() }
func (g gate) TokenValid() bool      { return g.tokens.Valid() }

type conditions struct {
	coord *lifecycle.Coordinator
	flags *lifecycle.Flags
}

func (c conditions) Background() bool           { return c.coord.Background() }
func (c conditions) NotificationFallback() bool { return c.flags.NotificationFallback() }
