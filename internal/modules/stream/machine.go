package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"pushsync/internal/modules/notification"
	"pushsync/internal/modules/stream/ws"
	"pushsync/pkg/lib/eventloop"
)

// Dialer opens a websocket connection; the default is ws.Dial.
type Dialer func(ctx context.Context, target string, header http.Header) (*websocket.Conn, error)

// Machine owns the single stream connection and its status. Every method except
// CurrentStatus must be called on the loop.
type Machine struct {
	loop   *eventloop.Loop
	opts   Options
	tokens TokenSource
	dial   Dialer
	log    *slog.Logger

	status     Status
	mirror     atomic.Int32
	generation uint64
	client     *ws.Client
	cancelDial context.CancelFunc

	liveness  Liveness
	hooks     Hooks
	observers []func(Status)
}

func NewMachine(loop *eventloop.Loop, opts Options, tokens TokenSource, dial Dialer, log *slog.Logger) *Machine {
	if dial == nil {
		timeout := opts.HandshakeTimeout
		dial = func(ctx context.Context, target string, header http.Header) (*websocket.Conn, error) {
			return ws.Dial(ctx, target, header, timeout)
		}
	}
	if opts.TokenQueryParam == "" {
		opts.TokenQueryParam = "token"
	}
	return &Machine{
		loop:     loop,
		opts:     opts,
		tokens:   tokens,
		dial:     dial,
		log:      log.With(slog.String("component", "stream_machine")),
		status:   StatusDisconnected,
		liveness: noopLiveness{},
	}
}

func (m *Machine) SetLiveness(l Liveness) {
	if l == nil {
		l = noopLiveness{}
	}
	m.liveness = l
}

func (m *Machine) SetHooks(h Hooks) { m.hooks = h }

// Observe registers fn for every status change.
func (m *Machine) Observe(fn func(Status)) {
	m.observers = append(m.observers, fn)
}

func (m *Machine) Status() Status { return m.status }

// CurrentStatus is safe from any goroutine.
func (m *Machine) CurrentStatus() Status { return Status(m.mirror.Load()) }

// Viable reports whether the current connection can carry frames.
func (m *Machine) Viable() bool {
	return m.client != nil && m.status == StatusConnected
}

// Connect tears down whatever connection exists and opens a new one.
func (m *Machine) Connect() {
	const op = "Machine.Connect"
	log := m.log.With(slog.String("op", op))

	m.teardown()
	if m.status == StatusConnected {
		m.setStatus(StatusDisconnected)
	}

	token := m.tokens.Token()
	if token == "" {
		log.Warn("no client token, not connecting")
		m.setStatus(StatusDisconnected)
		return
	}
	target, header, err := m.target(token)
	if err != nil {
		log.Error("invalid stream url", slog.String("error", err.Error()))
		m.setStatus(StatusDisconnected)
		return
	}

	m.setStatus(StatusConnecting)
	gen := m.generation
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	log.Info("dialing stream", slog.String("url", m.opts.URL))
	go func() {
		conn, err := m.dial(ctx, target, header)
		if !m.loop.Post(func() { m.dialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

// Disconnect closes the connection on request. No reconnect follows.
func (m *Machine) Disconnect() {
	m.log.Info("disconnecting", slog.String("op", "Machine.Disconnect"))
	m.teardown()
	if m.hooks.OnDisconnect != nil {
		m.hooks.OnDisconnect()
	}
	m.setStatus(StatusDisconnected)
}

// ConnectionLost is the one path every failure takes: transport errors, peer
// closes, failed dials and failed health checks.
func (m *Machine) ConnectionLost(reason error) {
	m.log.Warn("connection lost", slog.String("op", "Machine.ConnectionLost"), slog.Any("reason", reason))
	m.teardown()
	m.setStatus(StatusDisconnected)
	if m.hooks.OnLost != nil {
		m.hooks.OnLost(reason)
	}
}

// SendProbe queues a liveness probe on the current connection.
func (m *Machine) SendProbe() error {
	if m.client == nil {
		return ErrNotConnected
	}
	return m.client.Ping(m.opts.ProbeMarker)
}

// SendAck tells the stream that msg was received.
func (m *Machine) SendAck(msg notification.Message) error {
	if m.client == nil {
		return ErrNotConnected
	}
	frame, err := json.Marshal(notification.AckFrame{MessageID: msg.ID, TraceID: msg.TraceID})
	if err != nil {
		return err
	}
	return m.client.Enqueue(frame)
}

// teardown invalidates every callback from the current connection attempt.
func (m *Machine) teardown() {
	m.generation++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.liveness.Stop()
}

func (m *Machine) dialed(gen uint64, conn *websocket.Conn, err error) {
	if gen != m.generation {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if err != nil {
		m.ConnectionLost(fmt.Errorf("%w: %v", ErrDialFailed, err))
		return
	}

	m.client = ws.NewClient(conn, ws.Options{
		WriteWait:      m.opts.WriteWait,
		MaxMessageSize: m.opts.MaxMessageSize,
		SendBuffer:     m.opts.SendBuffer,
	}, ws.Events{
		OnFrame: func(data []byte) { m.loop.Post(func() { m.handleFrame(gen, data) }) },
		OnPong:  func(string) { m.loop.Post(func() { m.handleAck(gen) }) },
		OnClose: func(err error) { m.loop.Post(func() { m.handleClosed(gen, err) }) },
	}, m.log)
	m.client.Start()

	m.setStatus(StatusConnected)
	m.liveness.Start()
}

func (m *Machine) handleAck(gen uint64) {
	if gen != m.generation {
		return
	}
	m.liveness.Ack()
}

func (m *Machine) handleClosed(gen uint64, err error) {
	if gen != m.generation {
		return
	}
	var ce *websocket.CloseError
	switch {
	case err == nil:
		m.ConnectionLost(ErrPeerClosed)
	case errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure:
		m.ConnectionLost(fmt.Errorf("%w: %v", ErrPeerClosed, err))
	default:
		m.ConnectionLost(fmt.Errorf("%w: %v", ErrTransport, err))
	}
}

func (m *Machine) handleFrame(gen uint64, data []byte) {
	if gen != m.generation {
		return
	}
	log := m.log.With(slog.String("op", "Machine.handleFrame"))

	frame := Classify(data, m.opts.AckMarker)
	switch frame.Kind {
	case FrameAck:
		m.liveness.Ack()
	case FrameStatus:
		m.applyServiceStatus(frame.Status)
	case FrameMessage:
		msg, err := notification.Parse(data, notification.SourceStream)
		if err != nil {
			log.Warn("dropping unparseable message", slog.String("error", err.Error()))
			return
		}
		if err := m.SendAck(msg); err != nil {
			log.Warn("failed to ack message on stream", slog.String("messageId", msg.ID), slog.String("error", err.Error()))
		}
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(msg)
		}
	default:
		log.Debug("dropping unrecognised frame", slog.Int("size", len(data)))
	}
}

// applyServiceStatus follows a status announced by the server. Disconnected to
// Connected passes through Connecting; Connected to Connecting is refused.
func (m *Machine) applyServiceStatus(s Status) {
	log := m.log.With(slog.String("op", "Machine.applyServiceStatus"), slog.String("from", m.status.String()), slog.String("to", s.String()))
	switch {
	case s == m.status:
		return
	case m.status == StatusConnected && s == StatusConnecting:
		log.Warn("rejecting service status")
		return
	case m.status == StatusDisconnected && s == StatusConnected:
		m.setStatus(StatusConnecting)
		m.setStatus(StatusConnected)
	default:
		m.setStatus(s)
	}
}

func (m *Machine) setStatus(to Status) {
	from := m.status
	if from == to {
		return
	}
	if !from.CanTransition(to) {
		m.log.Warn("illegal status transition", slog.String("from", from.String()), slog.String("to", to.String()))
		return
	}
	m.status = to
	m.log.Info("status changed", slog.String("from", from.String()), slog.String("to", to.String()))
	for _, fn := range m.observers {
		fn(to)
	}
	m.mirror.Store(int32(to))
}

func (m *Machine) target(token string) (string, http.Header, error) {
	header := http.Header{}
	if !m.opts.TokenInQuery {
		header.Set("Authorization", "Bearer "+token)
		return m.opts.URL, header, nil
	}
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", nil, err
	}
	q := u.Query()
	q.Set(m.opts.TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), header, nil
}

type noopLiveness struct{}

func (noopLiveness) Start() {}
func (noopLiveness) Stop()  {}
func (noopLiveness) Ack()   {}
