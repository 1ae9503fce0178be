package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBuffer     = 64
)

var (
	ErrClosed         = errors.New("websocket client closed")
	ErrSendBufferFull = errors.New("websocket send buffer full")
	ErrPingQueued     = errors.New("websocket ping already queued")
)

// Events are invoked from the pump goroutines, never concurrently with each other
// for the same kind. OnClose fires exactly once, when the read side ends.
type Events struct {
	OnFrame func(data []byte)
	OnPong  func(appData string)
	OnClose func(err error)
}

type Options struct {
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// Dial opens a client connection. Handshake failures carry the HTTP status when
// the server answered.
func Dial(ctx context.Context, target string, header http.Header, handshakeTimeout time.Duration) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with http %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

type Client struct {
	Conn *websocket.Conn
	Send chan []byte
	Log  *slog.Logger

	pings     chan []byte
	events    Events
	opts      Options
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, opts Options, events Events, log *slog.Logger) *Client {
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Client{
		Conn:   conn,
		Send:   make(chan []byte, opts.SendBuffer),
		Log:    log,
		pings:  make(chan []byte, 1),
		events: events,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.WritePump()
	go c.ReadPump()
}

// Enqueue queues a text frame without blocking.
func (c *Client) Enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.Send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping queues a ping control frame carrying marker. While an earlier ping is
// still waiting to be written the new one is dropped and ErrPingQueued is
// returned, so callers never count a probe that was not sent.
func (c *Client) Ping(marker []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.pings <- marker:
		return nil
	default:
		return ErrPingQueued
	}
}

// Close ends both pumps. The peer is sent a normal close frame.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) ReadPump() {
	var readErr error
	defer func() {
		c.Close()
		if err := c.Conn.Close(); err != nil && !isClosedConnErr(err) {
			c.Log.Warn("Error closing connection in ReadPump defer", "error", err)
		}
		if c.events.OnClose != nil {
			c.events.OnClose(readErr)
		}
		c.Log.Debug("Client ReadPump: stopped")
	}()

	c.Conn.SetReadLimit(c.opts.MaxMessageSize)
	c.Conn.SetPongHandler(func(appData string) error {
		if c.events.OnPong != nil {
			c.events.OnPong(appData)
		}
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally, the read error is the consequence.
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				c.Log.Warn("ReadPump: unexpected close error", "error", err)
			} else {
				c.Log.Info("ReadPump: websocket connection closed", "error", err)
			}
			readErr = err
			return
		}
		if c.events.OnFrame != nil {
			c.events.OnFrame(data)
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		if err := c.Conn.Close(); err != nil && !isClosedConnErr(err) {
			c.Log.Warn("Error closing connection in WritePump defer", "error", err)
		}
		c.Log.Debug("Client WritePump: stopped")
	}()
	for {
		select {
		case <-c.done:
			_ = c.Conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait),
			)
			return
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Log.Error("WritePump: failed to write message", "error", err)
				return
			}
		case marker := <-c.pings:
			if err := c.Conn.WriteControl(websocket.PingMessage, marker, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.Log.Error("WritePump: failed to write ping message", "error", err)
				return
			}
		}
	}
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) || strings.Contains(err.Error(), "use of closed network connection")
}
