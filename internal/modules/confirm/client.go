package confirm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushsync/internal/modules/notification"
)

var ErrNoToken = errors.New("no client token available")

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// TokenSource yields the current ClientToken, or "" when none is available.
type TokenSource interface {
	Token() string
}

// Client reports delivery and interaction events. Every call is fire and
// forget: it returns immediately, the outcome is only logged.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, httpClient *http.Client, log *slog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		log:        log.With(slog.String("component", "confirmation_client")),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ConfirmDelivery reports that msg arrived on its channel.
func (c *Client) ConfirmDelivery(msg notification.Message) {
	q := url.Values{}
	q.Set("transportKind", msg.Source.TransportKind())
	c.emit("Client.ConfirmDelivery", "/confirm?"+q.Encode(), msg, notification.ActionDelivered)
}

// ConfirmAction reports a user-facing interaction (Show, Click or custom).
func (c *Client) ConfirmAction(msg notification.Message, action notification.Action) {
	if action == notification.ActionDelivered {
		c.ConfirmDelivery(msg)
		return
	}
	q := url.Values{}
	q.Set("clientInteraction", string(action))
	c.emit("Client.ConfirmAction", "/confirm-client-interaction?"+q.Encode(), msg, action)
}

func (c *Client) emit(op, requestPath string, msg notification.Message, action notification.Action) {
	log := c.log.With(slog.String("op", op), slog.String("messageId", msg.ID), slog.String("action", string(action)))

	token := c.tokens.Token()
	if token == "" {
		log.Warn("skipping confirmation", "error", ErrNoToken)
		return
	}

	body, err := json.Marshal(notification.AckFrame{MessageID: msg.ID, TraceID: msg.TraceID})
	if err != nil {
		log.Error("failed to marshal confirmation body", "error", err)
		return
	}
	credential := base64.StdEncoding.EncodeToString([]byte(token + ":" + msg.ID))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Warn("confirmation client closed, dropping event")
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.post(c.ctx, requestPath, credential, body); err != nil {
			log.Warn("confirmation failed", "error", err)
			return
		}
		log.Debug("confirmation sent")
	}()
}

func (c *Client) post(ctx context.Context, requestPath, credential string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close waits up to timeout for in-flight confirmations, then cancels them.
func (c *Client) Close(timeout time.Duration) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		c.log.Warn("in-flight confirmations cancelled on close")
	}
	c.cancel()
	<-finished
}
