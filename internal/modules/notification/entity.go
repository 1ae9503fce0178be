// internal/modules/notification/entity.go
package notification

import (
	"context"
	"strings"
)

// --- Channels ---

// Source is the delivery channel a message arrived on.
type Source int

const (
	SourceNotification Source = iota // store-and-forward push channel
	SourceStream                     // persistent real-time stream
)

func (s Source) String() string {
	switch s {
	case SourceNotification:
		return "notification"
	case SourceStream:
		return "stream"
	default:
		return "unknown"
	}
}

// TransportKind is the value reported as transportKind in delivery confirmations.
func (s Source) TransportKind() string {
	if s == SourceStream {
		return "websocket"
	}
	return "apns"
}

// --- Confirmation actions ---

type Action string

const (
	ActionDelivered Action = "Delivered"
	ActionShow      Action = "Show"
	ActionClick     Action = "Click"
)

// --- Message ---

// Notification is the displayable block of a message.
type Notification struct {
	Title string
	Body  string
	Sound string
}

// Displayable reports whether the block carries an alert body.
func (n *Notification) Displayable() bool {
	return n != nil && strings.TrimSpace(n.Body) != ""
}

// Message is one logical push message, whichever channel carried it.
type Message struct {
	ID           string
	TraceID      string
	Payload      map[string]any
	Notification *Notification
	Source       Source
}

// URL returns the deep link carried in the payload, if any.
func (m Message) URL() string {
	if u, ok := m.Payload["url"].(string); ok && u != "" {
		return u
	}
	if data, ok := m.Payload["data"].(map[string]any); ok {
		if u, ok := data["url"].(string); ok {
			return u
		}
	}
	return ""
}

// --- Wire frames ---

// AckFrame is the confirmation frame written back on the stream.
type AckFrame struct {
	MessageID string `json:"messageId"`
	TraceID   string `json:"mfTraceId,omitempty"`
}

// PushedNotification is the stream-side alert block.
type PushedNotification struct {
	Title string `json:"Title"`
	Body  string `json:"Body"`
	Sound string `json:"Sound"`
}

// --- Host collaborators ---

// LocalNotification is what the core asks the host to display.
type LocalNotification struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Sound   string         `json:"sound,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Presenter displays local notifications and reports display permission.
type Presenter interface {
	PresentLocalNotification(ctx context.Context, n LocalNotification) error
	DisplayPermitted(ctx context.Context) bool
}

// URLOpener opens deep links carried by clicked messages.
type URLOpener interface {
	OpenURL(ctx context.Context, url string) error
}

// Handler lets the embedding application take a message over.
// Returning true means the message was consumed and must not be displayed.
type Handler func(ctx context.Context, msg Message) (consumed bool)
