// internal/modules/stream/entity.go
package stream

import (
	"strings"
	"time"

	"pushsync/internal/modules/notification"
)

// --- Connection status ---

type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether s → to is one of the allowed edges:
// Disconnected→Connecting, Connecting→Connected, Connected→Disconnected,
// Connecting→Disconnected.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusDisconnected:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusConnected || to == StatusDisconnected
	case StatusConnected:
		return to == StatusDisconnected
	default:
		return false
	}
}

// ParseStatus maps a service-status keyword to a Status, case-insensitively.
func ParseStatus(keyword string) (Status, bool) {
	k := strings.ToUpper(strings.Trim(strings.TrimSpace(keyword), `"'`))
	switch k {
	case "ONLINE", "CONNECTED":
		return StatusConnected, true
	case "OFFLINE", "DISCONNECTED":
		return StatusDisconnected, true
	case "CONNECTING":
		return StatusConnecting, true
	default:
		return StatusDisconnected, false
	}
}

// --- Options ---

type Options struct {
	URL              string
	TokenInQuery     bool
	TokenQueryParam  string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	SendBuffer       int
	ProbeMarker      []byte
	AckMarker        []byte
}

// TokenSource yields the current ClientToken, or "" when none is available.
type TokenSource interface {
	Token() string
}

// Liveness is driven by the machine: started on every open, stopped on every
// teardown, fed with every acknowledgment.
type Liveness interface {
	Start()
	Stop()
	Ack()
}

// Hooks connect the machine to the rest of the session. All hooks run on the loop.
type Hooks struct {
	// OnMessage receives every application message read from the stream.
	OnMessage func(msg notification.Message)
	// OnLost runs after the status has moved to Disconnected because the
	// connection was lost (transport failure or failed health check).
	OnLost func(reason error)
	// OnDisconnect runs on explicit Disconnect, before the status change.
	OnDisconnect func()
}
