package lifecycle

import (
	"sync/atomic"
	"time"
)

// --- Host collaborators ---

// GrantHandle identifies one extra-execution grant.
type GrantHandle string

// ExecutionHost bounds how long the process may keep working after being
// backgrounded. expired runs on an arbitrary goroutine.
type ExecutionHost interface {
	RequestExtraExecutionTime(expired func()) (GrantHandle, bool)
	EndExtraExecutionTime(handle GrantHandle)
}

// SecureStore keeps single secret strings by key.
type SecureStore interface {
	GetSecureString(key string) (string, bool)
	SetSecureString(key, value string) bool
	DeleteSecureString(key string)
}

// --- Driven components ---

type Connection interface {
	Connect()
	Disconnect()
	Connected() bool
}

type Liveness interface {
	Suspend()
	Resume()
}

type Reconnector interface {
	Cancel()
	SetBackground(background bool)
}

// --- State ---

type State int

const (
	StateForeground State = iota
	StateBackground
)

func (s State) String() string {
	if s == StateBackground {
		return "background"
	}
	return "foreground"
}

type Features struct {
	RealtimeEnabled      bool
	NotificationFallback bool
}

// Flags holds the feature toggles; readable from any goroutine.
type Flags struct {
	realtime atomic.Bool
	fallback atomic.Bool
}

func NewFlags(f Features) *Flags {
	flags := &Flags{}
	flags.realtime.Store(f.RealtimeEnabled)
	flags.fallback.Store(f.NotificationFallback)
	return flags
}

func (f *Flags) RealtimeEnabled() bool      { return f.realtime.Load() }
func (f *Flags) NotificationFallback() bool { return f.fallback.Load() }

func (f *Flags) SetRealtimeEnabled(enabled bool)      { f.realtime.Store(enabled) }
func (f *Flags) SetNotificationFallback(enabled bool) { f.fallback.Store(enabled) }

type Options struct {
	SettleDelay       time.Duration
	ActiveVerifyDelay time.Duration
}
