package hostapi

import (
	"errors"

	"pushsync/internal/modules/host"
	"pushsync/internal/modules/notification"
	"pushsync/internal/modules/reconciler"
	"pushsync/internal/session"
)

var ErrUnknownAction = errors.New("unknown action")

// Core is the session surface the control API drives.
type Core interface {
	DeliverNotification(payload map[string]any, presented bool) (reconciler.Outcome, error)
	NotificationActivated(payload map[string]any, action notification.Action) error

	EnterBackground() error
	EnterForeground() error
	BecomeActive() error
	ResignActive() error

	Connect() error
	Disconnect() error
	SetRealtimeEnabled(enabled bool) error

	SetToken(token string) error
	ClearToken() error

	Snapshot() (session.Snapshot, error)
}

type Inbox interface {
	List() []host.Displayed
}

// --- Requests ---

type DeliverRequest struct {
	Payload   map[string]any `json:"payload" validate:"required"`
	Presented bool           `json:"presented"`
}

type InteractionRequest struct {
	Payload map[string]any `json:"payload" validate:"required"`
	Action  string         `json:"action" validate:"omitempty,max=64,alphanum"`
}

type TokenRequest struct {
	Token string `json:"token" validate:"required,max=8192"`
}

// --- Responses ---

type DeliverResponse struct {
	Outcome string `json:"outcome"`
}
