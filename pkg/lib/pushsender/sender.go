package pushsender

import (
	"context"
)

// PushMessage is one push notification addressed to one or more devices.
// MessageID and TraceID travel in the data payload under the same keys the
// stream uses, so both channels carry the same logical message.
type PushMessage struct {
	MessageID string
	TraceID   string
	Title     string
	Body      string
	Sound     string
	Tokens    []string
	Data      map[string]string
	ImageURL  *string
}

type SendResult struct {
	SuccessCount int
	FailureCount int
	FailedTokens []string
}

type Sender interface {
	Send(ctx context.Context, msg PushMessage) (*SendResult, error)
	Ping(ctx context.Context) error
}
