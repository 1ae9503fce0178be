package notification

import "errors"

var (
	ErrMalformedPayload = errors.New("malformed message payload")
	ErrMissingMessageID = errors.New("message has no messageId")
)
