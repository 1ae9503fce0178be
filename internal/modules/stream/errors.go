package stream

import "errors"

var (
	ErrNotConnected = errors.New("stream is not connected")
	ErrDialFailed   = errors.New("stream dial failed")
	ErrPeerClosed   = errors.New("stream closed by peer")
	ErrTransport    = errors.New("stream transport failure")
)
