package stream

import (
	"bytes"

	"github.com/tidwall/gjson"
)

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameAck
	FrameStatus
	FrameMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameAck:
		return "ack"
	case FrameStatus:
		return "status"
	case FrameMessage:
		return "message"
	default:
		return "unknown"
	}
}

type Frame struct {
	Kind   FrameKind
	Status Status
}

// Classify sorts an inbound data frame. Order: ack marker, bare status keyword,
// JSON object carrying ServiceStatus, JSON object carrying messageId.
func Classify(data []byte, ackMarker []byte) Frame {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{Kind: FrameUnknown}
	}
	if len(ackMarker) > 0 && bytes.Equal(trimmed, ackMarker) {
		return Frame{Kind: FrameAck}
	}
	if s, ok := ParseStatus(string(trimmed)); ok {
		return Frame{Kind: FrameStatus, Status: s}
	}
	if !gjson.ValidBytes(trimmed) {
		return Frame{Kind: FrameUnknown}
	}
	doc := gjson.ParseBytes(trimmed)
	if !doc.IsObject() {
		return Frame{Kind: FrameUnknown}
	}
	if v := doc.Get("ServiceStatus"); v.Exists() {
		if s, ok := ParseStatus(v.String()); ok {
			return Frame{Kind: FrameStatus, Status: s}
		}
		return Frame{Kind: FrameUnknown}
	}
	if v := doc.Get("messageId"); v.Exists() && v.String() != "" {
		return Frame{Kind: FrameMessage}
	}
	return Frame{Kind: FrameUnknown}
}
