package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
)

const (
	keyMessageID          = "messageId"
	keyTraceID            = "mfTraceId"
	keyAps                = "aps"
	keyPushedNotification = "pushedNotification"

	// largest magnitude below which every integer is exact in a float64
	maxExactFloat = 1 << 53
)

// Parse decodes a JSON message object received on either channel.
func Parse(raw []byte, src Source) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return FromPayload(payload, src)
}

// FromPayload builds a Message from an already decoded payload, as handed
// over by the host for push-notification deliveries.
func FromPayload(payload map[string]any, src Source) (Message, error) {
	if payload == nil {
		return Message{}, ErrMalformedPayload
	}

	id := stringValue(payload[keyMessageID])
	if id == "" {
		return Message{}, ErrMissingMessageID
	}

	msg := Message{
		ID:      id,
		TraceID: stringValue(payload[keyTraceID]),
		Payload: payload,
		Source:  src,
	}

	if raw, ok := payload[keyAps]; ok {
		n, err := apsNotification(raw)
		if err != nil {
			return Message{}, fmt.Errorf("%w: aps: %v", ErrMalformedPayload, err)
		}
		msg.Notification = n
	}
	if msg.Notification == nil {
		if raw, ok := payload[keyPushedNotification]; ok {
			n, err := pushedNotification(raw)
			if err != nil {
				return Message{}, fmt.Errorf("%w: pushedNotification: %v", ErrMalformedPayload, err)
			}
			msg.Notification = n
		}
	}
	return msg, nil
}

func apsNotification(raw any) (*Notification, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var aps messaging.Aps
	if err := json.Unmarshal(b, &aps); err != nil {
		return nil, err
	}

	n := &Notification{Sound: aps.Sound}
	if aps.CriticalSound != nil && n.Sound == "" {
		n.Sound = aps.CriticalSound.Name
	}
	switch {
	case aps.Alert != nil:
		n.Title = aps.Alert.Title
		n.Body = aps.Alert.Body
	case aps.AlertString != "":
		n.Body = aps.AlertString
	}
	if n.Title == "" && n.Body == "" && n.Sound == "" {
		return nil, nil
	}
	return n, nil
}

func pushedNotification(raw any) (*Notification, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var pn PushedNotification
	if err := json.Unmarshal(b, &pn); err != nil {
		return nil, err
	}
	if pn.Title == "" && pn.Body == "" && pn.Sound == "" {
		return nil, nil
	}
	return &Notification{Title: pn.Title, Body: pn.Body, Sound: pn.Sound}, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > maxExactFloat {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
