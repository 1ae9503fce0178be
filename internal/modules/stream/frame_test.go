package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	ack := []byte("pong")
	cases := []struct {
		name   string
		in     string
		kind   FrameKind
		status Status
	}{
		{"ack marker", "pong", FrameAck, 0},
		{"ack marker padded", " pong\n", FrameAck, 0},
		{"bare online", "ONLINE", FrameStatus, StatusConnected},
		{"bare lowercase offline", "offline", FrameStatus, StatusDisconnected},
		{"quoted connecting", `"CONNECTING"`, FrameStatus, StatusConnecting},
		{"json status", `{"ServiceStatus":"CONNECTED"}`, FrameStatus, StatusConnected},
		{"json unknown status", `{"ServiceStatus":"MAINTENANCE"}`, FrameUnknown, 0},
		{"message", `{"messageId":"A1","pushedNotification":{"title":"t"}}`, FrameMessage, 0},
		{"empty message id", `{"messageId":""}`, FrameUnknown, 0},
		{"array", `[1,2]`, FrameUnknown, 0},
		{"garbage", `{not json`, FrameUnknown, 0},
		{"empty", "", FrameUnknown, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Classify([]byte(tc.in), ack)
			assert.Equal(t, tc.kind, f.Kind)
			if tc.kind == FrameStatus {
				assert.Equal(t, tc.status, f.Status)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDisconnected.CanTransition(StatusConnecting))
	assert.True(t, StatusConnecting.CanTransition(StatusConnected))
	assert.True(t, StatusConnecting.CanTransition(StatusDisconnected))
	assert.True(t, StatusConnected.CanTransition(StatusDisconnected))

	assert.False(t, StatusDisconnected.CanTransition(StatusConnected))
	assert.False(t, StatusConnected.CanTransition(StatusConnecting))
}
