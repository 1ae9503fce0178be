package ws

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPingReportsQueuedPing(t *testing.T) {
	// pumps are not started, so the first ping stays queued
	c := NewClient(nil, Options{}, Events{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NoError(t, c.Ping([]byte("ping")))
	assert.ErrorIs(t, c.Ping([]byte("ping")), ErrPingQueued)

	<-c.pings
	assert.NoError(t, c.Ping([]byte("ping")))

	c.Close()
	assert.ErrorIs(t, c.Ping([]byte("ping")), ErrClosed)
	assert.ErrorIs(t, c.Enqueue([]byte("x")), ErrClosed)
}
