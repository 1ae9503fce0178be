package host

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushsync/internal/modules/notification"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecutorExpires(t *testing.T) {
	e := NewExecutor(10*time.Millisecond, discard())
	var fired atomic.Int32

	_, ok := e.RequestExtraExecutionTime(func() { fired.Add(1) })
	require.True(t, ok)
	assert.Equal(t, 1, e.Outstanding())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, e.Outstanding())
}

func TestExecutorEndedGrantNeverExpires(t *testing.T) {
	e := NewExecutor(20*time.Millisecond, discard())
	var fired atomic.Int32

	h, ok := e.RequestExtraExecutionTime(func() { fired.Add(1) })
	require.True(t, ok)
	e.EndExtraExecutionTime(h)
	e.EndExtraExecutionTime(h)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, fired.Load())
	assert.Equal(t, 0, e.Outstanding())
}

func TestExecutorDeniesWithoutBudget(t *testing.T) {
	e := NewExecutor(0, discard())
	_, ok := e.RequestExtraExecutionTime(func() {})
	assert.False(t, ok)
}

func TestInboxKeepsMostRecent(t *testing.T) {
	in := NewInbox(3, true, discard())
	for i := 0; i < 5; i++ {
		require.NoError(t, in.PresentLocalNotification(context.Background(), notification.LocalNotification{ID: fmt.Sprintf("m%d", i)}))
	}
	items := in.List()
	require.Len(t, items, 3)
	assert.Equal(t, "m2", items[0].ID)
	assert.Equal(t, "m4", items[2].ID)

	assert.True(t, in.DisplayPermitted(context.Background()))
	in.SetPermitted(false)
	assert.False(t, in.DisplayPermitted(context.Background()))
}

func TestLogOpener(t *testing.T) {
	o := NewLogOpener(discard())
	assert.NoError(t, o.OpenURL(context.Background(), "https://example.org/a"))
	assert.ErrorIs(t, o.OpenURL(context.Background(), "no-scheme"), ErrInvalidURL)
}
