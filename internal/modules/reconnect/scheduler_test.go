package reconnect

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"pushsync/pkg/lib/eventloop"
)

type gate struct {
	enabled atomic.Bool
	valid   atomic.Bool
}

func (g *gate) RealtimeEnabled() bool { return g.enabled.Load() }
func (g *gate) TokenValid() bool      { return g.valid.Load() }

var errLost = errors.New("lost")

type SchedulerSuite struct {
	suite.Suite
	loop     *eventloop.Loop
	gate     *gate
	connects atomic.Int32
	sched    *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.loop = eventloop.New(log, 0)
	go s.loop.Run(s.T().Context())
	s.T().Cleanup(s.loop.Close)

	s.gate = &gate{}
	s.gate.enabled.Store(true)
	s.gate.valid.Store(true)
	s.connects.Store(0)
	s.sched = New(s.loop, Options{
		ForegroundInterval: 20 * time.Millisecond,
		BackgroundInterval: 40 * time.Millisecond,
	}, s.gate, func() { s.connects.Add(1) }, log)
}

func (s *SchedulerSuite) on(fn func()) {
	s.Require().NoError(s.loop.Do(fn))
}

func (s *SchedulerSuite) TestForegroundReconnectFires() {
	s.on(func() { s.sched.Schedule(errLost) })
	s.Require().Eventually(func() bool { return s.connects.Load() == 1 }, time.Second, 2*time.Millisecond)

	var pending bool
	s.on(func() { pending = s.sched.Pending() })
	s.False(pending)
}

func (s *SchedulerSuite) TestOnlyOnePendingTimer() {
	s.on(func() {
		s.sched.Schedule(errLost)
		s.sched.Schedule(errLost)
		s.sched.Schedule(errLost)
	})
	time.Sleep(100 * time.Millisecond)
	s.EqualValues(1, s.connects.Load())
}

func (s *SchedulerSuite) TestCancelStopsPendingTimer() {
	s.on(func() {
		s.sched.Schedule(errLost)
		s.sched.Cancel()
	})
	time.Sleep(60 * time.Millisecond)
	s.EqualValues(0, s.connects.Load())
}

func (s *SchedulerSuite) TestBackgroundFireIsDeferred() {
	s.on(func() {
		s.sched.SetBackground(true)
		s.sched.Schedule(errLost)
	})
	var deferred bool
	s.Require().Eventually(func() bool {
		_ = s.loop.Do(func() { deferred = s.sched.Deferred() })
		return deferred
	}, time.Second, 5*time.Millisecond)
	s.EqualValues(0, s.connects.Load())

	s.on(s.sched.Cancel)
	s.on(func() { deferred = s.sched.Deferred() })
	s.False(deferred)
}

func (s *SchedulerSuite) TestNotScheduledWhenDisabled() {
	s.gate.enabled.Store(false)
	var pending bool
	s.on(func() {
		s.sched.Schedule(errLost)
		pending = s.sched.Pending()
	})
	s.False(pending)
}

func (s *SchedulerSuite) TestNotScheduledWithoutValidToken() {
	s.gate.valid.Store(false)
	var pending bool
	s.on(func() {
		s.sched.Schedule(errLost)
		pending = s.sched.Pending()
	})
	s.False(pending)
}

func (s *SchedulerSuite) TestPreconditionsRecheckedOnFire() {
	s.on(func() { s.sched.Schedule(errLost) })
	s.gate.enabled.Store(false)
	time.Sleep(60 * time.Millisecond)
	s.EqualValues(0, s.connects.Load())
}

func TestDefaults(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(eventloop.New(log, 0), Options{}, &gate{}, func() {}, log)
	require.NotNil(t, s)
	assert.Equal(t, DefaultForegroundInterval, s.opts.ForegroundInterval)
	assert.Equal(t, DefaultBackgroundInterval, s.opts.BackgroundInterval)
}
