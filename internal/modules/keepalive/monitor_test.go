package keepalive

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushsync/pkg/lib/eventloop"
)

type fakeProber struct {
	mu      sync.Mutex
	probes  int
	onProbe func()
}

func (p *fakeProber) SendProbe() error {
	p.mu.Lock()
	p.probes++
	hook := p.onProbe
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

type deaths struct {
	mu      sync.Mutex
	reasons []error
}

func (d *deaths) record(err error) {
	d.mu.Lock()
	d.reasons = append(d.reasons, err)
	d.mu.Unlock()
}

func (d *deaths) list() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.reasons...)
}

func setup(t *testing.T, opts Options) (*eventloop.Loop, *Monitor, *fakeProber, *deaths) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := eventloop.New(log, 0)
	go loop.Run(t.Context())
	t.Cleanup(loop.Close)

	prober := &fakeProber{}
	d := &deaths{}
	m := New(loop, opts, prober, d.record, log)
	return loop, m, prober, d
}

func TestDeadAfterUnansweredProbes(t *testing.T) {
	loop, m, _, d := setup(t, Options{
		PingInterval:   10 * time.Millisecond,
		HealthInterval: 45 * time.Millisecond,
		AckTimeout:     time.Second,
		MaxPending:     3,
	})
	require.NoError(t, loop.Do(m.Start))

	require.Eventually(t, func() bool { return len(d.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	reason := d.list()[0]
	assert.ErrorIs(t, reason, ErrConnectionDead)
	assert.Contains(t, reason.Error(), "probes unanswered")

	var active bool
	require.NoError(t, loop.Do(func() { active = m.Active() }))
	assert.False(t, active)
}

func TestDeadAfterSilence(t *testing.T) {
	loop, m, _, d := setup(t, Options{
		PingInterval:   5 * time.Millisecond,
		HealthInterval: 30 * time.Millisecond,
		AckTimeout:     10 * time.Millisecond,
		MaxPending:     1000,
	})
	require.NoError(t, loop.Do(m.Start))

	require.Eventually(t, func() bool { return len(d.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, d.list()[0].Error(), "no acknowledgment")
}

func TestAcknowledgedConnectionStaysAlive(t *testing.T) {
	loop, m, prober, d := setup(t, Options{
		PingInterval:   5 * time.Millisecond,
		HealthInterval: 15 * time.Millisecond,
		AckTimeout:     50 * time.Millisecond,
		MaxPending:     3,
	})
	prober.onProbe = func() { loop.Post(m.Ack) }
	require.NoError(t, loop.Do(m.Start))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, d.list())
	assert.Greater(t, prober.count(), 5)

	var pending int
	require.NoError(t, loop.Do(func() { pending = m.Pending() }))
	assert.LessOrEqual(t, pending, 1)
}

func TestAckFloorsAtZero(t *testing.T) {
	loop, m, _, _ := setup(t, Options{PingInterval: time.Hour, HealthInterval: time.Hour})

	var pending int
	require.NoError(t, loop.Do(func() {
		m.Start()
		m.Ack()
		m.Ack()
		m.Ack()
		pending = m.Pending()
	}))
	assert.Equal(t, 0, pending)
}

func TestProbeSentOnStart(t *testing.T) {
	loop, m, prober, _ := setup(t, Options{PingInterval: time.Hour, HealthInterval: time.Hour})

	var pending int
	require.NoError(t, loop.Do(func() {
		m.Start()
		pending = m.Pending()
	}))
	assert.Equal(t, 1, prober.count())
	assert.Equal(t, 1, pending)
}

func TestSuspendedMonitorNeverFires(t *testing.T) {
	loop, m, prober, d := setup(t, Options{
		PingInterval:   5 * time.Millisecond,
		HealthInterval: 10 * time.Millisecond,
		AckTimeout:     time.Millisecond,
		MaxPending:     1,
	})
	require.NoError(t, loop.Do(func() {
		m.Start()
		m.Suspend()
	}))
	before := prober.count()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, prober.count())
	assert.Empty(t, d.list())

	var pending int
	require.NoError(t, loop.Do(func() {
		m.Resume()
		pending = m.Pending()
	}))
	assert.Equal(t, before+1, prober.count())
	assert.Equal(t, 1, pending)
}

func TestStoppedMonitorIgnoresEverything(t *testing.T) {
	loop, m, prober, d := setup(t, Options{
		PingInterval:   5 * time.Millisecond,
		HealthInterval: 10 * time.Millisecond,
		MaxPending:     1,
	})
	require.NoError(t, loop.Do(func() {
		m.Start()
		m.Stop()
		m.Resume()
	}))
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, prober.count())
	assert.Empty(t, d.list())
}

func TestProbeFailureDoesNotCount(t *testing.T) {
	loop, m, _, _ := setup(t, Options{PingInterval: time.Hour, HealthInterval: time.Hour})
	m.prober = failingProber{}

	var pending int
	require.NoError(t, loop.Do(func() {
		m.Start()
		pending = m.Pending()
	}))
	assert.Equal(t, 0, pending)
}

type failingProber struct{}

func (failingProber) SendProbe() error { return errors.New("not connected") }

// At the default 1:2 ratio the second ping tick and the first health tick are
// due together; the verdict must not depend on which one runs first.
func TestCoincidingTicksDeclareDeathAtFirstHealthCheck(t *testing.T) {
	for _, healthFirst := range []bool{true, false} {
		loop, m, prober, d := setup(t, Options{
			PingInterval:   time.Hour,
			HealthInterval: 2 * time.Hour,
			AckTimeout:     20 * time.Minute,
			MaxPending:     3,
		})
		clock := time.Unix(0, 0)
		m.now = func() time.Time { return clock }

		require.NoError(t, loop.Do(func() {
			m.Start()
			clock = clock.Add(time.Hour)
			m.onPingTick()
			clock = clock.Add(time.Hour)
			if healthFirst {
				m.onHealthTick()
				m.onPingTick()
			} else {
				m.onPingTick()
				m.onHealthTick()
			}
		}))

		require.Len(t, d.list(), 1, "healthFirst=%v", healthFirst)
		assert.Contains(t, d.list()[0].Error(), "probes unanswered")
		assert.Equal(t, 3, prober.count(), "healthFirst=%v", healthFirst)
	}
}

func TestHealthTickDoesNotDoublePing(t *testing.T) {
	loop, m, prober, d := setup(t, Options{
		PingInterval:   time.Hour,
		HealthInterval: 2 * time.Hour,
		AckTimeout:     time.Hour,
		MaxPending:     10,
	})
	clock := time.Unix(0, 0)
	m.now = func() time.Time { return clock }

	require.NoError(t, loop.Do(func() {
		m.Start()
		clock = clock.Add(2 * time.Hour)
		m.onPingTick()
		m.onHealthTick()
		m.Ack()
		m.Ack()
	}))
	assert.Equal(t, 2, prober.count())
	assert.Empty(t, d.list())
}

func TestSilentConnectionsDieAtFirstHealthTick(t *testing.T) {
	const (
		ping   = 50 * time.Millisecond
		health = 2 * ping
		n      = 20
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	type death struct{ after time.Duration }
	results := make(chan death, n)
	for i := 0; i < n; i++ {
		loop := eventloop.New(log, 0)
		go loop.Run(t.Context())
		t.Cleanup(loop.Close)

		started := time.Now()
		m := New(loop, Options{
			PingInterval:   ping,
			HealthInterval: health,
			AckTimeout:     time.Second,
			MaxPending:     3,
		}, &fakeProber{}, func(error) { results <- death{after: time.Since(started)} }, log)
		require.NoError(t, loop.Do(m.Start))
	}

	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			assert.Less(t, r.after, health+health*7/10, "declared dead after %s", r.after)
		case <-time.After(2 * time.Second):
			t.Fatal("monitor never declared the connection dead")
		}
	}
}

// queuedPinger accepts the first ping and reports every later one as still
// waiting behind it.
type queuedPinger struct{ sent int }

func (p *queuedPinger) SendProbe() error {
	p.sent++
	if p.sent > 1 {
		return errors.New("ping already queued")
	}
	return nil
}

func TestDroppedPingDoesNotCount(t *testing.T) {
	loop, m, _, _ := setup(t, Options{PingInterval: time.Hour, HealthInterval: 2 * time.Hour})
	p := &queuedPinger{}
	m.prober = p
	clock := time.Unix(0, 0)
	m.now = func() time.Time { return clock }

	var pending int
	require.NoError(t, loop.Do(func() {
		m.Start()
		clock = clock.Add(time.Hour)
		m.onPingTick()
		clock = clock.Add(time.Hour)
		m.onPingTick()
		pending = m.Pending()
	}))
	assert.Equal(t, 3, p.sent)
	assert.Equal(t, 1, pending)
}
