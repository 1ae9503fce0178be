package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pushsync/pkg/lib/eventloop"
)

type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.log = append(c.log, s)
	c.mu.Unlock()
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type fakeConn struct {
	calls     *calls
	connected bool
}

func (f *fakeConn) Connect()        { f.calls.add("connect"); f.connected = true }
func (f *fakeConn) Disconnect()     { f.calls.add("disconnect"); f.connected = false }
func (f *fakeConn) Connected() bool { return f.connected }

type fakeLive struct{ calls *calls }

func (f fakeLive) Suspend() { f.calls.add("suspend") }
func (f fakeLive) Resume()  { f.calls.add("resume") }

type fakeRecon struct{ calls *calls }

func (f fakeRecon) Cancel() { f.calls.add("cancel") }
func (f fakeRecon) SetBackground(bg bool) {
	if bg {
		f.calls.add("recon:bg")
	} else {
		f.calls.add("recon:fg")
	}
}

type fakeExec struct {
	mu      sync.Mutex
	deny    bool
	expired func()
	ended   []GrantHandle
}

func (f *fakeExec) RequestExtraExecutionTime(expired func()) (GrantHandle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny {
		return "", false
	}
	f.expired = expired
	return "g1", true
}

func (f *fakeExec) EndExtraExecutionTime(h GrantHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, h)
}

func (f *fakeExec) expire() {
	f.mu.Lock()
	fn := f.expired
	f.mu.Unlock()
	fn()
}

func (f *fakeExec) endedGrants() []GrantHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GrantHandle(nil), f.ended...)
}

type CoordinatorSuite struct {
	suite.Suite
	loop  *eventloop.Loop
	calls *calls
	conn  *fakeConn
	exec  *fakeExec
	flags *Flags
	coord *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.loop = eventloop.New(discard(), 0)
	go s.loop.Run(s.T().Context())
	s.T().Cleanup(s.loop.Close)

	s.calls = &calls{}
	s.conn = &fakeConn{calls: s.calls, connected: true}
	s.exec = &fakeExec{}
	s.flags = NewFlags(Features{RealtimeEnabled: true, NotificationFallback: true})
	s.coord = NewCoordinator(s.loop, Options{
		SettleDelay:       10 * time.Millisecond,
		ActiveVerifyDelay: 20 * time.Millisecond,
	}, s.flags, s.exec, s.conn, fakeLive{s.calls}, fakeRecon{s.calls}, discard())
}

func (s *CoordinatorSuite) on(fn func()) {
	s.Require().NoError(s.loop.Do(fn))
}

func (s *CoordinatorSuite) TestBackgroundWithFallbackDisconnects() {
	s.on(s.coord.EnterBackground)

	s.Equal([]string{"recon:bg", "suspend", "disconnect"}, s.calls.list())
	s.Equal([]GrantHandle{"g1"}, s.exec.endedGrants())
	s.True(s.coord.Background())
}

func (s *CoordinatorSuite) TestBackgroundWithoutFallbackKeepsConnectionUntilExpiry() {
	s.flags.SetNotificationFallback(false)
	s.on(s.coord.EnterBackground)

	s.Equal([]string{"recon:bg", "suspend"}, s.calls.list())
	s.Empty(s.exec.endedGrants())

	s.exec.expire()
	s.Require().Eventually(func() bool { return len(s.exec.endedGrants()) == 1 }, time.Second, 2*time.Millisecond)
	s.Equal([]string{"recon:bg", "suspend", "disconnect"}, s.calls.list())
}

func (s *CoordinatorSuite) TestDeniedGrantWithoutFallbackDisconnects() {
	s.flags.SetNotificationFallback(false)
	s.exec.deny = true
	s.on(s.coord.EnterBackground)

	s.Equal([]string{"recon:bg", "suspend", "disconnect"}, s.calls.list())
}

func (s *CoordinatorSuite) TestBackgroundWithRealtimeDisabledOnlySuspends() {
	s.flags.SetRealtimeEnabled(false)
	s.on(s.coord.EnterBackground)

	s.Equal([]string{"recon:bg", "suspend"}, s.calls.list())
}

func (s *CoordinatorSuite) TestForegroundEndsGrantAndResumesViableConnection() {
	s.flags.SetNotificationFallback(false)
	s.on(s.coord.EnterBackground)
	s.on(s.coord.EnterForeground)
	s.Equal([]GrantHandle{"g1"}, s.exec.endedGrants())

	s.Require().Eventually(func() bool {
		l := s.calls.list()
		return len(l) > 0 && l[len(l)-1] == "resume"
	}, time.Second, 2*time.Millisecond)
	s.Equal([]string{"recon:bg", "suspend", "recon:fg", "resume"}, s.calls.list())

	// A late expiry for the ended grant is ignored.
	s.exec.expire()
	time.Sleep(20 * time.Millisecond)
	s.NotContains(s.calls.list(), "disconnect")
}

func (s *CoordinatorSuite) TestForegroundReconnectsLostConnection() {
	s.on(s.coord.EnterBackground)
	s.on(s.coord.EnterForeground)

	s.Require().Eventually(func() bool {
		l := s.calls.list()
		return len(l) > 0 && l[len(l)-1] == "connect"
	}, time.Second, 2*time.Millisecond)
	s.Equal([]string{"recon:bg", "suspend", "disconnect", "recon:fg", "cancel", "connect"}, s.calls.list())
}

func (s *CoordinatorSuite) TestBackgroundBeforeSettleCancelsForegroundWork() {
	s.on(func() {
		s.coord.EnterForeground()
		s.coord.EnterBackground()
	})
	time.Sleep(40 * time.Millisecond)
	s.NotContains(s.calls.list(), "resume")
	s.NotContains(s.calls.list(), "connect")
}

func (s *CoordinatorSuite) TestActiveForcesReconnectWhenNotConnected() {
	s.conn.connected = false
	s.on(s.coord.BecomeActive)

	s.Require().Eventually(func() bool { return len(s.calls.list()) == 3 }, time.Second, 2*time.Millisecond)
	s.Equal([]string{"cancel", "disconnect", "connect"}, s.calls.list())
}

func (s *CoordinatorSuite) TestActiveLeavesConnectedConnectionAlone() {
	s.on(s.coord.BecomeActive)
	time.Sleep(50 * time.Millisecond)
	s.Empty(s.calls.list())
}

func (s *CoordinatorSuite) TestResignActiveIsInformational() {
	s.on(s.coord.ResignActive)
	s.Empty(s.calls.list())
}
