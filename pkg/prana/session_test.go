package prana

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/pranactl/internal/protocol"
	"github.com/srg/pranactl/internal/radio"
)

// fakeLink is a scripted deviceLink: tests control connect outcomes,
// inspect writes and inject notifications and loss events.
type fakeLink struct {
	mu          sync.Mutex
	connectErrs []error // popped per Connect; empty means success
	connects    int
	writes      [][]byte
	onWrite     func(data []byte)
	connected   bool
	closed      bool

	notifs chan radio.Notification
	lost   chan error
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		notifs: make(chan radio.Notification, 64),
		lost:   make(chan error, 4),
	}
}

func (f *fakeLink) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeLink) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return radio.ErrNotReady
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.writes = append(f.writes, buf)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(buf)
	}
	return nil
}

func (f *fakeLink) Notifications() <-chan radio.Notification { return f.notifs }
func (f *fakeLink) Lost() <-chan error                       { return f.lost }

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

// notifyFrame delivers a raw frame split into MTU-sized chunks, the way
// the radio layer hands it up.
func (f *fakeLink) notifyFrame(raw []byte) {
	const mtu = 20
	for len(raw) > 0 {
		n := mtu
		if n > len(raw) {
			n = len(raw)
		}
		chunk := make([]byte, n)
		copy(chunk, raw[:n])
		f.notifs <- radio.Notification{Data: chunk, At: time.Now()}
		raw = raw[n:]
	}
}

// drop simulates an unexpected link loss.
func (f *fakeLink) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.lost <- radio.ErrLinkLost
}

func (f *fakeLink) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeLink) setConnectErrs(errs []error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = errs
}

// fakeUnit simulates a Prana unit behind a fakeLink: it answers state
// requests with its current payload and applies set commands.
type fakeUnit struct {
	link *fakeLink

	mu          sync.Mutex
	respond     bool // answer state requests
	applyWrites bool // honor set commands

	speed       int
	brightness  int
	miniHeating bool
	autoMode    byte
	power       bool
}

func newFakeUnit() *fakeUnit {
	u := &fakeUnit{
		link:        newFakeLink(),
		respond:     true,
		applyWrites: true,
		speed:       3,
		brightness:  3,
		power:       true,
	}
	u.link.onWrite = u.handleWrite
	return u
}

var stateRequestWire = []byte{0xBE, 0xEF, 0x05, 0x01, 0x00, 0x00, 0x00, 0x00, 0x5A}

func (u *fakeUnit) handleWrite(raw []byte) {
	if bytes.Equal(raw, stateRequestWire) {
		u.mu.Lock()
		respond := u.respond
		payload := u.payloadLocked()
		u.mu.Unlock()
		if respond {
			u.link.notifyFrame(payload)
		}
		return
	}

	if len(raw) != 4 || raw[0] != 0xBE || raw[1] != 0xEF || raw[2] != 0x04 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.applyWrites {
		return
	}
	code := raw[3]
	switch {
	case code > 0x32 && code <= 0x3C:
		u.speed = int(code - 0x32)
	case code >= 0x6E && code <= 0x74:
		u.brightness = int(code - 0x6E)
	case code == 0x05:
		u.miniHeating = !u.miniHeating
	case code == 0x43:
		u.autoMode = 1
	case code == 0x0A:
		u.power = !u.power
	}
}

func (u *fakeUnit) payloadLocked() []byte {
	raw := make([]byte, 100)
	raw[0], raw[1], raw[2] = 0xBE, 0xEF, 0x05

	setBool := func(offset int, on bool) {
		if on {
			raw[offset] = 1
		}
	}
	setU16 := func(offset, value int) {
		raw[offset] = byte(value >> 8)
		raw[offset+1] = byte(value)
	}

	setBool(10, u.power)
	if u.brightness > 0 {
		raw[12] = 1 << (u.brightness - 1)
	}
	setBool(14, u.miniHeating)
	raw[20] = u.autoMode
	setBool(22, true) // flows locked
	raw[26] = byte(u.speed * 10)
	setBool(28, u.power)
	raw[30] = byte(u.speed * 10)
	setBool(32, u.power)
	raw[34] = byte(u.speed * 10)
	setU16(48, 215) // 21.5 C
	setU16(51, 183)
	setU16(54, 183)
	raw[60] = 55 + 128
	setU16(61, 800)
	setU16(63, 120)
	setU16(77, 1012)
	raw[99] = 0x3
	return raw
}

func (u *fakeUnit) setSpeed(v int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.speed = v
}

func (u *fakeUnit) setRespond(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.respond = v
}

func (u *fakeUnit) setApplyWrites(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.applyWrites = v
}

type SessionTestSuite struct {
	suite.Suite

	unit    *fakeUnit
	session *Session

	savedDelay    time.Duration
	savedBackoff  func() *Backoff
	savedInterval time.Duration
}

const testInterval = 60 * time.Millisecond

func (suite *SessionTestSuite) SetupTest() {
	suite.savedDelay = confirmPollDelay
	suite.savedBackoff = newBackoff
	suite.savedInterval = minUpdateInterval
	confirmPollDelay = 5 * time.Millisecond
	minUpdateInterval = time.Millisecond
	newBackoff = func() *Backoff {
		return &Backoff{
			Initial:     10 * time.Millisecond,
			Max:         40 * time.Millisecond,
			Factor:      2,
			Jitter:      0,
			MaxAttempts: 3,
		}
	}

	suite.unit = newFakeUnit()
	suite.session = nil
}

func (suite *SessionTestSuite) TearDownTest() {
	if suite.session != nil {
		_ = suite.session.Close()
	}
	confirmPollDelay = suite.savedDelay
	newBackoff = suite.savedBackoff
	minUpdateInterval = suite.savedInterval
}

// open starts a session against the fake unit and waits for the
// initial snapshot.
func (suite *SessionTestSuite) open() {
	cfg := &SessionConfig{
		MaxSpeed:       5,
		UpdateInterval: testInterval,
		TableVersion:   "v1",
	}
	sess, err := OpenWithLink(context.Background(), "AA:BB:CC:DD:EE:FF", cfg, suite.unit.link, nil)
	suite.Require().NoError(err)
	suite.session = sess

	suite.Require().Eventually(func() bool {
		return sess.State().Sync == SyncIdle
	}, 2*time.Second, 5*time.Millisecond, "initial snapshot MUST land")
}

func (suite *SessionTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func (suite *SessionTestSuite) TestInitialSyncPopulatesState() {
	// GOAL: Verify a fresh session polls immediately and exposes the
	// decoded snapshot.

	suite.open()

	st := suite.session.State()
	suite.Assert().Equal(StatusConnected, st.Link)
	suite.Require().NotNil(st.Telemetry.Speed)
	suite.Assert().Equal(3, *st.Telemetry.Speed)
	suite.Require().NotNil(st.Telemetry.Power)
	suite.Assert().True(*st.Telemetry.Power)
	suite.Require().NotNil(st.Telemetry.CO2)
	suite.Assert().Equal(800, *st.Telemetry.CO2)
	suite.Assert().False(st.Stale)
	suite.Assert().False(st.LastSync.IsZero())
}

func (suite *SessionTestSuite) TestPeriodicPollTracksDeviceChanges() {
	// TEST SCENARIO: The unit's panel is used directly -> the next poll
	// cycle picks the change up without any command traffic

	suite.open()
	suite.unit.setSpeed(5)

	suite.Require().Eventually(func() bool {
		s := suite.session.State().Telemetry.Speed
		return s != nil && *s == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func (suite *SessionTestSuite) TestCommandConfirmedByTelemetry() {
	// GOAL: Verify a command resolves only once the commanded value
	// shows up in a subsequent snapshot.

	suite.open()

	suite.Require().NoError(suite.session.SetSpeed(suite.ctx(), protocol.BlowerMain, 4))

	st := suite.session.State()
	suite.Require().NotNil(st.Telemetry.Speed)
	suite.Assert().Equal(4, *st.Telemetry.Speed, "confirmed value MUST be visible in state")
	suite.Assert().Empty(st.Pending)
}

func (suite *SessionTestSuite) TestCommandTimeoutLeavesStateUntouched() {
	// TEST SCENARIO: The unit acknowledges the write at radio level but
	// never applies it -> the command fails with a timeout and device
	// state keeps reporting what the unit last said

	suite.open()
	suite.unit.setApplyWrites(false)

	err := suite.session.SetSpeed(suite.ctx(), protocol.BlowerMain, 2)
	suite.Assert().ErrorIs(err, ErrCommandTimeout)

	st := suite.session.State()
	suite.Require().NotNil(st.Telemetry.Speed)
	suite.Assert().Equal(3, *st.Telemetry.Speed, "unconfirmed command MUST NOT alter reported state")
}

func (suite *SessionTestSuite) TestNewerCommandSupersedesPending() {
	// GOAL: Verify latest-intent-wins for commands targeting the same
	// field.

	suite.open()
	suite.unit.setRespond(false) // hold confirmation back

	cmd1, err := protocol.SetSpeed(protocol.BlowerMain, 4, 5)
	suite.Require().NoError(err)
	reply1 := suite.session.Submit(cmd1)

	suite.Require().Eventually(func() bool {
		return suite.session.State().Sync == SyncAwaitingAck
	}, 2*time.Second, 5*time.Millisecond)

	cmd2, err := protocol.SetSpeed(protocol.BlowerMain, 5, 5)
	suite.Require().NoError(err)
	reply2 := suite.session.Submit(cmd2)

	select {
	case err := <-reply1:
		suite.Assert().ErrorIs(err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		suite.FailNow("superseded command MUST resolve promptly")
	}

	suite.unit.setRespond(true)
	select {
	case err := <-reply2:
		suite.Assert().NoError(err)
	case <-time.After(2 * time.Second):
		suite.FailNow("winning command not confirmed")
	}

	s := suite.session.State().Telemetry.Speed
	suite.Require().NotNil(s)
	suite.Assert().Equal(5, *s)
}

func (suite *SessionTestSuite) TestCommandQueueDepthIsOne() {
	// TEST SCENARIO: One command pending, one queued behind it -> a
	// third intent for yet another field is rejected busy; once
	// confirmations flow both accepted commands complete in order

	suite.open()
	suite.unit.setRespond(false)

	speedCmd, err := protocol.SetSpeed(protocol.BlowerMain, 4, 5)
	suite.Require().NoError(err)
	speedReply := suite.session.Submit(speedCmd)

	suite.Require().Eventually(func() bool {
		return suite.session.State().Sync == SyncAwaitingAck
	}, 2*time.Second, 5*time.Millisecond)

	brightCmd, err := protocol.SetBrightness(5)
	suite.Require().NoError(err)
	brightReply := suite.session.Submit(brightCmd)

	displayCmd, err := protocol.SetDisplay(protocol.DisplayHumidity)
	suite.Require().NoError(err)
	select {
	case err := <-suite.session.Submit(displayCmd):
		suite.Assert().ErrorIs(err, ErrBusy)
	case <-time.After(2 * time.Second):
		suite.FailNow("overflow command MUST be rejected immediately")
	}

	suite.unit.setRespond(true)
	for _, reply := range []<-chan error{speedReply, brightReply} {
		select {
		case err := <-reply:
			suite.Assert().NoError(err)
		case <-time.After(2 * time.Second):
			suite.FailNow("accepted command not confirmed")
		}
	}

	st := suite.session.State()
	suite.Require().NotNil(st.Telemetry.Brightness)
	suite.Assert().Equal(5, *st.Telemetry.Brightness)
}

func (suite *SessionTestSuite) TestNoOpToggleNeverHitsTheWire() {
	// GOAL: Verify an already-satisfied toggle intent resolves without
	// a set write; writing the toggle would flip the setting.

	suite.open()

	suite.Require().NoError(suite.session.SetOption(suite.ctx(), protocol.OptionMiniHeating, false))

	suite.unit.link.mu.Lock()
	defer suite.unit.link.mu.Unlock()
	for _, w := range suite.unit.link.writes {
		suite.Assert().NotEqual([]byte{0xBE, 0xEF, 0x04, 0x05}, w,
			"no-op intent MUST NOT write the toggle")
	}
}

func (suite *SessionTestSuite) TestNoOpSupersedesPendingSameFieldToggle() {
	// TEST SCENARIO: Mini heating ON is written and awaits confirmation;
	// mini heating OFF arrives, built against telemetry that still reads
	// OFF -> the older toggle is superseded, the new intent writes its
	// own toggle, and the unit ends at OFF

	suite.open()
	suite.unit.setRespond(false) // hold confirmation back

	tel := suite.session.State().Telemetry
	onCmd, err := protocol.SetOption(protocol.OptionMiniHeating, true, &tel)
	suite.Require().NoError(err)
	suite.Require().False(onCmd.NoOp)
	onReply := suite.session.Submit(onCmd)

	suite.Require().Eventually(func() bool {
		return suite.session.State().Sync == SyncAwaitingAck
	}, 2*time.Second, 5*time.Millisecond)

	// Built against the stale snapshot, this intent looks satisfied.
	offCmd, err := protocol.SetOption(protocol.OptionMiniHeating, false, &tel)
	suite.Require().NoError(err)
	suite.Require().True(offCmd.NoOp)
	offReply := suite.session.Submit(offCmd)

	select {
	case err := <-onReply:
		suite.Assert().ErrorIs(err, ErrSuperseded, "older toggle MUST lose to the newer intent")
	case <-time.After(2 * time.Second):
		suite.FailNow("superseded toggle MUST resolve promptly")
	}

	suite.unit.setRespond(true)
	select {
	case err := <-offReply:
		suite.Assert().NoError(err)
	case <-time.After(2 * time.Second):
		suite.FailNow("winning intent not confirmed")
	}

	st := suite.session.State()
	suite.Require().NotNil(st.Telemetry.MiniHeating)
	suite.Assert().False(*st.Telemetry.MiniHeating, "state MUST reflect only the latest intent")

	suite.unit.mu.Lock()
	defer suite.unit.mu.Unlock()
	suite.Assert().False(suite.unit.miniHeating, "unit MUST end at the latest intent's value")
}

func (suite *SessionTestSuite) TestNoOpDropsQueuedSameFieldToggle() {
	// TEST SCENARIO: A speed command is pending and a mini heating ON
	// toggle is queued behind it; mini heating OFF arrives as a no-op ->
	// the queued toggle is dropped before it can flip the option

	suite.open()
	suite.unit.setRespond(false)

	speedCmd, err := protocol.SetSpeed(protocol.BlowerMain, 4, 5)
	suite.Require().NoError(err)
	speedReply := suite.session.Submit(speedCmd)

	suite.Require().Eventually(func() bool {
		return suite.session.State().Sync == SyncAwaitingAck
	}, 2*time.Second, 5*time.Millisecond)

	tel := suite.session.State().Telemetry
	onCmd, err := protocol.SetOption(protocol.OptionMiniHeating, true, &tel)
	suite.Require().NoError(err)
	onReply := suite.session.Submit(onCmd) // queued behind the speed command

	offCmd, err := protocol.SetOption(protocol.OptionMiniHeating, false, &tel)
	suite.Require().NoError(err)
	suite.Require().True(offCmd.NoOp)
	offReply := suite.session.Submit(offCmd)

	select {
	case err := <-onReply:
		suite.Assert().ErrorIs(err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		suite.FailNow("queued toggle MUST resolve promptly")
	}
	select {
	case err := <-offReply:
		suite.Assert().NoError(err, "the field already holds the requested value")
	case <-time.After(2 * time.Second):
		suite.FailNow("no-op intent MUST resolve promptly")
	}

	suite.unit.setRespond(true)
	select {
	case err := <-speedReply:
		suite.Assert().NoError(err)
	case <-time.After(2 * time.Second):
		suite.FailNow("pending speed command not confirmed")
	}

	suite.unit.link.mu.Lock()
	defer suite.unit.link.mu.Unlock()
	for _, w := range suite.unit.link.writes {
		suite.Assert().NotEqual([]byte{0xBE, 0xEF, 0x04, 0x05}, w,
			"dropped queued toggle MUST NOT reach the wire")
	}
}

func (suite *SessionTestSuite) TestToggleAgainstUnknownStateRejected() {
	suite.unit.setRespond(false)

	cfg := &SessionConfig{MaxSpeed: 5, UpdateInterval: testInterval, TableVersion: "v1"}
	sess, err := OpenWithLink(context.Background(), "AA:BB:CC:DD:EE:FF", cfg, suite.unit.link, nil)
	suite.Require().NoError(err)
	suite.session = sess

	err = sess.SetOption(suite.ctx(), protocol.OptionWinterMode, true)
	suite.Assert().ErrorIs(err, protocol.ErrInvalidIntent,
		"toggle with unknown current state MUST be rejected before any write")
}

func (suite *SessionTestSuite) TestLinkLossFailsPendingAndRejectsNew() {
	// TEST SCENARIO: Link drops while a command awaits confirmation ->
	// the pending command fails with link-lost, new commands are
	// rejected, state reports reconnecting

	suite.open()
	suite.unit.setRespond(false)
	suite.unit.link.setConnectErrs([]error{errors.New("still gone"), errors.New("still gone"),
		errors.New("still gone"), errors.New("still gone")})

	cmd, err := protocol.SetSpeed(protocol.BlowerMain, 4, 5)
	suite.Require().NoError(err)
	reply := suite.session.Submit(cmd)

	suite.Require().Eventually(func() bool {
		return suite.session.State().Sync == SyncAwaitingAck
	}, 2*time.Second, 5*time.Millisecond)

	suite.unit.link.drop()

	select {
	case err := <-reply:
		suite.Assert().ErrorIs(err, radio.ErrLinkLost)
	case <-time.After(2 * time.Second):
		suite.FailNow("pending command MUST fail on link loss")
	}

	suite.Require().Eventually(func() bool {
		return suite.session.State().Link == StatusReconnecting
	}, 2*time.Second, 5*time.Millisecond)

	err = suite.session.SetSpeed(suite.ctx(), protocol.BlowerMain, 2)
	suite.Assert().ErrorIs(err, radio.ErrLinkLost, "commands during reconnection MUST be rejected")
}

func (suite *SessionTestSuite) TestReconnectResyncsBeforeAcceptingCommands() {
	// GOAL: Verify recovery order after a drop: reconnect, poll a fresh
	// snapshot, only then take commands again.

	suite.open()
	suite.unit.link.setConnectErrs([]error{errors.New("not yet"), nil})
	suite.unit.setSpeed(2) // changes while we were away

	suite.unit.link.drop()

	suite.Require().Eventually(func() bool {
		st := suite.session.State()
		return st.Link == StatusConnected && st.Sync == SyncIdle
	}, 2*time.Second, 5*time.Millisecond, "session MUST come back on its own")

	s := suite.session.State().Telemetry.Speed
	suite.Require().NotNil(s)
	suite.Assert().Equal(2, *s, "post-reconnect snapshot MUST replace the stale one")

	suite.Require().NoError(suite.session.SetSpeed(suite.ctx(), protocol.BlowerMain, 4))
}

func (suite *SessionTestSuite) TestBackoffExhaustionReportsUnavailable() {
	// TEST SCENARIO: Every reconnect attempt fails -> after the attempt
	// budget the session reports unavailable instead of a failure per
	// attempt; an external retry request resets the budget and brings
	// the device back

	suite.open()
	suite.unit.link.setConnectErrs([]error{
		errors.New("gone"), errors.New("gone"), errors.New("gone"),
		errors.New("gone"), errors.New("gone"), errors.New("gone"),
	})

	suite.unit.link.drop()

	suite.Require().Eventually(func() bool {
		return suite.session.State().Link == StatusUnavailable
	}, 2*time.Second, 5*time.Millisecond)

	suite.unit.link.setConnectErrs(nil) // next attempt succeeds
	suite.session.Retry()

	suite.Require().Eventually(func() bool {
		st := suite.session.State()
		return st.Link == StatusConnected && st.Sync == SyncIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func (suite *SessionTestSuite) TestRefreshForcesImmediatePoll() {
	suite.open()
	suite.unit.setSpeed(5)

	suite.Require().NoError(suite.session.Refresh(suite.ctx()))

	s := suite.session.State().Telemetry.Speed
	suite.Require().NotNil(s)
	suite.Assert().Equal(5, *s)
}

func (suite *SessionTestSuite) TestStalenessAfterMissedPolls() {
	// GOAL: Verify the snapshot is flagged stale once the unit stops
	// answering polls, while the link itself stays up.

	suite.open()
	suite.unit.setRespond(false)

	suite.Require().Eventually(func() bool {
		st := suite.session.State()
		return st.Stale && st.Link == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	// The last known snapshot stays visible, just flagged.
	s := suite.session.State().Telemetry.Speed
	suite.Require().NotNil(s)
	suite.Assert().Equal(3, *s)
}

func (suite *SessionTestSuite) TestTrailingShortFrameSalvagedOnNextPoll() {
	// TEST SCENARIO: The unit's notification stream dies mid-payload ->
	// the next poll tick decodes the buffered prefix-valid fragment
	// instead of discarding the fields it already carries

	suite.open()
	suite.unit.setRespond(false)
	suite.unit.setSpeed(5)

	suite.unit.mu.Lock()
	partial := suite.unit.payloadLocked()[:40]
	suite.unit.mu.Unlock()
	suite.unit.link.notifyFrame(partial)

	suite.Require().Eventually(func() bool {
		s := suite.session.State().Telemetry.Speed
		return s != nil && *s == 5
	}, 2*time.Second, 5*time.Millisecond, "fragment fields MUST surface on the next poll tick")
}

func (suite *SessionTestSuite) TestSubmitRepliesAcrossClose() {
	// GOAL: Verify a caller reading only the reply channel never hangs,
	// even when submissions race the session shutdown.

	suite.open()
	suite.unit.setRespond(false)

	cmd, err := protocol.SetBrightness(5)
	suite.Require().NoError(err)

	replies := make(chan (<-chan error), 64)
	go func() {
		for i := 0; i < 32; i++ {
			replies <- suite.session.Submit(cmd)
		}
		close(replies)
	}()

	suite.Require().NoError(suite.session.Close())

	for reply := range replies {
		select {
		case <-reply:
			// Any result will do; the point is that one arrives.
		case <-time.After(2 * time.Second):
			suite.FailNow("a submission went unanswered across shutdown")
		}
	}
}

func (suite *SessionTestSuite) TestUpdateConfigValidation() {
	suite.open()

	err := suite.session.UpdateConfig(&SessionConfig{
		MaxSpeed: 99, UpdateInterval: testInterval, TableVersion: "v1",
	})
	var cfgErr *ConfigError
	suite.Assert().ErrorAs(err, &cfgErr)

	err = suite.session.UpdateConfig(&SessionConfig{
		MaxSpeed: 5, UpdateInterval: testInterval, TableVersion: "v2",
	})
	suite.Assert().Error(err, "table version MUST NOT change on a live session")

	suite.Require().NoError(suite.session.UpdateConfig(&SessionConfig{
		MaxSpeed: 4, UpdateInterval: 2 * testInterval, TableVersion: "v1",
	}))
	suite.Assert().Equal(4, suite.session.Config().MaxSpeed)

	// The new speed cap applies to intent validation.
	err = suite.session.SetSpeed(suite.ctx(), protocol.BlowerMain, 5)
	suite.Assert().ErrorIs(err, protocol.ErrOutOfRange)
}

func (suite *SessionTestSuite) TestCloseFailsPendingAndEndsStreams() {
	suite.open()
	suite.unit.setRespond(false)

	cmd, err := protocol.SetSpeed(protocol.BlowerMain, 4, 5)
	suite.Require().NoError(err)
	reply := suite.session.Submit(cmd)

	suite.Require().Eventually(func() bool {
		return suite.session.State().Sync == SyncAwaitingAck
	}, 2*time.Second, 5*time.Millisecond)

	suite.Require().NoError(suite.session.Close())

	select {
	case err := <-reply:
		suite.Assert().ErrorIs(err, ErrClosed)
	case <-time.After(2 * time.Second):
		suite.FailNow("pending command MUST resolve on close")
	}

	_, ok := <-suite.session.Updates()
	for ok {
		_, ok = <-suite.session.Updates()
	}
	suite.Assert().False(ok, "Updates MUST close on shutdown")

	err = suite.session.SetSpeed(context.Background(), protocol.BlowerMain, 2)
	suite.Assert().ErrorIs(err, ErrClosed)
}

func (suite *SessionTestSuite) TestUpdatesStreamCarriesSnapshots() {
	suite.open()

	updates := suite.session.Updates()
	suite.Require().NoError(suite.session.SetSpeed(suite.ctx(), protocol.BlowerMain, 4))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st, ok := <-updates:
			suite.Require().True(ok)
			if st.Telemetry.Speed != nil && *st.Telemetry.Speed == 4 {
				return
			}
		case <-deadline:
			suite.FailNow("confirmed value never appeared on the update stream")
		}
	}
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
