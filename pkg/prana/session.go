package prana

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/pranactl/internal/groutine"
	"github.com/srg/pranactl/internal/protocol"
	"github.com/srg/pranactl/internal/radio"
	"github.com/srg/pranactl/internal/ringchan"
)

// Session-level operation errors.
var (
	// ErrBusy means the session cannot take another command right now:
	// one is pending, one is queued behind it, and the new intent
	// targets yet another field.
	ErrBusy = errors.New("device busy: command already pending")
	// ErrSuperseded resolves an unconfirmed command that was replaced
	// by a newer intent for the same field.
	ErrSuperseded = errors.New("superseded by a newer command")
	// ErrCommandTimeout means the commanded value never showed up in
	// telemetry within the confirmation window. Device state keeps
	// reporting what the unit last said, not what was asked.
	ErrCommandTimeout = errors.New("command not confirmed in time")
	// ErrResyncing rejects commands in the window between a reconnect
	// and the first fresh snapshot.
	ErrResyncing = errors.New("resynchronizing after reconnect")
	// ErrClosed means the session has been shut down.
	ErrClosed = errors.New("session closed")
)

// writeTimeout bounds a single characteristic write; the link-level
// connect timeout does not cover writes on an established session.
const writeTimeout = 5 * time.Second

// confirmPollDelay is how long after a command write the session waits
// before polling for confirmation. The firmware applies settings
// asynchronously; polling immediately tends to return the old value.
// Variable so tests can shrink it.
var confirmPollDelay = 500 * time.Millisecond

// newBackoff builds the reconnection schedule (can be overridden in tests).
var newBackoff = NewBackoff

// deviceLink is the slice of radio.Link the session consumes, split out
// so tests drive the synchronizer with a scripted fake.
type deviceLink interface {
	Connect(ctx context.Context, address string) error
	Write(ctx context.Context, data []byte) error
	Notifications() <-chan radio.Notification
	Lost() <-chan error
	Disconnect() error
	Close() error
}

// commandRequest couples a built command with its caller's reply slot.
type commandRequest struct {
	cmd   protocol.Command
	reply chan error
}

// pendingCmd is a command written to the device, awaiting telemetry
// confirmation.
type pendingCmd struct {
	cmd         protocol.Command
	reply       chan error
	submittedAt time.Time
}

// Session is the state synchronizer for one Prana unit: it owns the
// link, keeps a telemetry snapshot current by periodic polling, pushes
// validated commands and confirms them against subsequent snapshots,
// and runs the reconnection policy when the link drops.
//
// All protocol work happens on a single event-loop goroutine; the
// public methods communicate with it over channels, so callers never
// interleave radio traffic.
type Session struct {
	address string
	link    deviceLink
	table   *protocol.Table
	logger  *logrus.Logger

	// mu guards the snapshot fields below. The event loop writes them;
	// State() reads them.
	mu          sync.Mutex
	cfg         *SessionConfig
	telemetry   protocol.Telemetry
	linkStat    LinkStatus
	lastSync    time.Time
	degraded    bool
	resync      bool
	polling     bool
	closed      bool
	pendingInfo []PendingCommand

	requests  chan *commandRequest
	refreshes chan chan error
	cfgCh     chan *SessionConfig
	retryCh   chan struct{}
	updates   *ringchan.RingChannel[DeviceState]

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Open connects to the unit at the given address and starts the
// synchronizer. The context bounds the initial connection only.
func Open(ctx context.Context, address string, cfg *SessionConfig, logger *logrus.Logger) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}
	transport := radio.NewBLETransport(logger)
	link := radio.NewLink(transport, radio.DefaultLinkOptions(protocol.ControlCharacteristicUUID), logger)
	return OpenWithLink(ctx, address, cfg, link, logger)
}

// OpenWithLink is Open over a caller-supplied link. Used by tests and
// by callers bridging a non-standard transport.
func OpenWithLink(ctx context.Context, address string, cfg *SessionConfig, link deviceLink, logger *logrus.Logger) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = DefaultSessionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := protocol.LookupTable(cfg.TableVersion)
	if err != nil {
		return nil, err
	}

	if err := link.Connect(ctx, address); err != nil {
		return nil, err
	}

	s := &Session{
		address:   address,
		link:      link,
		table:     table,
		logger:    logger,
		cfg:       cfg.clone(),
		linkStat:  StatusConnected,
		resync:    true,
		requests:  make(chan *commandRequest, 8),
		refreshes: make(chan chan error, 8),
		cfgCh:     make(chan *SessionConfig),
		retryCh:   make(chan struct{}, 1),
		updates:   ringchan.New[DeviceState](16),
		done:      make(chan struct{}),
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	groutine.Go(loopCtx, fmt.Sprintf("prana-session-%s", address), s.run)
	return s, nil
}

// Address returns the device address this session is bound to.
func (s *Session) Address() string {
	return s.address
}

// Config returns a copy of the active configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// State returns an independent snapshot of the device state.
func (s *Session) State() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Updates returns the state change stream. Events are independent
// snapshots; slow consumers lose the oldest events, never the newest.
// The channel is closed by Close.
func (s *Session) Updates() <-chan DeviceState {
	return s.updates.C()
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// UpdateConfig swaps the session configuration. Only the poll timer is
// reset; pending commands and the reconnection schedule are not
// disturbed. The protocol table is fixed at open time.
func (s *Session) UpdateConfig(cfg *SessionConfig) error {
	if cfg == nil {
		return &ConfigError{Field: "config", Msg: "nil"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.TableVersion != s.table.Version {
		return &ConfigError{
			Field: "table_version",
			Msg:   "cannot change on a live session; reopen",
		}
	}
	select {
	case s.cfgCh <- cfg.clone():
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Submit hands a built command to the synchronizer. The returned
// channel delivers exactly one result: nil once telemetry confirms the
// commanded value, or the reason the command never took effect.
// Submissions racing a Close resolve with ErrClosed.
func (s *Session) Submit(cmd protocol.Command) <-chan error {
	reply := make(chan error, 1)

	// The closed flag is checked under mu so a submission either lands
	// before the shutdown drain or observes the session as closed; it
	// can never slip in between and go unanswered.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		reply <- ErrClosed
		return reply
	}
	select {
	case s.requests <- &commandRequest{cmd: cmd, reply: reply}:
	default:
		reply <- ErrBusy
	}
	return reply
}

// Execute submits a command and waits for its confirmation result.
func (s *Session) Execute(ctx context.Context, cmd protocol.Command) error {
	reply := s.Submit(cmd)
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		// Prefer a result that raced in over the shutdown signal.
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// Refresh forces an immediate poll and waits until a fresh snapshot
// arrives.
func (s *Session) Refresh(ctx context.Context) error {
	waiter := make(chan error, 1)
	select {
	case s.refreshes <- waiter:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// SetSpeed drives one blower to the given level, 0 meaning off.
func (s *Session) SetSpeed(ctx context.Context, blower protocol.Blower, level int) error {
	cfg, tel := s.configAndTelemetry()
	cmd, err := protocol.SetSpeedWithState(blower, level, cfg.MaxSpeed, &tel)
	if err != nil {
		return err
	}
	return s.Execute(ctx, cmd)
}

// SetBrightness sets the front panel brightness.
func (s *Session) SetBrightness(ctx context.Context, level int) error {
	cmd, err := protocol.SetBrightness(level)
	if err != nil {
		return err
	}
	return s.Execute(ctx, cmd)
}

// SetDisplay selects the front panel display mode.
func (s *Session) SetDisplay(ctx context.Context, mode protocol.DisplayMode) error {
	cmd, err := protocol.SetDisplay(mode)
	if err != nil {
		return err
	}
	return s.Execute(ctx, cmd)
}

// SetPreset engages a named preset.
func (s *Session) SetPreset(ctx context.Context, preset protocol.Preset) error {
	cmd, err := protocol.SetPreset(preset)
	if err != nil {
		return err
	}
	return s.Execute(ctx, cmd)
}

// SetOption drives a toggleable option to the given value. The current
// state must be known; the firmware only exposes toggles.
func (s *Session) SetOption(ctx context.Context, option protocol.Option, on bool) error {
	_, tel := s.configAndTelemetry()
	cmd, err := protocol.SetOption(option, on, &tel)
	if err != nil {
		return err
	}
	return s.Execute(ctx, cmd)
}

// Retry resets the reconnection attempt budget and triggers an
// immediate attempt. Called when something external (a scan hit, the
// operator) suggests the unit is reachable again.
func (s *Session) Retry() {
	select {
	case s.retryCh <- struct{}{}:
	default:
	}
}

// Close shuts the synchronizer down, failing any unconfirmed commands
// with ErrClosed, and releases the link.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Session) configAndTelemetry() (SessionConfig, protocol.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg, s.telemetry.Clone()
}

// snapshotLocked builds the consumer-facing state. Callers hold mu.
func (s *Session) snapshotLocked() DeviceState {
	st := DeviceState{
		Address:   s.address,
		Link:      s.linkStat,
		Telemetry: s.telemetry.Clone(),
		LastSync:  s.lastSync,
	}
	st.Stale = s.lastSync.IsZero() || time.Since(s.lastSync) > s.cfg.StaleAfter()

	switch {
	case s.degraded:
		st.Sync = SyncDegraded
	case s.resync:
		st.Sync = SyncResyncing
	case len(s.pendingInfo) > 0:
		st.Sync = SyncAwaitingAck
	case s.polling:
		st.Sync = SyncPolling
	default:
		st.Sync = SyncIdle
	}

	st.Pending = make([]PendingCommand, len(s.pendingInfo))
	copy(st.Pending, s.pendingInfo)
	return st
}

func (s *Session) publish() {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.updates.Send(snapshot)
}

// loop holds the state only the event loop touches.
type loop struct {
	s         *Session
	ctx       context.Context
	assembler *protocol.Assembler
	backoff   *Backoff

	pending *pendingCmd
	queued  *commandRequest
	waiters []chan error

	pollTimer      *time.Timer
	cmdTimer       *time.Timer
	reconnectTimer *time.Timer
}

// run is the session event loop. Everything that talks to the device
// or mutates synchronizer state happens here, serialized by selection.
func (s *Session) run(ctx context.Context) {
	l := &loop{
		s:         s,
		ctx:       ctx,
		assembler: protocol.NewAssembler(s.table),
		backoff:   newBackoff(),

		// First poll fires immediately: a session is not usable until
		// the initial snapshot lands.
		pollTimer:      time.NewTimer(0),
		cmdTimer:       newStoppedTimer(),
		reconnectTimer: newStoppedTimer(),
	}
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case <-l.pollTimer.C:
			l.onPollTick()

		case <-l.cmdTimer.C:
			l.onCommandTimeout()

		case <-l.reconnectTimer.C:
			l.onReconnectAttempt()

		case note, ok := <-s.link.Notifications():
			if !ok {
				// The link was closed underneath us.
				return
			}
			l.onNotification(note)

		case err := <-s.link.Lost():
			l.onLinkLost(err)

		case req := <-s.requests:
			l.onCommand(req)

		case waiter := <-s.refreshes:
			l.onRefresh(waiter)

		case cfg := <-s.cfgCh:
			l.onConfig(cfg)

		case <-s.retryCh:
			l.onRetry()
		}
	}
}

// issuePoll writes a state request. Write failures are logged, not
// fatal: an actual link drop surfaces separately via Lost().
func (l *loop) issuePoll() {
	s := l.s
	raw := s.table.Encode(protocol.RequestState().Frame())

	ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
	err := s.link.Write(ctx, raw)
	cancel()
	if err != nil {
		s.logger.WithField("error", err).Warn("State poll write failed")
		l.resolveWaiters(err)
		return
	}

	s.mu.Lock()
	s.polling = true
	s.mu.Unlock()
}

func (l *loop) onPollTick() {
	s := l.s

	s.mu.Lock()
	degraded := s.degraded
	polling := s.polling
	interval := s.cfg.UpdateInterval
	s.mu.Unlock()

	if degraded {
		return
	}

	if polling {
		// The previous poll went unanswered. A prefix-valid fragment may
		// still be buffered; salvage the fields it carries before the
		// next request. Staleness is reported via LastSync age.
		s.logger.Warn("State poll went unanswered")
		now := time.Now()
		if raw := l.assembler.Flush(); raw != nil && l.mergeFrame(raw, now) {
			l.completeSync(now)
		} else {
			s.publish()
		}
	}

	l.issuePoll()
	resetTimer(l.pollTimer, interval)
}

func (l *loop) onNotification(note radio.Notification) {
	merged := false
	for _, raw := range l.assembler.Push(note.Data) {
		if l.mergeFrame(raw, note.At) {
			merged = true
		}
	}
	if merged {
		l.completeSync(note.At)
	}
}

// mergeFrame decodes one raw frame and merges its telemetry into the
// snapshot. Returns true when any field merged.
func (l *loop) mergeFrame(raw []byte, at time.Time) bool {
	s := l.s

	frame, err := s.table.Decode(raw)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"error": err,
			"raw":   fmt.Sprintf("% X", raw),
		}).Debug("Dropping undecodable frame")
		return false
	}
	if s.table.Kind(frame) != protocol.KindState {
		return false
	}

	reading, rejected := s.table.Interpret(frame)
	if len(rejected) > 0 {
		s.logger.WithField("fields", rejected).Warn("Dropping out-of-range telemetry fields")
	}
	if len(reading) == 0 {
		return false
	}

	s.mu.Lock()
	s.telemetry.Merge(reading, at)
	s.mu.Unlock()
	return true
}

// completeSync finalizes a successful merge: sync bookkeeping, refresh
// waiters, pending-command confirmation, publication.
func (l *loop) completeSync(at time.Time) {
	s := l.s

	s.mu.Lock()
	s.lastSync = at
	s.polling = false
	s.resync = false
	tel := s.telemetry.Clone()
	s.mu.Unlock()

	l.resolveWaiters(nil)

	if l.pending != nil && l.pending.cmd.ConfirmedBy(&tel) {
		l.resolvePending(nil)
	}
	s.publish()
}

func (l *loop) onCommand(req *commandRequest) {
	s := l.s

	s.mu.Lock()
	degraded := s.degraded
	resync := s.resync
	s.mu.Unlock()

	switch {
	case degraded:
		req.reply <- radio.ErrLinkLost
		return
	case resync:
		req.reply <- ErrResyncing
		return
	case req.cmd.NoOp:
		l.onNoOpCommand(req)
		return
	}

	switch {
	case l.pending == nil:
		l.startCommand(req)

	case l.pending.cmd.Field == req.cmd.Field:
		// Latest intent wins for the same field.
		l.pending.reply <- ErrSuperseded
		l.pending = nil
		stopTimer(l.cmdTimer)
		l.startCommand(req)

	case l.queued == nil:
		l.queued = req
		l.syncPendingInfo()

	case l.queued.cmd.Field == req.cmd.Field:
		l.queued.reply <- ErrSuperseded
		l.queued = req
		l.syncPendingInfo()

	default:
		req.reply <- ErrBusy
		return
	}
	s.publish()
}

// onNoOpCommand resolves an intent the current snapshot already
// satisfies. The snapshot can only be trusted when no unconfirmed
// command is about to move the same field: an in-flight toggle will
// flip the field away from the requested value, so the newer intent
// must supersede it instead of resolving against stale telemetry.
func (l *loop) onNoOpCommand(req *commandRequest) {
	s := l.s

	switch {
	case l.pending != nil && l.pending.cmd.Field == req.cmd.Field:
		// The pending write already reached the device; a fresh toggle
		// brings the field back to the requested value.
		l.pending.reply <- ErrSuperseded
		l.pending = nil
		stopTimer(l.cmdTimer)
		l.startCommand(req)
		s.publish()

	case l.queued != nil && l.queued.cmd.Field == req.cmd.Field:
		// The queued command never hit the wire; dropping it leaves the
		// field as it is, which is what the new intent asks for.
		l.queued.reply <- ErrSuperseded
		l.queued = nil
		l.syncPendingInfo()
		req.reply <- nil
		s.publish()

	default:
		// Already satisfied; writing a toggle would undo it.
		s.logger.WithField("command", req.cmd.Name).Debug("Command is a no-op")
		req.reply <- nil
	}
}

// startCommand writes the command frame and marks it pending. A poll
// is scheduled shortly after so confirmation does not wait a full
// update interval.
func (l *loop) startCommand(req *commandRequest) {
	s := l.s
	raw := s.table.Encode(req.cmd.Frame())

	s.logger.WithFields(logrus.Fields{
		"command": req.cmd.Name,
		"payload": fmt.Sprintf("% X", raw),
	}).Info("Sending command")

	ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
	err := s.link.Write(ctx, raw)
	cancel()
	if err != nil {
		req.reply <- err
		l.promoteQueued()
		return
	}

	s.mu.Lock()
	timeout := s.cfg.CommandTimeout()
	s.mu.Unlock()

	l.pending = &pendingCmd{cmd: req.cmd, reply: req.reply, submittedAt: time.Now()}
	l.syncPendingInfo()
	resetTimer(l.cmdTimer, timeout)
	resetTimer(l.pollTimer, confirmPollDelay)
}

func (l *loop) onCommandTimeout() {
	if l.pending == nil {
		return
	}
	l.s.logger.WithField("command", l.pending.cmd.Name).Warn("Command confirmation timed out")
	l.resolvePending(ErrCommandTimeout)
	l.s.publish()
}

// resolvePending completes the in-flight command and promotes the
// queued one, if any.
func (l *loop) resolvePending(result error) {
	if l.pending == nil {
		return
	}
	l.pending.reply <- result
	l.pending = nil
	stopTimer(l.cmdTimer)
	l.syncPendingInfo()
	l.promoteQueued()
}

func (l *loop) promoteQueued() {
	if l.queued == nil {
		l.syncPendingInfo()
		return
	}
	next := l.queued
	l.queued = nil
	l.startCommand(next)
}

func (l *loop) onRefresh(waiter chan error) {
	s := l.s

	s.mu.Lock()
	degraded := s.degraded
	polling := s.polling
	interval := s.cfg.UpdateInterval
	s.mu.Unlock()

	if degraded {
		waiter <- radio.ErrLinkLost
		return
	}

	l.waiters = append(l.waiters, waiter)
	if !polling {
		l.issuePoll()
		resetTimer(l.pollTimer, interval)
	}
}

func (l *loop) onConfig(cfg *SessionConfig) {
	s := l.s
	s.mu.Lock()
	s.cfg = cfg
	degraded := s.degraded
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"max_speed":       cfg.MaxSpeed,
		"update_interval": cfg.UpdateInterval,
	}).Info("Session configuration updated")

	// Only the poll cadence restarts; in-flight commands and the
	// reconnect schedule keep their deadlines.
	if !degraded {
		resetTimer(l.pollTimer, cfg.UpdateInterval)
	}
	s.publish()
}

func (l *loop) onLinkLost(cause error) {
	s := l.s
	s.logger.WithField("error", cause).Warn("Link lost; entering reconnection")

	l.assembler.Reset()
	stopTimer(l.pollTimer)

	if cause == nil {
		cause = radio.ErrLinkLost
	}
	l.resolveWaiters(cause)
	if l.pending != nil {
		l.pending.reply <- radio.ErrLinkLost
		l.pending = nil
		stopTimer(l.cmdTimer)
	}
	if l.queued != nil {
		l.queued.reply <- radio.ErrLinkLost
		l.queued = nil
	}
	l.syncPendingInfo()

	s.mu.Lock()
	s.degraded = true
	s.polling = false
	s.linkStat = StatusReconnecting
	s.mu.Unlock()

	l.backoff.Reset()
	delay, _ := l.backoff.Next()
	resetTimer(l.reconnectTimer, delay)
	s.publish()
}

func (l *loop) onReconnectAttempt() {
	s := l.s

	err := s.link.Connect(l.ctx, s.address)
	if err == nil {
		s.logger.WithField("attempts", l.backoff.Attempts()).Info("Reconnected")
		l.backoff.Reset()

		s.mu.Lock()
		s.degraded = false
		s.resync = true
		s.linkStat = StatusConnected
		interval := s.cfg.UpdateInterval
		s.mu.Unlock()

		// Resync before anything else: commands stay rejected until a
		// fresh snapshot lands.
		l.issuePoll()
		resetTimer(l.pollTimer, interval)
		s.publish()
		return
	}

	delay, within := l.backoff.Next()
	s.logger.WithFields(logrus.Fields{
		"error":   err,
		"attempt": l.backoff.Attempts(),
		"retryIn": delay,
	}).Warn("Reconnect attempt failed")

	if !within {
		s.mu.Lock()
		wasUnavailable := s.linkStat == StatusUnavailable
		s.linkStat = StatusUnavailable
		s.mu.Unlock()
		if !wasUnavailable {
			s.logger.Error("Device unavailable; continuing to probe quietly")
			s.publish()
		}
	}
	resetTimer(l.reconnectTimer, delay)
}

func (l *loop) onRetry() {
	s := l.s

	s.mu.Lock()
	degraded := s.degraded
	if degraded && s.linkStat == StatusUnavailable {
		s.linkStat = StatusReconnecting
	}
	s.mu.Unlock()

	if !degraded {
		return
	}
	l.backoff.Reset()
	resetTimer(l.reconnectTimer, 0)
	s.publish()
}

func (l *loop) shutdown() {
	s := l.s

	// Refuse new submissions before draining, so the drain below is the
	// last word on the request buffer.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	stopTimer(l.pollTimer)
	stopTimer(l.cmdTimer)
	stopTimer(l.reconnectTimer)

	if l.pending != nil {
		l.pending.reply <- ErrClosed
		l.pending = nil
	}
	if l.queued != nil {
		l.queued.reply <- ErrClosed
		l.queued = nil
	}
	l.resolveWaiters(ErrClosed)

	// Drain callers that made it into the buffers before the loop
	// stopped selecting.
drain:
	for {
		select {
		case req := <-s.requests:
			req.reply <- ErrClosed
		case w := <-s.refreshes:
			w <- ErrClosed
		default:
			break drain
		}
	}

	s.mu.Lock()
	s.linkStat = StatusDisconnected
	s.degraded = false
	s.polling = false
	s.pendingInfo = nil
	s.mu.Unlock()

	_ = s.link.Close()
	s.updates.Close()
	close(s.done)
}

// syncPendingInfo mirrors the loop's pending/queued commands into the
// snapshot fields.
func (l *loop) syncPendingInfo() {
	var info []PendingCommand
	if l.pending != nil {
		info = append(info, PendingCommand{
			Name:        l.pending.cmd.Name,
			Field:       l.pending.cmd.Field,
			SubmittedAt: l.pending.submittedAt,
		})
	}
	if l.queued != nil {
		info = append(info, PendingCommand{
			Name:  l.queued.cmd.Name,
			Field: l.queued.cmd.Field,
		})
	}
	l.s.mu.Lock()
	l.s.pendingInfo = info
	l.s.mu.Unlock()
}

func (l *loop) resolveWaiters(result error) {
	for _, w := range l.waiters {
		w <- result
	}
	l.waiters = nil
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
