// Package call implements the real-time call session coordinator: it drives
// a voice or video call from invitation through connection to termination,
// arbitrating between local user actions, remote signaling events, media
// transport events and timers.
//
// All session state is owned by a single event loop goroutine. Signaling
// callbacks, room provider callbacks and timer expirations post closures onto
// the loop, so no state is mutated concurrently even though the two event
// channels race each other.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCloseDelay is how long a pending close request stays on screen
// before the session finalizes, unless the caller asks for something else.
const DefaultCloseDelay = 3000 * time.Millisecond

const teardownSignalTimeout = 5 * time.Second

// CloseOptions tune one close request. A nil Delay finalizes immediately
// with no timer.
type CloseOptions struct {
	Delay   *time.Duration
	OnClose func()
}

// Options wires a Coordinator to its collaborators. Signaling, Rooms,
// Devices and Reporter are required; the rest are optional.
type Options struct {
	Invitation *Invitation
	Role       Role

	Signaling SignalingClient
	Rooms     RoomProvider
	Devices   DeviceChecker
	Reporter  OutcomeReporter
	Ring      RingTone

	// MuteRing suppresses the ring tone, mirroring the global
	// receive-notification mute setting.
	MuteRing bool

	// Callbacks run on the session loop and must not block.
	OnPhase  func(Snapshot)
	OnNotice func(Notice)
	OnClose  func(*Outcome)

	Logger *slog.Logger
}

type pendingClose struct {
	reason  CloseReason
	timer   *time.Timer
	onClose func()
}

// Coordinator owns the lifecycle of exactly one call session.
type Coordinator struct {
	inv      *Invitation
	sig      SignalingClient
	rooms    RoomProvider
	devices  DeviceChecker
	reporter OutcomeReporter
	ring     RingTone
	muteRing bool
	logger   *slog.Logger

	onPhase  func(Snapshot)
	onNotice func(Notice)
	onClose  func(*Outcome)

	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	done      chan struct{}
	startOnce sync.Once

	// Loop-owned state. Never touched outside the event loop.
	sess          *CallSession
	creds         *Credentials
	pending       *pendingClose
	quality       *qualityTracker
	accepting     bool
	ringStarted   bool
	roomRequested bool
	signalSent    bool
	finalized     bool
	inviteTimer   *time.Timer
	ringingTimer  *time.Timer
	outcome       *Outcome

	// closeDelay is the finalization delay applied to event-driven close
	// requests; inviteTimeout is the ring window. Tests shorten both.
	closeDelay    time.Duration
	inviteTimeout time.Duration
	nowFn         func() time.Time

	snapMu sync.Mutex
	snap   Snapshot
}

// New builds a Coordinator for one invitation. The session does nothing
// until Start is called.
func New(opts Options) (*Coordinator, error) {
	if opts.Invitation == nil {
		return nil, errors.New("invitation is required")
	}
	if opts.Signaling == nil || opts.Rooms == nil || opts.Reporter == nil {
		return nil, errors.New("signaling, rooms and reporter are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		inv:           opts.Invitation,
		sig:           opts.Signaling,
		rooms:         opts.Rooms,
		devices:       opts.Devices,
		reporter:      opts.Reporter,
		ring:          opts.Ring,
		muteRing:      opts.MuteRing,
		logger:        logger.With("room_id", opts.Invitation.RoomID),
		onPhase:       opts.OnPhase,
		onNotice:      opts.OnNotice,
		onClose:       opts.OnClose,
		ctx:           ctx,
		cancel:        cancel,
		events:        make(chan func(), 32),
		done:          make(chan struct{}),
		sess:          newCallSession(opts.Invitation, opts.Role),
		quality:       newQualityTracker(),
		closeDelay:    DefaultCloseDelay,
		inviteTimeout: opts.Invitation.Timeout(),
		nowFn:         time.Now,
	}
	c.publish()
	return c, nil
}

// Start activates the session: it begins the event loop and runs the intake
// path for the session role.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		go c.run()
		c.post(c.activate)
	})
}

// Done is closed once the session has finalized and its outcome reported.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the finalized call record. Valid only after Done.
func (c *Coordinator) Outcome() *Outcome {
	select {
	case <-c.done:
		return c.outcome
	default:
		return nil
	}
}

// Snapshot returns a copy of the current session state for the UI overlay.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snap
}

// RoomID identifies the session for signaling correlation.
func (c *Coordinator) RoomID() string {
	return c.inv.RoomID
}

// Invitation returns the immutable invitation this session was built from.
func (c *Coordinator) Invitation() *Invitation {
	return c.inv
}

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

// post schedules fn on the session loop. Events posted after finalization
// are dropped; shutdown is idempotent.
func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// activate runs the intake contract for the session role.
func (c *Coordinator) activate() {
	switch c.sess.Role {
	case RoleJoiner:
		c.activateJoiner()
	case RoleCaller:
		c.activateCaller()
	default:
		c.activateCallee()
	}
}

func (c *Coordinator) activateJoiner() {
	// Joining a room that is already in progress: no ring tone, no invite
	// timer, just fetch a fresh token and connect.
	c.sess.Phase = PhaseConnecting
	c.publish()
	go func() {
		creds, err := c.sig.TokenByRoomID(c.ctx, c.inv.RoomID)
		c.post(func() { c.joinResolved(creds, err) })
	}()
}

func (c *Coordinator) activateCaller() {
	c.checkDevices()
	c.startRing()
	go func() {
		var creds *Credentials
		var err error
		if c.inv.IsGroup() {
			creds, err = c.sig.InviteInGroup(c.ctx, c.inv)
		} else {
			creds, err = c.sig.Invite(c.ctx, c.inv)
		}
		c.post(func() { c.inviteResolved(creds, err) })
	}()
}

func (c *Coordinator) activateCallee() {
	c.sess.Phase = PhaseRinging
	c.publish()
	c.startRing()
	c.armInviteTimer()
	c.armRingingTimer()
}

// checkDevices verifies camera and microphone presence. Failures surface a
// warning banner but never end the call on their own.
func (c *Coordinator) checkDevices() {
	if c.devices == nil {
		return
	}
	needCamera := c.inv.NeedsCamera()
	go func() {
		err := c.devices.CheckAvailability(c.ctx, needCamera)
		if err == nil {
			return
		}
		c.post(func() {
			if c.sess.terminal() {
				return
			}
			c.notice(NoticeWarn, fmt.Sprintf("media device unavailable: %v", err))
		})
	}()
}

func (c *Coordinator) joinResolved(creds *Credentials, err error) {
	if c.sess.terminal() {
		return
	}
	if err != nil {
		c.notice(NoticeError, "failed to join the call")
		c.closeAfterDelay(ReasonJoinFailed)
		return
	}
	c.creds = creds
	c.connectRoom()
}

func (c *Coordinator) inviteResolved(creds *Credentials, err error) {
	if c.sess.terminal() {
		return
	}
	if err != nil {
		if errors.Is(err, ErrInviteeBusy) {
			c.notice(NoticeWarn, "the line is busy")
		} else {
			c.notice(NoticeError, "failed to place the call")
		}
		c.closeAfterDelay(ReasonSignalingFailed)
		return
	}
	c.creds = creds
	c.sess.Phase = PhaseRinging
	c.reconcileBusyLines(creds.BusyLineIDs)
	c.publish()
	if c.allInviteesGone() {
		// Every invitee was already engaged; nobody is left to answer.
		c.closeAfterDelay(ReasonRejectByAllInvitees)
		return
	}
	c.armInviteTimer()
	c.armRingingTimer()
	if c.inv.IsGroup() {
		// Group calls are considered answered once anyone shows up, so
		// connecting starts right away instead of waiting for an accept.
		c.connectRoom()
	}
}

// Accept answers a ringing incoming call. It fails once the phase has left
// Ringing, and suppresses re-entrant calls while the request is in flight.
func (c *Coordinator) Accept() error {
	errc := make(chan error, 1)
	c.post(func() { errc <- c.accept() })
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrSessionClosed
	}
}

func (c *Coordinator) accept() error {
	if c.sess.terminal() {
		return ErrSessionClosed
	}
	if c.sess.Role != RoleCallee || c.sess.Phase != PhaseRinging {
		return ErrNotRinging
	}
	if c.accepting {
		return ErrAcceptInFlight
	}
	c.accepting = true
	go func() {
		creds, err := c.sig.Accept(c.ctx, c.inv)
		c.post(func() { c.acceptResolved(creds, err) })
	}()
	return nil
}

func (c *Coordinator) acceptResolved(creds *Credentials, err error) {
	c.accepting = false
	if c.sess.terminal() {
		// The session closed while the request was in flight.
		return
	}
	if err != nil {
		c.notice(NoticeError, "failed to accept the call")
		c.closeAfterDelay(ReasonAcceptFailed)
		return
	}
	c.creds = creds
	c.stopRing()
	c.stopInviteTimer()
	c.sess.Phase = PhaseAccepted
	c.publish()
	c.connectRoom()
}

// HangUp ends the call from the local side. Before answer it cancels
// (caller) or declines (callee); after connect it hangs up.
func (c *Coordinator) HangUp() {
	c.post(c.hangUpLocal)
}

func (c *Coordinator) hangUpLocal() {
	if c.sess.terminal() {
		return
	}
	switch {
	case c.sess.Connected:
		c.sendSignal(c.sig.HangUp)
		c.closeNow(ReasonHangUpByMe)
	case c.sess.Role == RoleCallee:
		c.sendSignal(c.sig.Reject)
		c.closeNow(ReasonCancelByMe)
	case c.sess.Role == RoleJoiner:
		// A joiner never sent an invitation, so there is nothing to
		// withdraw; leaving pre-connect is silent.
		c.closeNow(ReasonCancelByMe)
	default:
		c.sendSignal(c.sig.Cancel)
		c.closeNow(ReasonCancelByMe)
	}
}

// RequestClose is the single teardown entry point exposed to the UI overlay.
// Individual event handlers never close the session directly; everything is
// funnelled through the arbitration rule here.
func (c *Coordinator) RequestClose(reason CloseReason, opts *CloseOptions) {
	c.post(func() { c.requestClose(reason, opts) })
}

func (c *Coordinator) closeNow(reason CloseReason) {
	c.requestClose(reason, nil)
}

func (c *Coordinator) closeAfterDelay(reason CloseReason) {
	delay := c.closeDelay
	c.requestClose(reason, &CloseOptions{Delay: &delay})
}

func (c *Coordinator) requestClose(reason CloseReason, opts *CloseOptions) {
	if c.finalized {
		return
	}
	if c.pending != nil && c.pending.reason.Weight() <= reason.Weight() {
		// The earlier, more decisive reason wins; its timer is not reset.
		c.logger.Debug("close request discarded",
			"reason", reason, "pending", c.pending.reason)
		return
	}
	if c.pending != nil && c.pending.timer != nil {
		c.pending.timer.Stop()
	}
	p := &pendingClose{reason: reason}
	var delay *time.Duration
	if opts != nil {
		p.onClose = opts.OnClose
		delay = opts.Delay
	}
	c.pending = p
	c.sess.Phase = PhaseClosing
	c.publish()
	c.logger.Debug("close pending", "reason", reason, "delayed", delay != nil)
	if delay == nil {
		c.finalize(p)
		return
	}
	p.timer = time.AfterFunc(*delay, func() {
		c.post(func() {
			if c.pending == p && !c.finalized {
				c.finalize(p)
			}
		})
	})
}

// finalize runs the teardown transaction: cancel timers, leave the media
// room, send the closing signal, and report exactly one outcome.
func (c *Coordinator) finalize(p *pendingClose) {
	if c.finalized {
		return
	}
	c.finalized = true
	if p.timer != nil {
		p.timer.Stop()
	}
	c.stopInviteTimer()
	c.stopRingingTimer()
	c.stopRing()
	if c.roomRequested {
		c.rooms.Disconnect()
	}
	c.sendTeardownSignal(p.reason)
	c.cancel()

	now := c.nowFn()
	var dur time.Duration
	if c.sess.Connected {
		dur = now.Sub(c.sess.ConnectedAt)
	}
	c.outcome = &Outcome{
		Invitation: c.inv,
		Reason:     p.reason,
		Status:     p.reason.Status(),
		Duration:   dur,
		EndedAt:    now,
	}
	c.sess.Phase = PhaseClosed
	c.publish()
	c.reporter.Report(context.Background(), c.outcome)
	if p.onClose != nil {
		p.onClose()
	}
	if c.onClose != nil {
		c.onClose(c.outcome)
	}
	close(c.done)
	c.logger.Info("call closed",
		"reason", p.reason,
		"status", c.outcome.Status,
		"duration_ms", dur.Milliseconds())
}

// sendTeardownSignal tells the other side the call is over, unless the
// local side already signaled or the close was remote-initiated.
func (c *Coordinator) sendTeardownSignal(reason CloseReason) {
	if c.signalSent {
		return
	}
	switch reason {
	case ReasonCancelByOthers, ReasonHangUpByOthers, ReasonHandledElsewhere,
		ReasonRejectByInvitee, ReasonRejectByAllInvitees:
		return
	}
	switch {
	case c.sess.Connected:
		c.sendSignal(c.sig.HangUp)
	case c.sess.Role == RoleCallee:
		c.sendSignal(c.sig.Reject)
	case c.sess.Role == RoleJoiner:
		// Nothing to withdraw.
	default:
		c.sendSignal(c.sig.Cancel)
	}
}

func (c *Coordinator) sendSignal(send func(context.Context, *Invitation) error) {
	c.signalSent = true
	inv := c.inv
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownSignalTimeout)
		defer cancel()
		if err := send(ctx, inv); err != nil {
			c.logger.Debug("teardown signal failed", "error", err)
		}
	}()
}

func (c *Coordinator) connectRoom() {
	c.sess.Phase = PhaseConnecting
	c.publish()
	c.roomRequested = true
	creds := c.creds
	go func() {
		err := c.rooms.Connect(c.ctx, creds)
		if err == nil {
			return
		}
		c.post(func() {
			if c.sess.terminal() {
				return
			}
			c.logger.Warn("media room connect failed", "error", err)
			c.closeAfterDelay(ReasonUnknown)
		})
	}()
}

// HandleSignal feeds one signaling push event into the session. Events for
// other rooms are protocol races and are silently dropped.
func (c *Coordinator) HandleSignal(s Signal) {
	c.post(func() { c.handleSignal(s) })
}

func (c *Coordinator) handleSignal(s Signal) {
	if c.finalized {
		return
	}
	if s.RoomID != "" && s.RoomID != c.inv.RoomID {
		c.logger.Debug("signal for stale room dropped", "stale_room_id", s.RoomID, "kind", s.Kind)
		return
	}
	switch s.Kind {
	case SignalInviteeAccepted:
		c.onInviteeAccepted(s.FromID)
	case SignalInviteeRejected:
		c.onInviteeRejected(s.FromID)
	case SignalHangUp:
		// One participant hanging up does not end a group call; their
		// departure arrives as a room peer-left event instead.
		if !c.inv.IsGroup() && !c.signalSent {
			c.closeAfterDelay(ReasonHangUpByOthers)
		}
	case SignalCancelled:
		c.closeAfterDelay(ReasonCancelByOthers)
	case SignalTimeout:
		if !c.sess.Connected {
			c.closeAfterDelay(ReasonInviteTimeout)
		}
	case SignalHandledElsewhere:
		c.closeAfterDelay(ReasonHandledElsewhere)
	case SignalPeerDisconnected:
		c.onParticipantVanished(s.FromID)
	default:
		c.logger.Debug("unhandled signal", "kind", s.Kind)
	}
}

// HandleRoomEvent feeds one media room provider event into the session.
func (c *Coordinator) HandleRoomEvent(ev RoomEvent) {
	c.post(func() { c.handleRoomEvent(ev) })
}

func (c *Coordinator) handleRoomEvent(ev RoomEvent) {
	if c.finalized {
		return
	}
	if ev.RoomID != "" && ev.RoomID != c.inv.RoomID {
		c.logger.Debug("room event for stale room dropped", "stale_room_id", ev.RoomID, "kind", ev.Kind)
		return
	}
	switch ev.Kind {
	case RoomConnected:
		c.onRoomConnected()
	case RoomDisconnected:
		// A transport drop with no corroborating signal is a soft reason:
		// it must not override a decisive close that is already pending.
		c.closeAfterDelay(ReasonUnknown)
	case RoomPeerConnected:
		c.onParticipantJoined(ev.ParticipantID)
	case RoomPeerLeft:
		c.onParticipantVanished(ev.ParticipantID)
	case RoomQualityChanged:
		if !c.inv.IsGroup() {
			c.quality.observe(ev.ParticipantID, ev.Quality)
		}
	}
}

func (c *Coordinator) onRoomConnected() {
	if c.sess.terminal() || c.sess.Connected {
		// Second connected event is idempotent.
		return
	}
	c.sess.Connected = true
	c.sess.ConnectedAt = c.nowFn()
	c.sess.Phase = PhaseConnected
	c.stopRing()
	c.stopInviteTimer()
	c.publish()
	c.logger.Info("media room connected")
}

func (c *Coordinator) onInviteeAccepted(fromID string) {
	// Acceptance observed: a belated invite timeout must never fire.
	c.stopInviteTimer()
	if c.inv.IsGroup() {
		delete(c.sess.RingingInvitees, fromID)
		c.publish()
		return
	}
	if c.sess.Role == RoleCaller && !c.sess.Connected {
		c.sess.Phase = PhaseAccepted
		c.publish()
		c.connectRoom()
	}
}

func (c *Coordinator) notice(level NoticeLevel, msg string) {
	if level == NoticeError {
		c.logger.Error(msg)
	} else {
		c.logger.Warn(msg)
	}
	if c.onNotice != nil {
		c.onNotice(Notice{Level: level, Message: msg})
	}
}

func (c *Coordinator) startRing() {
	if c.ring == nil || c.muteRing || c.sess.Role == RoleJoiner {
		return
	}
	if c.ringStarted {
		return
	}
	c.ringStarted = true
	c.ring.Start()
}

func (c *Coordinator) stopRing() {
	if !c.ringStarted {
		return
	}
	c.ringStarted = false
	c.ring.Stop()
}

func (c *Coordinator) armInviteTimer() {
	if c.inviteTimer != nil {
		return
	}
	c.inviteTimer = time.AfterFunc(c.inviteTimeout, func() {
		c.post(func() {
			if c.sess.terminal() || c.sess.Connected {
				return
			}
			c.closeAfterDelay(ReasonInviteTimeout)
		})
	})
}

func (c *Coordinator) stopInviteTimer() {
	if c.inviteTimer != nil {
		c.inviteTimer.Stop()
		c.inviteTimer = nil
	}
}

func (c *Coordinator) publish() {
	snap := Snapshot{
		RoomID:           c.inv.RoomID,
		Role:             c.sess.Role,
		Phase:            c.sess.Phase,
		Connected:        c.sess.Connected,
		Joined:           setToSorted(c.sess.JoinedParticipantIDs),
		InviteeRemaining: setToSorted(c.sess.InviteeRemaining),
		RingingInvitees:  setToSorted(c.sess.RingingInvitees),
	}
	if c.pending != nil {
		snap.PendingReason = c.pending.reason
	}
	if c.outcome != nil {
		snap.FinalReason = c.outcome.Reason
	}
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
	if c.onPhase != nil {
		c.onPhase(snap)
	}
}
