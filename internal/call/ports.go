package call

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInviteeBusy marks a signaling rejection because the callee line is
	// engaged. Surfaced as a warning, not a hard failure.
	ErrInviteeBusy = errors.New("invitee line busy")

	ErrNotRinging     = errors.New("call is not ringing")
	ErrAcceptInFlight = errors.New("accept request already in flight")
	ErrSessionClosed  = errors.New("call session closed")
	ErrBusy           = errors.New("another call is active")
)

// SignalingClient is the out-of-band request channel used to propose,
// accept, reject, or cancel a call. All calls are asynchronous round-trips;
// the coordinator never blocks its event loop on them.
type SignalingClient interface {
	Invite(ctx context.Context, inv *Invitation) (*Credentials, error)
	InviteInGroup(ctx context.Context, inv *Invitation) (*Credentials, error)
	Accept(ctx context.Context, inv *Invitation) (*Credentials, error)
	Reject(ctx context.Context, inv *Invitation) error
	Cancel(ctx context.Context, inv *Invitation) error
	HangUp(ctx context.Context, inv *Invitation) error

	// TokenByRoomID fetches fresh credentials for joining an already
	// connected group room.
	TokenByRoomID(ctx context.Context, roomID string) (*Credentials, error)
}

// RoomProvider joins the real-time media room. Connection progress and
// participant presence arrive as RoomEvents, not return values.
type RoomProvider interface {
	Connect(ctx context.Context, creds *Credentials) error
	Disconnect()
}

// DeviceChecker probes camera and microphone availability. A failure is
// surfaced as a warning banner and never ends the call by itself.
type DeviceChecker interface {
	CheckAvailability(ctx context.Context, needCamera bool) error
}

// Outcome is the finalized record of one call, reported exactly once.
type Outcome struct {
	Invitation *Invitation
	Reason     CloseReason
	Status     string
	Duration   time.Duration
	EndedAt    time.Time
}

// OutcomeReporter receives the final call record for history insertion and
// notification cleanup.
type OutcomeReporter interface {
	Report(ctx context.Context, o *Outcome)
}

// RingTone is the shared ringing-tone audio handle.
type RingTone interface {
	Start()
	Stop()
}

// NoticeLevel grades user-visible messages emitted by the coordinator.
type NoticeLevel string

const (
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a toast-equivalent message for the UI overlay.
type Notice struct {
	Level   NoticeLevel
	Message string
}
