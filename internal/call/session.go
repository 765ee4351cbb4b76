package call

import (
	"sort"
	"time"
)

// Phase is the lifecycle state of a call session. Transitions are
// monotonically forward, except that any phase may jump straight to Closing
// or Closed on the abort path.
type Phase string

const (
	PhaseInvited    Phase = "invited"
	PhaseRinging    Phase = "ringing"
	PhaseAccepted   Phase = "accepted"
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"
	PhaseClosing    Phase = "closing"
	PhaseClosed     Phase = "closed"
)

// Role is how the local user entered the call.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
	// RoleJoiner is a late join into an already connected group room.
	RoleJoiner Role = "joiner"
)

// CallSession is the coordinator's live state for one invitation. It is
// owned exclusively by the session event loop; the coordinator publishes
// copies through Snapshot.
type CallSession struct {
	Invitation *Invitation
	Role       Role
	Phase      Phase

	// Connected flips false to true at most once, on the confirmed media
	// room join. Duration counting starts here.
	Connected   bool
	ConnectedAt time.Time

	// Group calls only.
	JoinedParticipantIDs map[string]struct{}
	InviteeRemaining     map[string]struct{}
	RingingInvitees      map[string]struct{}
}

func newCallSession(inv *Invitation, role Role) *CallSession {
	s := &CallSession{
		Invitation: inv,
		Role:       role,
		Phase:      PhaseInvited,
	}
	if inv.IsGroup() {
		s.JoinedParticipantIDs = make(map[string]struct{})
		s.InviteeRemaining = make(map[string]struct{})
		s.RingingInvitees = make(map[string]struct{})
		busy := make(map[string]struct{}, len(inv.BusyLineIDs))
		for _, id := range inv.BusyLineIDs {
			busy[id] = struct{}{}
		}
		for _, id := range inv.InviteeIDs {
			if _, isBusy := busy[id]; isBusy {
				continue
			}
			s.InviteeRemaining[id] = struct{}{}
			s.RingingInvitees[id] = struct{}{}
		}
	}
	return s
}

func (s *CallSession) closed() bool {
	return s.Phase == PhaseClosed
}

func (s *CallSession) terminal() bool {
	return s.Phase == PhaseClosing || s.Phase == PhaseClosed
}

// Snapshot is an immutable copy of session state for the UI overlay.
type Snapshot struct {
	RoomID           string      `json:"room_id"`
	Role             Role        `json:"role"`
	Phase            Phase       `json:"phase"`
	Connected        bool        `json:"connected"`
	Joined           []string    `json:"joined,omitempty"`
	InviteeRemaining []string    `json:"invitee_remaining,omitempty"`
	RingingInvitees  []string    `json:"ringing_invitees,omitempty"`
	PendingReason    CloseReason `json:"pending_reason,omitempty"`
	FinalReason      CloseReason `json:"final_reason,omitempty"`
}

func setToSorted(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
