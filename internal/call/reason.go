package call

// CloseReason identifies why a call session was asked to end.
// Keep values stable because they are recorded in call history rows.
type CloseReason string

const (
	ReasonInviteTimeout       CloseReason = "invite_timeout"
	ReasonRejectByInvitee     CloseReason = "reject_by_invitee"
	ReasonRejectByAllInvitees CloseReason = "reject_by_all_invitees"
	ReasonCancelByMe          CloseReason = "cancel_by_me"
	ReasonCancelByOthers      CloseReason = "cancel_by_others"
	ReasonHandledElsewhere    CloseReason = "handled_on_other_device"
	ReasonHangUpByMe          CloseReason = "hang_up_by_me"
	ReasonHangUpByOthers      CloseReason = "hang_up_by_others"
	ReasonAllParticipantsLeft CloseReason = "all_participants_left"
	ReasonSignalingFailed     CloseReason = "signaling_failed"
	ReasonAcceptFailed        CloseReason = "signaling_accept_failed"
	ReasonJoinFailed          CloseReason = "join_failed"

	// Soft reasons are inferred from transport behavior alone and must not
	// displace a decisive reason that is already pending.
	ReasonParticipantLost CloseReason = "participant_unknown_disconnected"
	ReasonUnknown         CloseReason = "unknown"
)

// Weight orders competing close requests. Lower is more decisive: a request
// is discarded when a pending reason has weight less than or equal to its own.
func (r CloseReason) Weight() int {
	switch r {
	case ReasonParticipantLost:
		return 5
	case ReasonUnknown:
		return 10
	default:
		return 1
	}
}

// Decisive reports whether the reason carries signaling evidence, as opposed
// to being guessed from a transport drop.
func (r CloseReason) Decisive() bool {
	return r.Weight() == 1
}

// Status maps the reason to the history-record status string.
func (r CloseReason) Status() string {
	switch r {
	case ReasonInviteTimeout:
		return "timeout"
	case ReasonRejectByInvitee, ReasonRejectByAllInvitees:
		return "rejected"
	case ReasonCancelByMe, ReasonCancelByOthers:
		return "canceled"
	case ReasonHandledElsewhere:
		return "handled_elsewhere"
	case ReasonHangUpByMe, ReasonHangUpByOthers, ReasonAllParticipantsLeft:
		return "completed"
	case ReasonSignalingFailed, ReasonAcceptFailed, ReasonJoinFailed:
		return "failed"
	case ReasonParticipantLost, ReasonUnknown:
		return "dropped"
	default:
		return string(r)
	}
}
