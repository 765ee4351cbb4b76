package call

import "testing"

func TestSoftReasonsNeverOutrankDecisiveOnes(t *testing.T) {
	decisive := []CloseReason{
		ReasonInviteTimeout, ReasonRejectByInvitee, ReasonRejectByAllInvitees,
		ReasonCancelByMe, ReasonCancelByOthers, ReasonHandledElsewhere,
		ReasonHangUpByMe, ReasonHangUpByOthers, ReasonAllParticipantsLeft,
		ReasonSignalingFailed, ReasonAcceptFailed, ReasonJoinFailed,
	}
	for _, r := range decisive {
		if !r.Decisive() {
			t.Fatalf("%s should be decisive", r)
		}
		if r.Weight() >= ReasonParticipantLost.Weight() {
			t.Fatalf("%s must outrank participant-lost", r)
		}
	}
	if ReasonParticipantLost.Weight() >= ReasonUnknown.Weight() {
		t.Fatalf("participant-lost must outrank unknown")
	}
	if ReasonUnknown.Decisive() || ReasonParticipantLost.Decisive() {
		t.Fatalf("soft reasons must not be decisive")
	}
}

func TestReasonStatusForHistory(t *testing.T) {
	if got := ReasonInviteTimeout.Status(); got != "timeout" {
		t.Fatalf("timeout status mismatch: %s", got)
	}
	if got := ReasonHangUpByMe.Status(); got != "completed" {
		t.Fatalf("hang-up status mismatch: %s", got)
	}
	if got := ReasonParticipantLost.Status(); got != "dropped" {
		t.Fatalf("dropped status mismatch: %s", got)
	}
}
