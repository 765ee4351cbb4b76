package call

import (
	"testing"
	"time"
)

func connectGroupCaller(t *testing.T, c *Coordinator) {
	t.Helper()
	c.Start()
	waitFor(t, "connecting", func() bool {
		p := c.Snapshot().Phase
		return p == PhaseConnecting || p == PhaseConnected
	})
	c.HandleRoomEvent(RoomEvent{Kind: RoomConnected, RoomID: c.RoomID()})
	waitFor(t, "connected", func() bool { return c.Snapshot().Connected })
}

func TestGroupCallConnectsWithoutDiscreteAccept(t *testing.T) {
	c, fx := newTestCoordinator(t, groupInvitation("bob", "carol"), RoleCaller)
	c.Start()
	waitFor(t, "connect requested", func() bool {
		connects, _ := fx.rooms.counts()
		return connects == 1
	})
	if p := c.Snapshot().Phase; p != PhaseConnecting {
		t.Fatalf("group caller should connect immediately, phase %s", p)
	}
	c.HangUp()
	waitClosed(t, c)
}

func TestGroupAllRejectedClosesAtNthReject(t *testing.T) {
	c, _ := newTestCoordinator(t, groupInvitation("bob", "carol", "dave"), RoleCaller)
	connectGroupCaller(t, c)

	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "bob"})
	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "carol"})

	waitFor(t, "two rejects processed", func() bool {
		return len(c.Snapshot().InviteeRemaining) == 1
	})
	if p := c.Snapshot().Phase; p != PhaseConnected {
		t.Fatalf("call must stay open until the last invitee rejects, phase %s", p)
	}

	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "dave"})
	o := waitClosed(t, c)
	if o.Reason != ReasonRejectByAllInvitees {
		t.Fatalf("expected %s, got %s", ReasonRejectByAllInvitees, o.Reason)
	}
}

func TestGroupJoinPreemptsAllRejectedRule(t *testing.T) {
	c, _ := newTestCoordinator(t, groupInvitation("bob", "carol", "dave"), RoleCaller)
	connectGroupCaller(t, c)

	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "bob"})
	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "carol"})
	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerConnected, RoomID: c.RoomID(), ParticipantID: "dave"})

	waitFor(t, "join processed", func() bool {
		return len(c.Snapshot().Joined) == 1
	})
	snap := c.Snapshot()
	if len(snap.InviteeRemaining) != 0 {
		t.Fatalf("expected empty remaining set, got %v", snap.InviteeRemaining)
	}
	if snap.Phase != PhaseConnected {
		t.Fatalf("join must pre-empt the all-rejected rule, phase %s", snap.Phase)
	}

	c.HangUp()
	o := waitClosed(t, c)
	if o.Reason != ReasonHangUpByMe {
		t.Fatalf("expected %s, got %s", ReasonHangUpByMe, o.Reason)
	}
}

func TestGroupAllParticipantsLeaveClosesCall(t *testing.T) {
	c, _ := newTestCoordinator(t, groupInvitation("bob", "carol"), RoleCaller)
	connectGroupCaller(t, c)

	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerConnected, RoomID: c.RoomID(), ParticipantID: "bob"})
	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerConnected, RoomID: c.RoomID(), ParticipantID: "carol"})
	waitFor(t, "both joined", func() bool { return len(c.Snapshot().Joined) == 2 })

	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerLeft, RoomID: c.RoomID(), ParticipantID: "bob"})
	time.Sleep(10 * time.Millisecond)
	if p := c.Snapshot().Phase; p != PhaseConnected {
		t.Fatalf("one participant remaining should keep the call open, phase %s", p)
	}

	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerLeft, RoomID: c.RoomID(), ParticipantID: "carol"})
	o := waitClosed(t, c)
	if o.Reason != ReasonAllParticipantsLeft {
		t.Fatalf("expected %s, got %s", ReasonAllParticipantsLeft, o.Reason)
	}
}

func TestGroupBusyLinesExcludedFromRemaining(t *testing.T) {
	c, fx := newTestCoordinator(t, groupInvitation("bob", "carol", "dave"), RoleCaller)
	fx.sig.inviteFn = func(inv *Invitation) (*Credentials, error) {
		return &Credentials{RoomID: inv.RoomID, Token: "tok", BusyLineIDs: []string{"carol"}}, nil
	}
	connectGroupCaller(t, c)

	waitFor(t, "busy reconciled", func() bool {
		return len(c.Snapshot().InviteeRemaining) == 2
	})

	// With carol engaged elsewhere, two rejects empty the remaining set.
	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "bob"})
	c.HandleSignal(Signal{Kind: SignalInviteeRejected, RoomID: c.RoomID(), FromID: "dave"})

	o := waitClosed(t, c)
	if o.Reason != ReasonRejectByAllInvitees {
		t.Fatalf("expected %s, got %s", ReasonRejectByAllInvitees, o.Reason)
	}
}

func TestGroupAllInviteesBusyClosesAtInvite(t *testing.T) {
	c, fx := newTestCoordinator(t, groupInvitation("bob", "carol"), RoleCaller)
	fx.sig.inviteFn = func(inv *Invitation) (*Credentials, error) {
		return &Credentials{RoomID: inv.RoomID, Token: "tok", BusyLineIDs: []string{"bob", "carol"}}, nil
	}
	c.Start()

	o := waitClosed(t, c)
	if o.Reason != ReasonRejectByAllInvitees {
		t.Fatalf("expected %s, got %s", ReasonRejectByAllInvitees, o.Reason)
	}
	if connects, _ := fx.rooms.counts(); connects != 0 {
		t.Fatalf("nobody left to call, expected no room connect, got %d", connects)
	}
}

func TestGroupHangUpSignalDoesNotEndCall(t *testing.T) {
	c, _ := newTestCoordinator(t, groupInvitation("bob", "carol"), RoleCaller)
	connectGroupCaller(t, c)

	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerConnected, RoomID: c.RoomID(), ParticipantID: "bob"})
	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerConnected, RoomID: c.RoomID(), ParticipantID: "carol"})
	waitFor(t, "both joined", func() bool { return len(c.Snapshot().Joined) == 2 })

	c.HandleSignal(Signal{Kind: SignalHangUp, RoomID: c.RoomID(), FromID: "bob"})
	time.Sleep(10 * time.Millisecond)
	if p := c.Snapshot().Phase; p != PhaseConnected {
		t.Fatalf("one participant's hang-up must not end a group call, phase %s", p)
	}

	// The departure still lands through the room event.
	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerLeft, RoomID: c.RoomID(), ParticipantID: "bob"})
	c.HandleRoomEvent(RoomEvent{Kind: RoomPeerLeft, RoomID: c.RoomID(), ParticipantID: "carol"})
	o := waitClosed(t, c)
	if o.Reason != ReasonAllParticipantsLeft {
		t.Fatalf("expected %s, got %s", ReasonAllParticipantsLeft, o.Reason)
	}
}

func TestGroupRingingTimerClearsWithoutClosing(t *testing.T) {
	c, _ := newTestCoordinator(t, groupInvitation("bob", "carol"), RoleCaller)
	c.inviteTimeout = 30 * time.Millisecond
	connectGroupCaller(t, c)

	waitFor(t, "ringing entries cleared", func() bool {
		return len(c.Snapshot().RingingInvitees) == 0
	})
	snap := c.Snapshot()
	if snap.Phase != PhaseConnected {
		t.Fatalf("visual timer must not close the call, phase %s", snap.Phase)
	}
	if len(snap.InviteeRemaining) != 2 {
		t.Fatalf("visual timer must not shrink remaining, got %v", snap.InviteeRemaining)
	}

	c.HangUp()
	waitClosed(t, c)
}

func TestCalleeGroupInvitationExcludesBusyLines(t *testing.T) {
	inv := groupInvitation("bob", "carol", "dave")
	inv.BusyLineIDs = []string{"dave"}
	c, _ := newTestCoordinator(t, inv, RoleCallee)
	c.Start()
	waitFor(t, "ringing", func() bool { return c.Snapshot().Phase == PhaseRinging })

	snap := c.Snapshot()
	if len(snap.InviteeRemaining) != 2 {
		t.Fatalf("busy invitees must be excluded at intake, got %v", snap.InviteeRemaining)
	}

	c.HangUp()
	waitClosed(t, c)
}
