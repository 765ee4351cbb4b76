package call

import "time"

// Group call invitee and participant tracking. inviteeRemaining shrinks on
// rejects and disconnects; joinedParticipantIDs grows on participant
// connects. The call auto-terminates only when remaining empties with zero
// joins.

func (c *Coordinator) onInviteeRejected(fromID string) {
	if !c.inv.IsGroup() {
		c.closeAfterDelay(ReasonRejectByInvitee)
		return
	}
	delete(c.sess.InviteeRemaining, fromID)
	delete(c.sess.RingingInvitees, fromID)
	c.publish()
	if c.allInviteesGone() {
		c.closeAfterDelay(ReasonRejectByAllInvitees)
	}
}

func (c *Coordinator) onParticipantJoined(id string) {
	if !c.inv.IsGroup() {
		return
	}
	c.sess.JoinedParticipantIDs[id] = struct{}{}
	delete(c.sess.InviteeRemaining, id)
	delete(c.sess.RingingInvitees, id)
	c.publish()
}

func (c *Coordinator) onParticipantVanished(id string) {
	if c.inv.IsGroup() {
		delete(c.sess.JoinedParticipantIDs, id)
		delete(c.sess.InviteeRemaining, id)
		delete(c.sess.RingingInvitees, id)
		c.publish()
		if c.sess.Connected && len(c.sess.JoinedParticipantIDs) == 0 {
			c.closeAfterDelay(ReasonAllParticipantsLeft)
		}
		return
	}
	// Single call: a participant vanishing without a hang-up signal is
	// classified by the quality heuristic. "Call dropped" only when a
	// degradation was observed for that participant first.
	if c.quality.flagged(id) {
		c.closeAfterDelay(ReasonParticipantLost)
		return
	}
	c.closeAfterDelay(ReasonUnknown)
}

// reconcileBusyLines removes invitees the signaling server reported as
// already engaged, so they never show as ringing and the all-rejected rule
// does not wait on them.
func (c *Coordinator) reconcileBusyLines(busyIDs []string) {
	if !c.inv.IsGroup() || len(busyIDs) == 0 {
		return
	}
	for _, id := range busyIDs {
		if _, joined := c.sess.JoinedParticipantIDs[id]; joined {
			continue
		}
		delete(c.sess.InviteeRemaining, id)
		delete(c.sess.RingingInvitees, id)
	}
}

func (c *Coordinator) allInviteesGone() bool {
	if !c.inv.IsGroup() {
		return false
	}
	return len(c.sess.InviteeRemaining) == 0 && len(c.sess.JoinedParticipantIDs) == 0
}

// armRingingTimer starts the pending-invite visual timeout for group calls.
// It clears stale "still ringing" entries once the invite window elapses; it
// never closes the call by itself.
func (c *Coordinator) armRingingTimer() {
	if !c.inv.IsGroup() || c.ringingTimer != nil {
		return
	}
	c.ringingTimer = time.AfterFunc(c.inviteTimeout, func() {
		c.post(func() {
			if c.sess.terminal() || len(c.sess.RingingInvitees) == 0 {
				return
			}
			c.sess.RingingInvitees = make(map[string]struct{})
			c.publish()
		})
	})
}

func (c *Coordinator) stopRingingTimer() {
	if c.ringingTimer != nil {
		c.ringingTimer.Stop()
		c.ringingTimer = nil
	}
}
