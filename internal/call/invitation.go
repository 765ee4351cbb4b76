package call

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// SessionKind distinguishes one-to-one calls from group rooms.
type SessionKind string

const (
	KindSingle SessionKind = "single"
	KindGroup  SessionKind = "group"
)

// MediaKind is the media requested at invite time.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// DefaultInviteTimeout is applied when an invitation carries no timeout.
const DefaultInviteTimeout = 60 * time.Second

// Invitation describes one call attempt. It is immutable once issued; every
// later signaling event references it through the room id.
type Invitation struct {
	RoomID         string      `json:"room_id"`
	InviterID      string      `json:"inviter_id"`
	InviteeIDs     []string    `json:"invitee_ids"`
	Kind           SessionKind `json:"kind"`
	Media          MediaKind   `json:"media"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`

	// BusyLineIDs lists invitees already engaged in another call at invite
	// time. Filled from the signaling response for group invites.
	BusyLineIDs []string `json:"busy_line_ids,omitempty"`
}

// NewOutgoingInvitation builds the invitation for a call placed from this
// device. The room id is minted locally so the session can be referenced
// before the signaling server has acknowledged it.
func NewOutgoingInvitation(inviterID string, inviteeIDs []string, group, video bool) *Invitation {
	kind := KindSingle
	if group || len(inviteeIDs) > 1 {
		kind = KindGroup
	}
	media := MediaAudio
	if video {
		media = MediaVideo
	}
	return &Invitation{
		RoomID:     gonanoid.Must(16),
		InviterID:  inviterID,
		InviteeIDs: inviteeIDs,
		Kind:       kind,
		Media:      media,
	}
}

func (inv *Invitation) IsGroup() bool {
	return inv.Kind == KindGroup
}

func (inv *Invitation) NeedsCamera() bool {
	return inv.Media == MediaVideo
}

// Timeout returns the ring window for this invitation.
func (inv *Invitation) Timeout() time.Duration {
	if inv.TimeoutSeconds <= 0 {
		return DefaultInviteTimeout
	}
	return time.Duration(inv.TimeoutSeconds) * time.Second
}

// Credentials carry what the media room provider needs to join the room.
// The token is an opaque string minted by the signaling server.
type Credentials struct {
	RoomID      string   `json:"room_id"`
	Token       string   `json:"token"`
	BusyLineIDs []string `json:"busy_line_ids,omitempty"`
}
