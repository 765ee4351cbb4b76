package call

// SignalKind names the push events delivered by the signaling channel.
// Keep values stable because they match the wire protocol.
type SignalKind string

const (
	SignalInviteeAccepted  SignalKind = "invitee-accepted"
	SignalInviteeRejected  SignalKind = "invitee-rejected"
	SignalHangUp           SignalKind = "hang-up"
	SignalCancelled        SignalKind = "invitation-cancelled"
	SignalTimeout          SignalKind = "invitation-timeout"
	SignalHandledElsewhere SignalKind = "handled-on-other-device"
	SignalPeerDisconnected SignalKind = "room-participant-disconnected"
)

// Signal is one push event from the signaling channel. Events whose room id
// does not match the active session are dropped.
type Signal struct {
	Kind   SignalKind `json:"kind"`
	RoomID string     `json:"room_id"`
	FromID string     `json:"from_id,omitempty"`
}

// RoomEventKind names the events emitted by the media room provider.
type RoomEventKind string

const (
	RoomConnected      RoomEventKind = "connected"
	RoomDisconnected   RoomEventKind = "disconnected"
	RoomPeerConnected  RoomEventKind = "participant-connected"
	RoomPeerLeft       RoomEventKind = "participant-disconnected"
	RoomQualityChanged RoomEventKind = "connection-quality-changed"
)

// QualityLevel grades per-participant media connection quality.
type QualityLevel int

const (
	QualityUnknown QualityLevel = iota
	QualityGood
	QualityPoor
	QualityLost
)

// Degraded reports whether the level indicates possible connection loss.
func (q QualityLevel) Degraded() bool {
	return q == QualityPoor || q == QualityLost
}

// RoomEvent is one event from the media room provider.
type RoomEvent struct {
	Kind          RoomEventKind
	RoomID        string
	ParticipantID string
	Quality       QualityLevel
	Detail        string
}
