package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Direction of a call from the local account's point of view.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// CallRecord is one finished call. Exactly one row is written per call,
// whatever way it ended.
type CallRecord struct {
	ID        string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	RoomID    string        `gorm:"type:varchar(64);not null;index" json:"room_id"`
	Direction Direction     `gorm:"type:varchar(16);not null" json:"direction"`
	PeerIDs   string        `gorm:"type:text;not null" json:"peer_ids"`
	Group     bool          `gorm:"not null" json:"group"`
	Video     bool          `gorm:"not null" json:"video"`
	Status    string        `gorm:"type:varchar(32);not null;index" json:"status"`
	Reason    string        `gorm:"type:varchar(64);not null" json:"reason"`
	Duration  time.Duration `gorm:"not null" json:"duration"`
	EndedAt   time.Time     `gorm:"not null;index" json:"ended_at"`
	CreatedAt time.Time     `json:"created_at"`
}

func (r *CallRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// Missed reports whether the call should surface in a missed-calls view.
func (r *CallRecord) Missed() bool {
	if r.Direction != DirectionIncoming {
		return false
	}
	switch r.Status {
	case "timeout", "canceled":
		return true
	}
	return false
}

// PushSubscription is a browser or companion-device push endpoint used for
// missed-call notifications.
type PushSubscription struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Endpoint  string    `gorm:"type:text;not null;uniqueIndex:idx_endpoint,length:256" json:"endpoint"`
	P256DH    string    `gorm:"type:text;not null" json:"p256dh"`
	Auth      string    `gorm:"type:text;not null" json:"auth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
