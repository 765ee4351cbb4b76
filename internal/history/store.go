// Package history persists finished calls and push subscriptions in a local
// sqlite database.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dverbeek/palaver/internal/call"
)

// Store wraps the call-history database. It implements call.OutcomeReporter,
// so finished sessions land here directly.
type Store struct {
	db     *gorm.DB
	selfID string
	logger *slog.Logger
}

func Open(dbPath, selfID string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(
		&CallRecord{},
		&PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return &Store{db: db, selfID: selfID, logger: log}, nil
}

// Report inserts the record for one finished call. Failures are logged, not
// propagated: history loss must never disturb call teardown.
func (s *Store) Report(ctx context.Context, o *call.Outcome) {
	rec := s.recordFor(o)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.logger.Error("failed to persist call record",
			"room_id", rec.RoomID, "error", err)
		return
	}
	s.logger.Info("call recorded",
		"room_id", rec.RoomID,
		"status", rec.Status,
		"duration", rec.Duration.Round(time.Second).String())
}

func (s *Store) recordFor(o *call.Outcome) *CallRecord {
	inv := o.Invitation
	direction := DirectionOutgoing
	peers := inv.InviteeIDs
	if inv.InviterID != s.selfID {
		direction = DirectionIncoming
		peers = append([]string{inv.InviterID}, othersOf(inv.InviteeIDs, s.selfID)...)
	}
	return &CallRecord{
		RoomID:    inv.RoomID,
		Direction: direction,
		PeerIDs:   strings.Join(peers, ","),
		Group:     inv.IsGroup(),
		Video:     inv.Media == call.MediaVideo,
		Status:    o.Status,
		Reason:    string(o.Reason),
		Duration:  o.Duration,
		EndedAt:   o.EndedAt,
	}
}

func othersOf(ids []string, self string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// List returns recent calls, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]CallRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []CallRecord
	err := s.db.WithContext(ctx).
		Order("ended_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	return records, nil
}

// MissedSince returns incoming calls that went unanswered after the cutoff.
func (s *Store) MissedSince(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	var records []CallRecord
	err := s.db.WithContext(ctx).
		Where("direction = ? AND status IN ? AND ended_at > ?",
			DirectionIncoming, []string{"timeout", "canceled"}, cutoff).
		Order("ended_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list missed calls: %w", err)
	}
	return records, nil
}

// Prune deletes records older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("ended_at < ?", time.Now().Add(-retention)).
		Delete(&CallRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune call records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SaveSubscription upserts a push endpoint by its URL.
func (s *Store) SaveSubscription(ctx context.Context, sub *PushSubscription) error {
	var existing PushSubscription
	err := s.db.WithContext(ctx).Where("endpoint = ?", sub.Endpoint).First(&existing).Error
	switch {
	case err == nil:
		existing.P256DH = sub.P256DH
		existing.Auth = sub.Auth
		return s.db.WithContext(ctx).Save(&existing).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.WithContext(ctx).Create(sub).Error
	default:
		return fmt.Errorf("lookup push subscription: %w", err)
	}
}

func (s *Store) Subscriptions(ctx context.Context) ([]PushSubscription, error) {
	var subs []PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscription removes a push endpoint, typically after the push
// service reports it gone.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Delete(&PushSubscription{}).Error
}
