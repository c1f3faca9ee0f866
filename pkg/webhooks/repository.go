package webhooks

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("webhook event not found")
	ErrDuplicate = errors.New("webhook event already received")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Event{})
}

// Create stores e, returning ErrDuplicate when its idempotency key was seen.
func (r *Repository) Create(ctx context.Context, e *Event) error {
	e.CreatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(e)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *Repository) MarkProcessed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":      true,
			"delivery_error": "",
			"processed_at":   &now,
		}).Error
}

func (r *Repository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":      false,
			"delivery_error": reason,
		}).Error
}

func (r *Repository) SetMeeting(ctx context.Context, id, meetingID int64) error {
	return r.db.WithContext(ctx).Model(&Event{}).Where("id = ?", id).Update("meeting_id", meetingID).Error
}

// List returns the newest events first.
func (r *Repository) List(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// ListUnprocessed returns failed or pending events oldest first.
func (r *Repository) ListUnprocessed(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *Repository) HasEvent(ctx context.Context, meetingID int64, eventTypes []string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Event{}).
		Where("meeting_id = ? AND event_type IN ?", meetingID, eventTypes).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		EventType string
		Processed bool
		Failed    bool
		Count     int64
	}
	err := r.db.WithContext(ctx).Model(&Event{}).
		Select("event_type, processed, delivery_error <> '' AS failed, COUNT(*) AS count").
		Group("event_type, processed, delivery_error <> ''").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByType: map[string]int64{}}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByType[row.EventType] += row.Count
		switch {
		case row.Processed:
			stats.Processed += row.Count
		case row.Failed:
			stats.Failed += row.Count
		default:
			stats.Pending += row.Count
		}
	}
	return stats, nil
}

func (r *Repository) DeleteByMeeting(ctx context.Context, meetingID int64) error {
	return r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Delete(&Event{}).Error
}
