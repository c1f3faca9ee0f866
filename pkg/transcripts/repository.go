package transcripts

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Chunk{})
}

// Exists reports whether a chunk with the same meeting, time and speaker is
// already stored.
func (r *Repository) Exists(ctx context.Context, meetingID int64, at time.Time, speaker string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Chunk{}).
		Where("meeting_id = ? AND timestamp = ? AND speaker = ?", meetingID, at, speaker).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) Create(ctx context.Context, c *Chunk) error {
	c.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(c).Error
}

// ListByMeeting returns chunks in spoken order.
func (r *Repository) ListByMeeting(ctx context.Context, meetingID int64) ([]Chunk, error) {
	var chunks []Chunk
	err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("timestamp ASC").Order("id ASC").
		Find(&chunks).Error
	return chunks, err
}

func (r *Repository) CountByMeeting(ctx context.Context, meetingID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Chunk{}).Where("meeting_id = ?", meetingID).Count(&count).Error
	return count, err
}

func (r *Repository) DeleteByMeeting(ctx context.Context, meetingID int64) error {
	return r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Delete(&Chunk{}).Error
}
