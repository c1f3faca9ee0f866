package analysis

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("report not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Report{})
}

func (r *Repository) GetByMeeting(ctx context.Context, meetingID int64) (*Report, error) {
	var rep Report
	result := r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).First(&rep)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rep, result.Error
}

// Create inserts rep unless the meeting already has a report; the bool is
// false in that case.
func (r *Repository) Create(ctx context.Context, rep *Report) (bool, error) {
	rep.CreatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "meeting_id"}}, DoNothing: true}).
		Create(rep)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) DeleteByMeeting(ctx context.Context, meetingID int64) error {
	return r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Delete(&Report{}).Error
}
