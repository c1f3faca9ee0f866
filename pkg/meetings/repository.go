package meetings

import (
	"context"
	"errors"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("meeting not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Meeting{})
}

func (r *Repository) Create(ctx context.Context, m *Meeting) error {
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repository) Get(ctx context.Context, id int64) (*Meeting, error) {
	var m Meeting
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &m, result.Error
}

func (r *Repository) GetByBotID(ctx context.Context, botID string) (*Meeting, error) {
	var m Meeting
	result := r.db.WithContext(ctx).Where("bot_id = ?", botID).Order("id DESC").First(&m)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &m, result.Error
}

// List returns meetings newest first.
func (r *Repository) List(ctx context.Context) ([]Meeting, error) {
	var ms []Meeting
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&ms).Error
	return ms, err
}

func (r *Repository) UpdateStatus(ctx context.Context, id int64, status models.BotStatus) error {
	return r.db.WithContext(ctx).Model(&Meeting{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

// AttachBot records the provider bot id and moves the meeting to STARTED.
func (r *Repository) AttachBot(ctx context.Context, id int64, botID string, meta datatypes.JSONMap) error {
	return r.db.WithContext(ctx).Model(&Meeting{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"bot_id":           botID,
			"status":           models.BotStarted,
			"meeting_metadata": meta,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&Meeting{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale returns meetings in one of statuses that have a bot and have not
// been updated since cutoff.
func (r *Repository) ListStale(ctx context.Context, statuses []models.BotStatus, cutoff time.Time) ([]Meeting, error) {
	var ms []Meeting
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("updated_at < ?", cutoff).
		Where("bot_id <> ''").
		Order("updated_at ASC").
		Find(&ms).Error
	return ms, err
}
