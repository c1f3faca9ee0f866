package meetings

import (
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Meeting is one bot session. Its id is what the dashboard calls the bot id;
// BotID is the provider's identifier.
type Meeting struct {
	ID              int64             `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	MeetingURL      string            `json:"meeting_url" gorm:"column:meeting_url;not null;index"`
	BotID           string            `json:"bot_id,omitempty" gorm:"column:bot_id;index"`
	Status          models.BotStatus  `json:"status" gorm:"column:status;type:varchar(16);not null;index"`
	MeetingMetadata datatypes.JSONMap `json:"meeting_metadata" gorm:"column:meeting_metadata"`
	CreatedAt       time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"column:updated_at;index"`
}

func (Meeting) TableName() string {
	return "meetings"
}

func (m *Meeting) Record() models.BotRecord {
	meta := map[string]interface{}(m.MeetingMetadata)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return models.BotRecord{
		ID:              m.ID,
		MeetingURL:      m.MeetingURL,
		BotID:           m.BotID,
		Status:          m.Status,
		MeetingMetadata: meta,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func Records(ms []Meeting) []models.BotRecord {
	out := make([]models.BotRecord, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].Record())
	}
	return out
}
