package analysis

import (
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Report is the stored analysis of one meeting.
type Report struct {
	ID        int64                                `gorm:"primaryKey;autoIncrement;column:id"`
	MeetingID int64                                `gorm:"column:meeting_id;not null;uniqueIndex"`
	Analyzer  string                               `gorm:"column:analyzer;type:varchar(64)"`
	Score     datatypes.JSONType[models.Scorecard] `gorm:"column:score"`
	CreatedAt time.Time                            `gorm:"column:created_at"`
}

func (Report) TableName() string {
	return "reports"
}

func (r Report) Entry() models.ReportEntry {
	return models.ReportEntry{
		ID:        r.ID,
		MeetingID: r.MeetingID,
		Score:     r.Score.Data(),
		CreatedAt: r.CreatedAt,
	}
}
