package analysis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/kafka"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
)

// EventPublisher announces completed meetings on the event bus so a worker
// can analyse them.
type EventPublisher struct {
	publisher kafka.Publisher
}

func NewEventPublisher(publisher kafka.Publisher) *EventPublisher {
	return &EventPublisher{publisher: publisher}
}

func (p *EventPublisher) MeetingCompleted(ctx context.Context, meetingID int64, botID string) error {
	return p.publisher.PublishEvent(ctx, models.EventMeetingCompleted, meetingSource(meetingID), map[string]interface{}{
		"meeting_id": meetingID,
		"bot_id":     botID,
	})
}

func meetingSource(meetingID int64) string {
	return "meeting-" + strconv.FormatInt(meetingID, 10)
}

// Background analyses completed meetings in the current process, off the
// caller's request path.
type Background struct {
	service *Service
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBackground(service *Service, timeout time.Duration) *Background {
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{service: service, timeout: timeout, ctx: ctx, cancel: cancel}
}

func (b *Background) MeetingCompleted(_ context.Context, meetingID int64, _ string) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()
		if err := b.service.HandleCompleted(ctx, meetingID); err != nil {
			logger.WithField("meeting_id", meetingID).WithError(err).Error("Background analysis failed")
		}
	}()
	return nil
}

// Close cancels running analyses and waits for them to return.
func (b *Background) Close() {
	b.cancel()
	b.wg.Wait()
}

// EventHandler consumes meeting.completed events. Other event types are
// acknowledged and ignored.
func EventHandler(service *Service) kafka.EventHandler {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != models.EventMeetingCompleted {
			return nil
		}
		meetingID, err := eventMeetingID(event)
		if err != nil {
			logger.WithField("event_id", event.ID).WithError(err).Error("Dropping malformed meeting event")
			return nil
		}
		logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"meeting_id": meetingID,
		}).Info("Analysing completed meeting")
		return service.HandleCompleted(ctx, meetingID)
	}
}

func eventMeetingID(event models.Event) (int64, error) {
	switch v := event.Data["meeting_id"].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("event %s has no meeting_id", event.ID)
}
