package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
	"github.com/meetscore/platform/pkg/observability/metrics"
	"github.com/meetscore/platform/pkg/transcripts"
	"gorm.io/datatypes"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	retryBatch       = 200
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// completionEvents are deliveries that prove a meeting finished.
var completionEvents = []string{EventPostProcessingCompleted, EventBotCompleted, EventBotLeft, EventTranscriptCompleted}

type Store interface {
	Create(ctx context.Context, e *Event) error
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	SetMeeting(ctx context.Context, id, meetingID int64) error
	List(ctx context.Context, limit int) ([]Event, error)
	ListUnprocessed(ctx context.Context, limit int) ([]Event, error)
	HasEvent(ctx context.Context, meetingID int64, eventTypes []string) (bool, error)
	Stats(ctx context.Context) (*Stats, error)
	DeleteByMeeting(ctx context.Context, meetingID int64) error
}

// MeetingDirectory is the part of the meetings service webhooks drive.
type MeetingDirectory interface {
	GetByBotID(ctx context.Context, botID string) (*meetings.Meeting, error)
	Transition(ctx context.Context, m *meetings.Meeting, status models.BotStatus, source string) (bool, error)
}

type ChunkStore interface {
	StoreChunk(ctx context.Context, meetingID int64, in transcripts.Input) (*transcripts.Chunk, bool, error)
}

type Service struct {
	store      Store
	meetings   MeetingDirectory
	chunks     ChunkStore
	completion meetings.CompletionHandler
	now        func() time.Time
}

func NewService(store Store, directory MeetingDirectory, chunks ChunkStore, completion meetings.CompletionHandler) *Service {
	return &Service{
		store:      store,
		meetings:   directory,
		chunks:     chunks,
		completion: completion,
		now:        time.Now,
	}
}

// Process stores and applies one delivery. Redelivered idempotency keys are
// acknowledged without side effects; deliveries for unknown bots are kept
// for a later retry.
func (s *Service) Process(ctx context.Context, body []byte) (*Result, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}
	eventType := p.EventType()

	e := &Event{
		BotID:     p.BotID(),
		EventType: eventType,
		Payload:   datatypes.JSON(body),
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		e.IdempotencyKey = &key
	}

	m, lookupErr := s.lookup(ctx, p)
	if m != nil {
		id := m.ID
		e.MeetingID = &id
	}

	if err := s.store.Create(ctx, e); err != nil {
		if errors.Is(err, ErrDuplicate) {
			metrics.WebhookReceived(eventType, ResultDuplicate)
			return &Result{Status: ResultDuplicate, EventType: eventType}, nil
		}
		return nil, fmt.Errorf("storing webhook event: %w", err)
	}

	log := logger.WithFields(map[string]interface{}{
		"event_id":   e.ID,
		"event_type": eventType,
		"bot_id":     e.BotID,
	})

	if m == nil {
		reason := "no meeting found for bot " + e.BotID
		if lookupErr != nil && !errors.Is(lookupErr, meetings.ErrNotFound) {
			reason = lookupErr.Error()
		}
		log.Warn("Webhook for unknown bot stored for retry")
		if err := s.store.MarkFailed(ctx, e.ID, reason); err != nil {
			log.WithError(err).Error("Failed to record webhook failure")
		}
		metrics.WebhookReceived(eventType, ResultIgnored)
		return &Result{Status: ResultIgnored, EventType: eventType, EventID: e.ID}, nil
	}

	if err := s.route(ctx, m, p); err != nil {
		log.WithError(err).Error("Webhook processing failed")
		if markErr := s.store.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to record webhook failure")
		}
		metrics.WebhookReceived(eventType, "error")
		return nil, err
	}

	if err := s.store.MarkProcessed(ctx, e.ID); err != nil {
		log.WithError(err).Error("Failed to mark webhook as processed")
	}
	metrics.WebhookReceived(eventType, ResultProcessed)
	log.Info("Webhook processed")
	return &Result{Status: ResultProcessed, EventType: eventType, EventID: e.ID}, nil
}

func (s *Service) lookup(ctx context.Context, p Payload) (*meetings.Meeting, error) {
	botID := p.BotID()
	if botID == "" {
		return nil, meetings.ErrNotFound
	}
	return s.meetings.GetByBotID(ctx, botID)
}

func (s *Service) route(ctx context.Context, m *meetings.Meeting, p Payload) error {
	switch eventType := p.EventType(); eventType {
	case EventBotStateChange, "bot.join_requested", "bot.joining", "bot.joined":
		return s.stateChange(ctx, m, p)
	case EventBotRecording, EventBotStartedRecording:
		if m.Status.IsTerminal() {
			return nil
		}
		return s.transition(ctx, m, models.BotStarted)
	case EventBotLeft, EventBotCompleted, EventPostProcessingCompleted:
		return s.transition(ctx, m, models.BotCompleted)
	case EventBotFailed:
		return s.transition(ctx, m, models.BotFailed)
	case EventTranscriptUpdate, EventTranscriptChunk:
		return s.storeChunk(ctx, m, p)
	case EventTranscriptCompleted:
		return s.transcriptCompleted(ctx, m)
	case EventChatMessages, EventParticipantJoinLeave:
		return nil
	default:
		if eventType == EventUnknown && p.hasTranscript() {
			return s.storeChunk(ctx, m, p)
		}
		logger.WithField("event_type", eventType).Warn("Unhandled webhook event")
		return nil
	}
}

// stateChange applies a provider state change. An ended bot only completes
// the meeting once post-processing has finished, and a meeting never moves
// back to PENDING.
func (s *Service) stateChange(ctx context.Context, m *meetings.Meeting, p Payload) error {
	newState := p.dataString("new_state")
	if newState == "" {
		newState = strings.TrimPrefix(p.EventType(), "bot.")
	}

	status, known := attendee.MapState(newState, p.dataString("transcription_state"), p.dataString("recording_state"))
	if !known {
		logger.WithFields(map[string]interface{}{
			"meeting_id": m.ID,
			"new_state":  newState,
		}).Debug("Ignoring unmapped bot state")
		return nil
	}

	switch status {
	case models.BotCompleted:
		if p.dataString("event_type") != EventPostProcessingCompleted {
			return nil
		}
	case models.BotPending:
		return nil
	case models.BotStarted:
		if m.Status.IsTerminal() {
			return nil
		}
	}
	return s.transition(ctx, m, status)
}

func (s *Service) transition(ctx context.Context, m *meetings.Meeting, status models.BotStatus) error {
	_, err := s.meetings.Transition(ctx, m, status, "webhook")
	return err
}

func (s *Service) storeChunk(ctx context.Context, m *meetings.Meeting, p Payload) error {
	in, err := transcripts.ParseWebhookData(p.Data, s.now())
	if err != nil {
		logger.WithField("meeting_id", m.ID).Warn("Empty transcript text received")
		return nil
	}
	_, _, err = s.chunks.StoreChunk(ctx, m.ID, in)
	return err
}

func (s *Service) transcriptCompleted(ctx context.Context, m *meetings.Meeting) error {
	if s.completion == nil || m.Status != models.BotCompleted {
		return nil
	}
	return s.completion.MeetingCompleted(ctx, m.ID, m.BotID)
}

// RetryFailed reprocesses stored deliveries that were never applied.
func (s *Service) RetryFailed(ctx context.Context) (*RetryResult, error) {
	events, err := s.store.ListUnprocessed(ctx, retryBatch)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &RetryResult{Message: "No failed webhooks to retry"}, nil
	}

	succeeded := 0
	for _, e := range events {
		if err := s.retry(ctx, e); err != nil {
			logger.WithField("event_id", e.ID).WithError(err).Warn("Webhook retry failed")
			if markErr := s.store.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
				logger.Log.WithError(markErr).Error("Failed to record webhook failure")
			}
			continue
		}
		if err := s.store.MarkProcessed(ctx, e.ID); err != nil {
			logger.WithField("event_id", e.ID).WithError(err).Error("Failed to mark webhook as processed")
			continue
		}
		succeeded++
	}

	return &RetryResult{
		Message:   fmt.Sprintf("Retried %d failed webhooks", len(events)),
		Count:     len(events),
		Succeeded: succeeded,
	}, nil
}

func (s *Service) retry(ctx context.Context, e Event) error {
	p, err := e.Decode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	m, err := s.lookup(ctx, p)
	if err != nil {
		return fmt.Errorf("no meeting found for bot %s: %w", p.BotID(), err)
	}
	if e.MeetingID == nil {
		if err := s.store.SetMeeting(ctx, e.ID, m.ID); err != nil {
			return err
		}
	}
	return s.route(ctx, m, p)
}

// RecordObserved keeps the delivery history complete when polling discovers
// a terminal status that no webhook reported. It stores a processed event of
// the kind the provider would have sent.
func (s *Service) RecordObserved(ctx context.Context, m *meetings.Meeting, status models.BotStatus) error {
	var eventType string
	var types []string
	switch status {
	case models.BotCompleted:
		eventType, types = EventPostProcessingCompleted, completionEvents
	case models.BotFailed:
		eventType, types = EventBotFailed, []string{EventBotFailed}
	default:
		return nil
	}

	seen, err := s.store.HasEvent(ctx, m.ID, types)
	if err != nil || seen {
		return err
	}

	body, err := json.Marshal(Payload{
		RawBotID: m.BotID,
		Trigger:  eventType,
		Data: map[string]interface{}{
			"bot_id": m.BotID,
			"source": "polling",
			"status": string(status),
		},
	})
	if err != nil {
		return err
	}
	meetingID := m.ID
	e := &Event{
		MeetingID: &meetingID,
		BotID:     m.BotID,
		EventType: eventType,
		Payload:   datatypes.JSON(body),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"meeting_id": m.ID,
		"event_type": eventType,
	}).Info("Recorded webhook missed by provider")
	return s.store.MarkProcessed(ctx, e.ID)
}

func (s *Service) List(ctx context.Context, limit int) ([]models.WebhookEventView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	events, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.WebhookEventView, 0, len(events))
	for _, e := range events {
		out = append(out, e.View())
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) DeleteMeetingData(ctx context.Context, meetingID int64) error {
	return s.store.DeleteByMeeting(ctx, meetingID)
}
