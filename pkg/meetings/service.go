package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/observability/metrics"
	"gorm.io/datatypes"
)

var (
	ErrNoBotID        = errors.New("meeting has no bot_id")
	ErrNoWebhookURL   = errors.New("no webhook URL configured")
	ErrProviderFailed = errors.New("meeting bot provider request failed")
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, m *Meeting) error
	Get(ctx context.Context, id int64) (*Meeting, error)
	GetByBotID(ctx context.Context, botID string) (*Meeting, error)
	List(ctx context.Context) ([]Meeting, error)
	UpdateStatus(ctx context.Context, id int64, status models.BotStatus) error
	AttachBot(ctx context.Context, id int64, botID string, meta datatypes.JSONMap) error
	Delete(ctx context.Context, id int64) error
	ListStale(ctx context.Context, statuses []models.BotStatus, cutoff time.Time) ([]Meeting, error)
}

// Provider is the meeting bot API; *attendee.Client implements it.
type Provider interface {
	CreateBot(ctx context.Context, in attendee.CreateBotInput) (*attendee.BotState, error)
	GetBot(ctx context.Context, botID string) (*attendee.BotState, error)
	AddWebhook(ctx context.Context, botID string, hook models.WebhookConfig) (map[string]interface{}, error)
}

// CompletionHandler is told when a meeting reaches COMPLETED.
type CompletionHandler interface {
	MeetingCompleted(ctx context.Context, meetingID int64, botID string) error
}

// Cleaner removes data that belongs to a meeting before it is deleted.
type Cleaner interface {
	DeleteMeetingData(ctx context.Context, meetingID int64) error
}

type Service struct {
	validator  *Validator
	store      Store
	provider   Provider
	webhookURL string
	completion CompletionHandler
	cleaners   []Cleaner
}

func NewService(validator *Validator, store Store, provider Provider, webhookURL string) *Service {
	return &Service{
		validator:  validator,
		store:      store,
		provider:   provider,
		webhookURL: webhookURL,
	}
}

func (s *Service) SetCompletionHandler(h CompletionHandler) {
	s.completion = h
}

func (s *Service) AddCleaner(c Cleaner) {
	s.cleaners = append(s.cleaners, c)
}

func (s *Service) WebhookURL() string {
	return s.webhookURL
}

// Create stores a PENDING meeting, asks the provider for a bot and attaches
// it. A provider failure leaves the meeting FAILED.
func (s *Service) Create(ctx context.Context, req models.CreateBotRequest) (*Meeting, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	meta := datatypes.JSONMap{"bot_name": req.BotName}
	if req.JoinAt != nil {
		meta["join_at"] = req.JoinAt.UTC().Format(time.RFC3339)
	}
	m := &Meeting{
		MeetingURL:      req.MeetingURL,
		Status:          models.BotPending,
		MeetingMetadata: meta,
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("persisting meeting: %w", err)
	}

	hooks := req.Webhooks
	if len(hooks) == 0 && s.webhookURL != "" {
		hooks = []models.WebhookConfig{{URL: s.webhookURL, Triggers: attendee.DefaultTriggers}}
	}
	if len(hooks) == 0 {
		logger.Log.Warn("No webhook URL configured; status updates rely on polling")
	}

	bot, err := s.provider.CreateBot(ctx, attendee.CreateBotInput{
		MeetingURL: req.MeetingURL,
		BotName:    req.BotName,
		JoinAt:     req.JoinAt,
		Webhooks:   hooks,
	})
	if err != nil {
		logger.WithField("meeting_id", m.ID).WithError(err).Error("Failed to create provider bot")
		if updateErr := s.store.UpdateStatus(ctx, m.ID, models.BotFailed); updateErr != nil {
			logger.Log.WithError(updateErr).Error("Failed to mark meeting as failed")
		}
		metrics.StatusTransition(string(models.BotFailed), "create")
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	botID := bot.Identifier()
	meta["bot_id"] = botID
	if err := s.store.AttachBot(ctx, m.ID, botID, meta); err != nil {
		return nil, fmt.Errorf("attaching bot to meeting: %w", err)
	}
	metrics.StatusTransition(string(models.BotStarted), "create")

	return s.store.Get(ctx, m.ID)
}

func (s *Service) List(ctx context.Context) ([]Meeting, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*Meeting, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByBotID(ctx context.Context, botID string) (*Meeting, error) {
	if botID == "" {
		return nil, ErrNotFound
	}
	return s.store.GetByBotID(ctx, botID)
}

// Delete removes a meeting together with everything derived from it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	for _, c := range s.cleaners {
		if err := c.DeleteMeetingData(ctx, id); err != nil {
			return fmt.Errorf("deleting data for meeting %d: %w", id, err)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	logger.WithField("meeting_id", id).Info("Meeting deleted")
	return nil
}

// Transition moves m to status when it differs, notifying the completion
// handler on COMPLETED. source names the observer for logs and metrics.
func (s *Service) Transition(ctx context.Context, m *Meeting, status models.BotStatus, source string) (bool, error) {
	if m.Status == status {
		return false, nil
	}
	if err := s.store.UpdateStatus(ctx, m.ID, status); err != nil {
		return false, fmt.Errorf("updating meeting status: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"meeting_id": m.ID,
		"from":       m.Status,
		"to":         status,
		"source":     source,
	}).Info("Meeting status changed")
	metrics.StatusTransition(string(status), source)

	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	if status == models.BotCompleted {
		s.notifyCompleted(ctx, m)
	}
	return true, nil
}

func (s *Service) notifyCompleted(ctx context.Context, m *Meeting) {
	if s.completion == nil {
		return
	}
	if err := s.completion.MeetingCompleted(ctx, m.ID, m.BotID); err != nil {
		logger.WithField("meeting_id", m.ID).WithError(err).Error("Failed to dispatch meeting completion")
	}
}

// PollStatus asks the provider for the bot's state and applies it.
func (s *Service) PollStatus(ctx context.Context, id int64) (*models.PollStatusResponse, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.poll(ctx, m, "poll")
}

// PollMeeting is PollStatus for a meeting already loaded.
func (s *Service) PollMeeting(ctx context.Context, m *Meeting, source string) (*models.PollStatusResponse, error) {
	return s.poll(ctx, m, source)
}

func (s *Service) poll(ctx context.Context, m *Meeting, source string) (*models.PollStatusResponse, error) {
	if m.BotID == "" {
		return nil, ErrNoBotID
	}

	state, err := s.provider.GetBot(ctx, m.BotID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	resp := &models.PollStatusResponse{
		BotID:        m.ID,
		OldStatus:    m.Status,
		ProviderData: state.Raw,
	}
	status, known := attendee.MapBotState(state)
	if !known {
		logger.WithFields(map[string]interface{}{
			"meeting_id": m.ID,
			"state":      state.State,
		}).Warn("Unrecognised provider state, keeping current status")
		return resp, nil
	}
	if status == models.BotPending && m.Status != models.BotPending {
		return resp, nil
	}

	updated, err := s.Transition(ctx, m, status, source)
	if err != nil {
		return nil, err
	}
	resp.NewStatus = status
	resp.StatusUpdated = updated
	return resp, nil
}

// AddWebhook registers the configured webhook URL with an existing bot.
func (s *Service) AddWebhook(ctx context.Context, id int64) (map[string]interface{}, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.BotID == "" {
		return nil, ErrNoBotID
	}
	if s.webhookURL == "" {
		return nil, ErrNoWebhookURL
	}

	out, err := s.provider.AddWebhook(ctx, m.BotID, models.WebhookConfig{URL: s.webhookURL, Triggers: attendee.DefaultTriggers})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return out, nil
}

// Stale lists unfinished meetings untouched for at least age.
func (s *Service) Stale(ctx context.Context, age time.Duration) ([]Meeting, error) {
	cutoff := time.Now().UTC().Add(-age)
	return s.store.ListStale(ctx, []models.BotStatus{models.BotPending, models.BotStarted}, cutoff)
}
