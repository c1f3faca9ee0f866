package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
)

var ErrUnknownBot = errors.New("bot not found")

type Options struct {
	Poller         PollerConfig
	Fetcher        FetcherConfig
	StuckThreshold time.Duration
	StateFile      string
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Poller:         PollerConfigFrom(cfg),
		Fetcher:        FetcherConfigFrom(cfg),
		StuckThreshold: cfg.StuckThreshold,
		StateFile:      cfg.DashboardStateFile,
	}
}

// BotView is a bot as rendered by the dashboard.
type BotView struct {
	models.BotRecord
	Stuck     bool
	Polling   bool
	Fetching  bool
	Selected  bool
	Scorecard *models.ScorecardRecord
}

// Session wires the client, registry, poller and fetcher together and is the
// only entry point for user actions. Failures are returned and also kept as
// LastError for the view.
type Session struct {
	client   *Client
	registry *Registry
	poller   *Poller
	fetcher  *ScorecardFetcher
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	selected int64
	lastErr  error
}

func NewSession(client *Client, opts Options) *Session {
	registry := NewRegistry()
	s := &Session{
		client:   client,
		registry: registry,
		poller:   NewPoller(client, registry, opts.Poller),
		fetcher:  NewScorecardFetcher(client, registry, opts.Fetcher),
		opts:     opts,
		now:      time.Now,
	}
	s.poller.OnCompleted(s.fetcher.FetchAsync)

	st, err := LoadState(opts.StateFile)
	if err != nil {
		logger.Log.WithError(err).Warn("Ignoring unreadable dashboard state")
	} else if st.APIBaseURL == "" || st.APIBaseURL == client.BaseURL() {
		s.selected = st.SelectedBotID
	}
	return s
}

func (s *Session) Registry() *Registry {
	return s.registry
}

// Refresh replaces the registry with the current bot list, makes sure every
// unfinished bot is being polled and that every completed bot gets a
// scorecard. Bots deleted while the list was in flight stay deleted.
func (s *Session) Refresh(ctx context.Context) error {
	bots, err := s.client.ListBots(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("listing bots: %w", err))
	}

	for _, b := range s.registry.Replace(bots) {
		switch {
		case b.Status == models.BotCompleted:
			if _, ok := s.registry.SelectScorecard(b.ID); !ok && !s.fetcher.Pending(b.ID) {
				s.fetcher.FetchAsync(b.ID)
			}
		case !b.Status.IsTerminal() && !s.poller.Active(b.ID):
			s.poller.Start(b.ID)
		}
	}

	s.mu.Lock()
	if s.selected != 0 && !s.registry.Has(s.selected) {
		s.selected = 0
		s.persistLocked()
	}
	s.mu.Unlock()

	s.clearError()
	return nil
}

// Create sends a new bot to the meeting and starts polling it.
func (s *Session) Create(ctx context.Context, req models.CreateBotRequest) (*models.BotRecord, error) {
	bot, err := s.client.CreateBot(ctx, req)
	if err != nil {
		return nil, s.fail(fmt.Errorf("creating bot: %w", err))
	}

	s.registry.UpsertBot(*bot)
	if bot.Status == models.BotCompleted {
		s.fetcher.FetchAsync(bot.ID)
	} else {
		s.poller.Start(bot.ID)
	}
	logger.WithFields(map[string]interface{}{
		"bot":    bot.ID,
		"status": bot.Status,
	}).Info("Bot created")

	s.clearError()
	return bot, nil
}

// Select makes id the detail view. A completed meeting without a scorecard
// gets one fetched.
func (s *Session) Select(ctx context.Context, id int64) error {
	rec, ok := s.registry.SelectByID(id)
	if !ok {
		return s.fail(fmt.Errorf("selecting bot %d: %w", id, ErrUnknownBot))
	}

	s.mu.Lock()
	s.selected = id
	s.persistLocked()
	s.mu.Unlock()

	if rec.Status == models.BotCompleted {
		if _, ok := s.registry.SelectScorecard(id); !ok {
			s.fetcher.FetchAsync(id)
		}
	} else if !rec.Status.IsTerminal() && !s.poller.Active(id) {
		s.poller.Start(id)
	}
	return nil
}

// Delete removes the bot remotely first; the local record is only dropped
// after the API confirms.
func (s *Session) Delete(ctx context.Context, id int64) error {
	if _, err := s.client.DeleteBot(ctx, id); err != nil {
		return s.fail(fmt.Errorf("deleting bot %d: %w", id, err))
	}

	s.poller.Stop(id)
	s.registry.Remove(id)

	s.mu.Lock()
	if s.selected == id {
		s.selected = 0
		s.persistLocked()
	}
	s.mu.Unlock()

	logger.WithField("bot", id).Info("Bot deleted")
	s.clearError()
	return nil
}

func (s *Session) TriggerAnalysis(ctx context.Context, id int64) (*models.MessageResponse, error) {
	if !s.registry.Has(id) {
		return nil, s.fail(fmt.Errorf("triggering analysis for %d: %w", id, ErrUnknownBot))
	}
	resp, err := s.fetcher.Trigger(ctx, id)
	if err != nil {
		return nil, s.fail(fmt.Errorf("triggering analysis for %d: %w", id, err))
	}
	s.clearError()
	return resp, nil
}

// FetchScorecard runs a fetch sequence in the foreground.
func (s *Session) FetchScorecard(ctx context.Context, id int64) (*models.ScorecardRecord, error) {
	if !s.registry.Has(id) {
		return nil, s.fail(fmt.Errorf("fetching scorecard for %d: %w", id, ErrUnknownBot))
	}
	rec, err := s.fetcher.Fetch(ctx, id)
	if err != nil && !errors.Is(err, ErrStillProcessing) {
		return rec, s.fail(fmt.Errorf("fetching scorecard for %d: %w", id, err))
	}
	return rec, nil
}

// AwaitScorecard waits until no fetch for id is pending and returns what
// the registry then holds. A nil record means no scorecard was stored.
func (s *Session) AwaitScorecard(ctx context.Context, id int64) (*models.ScorecardRecord, error) {
	if err := s.fetcher.Wait(ctx, id); err != nil {
		return nil, err
	}
	if rec, ok := s.registry.SelectScorecard(id); ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *Session) Report(ctx context.Context, id int64) (*models.ReportResponse, error) {
	resp, err := s.client.GetReport(ctx, id)
	if err != nil {
		return nil, s.fail(fmt.Errorf("loading report for %d: %w", id, err))
	}
	return resp, nil
}

// List renders every bot, newest first.
func (s *Session) List() []BotView {
	bots := s.registry.Bots()
	out := make([]BotView, 0, len(bots))
	for _, b := range bots {
		out = append(out, s.view(b))
	}
	return out
}

func (s *Session) Detail(id int64) (BotView, bool) {
	rec, ok := s.registry.SelectByID(id)
	if !ok {
		return BotView{}, false
	}
	return s.view(rec), true
}

func (s *Session) Selected() (BotView, bool) {
	s.mu.Lock()
	id := s.selected
	s.mu.Unlock()
	if id == 0 {
		return BotView{}, false
	}
	return s.Detail(id)
}

// Polling reports whether a status loop is running for id.
func (s *Session) Polling(id int64) bool {
	return s.poller.Active(id)
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops every poller and pending fetch.
func (s *Session) Close() {
	s.poller.StopAll()
	s.fetcher.Close()
}

func (s *Session) view(rec models.BotRecord) BotView {
	v := BotView{
		BotRecord: rec,
		Polling:   s.poller.Active(rec.ID),
		Stuck:     s.isStuck(rec),
	}
	v.Fetching = s.fetcher.Pending(rec.ID)
	if sc, ok := s.registry.SelectScorecard(rec.ID); ok {
		v.Scorecard = &sc
	}
	s.mu.Lock()
	v.Selected = s.selected == rec.ID
	s.mu.Unlock()
	return v
}

func (s *Session) isStuck(rec models.BotRecord) bool {
	if rec.Status.IsTerminal() || s.opts.StuckThreshold <= 0 {
		return false
	}
	last := rec.UpdatedAt
	if last.IsZero() {
		last = rec.CreatedAt
	}
	return !last.IsZero() && s.now().Sub(last) > s.opts.StuckThreshold
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *Session) clearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Session) persistLocked() {
	st := State{APIBaseURL: s.client.BaseURL(), SelectedBotID: s.selected}
	if err := SaveState(s.opts.StateFile, st); err != nil {
		logger.Log.WithError(err).Warn("Failed to save dashboard state")
	}
}
