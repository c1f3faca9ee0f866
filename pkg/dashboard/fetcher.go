package dashboard

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"golang.org/x/sync/singleflight"
)

var (
	ErrStillProcessing = errors.New("scorecard still processing")
	errBotRemoved      = errors.New("bot removed")
)

// ScorecardSource is the part of the API the fetcher depends on.
type ScorecardSource interface {
	GetScorecard(ctx context.Context, id int64) (*models.ScorecardRecord, error)
	TriggerAnalysis(ctx context.Context, id int64) (*models.MessageResponse, error)
}

type FetcherConfig struct {
	RetryDelay   time.Duration
	MaxBackoff   time.Duration
	MaxAttempts  int
	TriggerDelay time.Duration
}

func FetcherConfigFrom(cfg *config.Config) FetcherConfig {
	return FetcherConfig{
		RetryDelay:   cfg.ScorecardRetryDelay,
		MaxBackoff:   cfg.ScorecardMaxBackoff,
		MaxAttempts:  cfg.ScorecardMaxAttempts,
		TriggerDelay: cfg.AnalysisTriggerDelay,
	}
}

// ScorecardFetcher loads scorecards into the registry, retrying while the
// analysis is still processing. Concurrent fetches for one meeting share a
// single request sequence.
type ScorecardFetcher struct {
	source       ScorecardSource
	registry     *Registry
	backoff      httpclient.Backoff
	triggerDelay time.Duration
	flight       singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[int64]*pendingFetch
}

// pendingFetch counts background fetches scheduled for one meeting; done is
// closed when the count drops to zero.
type pendingFetch struct {
	n    int
	done chan struct{}
}

func NewScorecardFetcher(source ScorecardSource, registry *Registry, cfg FetcherConfig) *ScorecardFetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ScorecardFetcher{
		source:   source,
		registry: registry,
		backoff: httpclient.Backoff{
			Attempts:  cfg.MaxAttempts,
			BaseDelay: cfg.RetryDelay,
			MaxDelay:  cfg.MaxBackoff,
		},
		triggerDelay: cfg.TriggerDelay,
		ctx:          ctx,
		cancel:       cancel,
		pending:      make(map[int64]*pendingFetch),
	}
}

// Fetch runs one fetch sequence for meetingID and returns the last record
// seen. A sequence that ends while still processing returns that record
// together with ErrStillProcessing. The sequence is bound to the fetcher's
// lifetime; ctx only bounds how long this caller waits for it.
func (f *ScorecardFetcher) Fetch(ctx context.Context, meetingID int64) (*models.ScorecardRecord, error) {
	ch := f.flight.DoChan(strconv.FormatInt(meetingID, 10), func() (interface{}, error) {
		return f.fetch(f.ctx, meetingID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			logger.WithField("meeting_id", meetingID).Debug("Joined in-flight scorecard fetch")
		}
		rec, _ := res.Val.(*models.ScorecardRecord)
		return rec, res.Err
	}
}

// FetchAsync starts a fetch sequence bound to the fetcher's lifetime.
func (f *ScorecardFetcher) FetchAsync(meetingID int64) {
	release := f.hold(meetingID)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer release()
		if _, err := f.Fetch(f.ctx, meetingID); err != nil && f.ctx.Err() == nil {
			logger.WithField("meeting_id", meetingID).WithError(err).Warn("Scorecard fetch ended without a result")
		}
	}()
}

// Trigger asks the API to analyse the meeting and schedules a fetch shortly
// after. Only the trigger request's own failure is returned.
func (f *ScorecardFetcher) Trigger(ctx context.Context, meetingID int64) (*models.MessageResponse, error) {
	resp, err := f.source.TriggerAnalysis(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	release := f.hold(meetingID)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer release()
		timer := time.NewTimer(f.triggerDelay)
		defer timer.Stop()
		select {
		case <-f.ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := f.Fetch(f.ctx, meetingID); err != nil && f.ctx.Err() == nil {
			logger.WithField("meeting_id", meetingID).WithError(err).Warn("Scorecard fetch after trigger ended without a result")
		}
	}()
	return resp, nil
}

// Pending reports whether a background fetch or a scheduled trigger fetch
// for meetingID has not finished yet.
func (f *ScorecardFetcher) Pending(meetingID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[meetingID]
	return ok
}

// Wait blocks until no background fetch for meetingID is pending.
func (f *ScorecardFetcher) Wait(ctx context.Context, meetingID int64) error {
	f.mu.Lock()
	p, ok := f.pending[meetingID]
	f.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
	}
	// a fetch scheduled after the wait started is waited for too
	return f.Wait(ctx, meetingID)
}

func (f *ScorecardFetcher) hold(meetingID int64) func() {
	f.mu.Lock()
	p, ok := f.pending[meetingID]
	if !ok {
		p = &pendingFetch{done: make(chan struct{})}
		f.pending[meetingID] = p
	}
	p.n++
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		p.n--
		if p.n == 0 {
			delete(f.pending, meetingID)
			close(p.done)
		}
	}
}

// Close cancels pending fetches and trigger timers and waits for them.
func (f *ScorecardFetcher) Close() {
	f.cancel()
	f.wg.Wait()
}

func (f *ScorecardFetcher) fetch(ctx context.Context, meetingID int64) (*models.ScorecardRecord, error) {
	log := logger.WithField("meeting_id", meetingID)

	var last *models.ScorecardRecord
	attempt := 0
	retriable := func(err error) bool { return !errors.Is(err, errBotRemoved) }

	err := httpclient.Retry(ctx, f.backoff, retriable, func() error {
		attempt++
		if !f.registry.Has(meetingID) {
			return errBotRemoved
		}

		rec, err := f.source.GetScorecard(ctx, meetingID)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("Scorecard fetch failed")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !f.registry.UpsertScorecard(meetingID, *rec) && !f.registry.Has(meetingID) {
			return errBotRemoved
		}
		last = rec

		if !rec.Status.IsTerminal() {
			log.WithField("attempt", attempt).Debug("Scorecard still processing")
			return ErrStillProcessing
		}
		return nil
	})

	switch {
	case err == nil:
		log.WithField("status", last.Status).Info("Scorecard fetched")
		return last, nil
	case errors.Is(err, errBotRemoved):
		return nil, nil
	case errors.Is(err, ErrStillProcessing):
		return last, ErrStillProcessing
	}
	return last, err
}
