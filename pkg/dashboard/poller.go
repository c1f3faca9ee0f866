package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
)

// StatusSource is the part of the API the poller depends on.
type StatusSource interface {
	PollStatus(ctx context.Context, id int64) (*models.PollStatusResponse, error)
	GetBot(ctx context.Context, id int64) (*models.BotRecord, error)
}

type PollerConfig struct {
	Interval    time.Duration
	MaxDuration time.Duration
	MaxAttempts int
}

func PollerConfigFrom(cfg *config.Config) PollerConfig {
	return PollerConfig{
		Interval:    cfg.DashboardPollInterval,
		MaxDuration: cfg.DashboardPollMaxDuration,
		MaxAttempts: cfg.DashboardPollMaxAttempts,
	}
}

type pollLoop struct {
	cancel context.CancelFunc
	gen    uint64
}

// Poller runs at most one status loop per bot. A loop ends when the bot
// reaches a terminal status, disappears from the registry, is stopped, or
// exhausts its duration or attempt bound.
type Poller struct {
	source      StatusSource
	registry    *Registry
	cfg         PollerConfig
	onCompleted func(id int64)
	now         func() time.Time

	mu    sync.Mutex
	loops map[int64]pollLoop
	gen   uint64
	wg    sync.WaitGroup
}

func NewPoller(source StatusSource, registry *Registry, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{
		source:   source,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
		loops:    make(map[int64]pollLoop),
	}
}

// OnCompleted registers the hand-off invoked once when a loop observes
// COMPLETED. Set it before the first Start.
func (p *Poller) OnCompleted(fn func(id int64)) {
	p.onCompleted = fn
}

// Start begins polling id, replacing any loop already running for it. Bots
// that are unknown or already terminal are not polled.
func (p *Poller) Start(id int64) {
	rec, ok := p.registry.SelectByID(id)
	if !ok || rec.Status.IsTerminal() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.loops[id]; ok {
		existing.cancel()
	}
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.loops[id] = pollLoop{cancel: cancel, gen: p.gen}

	p.wg.Add(1)
	go p.run(ctx, id, p.gen)
}

func (p *Poller) Stop(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loop, ok := p.loops[id]; ok {
		loop.cancel()
		delete(p.loops, id)
	}
}

// StopAll cancels every loop and waits for them to exit.
func (p *Poller) StopAll() {
	p.mu.Lock()
	for id, loop := range p.loops {
		loop.cancel()
		delete(p.loops, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) Active(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[id]
	return ok
}

func (p *Poller) finish(id int64, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loop, ok := p.loops[id]; ok && loop.gen == gen {
		loop.cancel()
		delete(p.loops, id)
	}
}

func (p *Poller) run(ctx context.Context, id int64, gen uint64) {
	defer p.wg.Done()
	defer p.finish(id, gen)

	log := logger.WithField("bot", id)
	started := p.now()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !p.registry.Has(id) {
			log.Debug("Bot no longer registered, stopping poller")
			return
		}

		status, alive, err := p.tick(ctx, id)
		switch {
		case ctx.Err() != nil || !alive:
			return
		case err != nil:
			log.WithError(err).Warn("Status poll failed")
		case status.IsTerminal():
			log.WithField("status", status).Info("Bot reached terminal status")
			if status == models.BotCompleted && p.onCompleted != nil {
				p.onCompleted(id)
			}
			return
		}

		if p.cfg.MaxAttempts > 0 && attempt >= p.cfg.MaxAttempts {
			log.WithField("attempts", attempt).Warn("Poll attempt limit reached, giving up")
			return
		}
		if p.cfg.MaxDuration > 0 && p.now().Sub(started) >= p.cfg.MaxDuration {
			log.WithField("elapsed", p.now().Sub(started).String()).Warn("Poll duration limit reached, giving up")
			return
		}
	}
}

// tick issues one poll and applies the result. alive is false once the bot
// has been removed from the registry.
func (p *Poller) tick(ctx context.Context, id int64) (models.BotStatus, bool, error) {
	resp, err := p.source.PollStatus(ctx, id)
	if err != nil {
		return "", true, err
	}

	status := resp.NewStatus
	if status == "" {
		bot, err := p.source.GetBot(ctx, id)
		if err != nil {
			return "", true, err
		}
		status = bot.Status
	}
	if status == "" || ctx.Err() != nil {
		return "", true, ctx.Err()
	}

	prev, ok := p.registry.UpdateStatus(id, status, p.now())
	if !ok {
		return "", false, nil
	}
	if prev != status {
		logger.WithFields(map[string]interface{}{
			"bot":  id,
			"from": prev,
			"to":   status,
		}).Info("Bot status changed")
	}
	return status, true, nil
}
