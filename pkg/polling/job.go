package polling

import (
	"context"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
)

const source = "polling"

// MeetingPoller is the part of the meetings service the job drives.
type MeetingPoller interface {
	Get(ctx context.Context, id int64) (*meetings.Meeting, error)
	Stale(ctx context.Context, age time.Duration) ([]meetings.Meeting, error)
	PollMeeting(ctx context.Context, m *meetings.Meeting, source string) (*models.PollStatusResponse, error)
}

// Recorder stores a terminal status that polling saw before any webhook did.
type Recorder interface {
	RecordObserved(ctx context.Context, m *meetings.Meeting, status models.BotStatus) error
}

type Status struct {
	Running     bool       `json:"running"`
	Interval    string     `json:"interval"`
	StaleAfter  string     `json:"stale_after"`
	Runs        int64      `json:"runs"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastChecked int        `json:"last_checked"`
	LastUpdated int        `json:"last_updated"`
	LastErrors  int        `json:"last_errors"`
}

type RunSummary struct {
	Message string                      `json:"message"`
	Checked int                         `json:"checked"`
	Updated int                         `json:"updated"`
	Errors  int                         `json:"errors"`
	Results []models.PollStatusResponse `json:"results"`
}

// Job is the server-side backstop for lost webhooks. Each tick it polls the
// provider for unfinished meetings that have not changed for a while.
type Job struct {
	meetings   MeetingPoller
	recorder   Recorder
	interval   time.Duration
	staleAfter time.Duration

	mu     sync.Mutex
	status Status
}

func NewJob(meetings MeetingPoller, recorder Recorder, interval, staleAfter time.Duration) *Job {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Job{
		meetings:   meetings,
		recorder:   recorder,
		interval:   interval,
		staleAfter: staleAfter,
		status: Status{
			Interval:   interval.String(),
			StaleAfter: staleAfter.String(),
		},
	}
}

// Start runs the job until ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	j.setRunning(true)
	defer j.setRunning(false)

	logger.WithFields(map[string]interface{}{
		"interval":    j.interval.String(),
		"stale_after": j.staleAfter.String(),
	}).Info("Polling job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				logger.Log.WithError(err).Warn("Polling run failed")
			}
		case <-ctx.Done():
			logger.Log.Info("Polling job stopped")
			return
		}
	}
}

// RunOnce polls every stale meeting once.
func (j *Job) RunOnce(ctx context.Context) (*RunSummary, error) {
	return j.run(ctx, j.staleAfter)
}

// CheckAll polls every unfinished meeting regardless of age.
func (j *Job) CheckAll(ctx context.Context) (*RunSummary, error) {
	return j.run(ctx, 0)
}

func (j *Job) run(ctx context.Context, age time.Duration) (*RunSummary, error) {
	stale, err := j.meetings.Stale(ctx, age)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Results: []models.PollStatusResponse{}}
	for i := range stale {
		m := &stale[i]
		if m.BotID == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		summary.Checked++
		resp, err := j.check(ctx, m)
		if err != nil {
			summary.Errors++
			logger.WithField("meeting_id", m.ID).WithError(err).Warn("Polling check failed")
			continue
		}
		if resp.StatusUpdated {
			summary.Updated++
		}
		summary.Results = append(summary.Results, *resp)
	}
	summary.Message = "Polling run complete"

	now := time.Now().UTC()
	j.mu.Lock()
	j.status.Runs++
	j.status.LastRunAt = &now
	j.status.LastChecked = summary.Checked
	j.status.LastUpdated = summary.Updated
	j.status.LastErrors = summary.Errors
	j.mu.Unlock()

	if summary.Checked > 0 {
		logger.WithFields(map[string]interface{}{
			"checked": summary.Checked,
			"updated": summary.Updated,
			"errors":  summary.Errors,
		}).Info("Polling run complete")
	}
	return summary, nil
}

// CheckOne polls a single meeting on demand.
func (j *Job) CheckOne(ctx context.Context, id int64) (*models.PollStatusResponse, error) {
	m, err := j.meetings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return j.check(ctx, m)
}

func (j *Job) check(ctx context.Context, m *meetings.Meeting) (*models.PollStatusResponse, error) {
	resp, err := j.meetings.PollMeeting(ctx, m, source)
	if err != nil {
		return nil, err
	}
	if j.recorder != nil && resp.NewStatus.IsTerminal() {
		if err := j.recorder.RecordObserved(ctx, m, resp.NewStatus); err != nil {
			logger.WithField("meeting_id", m.ID).WithError(err).Error("Failed to record polled status")
		}
	}
	return resp, nil
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := j.status
	if st.LastRunAt != nil {
		at := *st.LastRunAt
		st.LastRunAt = &at
	}
	return st
}

func (j *Job) setRunning(running bool) {
	j.mu.Lock()
	j.status.Running = running
	j.mu.Unlock()
}
