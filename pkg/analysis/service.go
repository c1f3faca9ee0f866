package analysis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
	"github.com/meetscore/platform/pkg/observability/metrics"
	"github.com/meetscore/platform/pkg/transcripts"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

var (
	ErrNotCompleted = errors.New("meeting is not completed")
	ErrNoTranscript = errors.New("meeting has no transcript")
)

type Store interface {
	GetByMeeting(ctx context.Context, meetingID int64) (*Report, error)
	Create(ctx context.Context, rep *Report) (bool, error)
	DeleteByMeeting(ctx context.Context, meetingID int64) error
}

type MeetingSource interface {
	Get(ctx context.Context, id int64) (*meetings.Meeting, error)
}

type TranscriptSource interface {
	List(ctx context.Context, meetingID int64) ([]transcripts.Chunk, error)
	FetchFull(ctx context.Context, meetingID int64) (*transcripts.FetchResult, error)
}

type Options struct {
	// AutoTrigger runs analysis on a scorecard read for a completed meeting
	// that has a transcript but no report yet. Without it such meetings
	// answer needs_trigger.
	AutoTrigger bool
}

type Service struct {
	store       Store
	meetings    MeetingSource
	transcripts TranscriptSource
	analyzer    Analyzer
	cache       Cache
	opts        Options

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewService(store Store, ms MeetingSource, ts TranscriptSource, analyzer Analyzer, cache Cache, opts Options) *Service {
	if cache == nil {
		cache = noCache{}
	}
	return &Service{
		store:       store,
		meetings:    ms,
		transcripts: ts,
		analyzer:    analyzer,
		cache:       cache,
		opts:        opts,
		inflight:    map[int64]struct{}{},
	}
}

// Trigger analyses a completed meeting and stores the report. A meeting that
// already has a report is left alone and its scorecard returned. Concurrent
// calls for one meeting share a single analysis.
func (s *Service) Trigger(ctx context.Context, meetingID int64) (*models.Scorecard, error) {
	m, err := s.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.BotCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, m.Status)
	}

	v, err, _ := s.group.Do(strconv.FormatInt(meetingID, 10), func() (interface{}, error) {
		return s.analyze(ctx, meetingID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Scorecard), nil
}

func (s *Service) analyze(ctx context.Context, meetingID int64) (*models.Scorecard, error) {
	if rep, err := s.store.GetByMeeting(ctx, meetingID); err == nil {
		card := rep.Score.Data()
		return &card, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	chunks, err := s.transcripts.List(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNoTranscript
	}

	s.markInflight(meetingID, true)
	defer s.markInflight(meetingID, false)

	summary := transcripts.Summarize(chunks)
	start := time.Now()
	card, err := s.analyzer.Analyze(ctx, Input{
		MeetingID:  meetingID,
		Transcript: transcripts.Text(chunks),
		Speakers:   summary.Speakers,
		ChunkCount: len(chunks),
	})
	metrics.ScorecardGenerated(s.analyzer.Name(), err)
	if err != nil {
		return nil, fmt.Errorf("analysing meeting %d: %w", meetingID, err)
	}

	rep := &Report{
		MeetingID: meetingID,
		Analyzer:  s.analyzer.Name(),
		Score:     datatypes.NewJSONType(*card),
	}
	created, err := s.store.Create(ctx, rep)
	if err != nil {
		return nil, fmt.Errorf("storing report: %w", err)
	}
	s.cache.Delete(ctx, meetingID)

	logger.WithFields(map[string]interface{}{
		"meeting_id": meetingID,
		"analyzer":   s.analyzer.Name(),
		"created":    created,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("Meeting analysed")
	return card, nil
}

func (s *Service) markInflight(meetingID int64, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.inflight[meetingID] = struct{}{}
	} else {
		delete(s.inflight, meetingID)
	}
}

func (s *Service) analysing(meetingID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[meetingID]
	return ok
}

// Scorecard resolves what the dashboard should show for a meeting.
func (s *Service) Scorecard(ctx context.Context, meetingID int64) (*models.ScorecardRecord, error) {
	if rec, ok := s.cache.Get(ctx, meetingID); ok {
		return rec, nil
	}

	m, err := s.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	rep, err := s.store.GetByMeeting(ctx, meetingID)
	switch {
	case err == nil:
		rec := available(meetingID, rep.Score.Data(), &rep.CreatedAt)
		s.cache.Set(ctx, rec)
		return rec, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if s.analysing(meetingID) {
		return &models.ScorecardRecord{
			MeetingID: meetingID,
			Status:    models.ScorecardProcessing,
			Message:   "Scorecard is being generated. Please try again in a few moments.",
		}, nil
	}

	if m.Status != models.BotCompleted {
		return &models.ScorecardRecord{
			MeetingID: meetingID,
			Status:    models.ScorecardUnavailable,
			Message:   fmt.Sprintf("Scorecard not available for meeting with status '%s'", m.Status),
		}, nil
	}

	chunks, err := s.transcripts.List(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &models.ScorecardRecord{
			MeetingID: meetingID,
			Status:    models.ScorecardNoData,
			Message:   "Meeting completed but no transcript data was captured. Cannot generate scorecard.",
		}, nil
	}

	if !s.opts.AutoTrigger {
		return &models.ScorecardRecord{
			MeetingID: meetingID,
			Status:    models.ScorecardNeedsTrigger,
			Message:   "Analysis has not run yet. Trigger analysis to generate a scorecard.",
		}, nil
	}

	card, err := s.Trigger(ctx, meetingID)
	if err != nil {
		logger.WithField("meeting_id", meetingID).WithError(err).Error("Failed to generate scorecard")
		return &models.ScorecardRecord{
			MeetingID: meetingID,
			Status:    models.ScorecardError,
			Message:   "Failed to generate scorecard. Please try again later.",
		}, nil
	}
	rec := available(meetingID, *card, nil)
	s.cache.Set(ctx, rec)
	return rec, nil
}

func available(meetingID int64, card models.Scorecard, createdAt *time.Time) *models.ScorecardRecord {
	return &models.ScorecardRecord{
		MeetingID: meetingID,
		Status:    models.ScorecardAvailable,
		Message:   "Scorecard generated successfully",
		Scorecard: &card,
		CreatedAt: createdAt,
	}
}

// Report is the legacy view: the meeting with its reports and a message when
// there are none.
func (s *Service) Report(ctx context.Context, meetingID int64) (*models.ReportResponse, error) {
	m, err := s.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	resp := &models.ReportResponse{
		MeetingID:  m.ID,
		MeetingURL: m.MeetingURL,
		BotID:      m.BotID,
		Status:     m.Status,
		Reports:    []models.ReportEntry{},
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}

	rep, err := s.store.GetByMeeting(ctx, meetingID)
	if err == nil {
		resp.Reports = append(resp.Reports, rep.Entry())
		return resp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	switch m.Status {
	case models.BotPending:
		resp.Message = "Meeting is pending. Report will be available after the meeting is completed."
	case models.BotStarted:
		resp.Message = "Meeting is in progress. Report will be available after the meeting is completed."
	case models.BotFailed:
		resp.Message = "Meeting failed. No report available."
	case models.BotCompleted:
		if _, err := s.Trigger(ctx, meetingID); err != nil {
			logger.WithField("meeting_id", meetingID).WithError(err).Warn("Report analysis did not complete")
		}
		if rep, err := s.store.GetByMeeting(ctx, meetingID); err == nil {
			resp.Reports = append(resp.Reports, rep.Entry())
		} else {
			resp.Message = "Report is being generated. Please try again in a few moments."
		}
	default:
		resp.Message = "No report available for this meeting."
	}
	return resp, nil
}

// HandleCompleted prepares and runs analysis for a meeting that just
// completed, pulling the full transcript first when none was streamed.
func (s *Service) HandleCompleted(ctx context.Context, meetingID int64) error {
	chunks, err := s.transcripts.List(ctx, meetingID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		if _, err := s.transcripts.FetchFull(ctx, meetingID); err != nil {
			logger.WithField("meeting_id", meetingID).WithError(err).Warn("Could not fetch transcript for completed meeting")
		}
	}

	_, err = s.Trigger(ctx, meetingID)
	if errors.Is(err, ErrNoTranscript) {
		logger.WithField("meeting_id", meetingID).Warn("Completed meeting has no transcript, skipping analysis")
		return nil
	}
	return err
}

// DeleteMeetingData drops the report and cached scorecard of a meeting.
func (s *Service) DeleteMeetingData(ctx context.Context, meetingID int64) error {
	if err := s.store.DeleteByMeeting(ctx, meetingID); err != nil {
		return err
	}
	s.cache.Delete(ctx, meetingID)
	return nil
}
