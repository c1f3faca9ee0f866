package meetings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/models"
	"gorm.io/datatypes"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*Meeting
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]*Meeting{}}
}

func (s *memStore) Create(_ context.Context, m *Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id int64) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetByBotID(_ context.Context, botID string) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.BotID == botID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) List(_ context.Context) ([]Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Meeting, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, status models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) AttachBot(_ context.Context, id int64, botID string, meta datatypes.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	m.BotID = botID
	m.Status = models.BotStarted
	m.MeetingMetadata = meta
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) ListStale(_ context.Context, statuses []models.BotStatus, cutoff time.Time) ([]Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Meeting
	for _, m := range s.rows {
		if m.BotID == "" || !m.UpdatedAt.Before(cutoff) {
			continue
		}
		for _, st := range statuses {
			if m.Status == st {
				out = append(out, *m)
				break
			}
		}
	}
	return out, nil
}

// backdate moves a meeting's updated_at into the past.
func (s *memStore) backdate(id int64, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].UpdatedAt = time.Now().UTC().Add(-by)
}

type fakeProvider struct {
	mu        sync.Mutex
	createErr error
	state     attendee.BotState
	created   []attendee.CreateBotInput
	hooks     []models.WebhookConfig
}

func (p *fakeProvider) CreateBot(_ context.Context, in attendee.CreateBotInput) (*attendee.BotState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, in)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &attendee.BotState{ID: "bot_abc", State: "ready"}, nil
}

func (p *fakeProvider) GetBot(_ context.Context, botID string) (*attendee.BotState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if botID == "" {
		return nil, errors.New("missing bot id")
	}
	st := p.state
	st.Raw = map[string]interface{}{"id": botID, "state": st.State}
	return &st, nil
}

func (p *fakeProvider) AddWebhook(_ context.Context, _ string, hook models.WebhookConfig) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hook)
	return map[string]interface{}{"url": hook.URL}, nil
}

type recordingCompletion struct {
	mu    sync.Mutex
	calls []int64
}

func (r *recordingCompletion) MeetingCompleted(_ context.Context, meetingID int64, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, meetingID)
	return nil
}

type recordingCleaner struct {
	err     error
	cleaned []int64
}

func (c *recordingCleaner) DeleteMeetingData(_ context.Context, meetingID int64) error {
	if c.err != nil {
		return c.err
	}
	c.cleaned = append(c.cleaned, meetingID)
	return nil
}
