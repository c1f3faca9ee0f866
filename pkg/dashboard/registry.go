package dashboard

import (
	"sort"
	"sync"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
)

// Registry is the local source of truth for bots and their scorecards.
// Records are replaced whole, never merged. A scorecard is only kept while
// its bot exists and is COMPLETED. Removed ids stay removed until the bot is
// upserted again.
type Registry struct {
	mu         sync.RWMutex
	bots       map[int64]models.BotRecord
	scorecards map[int64]models.ScorecardRecord
	removed    map[int64]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		bots:       make(map[int64]models.BotRecord),
		scorecards: make(map[int64]models.ScorecardRecord),
		removed:    make(map[int64]struct{}),
	}
}

func (r *Registry) UpsertBot(rec models.BotRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.removed, rec.ID)
	r.bots[rec.ID] = rec
	if rec.Status != models.BotCompleted {
		delete(r.scorecards, rec.ID)
	}
}

// UpdateStatus replaces the status of a known bot and stamps updatedAt when
// it changed. ok is false when the bot is no longer registered.
func (r *Registry) UpdateStatus(id int64, status models.BotStatus, at time.Time) (prev models.BotStatus, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.bots[id]
	if !ok {
		return "", false
	}
	prev = rec.Status
	if prev == status {
		return prev, true
	}
	rec.Status = status
	rec.UpdatedAt = at
	r.bots[id] = rec
	if status != models.BotCompleted {
		delete(r.scorecards, id)
	}
	return prev, true
}

// UpsertScorecard stores rec for meetingID and reports whether it was kept.
// Records for unknown or unfinished bots are discarded.
func (r *Registry) UpsertScorecard(meetingID int64, rec models.ScorecardRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	bot, ok := r.bots[meetingID]
	if !ok || bot.Status != models.BotCompleted {
		return false
	}
	rec.MeetingID = meetingID
	r.scorecards[meetingID] = rec
	return true
}

// Remove drops the bot and its scorecard.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bots, id)
	delete(r.scorecards, id)
	r.removed[id] = struct{}{}
}

func (r *Registry) Has(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bots[id]
	return ok
}

func (r *Registry) SelectByID(id int64) (models.BotRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.bots[id]
	return rec, ok
}

func (r *Registry) SelectScorecard(meetingID int64) (models.ScorecardRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scorecards[meetingID]
	return rec, ok
}

// Bots returns every record, newest first.
func (r *Registry) Bots() []models.BotRecord {
	r.mu.RLock()
	out := make([]models.BotRecord, 0, len(r.bots))
	for _, rec := range r.bots {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Replace swaps in a freshly listed set of bots and returns the records it
// kept. Removed bots are not brought back, and a local record updated after
// the listed one wins. Scorecards survive only for bots that are still
// present and COMPLETED.
func (r *Registry) Replace(records []models.BotRecord) []models.BotRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	bots := make(map[int64]models.BotRecord, len(records))
	kept := make([]models.BotRecord, 0, len(records))
	for _, rec := range records {
		if _, gone := r.removed[rec.ID]; gone {
			continue
		}
		if cur, ok := r.bots[rec.ID]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
			rec = cur
		}
		bots[rec.ID] = rec
		kept = append(kept, rec)
	}

	r.bots = bots
	for id := range r.scorecards {
		if bot, ok := bots[id]; !ok || bot.Status != models.BotCompleted {
			delete(r.scorecards, id)
		}
	}
	return kept
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bots)
}
