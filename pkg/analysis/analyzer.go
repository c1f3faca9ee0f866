package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
)

var ErrEmptyTranscript = errors.New("transcript is empty")

// Input is what an analyzer sees of a meeting.
type Input struct {
	MeetingID  int64
	Transcript string
	Speakers   []string
	ChunkCount int
}

type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, in Input) (*models.Scorecard, error)
}

type topicRule struct {
	keywords       []string
	topic          string
	actionItem     string
	insight        string
	recommendation string
}

var (
	positiveWords = []string{"good", "great", "perfect", "excellent", "working", "success", "agreed", "thanks"}
	negativeWords = []string{"failed", "messed up", "problem", "error", "broken", "blocked", "issue"}

	topicRules = []topicRule{
		{
			keywords:       []string{"deadline", "timeline", "schedule"},
			topic:          "timeline planning",
			actionItem:     "Confirm the agreed timeline",
			insight:        "Scheduling came up during the discussion",
			recommendation: "Share a written timeline after the meeting",
		},
		{
			keywords:       []string{"budget", "cost", "price"},
			topic:          "budget",
			actionItem:     "Follow up on budget questions",
			insight:        "Costs were discussed",
			recommendation: "Circulate a cost breakdown",
		},
		{
			keywords:       []string{"test", "bug", "release"},
			topic:          "testing and releases",
			actionItem:     "Continue testing before the next release",
			insight:        "Quality and release readiness were discussed",
			recommendation: "Track open defects before shipping",
		},
		{
			keywords:       []string{"customer", "client", "user"},
			topic:          "customer feedback",
			actionItem:     "Summarise customer feedback for the team",
			insight:        "Customer needs featured in the conversation",
			recommendation: "Validate decisions with customers",
		},
		{
			keywords:       []string{"hire", "hiring", "interview"},
			topic:          "hiring",
			actionItem:     "Schedule next interview steps",
			insight:        "Hiring was on the agenda",
			recommendation: "Align on hiring criteria",
		},
	}
)

// HeuristicAnalyzer scores a transcript with keyword rules. It needs no
// network access and never fails on a non-empty transcript.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) Name() string { return "heuristic" }

func (HeuristicAnalyzer) Analyze(_ context.Context, in Input) (*models.Scorecard, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	text := strings.ToLower(in.Transcript)

	positive := countMatches(text, positiveWords)
	negative := countMatches(text, negativeWords)

	sentiment := "neutral"
	overall := 7.0
	switch {
	case positive > negative:
		sentiment = "positive"
		overall = math.Min(9, 7+float64(positive)*0.3)
	case negative > positive:
		sentiment = "negative"
		overall = math.Max(3, 7-float64(negative)*0.5)
	}

	card := &models.Scorecard{
		OverallScore:         round1(overall),
		Sentiment:            sentiment,
		KeyTopics:            []string{},
		ActionItems:          []string{},
		Participants:         participants(in.Speakers),
		EngagementScore:      round1(math.Min(10, 6+float64(in.ChunkCount)*0.2)),
		MeetingEffectiveness: round1(overall * 0.9),
		Insights:             []string{},
		Recommendations:      []string{},
	}
	for _, rule := range topicRules {
		if countMatches(text, rule.keywords) == 0 {
			continue
		}
		card.KeyTopics = append(card.KeyTopics, rule.topic)
		card.ActionItems = append(card.ActionItems, rule.actionItem)
		card.Insights = append(card.Insights, rule.insight)
		card.Recommendations = append(card.Recommendations, rule.recommendation)
	}
	if len(card.KeyTopics) == 0 {
		card.KeyTopics = append(card.KeyTopics, "general discussion")
		card.ActionItems = append(card.ActionItems, "Review the transcript for follow-ups")
	}
	if positive > negative {
		card.Insights = append(card.Insights, "The conversation was mostly positive")
	}
	if len(card.Participants) > 1 {
		card.Insights = append(card.Insights, fmt.Sprintf("%d speakers took part", len(card.Participants)))
	}

	card.Summary = fmt.Sprintf(
		"Meeting with %d participant(s) across %d transcript segments. Overall tone was %s. Main topics: %s.",
		len(card.Participants), in.ChunkCount, sentiment, strings.Join(card.KeyTopics, ", "),
	)
	return card, nil
}

// FallbackAnalyzer uses Primary and falls back to Secondary when it fails.
type FallbackAnalyzer struct {
	Primary   Analyzer
	Secondary Analyzer
}

func (f FallbackAnalyzer) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

func (f FallbackAnalyzer) Analyze(ctx context.Context, in Input) (*models.Scorecard, error) {
	card, err := f.Primary.Analyze(ctx, in)
	if err == nil {
		return card, nil
	}
	logger.WithFields(map[string]interface{}{
		"meeting_id": in.MeetingID,
		"analyzer":   f.Primary.Name(),
	}).WithError(err).Warn("Analyzer failed, falling back")
	return f.Secondary.Analyze(ctx, in)
}

func countMatches(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func participants(speakers []string) []string {
	out := make([]string, 0, len(speakers))
	out = append(out, speakers...)
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampScore(v float64) float64 {
	return round1(math.Max(0, math.Min(10, v)))
}
