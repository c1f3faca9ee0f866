package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"github.com/sashabaranov/go-openai"
)

// maxTranscriptChars keeps prompts inside small-model context windows.
const maxTranscriptChars = 48000

const systemPrompt = `You analyse meeting transcripts and answer with a single JSON object with these keys:
overall_score (number 0-10), sentiment ("positive", "neutral" or "negative"), key_topics (array of strings),
action_items (array of strings), participants (array of strings), engagement_score (number 0-10),
meeting_effectiveness (number 0-10), summary (string, at most 3 sentences), insights (array of strings),
recommendations (array of strings). Do not add any other keys or prose.`

var ErrNoCompletion = errors.New("llm returned no choices")

type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnalyzer(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIAnalyzer{client: openai.NewClientWithConfig(cfg), model: model}
}

// NewAnalyzerFromConfig returns the OpenAI analyzer backed by the heuristic
// one, or the heuristic analyzer alone when no API key is configured.
func NewAnalyzerFromConfig(cfg *config.Config) Analyzer {
	if cfg.LLMAPIKey == "" {
		logger.Log.Warn("OPENAI_API_KEY not set, scorecards use heuristic analysis")
		return HeuristicAnalyzer{}
	}
	return FallbackAnalyzer{
		Primary:   NewOpenAIAnalyzer(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModelName, httpclient.New(90*time.Second)),
		Secondary: HeuristicAnalyzer{},
	}
}

func (a *OpenAIAnalyzer) Name() string { return "openai" }

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, in Input) (*models.Scorecard, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	transcript := in.Transcript
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[len(transcript)-maxTranscriptChars:]
	}
	prompt := fmt.Sprintf("Participants: %s\nSegments: %d\n\nTranscript:\n%s",
		strings.Join(in.Speakers, ", "), in.ChunkCount, transcript)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoCompletion
	}
	logger.WithFields(map[string]interface{}{
		"meeting_id":    in.MeetingID,
		"model":         a.model,
		"finish_reason": resp.Choices[0].FinishReason,
		"total_tokens":  resp.Usage.TotalTokens,
	}).Debug("Scorecard completion received")

	return parseScorecard(resp.Choices[0].Message.Content, in.Speakers)
}

// parseScorecard decodes a model answer, tolerating a fenced code block
// around the JSON, and normalises scores into 0-10.
func parseScorecard(content string, speakers []string) (*models.Scorecard, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var card models.Scorecard
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &card); err != nil {
		return nil, fmt.Errorf("decoding scorecard: %w", err)
	}

	card.OverallScore = clampScore(card.OverallScore)
	card.EngagementScore = clampScore(card.EngagementScore)
	card.MeetingEffectiveness = clampScore(card.MeetingEffectiveness)
	card.Sentiment = strings.ToLower(strings.TrimSpace(card.Sentiment))
	if card.Sentiment == "" {
		card.Sentiment = "neutral"
	}
	if len(card.Participants) == 0 {
		card.Participants = participants(speakers)
	}
	for _, list := range []*[]string{&card.KeyTopics, &card.ActionItems, &card.Insights, &card.Recommendations} {
		if *list == nil {
			*list = []string{}
		}
	}
	return &card, nil
}
