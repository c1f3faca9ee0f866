package attendee

import (
	"strings"

	"github.com/meetscore/platform/pkg/common/models"
)

// MapState translates a provider bot state into the backend lifecycle. The
// second result is false for states the backend does not recognise; callers
// keep the current status in that case.
//
// An ended bot counts as completed unless the provider reports its recording
// or transcription as failed.
func MapState(state, transcriptionState, recordingState string) (models.BotStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ended":
		if isFailed(transcriptionState) || isFailed(recordingState) {
			return models.BotFailed, true
		}
		return models.BotCompleted, true
	case "failed", "error", "fatal_error", "data_deleted":
		return models.BotFailed, true
	case "pending", "ready", "staged", "scheduled":
		return models.BotPending, true
	case "joining", "join_requested", "waiting_room", "joined", "joined_meeting",
		"joined_not_recording", "joined_recording", "recording", "started",
		"recording_permission_granted", "recording_permission_denied",
		"leaving", "post_processing":
		return models.BotStarted, true
	}
	return "", false
}

// MapBotState is MapState applied to a fetched bot.
func MapBotState(b *BotState) (models.BotStatus, bool) {
	if b == nil {
		return "", false
	}
	return MapState(b.State, b.TranscriptionState, b.RecordingState)
}

func isFailed(s string) bool {
	s = strings.ToLower(s)
	return s == "failed" || s == "error"
}
