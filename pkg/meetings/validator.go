package meetings

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
)

var (
	errInvalidMeetingURL = errors.New("invalid meeting url")
	errInvalidBotName    = errors.New("invalid bot name")
	errInvalidJoinAt     = errors.New("invalid join_at")
	errInvalidWebhook    = errors.New("invalid webhook")
)

const maxBotNameLength = 100

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

type Validator struct {
	now      func() time.Time
	joinSkew time.Duration
}

func NewValidator() *Validator {
	return &Validator{now: time.Now, joinSkew: time.Minute}
}

func (v *Validator) Validate(req models.CreateBotRequest) error {
	if v == nil {
		return ValidationError{reason: errors.New("validator not initialised")}
	}

	raw := strings.TrimSpace(req.MeetingURL)
	if raw == "" {
		return ValidationError{reason: fmt.Errorf("meeting_url required: %w", errInvalidMeetingURL)}
	}
	if !absoluteHTTP(raw) {
		return ValidationError{reason: fmt.Errorf("meeting_url '%s' must be an absolute http(s) url: %w", raw, errInvalidMeetingURL)}
	}

	name := strings.TrimSpace(req.BotName)
	if name == "" {
		return ValidationError{reason: fmt.Errorf("bot_name required: %w", errInvalidBotName)}
	}
	if len([]rune(name)) > maxBotNameLength {
		return ValidationError{reason: fmt.Errorf("bot_name longer than %d characters: %w", maxBotNameLength, errInvalidBotName)}
	}

	if req.JoinAt != nil && req.JoinAt.Before(v.now().Add(-v.joinSkew)) {
		return ValidationError{reason: fmt.Errorf("join_at is in the past: %w", errInvalidJoinAt)}
	}

	for _, hook := range req.Webhooks {
		if !absoluteHTTP(hook.URL) {
			return ValidationError{reason: fmt.Errorf("webhook url '%s' must be an absolute http(s) url: %w", hook.URL, errInvalidWebhook)}
		}
	}
	return nil
}

func absoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
