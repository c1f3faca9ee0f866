package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	Environment    string
	APIToken       string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaEnabled       bool
	MeetingEventsTopic string

	// Attendee
	AttendeeAPIKey         string
	AttendeeBaseURL        string
	AttendeeRequestTimeout time.Duration

	// Webhooks
	WebhookSecret  string
	WebhookBaseURL string

	// LLM
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModelName string

	// Scorecards
	ScorecardCacheTTL    time.Duration
	ScorecardAutoTrigger bool
	AnalysisTimeout      time.Duration

	// Server-side polling fallback
	PollingInterval   time.Duration
	PollingStaleAfter time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	// Dashboard client
	DashboardAPIBaseURL      string
	DashboardAPIToken        string
	DashboardCallbackBaseURL string
	DashboardRequestTimeout  time.Duration
	DashboardPollInterval    time.Duration
	DashboardPollMaxDuration time.Duration
	DashboardPollMaxAttempts int
	ScorecardRetryDelay      time.Duration
	ScorecardMaxBackoff      time.Duration
	ScorecardMaxAttempts     int
	AnalysisTriggerDelay     time.Duration
	StuckThreshold           time.Duration
	DashboardStateFile       string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8000"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		Environment:    getEnv("ENVIRONMENT", "development"),
		APIToken:       getEnv("API_TOKEN", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "meetscore"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "meetscore"),
		PostgresDB:       getEnv("POSTGRES_DB", "meetscore"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:       getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "meetscore-analysis"),
		KafkaEnabled:       getBoolEnv("KAFKA_ENABLED", false),
		MeetingEventsTopic: getEnv("MEETING_EVENTS_TOPIC", "meeting-events"),

		AttendeeAPIKey:         getEnv("ATTENDEE_API_KEY", ""),
		AttendeeBaseURL:        getEnv("ATTENDEE_API_BASE_URL", "https://app.attendee.dev"),
		AttendeeRequestTimeout: getDuration("ATTENDEE_REQUEST_TIMEOUT", 30*time.Second),

		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		WebhookBaseURL: getEnv("WEBHOOK_BASE_URL", ""),

		LLMAPIKey:    getEnv("OPENAI_API_KEY", ""),
		LLMBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName: getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		ScorecardCacheTTL:    getDuration("SCORECARD_CACHE_TTL", 10*time.Minute),
		ScorecardAutoTrigger: getBoolEnv("SCORECARD_AUTO_TRIGGER", true),
		AnalysisTimeout:      getDuration("ANALYSIS_TIMEOUT", 2*time.Minute),

		PollingInterval:   getDuration("POLLING_INTERVAL", 60*time.Second),
		PollingStaleAfter: getDuration("POLLING_STALE_AFTER", 10*time.Minute),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		DashboardAPIBaseURL:      getEnv("MEETSCORE_API_BASE_URL", "http://localhost:8000"),
		DashboardAPIToken:        getEnv("DASHBOARD_API_TOKEN", ""),
		DashboardCallbackBaseURL: getEnv("DASHBOARD_CALLBACK_BASE_URL", ""),
		DashboardRequestTimeout:  getDuration("DASHBOARD_REQUEST_TIMEOUT", 15*time.Second),
		DashboardPollInterval:    getDuration("DASHBOARD_POLL_INTERVAL", 5*time.Second),
		DashboardPollMaxDuration: getDuration("DASHBOARD_POLL_MAX_DURATION", 2*time.Hour),
		DashboardPollMaxAttempts: getIntEnv("DASHBOARD_POLL_MAX_ATTEMPTS", 1440),
		ScorecardRetryDelay:      getDuration("SCORECARD_RETRY_DELAY", 5*time.Second),
		ScorecardMaxBackoff:      getDuration("SCORECARD_MAX_BACKOFF", 30*time.Second),
		ScorecardMaxAttempts:     getIntEnv("SCORECARD_MAX_ATTEMPTS", 10),
		AnalysisTriggerDelay:     getDuration("ANALYSIS_TRIGGER_DELAY", 2*time.Second),
		StuckThreshold:           getDuration("DASHBOARD_STUCK_THRESHOLD", 30*time.Minute),
		DashboardStateFile:       getEnv("DASHBOARD_STATE_FILE", defaultStateFile()),
	}
}

// IsProduction reports whether the service runs in a production-like environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "staging"
}

// WebhookURL is the callback registered with the provider for new bots, or ""
// when no externally reachable base URL is configured.
func (c *Config) WebhookURL() string {
	if c.WebhookBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.WebhookBaseURL, "/") + "/webhook/"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultStateFile() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "meetscore", "state.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "meetscore", "state.yaml")
	}
	return "meetscore-state.yaml"
}
