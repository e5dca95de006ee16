// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	// SweepInterval is how often idle study sessions are evicted.
	SweepInterval time.Duration
	// ResultsToken guards the stored results listing. Empty disables it.
	ResultsToken string

	Generation      GenerationConfig
	Study           StudyConfig
	RateLimit       RateLimitConfig
	Realtime        RealtimeConfig
	ConversationLog ConversationLogConfig
}

// GenerationConfig configures the chat-completions endpoint.
type GenerationConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// Timeout bounds one generation request. Zero disables it.
	Timeout time.Duration
}

// StudyConfig holds the study pacing and token budgets.
type StudyConfig struct {
	QuestionMaxTokens     int
	ReplyMaxTokens        int
	NextQuestionDelay     time.Duration
	QuizTransitionDelay   time.Duration
	ReviewTransitionDelay time.Duration
}

// RateLimitConfig limits study actions per participant.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RealtimeConfig sizes the per-session event log kept for reconnects.
type RealtimeConfig struct {
	EventBufferSize int
	PingInterval    time.Duration
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "9090"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/study.db"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		ResultsToken:  getEnv("RESULTS_TOKEN", ""),
		Generation: GenerationConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
			Model:       getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			Temperature: getEnvFloat("GENERATION_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
		Study: StudyConfig{
			QuestionMaxTokens:     getEnvInt("QUESTION_MAX_TOKENS", 150),
			ReplyMaxTokens:        getEnvInt("REPLY_MAX_TOKENS", 200),
			NextQuestionDelay:     getEnvDuration("NEXT_QUESTION_DELAY", 1*time.Second),
			QuizTransitionDelay:   getEnvDuration("QUIZ_TRANSITION_DELAY", 3*time.Second),
			ReviewTransitionDelay: getEnvDuration("REVIEW_TRANSITION_DELAY", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Realtime: RealtimeConfig{
			EventBufferSize: getEnvInt("EVENT_BUFFER_SIZE", 500),
			PingInterval:    getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("GENERATION_TEMPERATURE must be within [0, 2]")
	}
	if c.Study.QuestionMaxTokens <= 0 || c.Study.ReplyMaxTokens <= 0 {
		return fmt.Errorf("QUESTION_MAX_TOKENS and REPLY_MAX_TOKENS must be > 0")
	}
	if c.Study.NextQuestionDelay < 0 || c.Study.QuizTransitionDelay < 0 || c.Study.ReviewTransitionDelay < 0 {
		return fmt.Errorf("study delays cannot be negative")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Realtime.EventBufferSize <= 0 {
		return fmt.Errorf("EVENT_BUFFER_SIZE must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// GenerationEnabled reports whether an API key is configured.
func (c *Config) GenerationEnabled() bool {
	return strings.TrimSpace(c.Generation.APIKey) != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
