package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.Temperature != 0.7 {
		t.Fatalf("temperature=%v", cfg.Generation.Temperature)
	}
	if cfg.Study.QuestionMaxTokens != 150 || cfg.Study.ReplyMaxTokens != 200 {
		t.Fatalf("tokens=%d/%d", cfg.Study.QuestionMaxTokens, cfg.Study.ReplyMaxTokens)
	}
	if cfg.Study.NextQuestionDelay != time.Second ||
		cfg.Study.QuizTransitionDelay != 3*time.Second ||
		cfg.Study.ReviewTransitionDelay != 5*time.Second {
		t.Fatalf("delays=%+v", cfg.Study)
	}
	if cfg.GenerationEnabled() {
		t.Fatal("generation enabled without a key")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SESSION_TTL", "45m")
	t.Setenv("OPENAI_TIMEOUT", "12")
	t.Setenv("GENERATION_TEMPERATURE", "0.2")
	t.Setenv("NEXT_QUESTION_DELAY", "0s")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.GenerationEnabled() {
		t.Fatal("expected generation enabled")
	}
	if cfg.SessionTTL != 45*time.Minute {
		t.Fatalf("ttl=%v", cfg.SessionTTL)
	}
	if cfg.Generation.Timeout != 12*time.Second {
		t.Fatalf("timeout=%v", cfg.Generation.Timeout)
	}
	if cfg.Generation.Temperature != 0.2 {
		t.Fatalf("temperature=%v", cfg.Generation.Temperature)
	}
	if cfg.Study.NextQuestionDelay != 0 {
		t.Fatalf("next question delay=%v", cfg.Study.NextQuestionDelay)
	}
	if cfg.ConversationLog.Enabled {
		t.Fatal("conversation log should be disabled")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"temperature", func(c *Config) { c.Generation.Temperature = 3 }, "GENERATION_TEMPERATURE"},
		{"tokens", func(c *Config) { c.Study.ReplyMaxTokens = 0 }, "MAX_TOKENS"},
		{"negative delay", func(c *Config) { c.Study.QuizTransitionDelay = -time.Second }, "delays"},
		{"rate limit", func(c *Config) { c.RateLimit.Window = 0 }, "RATE_LIMIT"},
		{"log dir", func(c *Config) { c.ConversationLog.Dir = "" }, "CONVERSATION_LOG_DIR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("origins=%v", got)
	}
	cfg.FrontendURL = "https://study.example.org/, http://localhost:5173"
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://study.example.org" || got[1] != "http://localhost:5173" {
		t.Fatalf("origins=%v", got)
	}
}
