package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("BEDROCK_MODEL_ID", "")
	t.Setenv("BATCH_SIZE", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.BedrockModelID != "" {
		t.Fatalf("expected default bedrock model empty, got %s", cfg.BedrockModelID)
	}
	if cfg.BatchSize != 25 {
		t.Fatalf("expected default batch size, got %d", cfg.BatchSize)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval)
	}
	if cfg.PacingMinInterval != 30*time.Second {
		t.Fatalf("expected default pacing interval, got %s", cfg.PacingMinInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("WORKER_ID", "worker-7")
	t.Setenv("BATCH_SIZE", "50")
	t.Setenv("LEASE_TTL", "10m")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BREAKER_COOLDOWN", "1m")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.WorkerID != "worker-7" {
		t.Fatalf("expected worker id override, got %s", cfg.WorkerID)
	}
	if cfg.BatchSize != 50 {
		t.Fatalf("expected batch size override, got %d", cfg.BatchSize)
	}
	if cfg.LeaseTTL != 10*time.Minute {
		t.Fatalf("expected lease ttl override, got %s", cfg.LeaseTTL)
	}
	if cfg.RetryPolicy().MaxRetries != 5 {
		t.Fatalf("expected retry override, got %d", cfg.RetryPolicy().MaxRetries)
	}
	if cfg.BreakerConfig().Cooldown != time.Minute {
		t.Fatalf("expected breaker cooldown override, got %s", cfg.BreakerConfig().Cooldown)
	}
}

func TestPacingRulesOverridePerPlatform(t *testing.T) {
	t.Setenv("PACING_MIN_INTERVAL", "30s")
	t.Setenv("PACING_JITTER_MAX", "20s")
	t.Setenv("PACING_RULES_JSON", `{"zillow":{"min_interval":"45s"},"apartments":{"min_interval":"1m","jitter_max":"30s"}}`)
	cfg := Load()

	rules, err := cfg.PacingRules()
	if err != nil {
		t.Fatalf("parse pacing rules: %v", err)
	}
	zillow := rules["zillow"]
	if zillow.MinInterval != 45*time.Second {
		t.Fatalf("expected zillow min interval override, got %s", zillow.MinInterval)
	}
	if zillow.JitterMax != 20*time.Second {
		t.Fatalf("expected zillow jitter fallback, got %s", zillow.JitterMax)
	}
	apartments := rules["apartments"]
	if apartments.MinInterval != time.Minute || apartments.JitterMax != 30*time.Second {
		t.Fatalf("unexpected apartments rule: %+v", apartments)
	}
}

func TestPacingRulesRejectsMalformedJSON(t *testing.T) {
	t.Setenv("PACING_RULES_JSON", "{not json")
	cfg := Load()
	if _, err := cfg.PacingRules(); err == nil {
		t.Fatalf("expected parse error for malformed pacing rules")
	}
}
