package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/leaseline/leasing-ai-platform/internal/connector"
)

// Config holds application configuration
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	DeadLetterQueueURL  string
	UseMemoryQueue      bool

	BedrockModelID string

	SidecarBaseURL    string
	AdapterConfigPath string

	WorkerID       string
	PollInterval   time.Duration
	BatchSize      int
	LeaseTTL       time.Duration
	SlotLimit      int
	FallbackIntent string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitterRatio float64

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	PacingMinInterval time.Duration
	PacingJitterMax   time.Duration
	// PacingRulesJSON overrides pacing per platform without a redeploy, e.g.
	// {"zillow":{"min_interval":"45s","jitter_max":"30s"}}
	PacingRulesJSON string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DeadLetterQueueURL:  getEnv("DEAD_LETTER_QUEUE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		SidecarBaseURL:    getEnv("RPA_SIDECAR_URL", "http://localhost:8700"),
		AdapterConfigPath: getEnv("RPA_ADAPTER_CONFIG", "configs/adapters.json"),

		WorkerID:       getEnv("WORKER_ID", defaultWorkerID()),
		PollInterval:   getEnvAsDuration("POLL_INTERVAL", 15*time.Second),
		BatchSize:      getEnvAsInt("BATCH_SIZE", 25),
		LeaseTTL:       getEnvAsDuration("LEASE_TTL", 5*time.Minute),
		SlotLimit:      getEnvAsInt("SLOT_LIMIT", 3),
		FallbackIntent: getEnv("FALLBACK_INTENT", "tour_request"),

		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
		RetryMaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
		RetryJitterRatio: getEnvAsFloat("RETRY_JITTER_RATIO", 0.2),

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerCooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),

		PacingMinInterval: getEnvAsDuration("PACING_MIN_INTERVAL", 30*time.Second),
		PacingJitterMax:   getEnvAsDuration("PACING_JITTER_MAX", 20*time.Second),
		PacingRulesJSON:   getEnv("PACING_RULES_JSON", ""),
	}
}

// RetryPolicy converts the retry settings into the connector policy.
func (c *Config) RetryPolicy() connector.RetryPolicy {
	return connector.RetryPolicy{
		MaxRetries:  c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Factor:      2,
		JitterRatio: c.RetryJitterRatio,
	}
}

// BreakerConfig converts the breaker settings into the connector config.
func (c *Config) BreakerConfig() connector.BreakerConfig {
	return connector.BreakerConfig{
		FailureThreshold: c.BreakerFailureThreshold,
		Cooldown:         c.BreakerCooldown,
	}
}

// PacingFallback is the pacing rule for platforms without an explicit entry.
func (c *Config) PacingFallback() connector.PacingRule {
	return connector.PacingRule{
		MinInterval: c.PacingMinInterval,
		JitterMax:   c.PacingJitterMax,
	}
}

type pacingRuleJSON struct {
	MinInterval string `json:"min_interval"`
	JitterMax   string `json:"jitter_max"`
}

// PacingRules parses the per-platform pacing overrides. An empty setting
// yields an empty map so every platform uses the fallback rule.
func (c *Config) PacingRules() (map[string]connector.PacingRule, error) {
	rules := make(map[string]connector.PacingRule)
	if c.PacingRulesJSON == "" {
		return rules, nil
	}
	var raw map[string]pacingRuleJSON
	if err := json.Unmarshal([]byte(c.PacingRulesJSON), &raw); err != nil {
		return nil, fmt.Errorf("config: parse PACING_RULES_JSON: %w", err)
	}
	for platform, entry := range raw {
		rule := c.PacingFallback()
		if entry.MinInterval != "" {
			d, err := time.ParseDuration(entry.MinInterval)
			if err != nil {
				return nil, fmt.Errorf("config: pacing min_interval for %s: %w", platform, err)
			}
			rule.MinInterval = d
		}
		if entry.JitterMax != "" {
			d, err := time.ParseDuration(entry.JitterMax)
			if err != nil {
				return nil, fmt.Errorf("config: pacing jitter_max for %s: %w", platform, err)
			}
			rule.JitterMax = d
		}
		rules[platform] = rule
	}
	return rules, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "decision-worker"
	}
	return host
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
