package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the speech translator service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Translation service endpoint and handshake
	TranslatorHost            string `envconfig:"TRANSLATOR_HOST" default:"dev.microsofttranslator.com"`
	TranslatorSubscriptionKey string `envconfig:"TRANSLATOR_SUBSCRIPTION_KEY" required:"true"`
	TranslatorTokenEndpoint   string `envconfig:"TRANSLATOR_TOKEN_ENDPOINT" default:"https://api.cognitive.microsoft.com/sts/v1.0/issueToken"`
	TranslatorClientAppID     string `envconfig:"TRANSLATOR_CLIENT_APP_ID" default:"EA66703D-90A8-436B-9BD6-7A2707A2AD99"`
	TranslatorFeatures        string `envconfig:"TRANSLATOR_FEATURES" default:"TimingInfo"` // Comma separated: TimingInfo, Partial, TextToSpeech
	TranslatorProfanity       string `envconfig:"TRANSLATOR_PROFANITY" default:"Strict"`    // Moderate, Off, Strict
	TranslatorVoice           string `envconfig:"TRANSLATOR_VOICE" default:""`
	TranslatorExperimental    bool   `envconfig:"TRANSLATOR_EXPERIMENTAL" default:"false"`

	// Streaming configuration
	AudioChunkMs          int    `envconfig:"AUDIO_CHUNK_MS" default:"100"`          // Duration of each audio frame sent
	SilencePadMs          int    `envconfig:"SILENCE_PAD_MS" default:"2000"`         // Trailing silence that makes the recognizer flush
	IdleTimeoutSeconds    int    `envconfig:"IDLE_TIMEOUT_SECONDS" default:"15"`     // Quiet period that ends a session
	WatchdogIntervalMs    int    `envconfig:"WATCHDOG_INTERVAL_MS" default:"10"`     // Liveness and idle polling period
	SendPollIntervalMs    int    `envconfig:"SEND_POLL_INTERVAL_MS" default:"100"`   // Send loop wait on an empty queue
	ReceiveBufferSize     int    `envconfig:"RECEIVE_BUFFER_SIZE" default:"8192"`    // Largest inbound frame piece in bytes
	TTSOutputDir          string `envconfig:"TTS_OUTPUT_DIR" default:""`             // Write synthesized segments here; memory when empty
	SessionTimeoutSeconds int    `envconfig:"SESSION_TIMEOUT_SECONDS" default:"120"` // Upper bound for one HTTP-triggered session

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum token request attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Session attempts on handshake failure
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values that would only fail later, mid-session
func (c *Config) Validate() error {
	if c.TranslatorSubscriptionKey == "" {
		return fmt.Errorf("%w: TRANSLATOR_SUBSCRIPTION_KEY is required", ErrInvalid)
	}
	if c.AudioChunkMs <= 0 || c.AudioChunkMs%10 != 0 {
		return fmt.Errorf("%w: AUDIO_CHUNK_MS must be a positive multiple of 10, got %d", ErrInvalid, c.AudioChunkMs)
	}
	if c.SilencePadMs <= 0 || c.SilencePadMs%10 != 0 {
		return fmt.Errorf("%w: SILENCE_PAD_MS must be a positive multiple of 10, got %d", ErrInvalid, c.SilencePadMs)
	}
	if c.IdleTimeoutSeconds <= 0 || c.WatchdogIntervalMs <= 0 || c.SendPollIntervalMs <= 0 {
		return fmt.Errorf("%w: idle timeout and polling intervals must be positive", ErrInvalid)
	}
	if c.ReceiveBufferSize <= 0 {
		return fmt.Errorf("%w: RECEIVE_BUFFER_SIZE must be positive", ErrInvalid)
	}
	if err := uuid.Validate(c.TranslatorClientAppID); err != nil {
		return fmt.Errorf("%w: TRANSLATOR_CLIENT_APP_ID must be a GUID: %v", ErrInvalid, err)
	}

	switch c.TranslatorProfanity {
	case "", "Moderate", "Off", "Strict":
	default:
		return fmt.Errorf("%w: unknown TRANSLATOR_PROFANITY %q", ErrInvalid, c.TranslatorProfanity)
	}

	for _, f := range strings.Split(c.TranslatorFeatures, ",") {
		switch strings.TrimSpace(f) {
		case "", "TimingInfo", "Partial", "TextToSpeech":
		default:
			return fmt.Errorf("%w: unknown TRANSLATOR_FEATURES entry %q", ErrInvalid, f)
		}
	}

	return nil
}

// IdleTimeout returns the idle threshold as a duration
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// WatchdogInterval returns the watchdog polling period
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalMs) * time.Millisecond
}

// SendPollInterval returns the send loop's queue wait
func (c *Config) SendPollInterval() time.Duration {
	return time.Duration(c.SendPollIntervalMs) * time.Millisecond
}

// SessionTimeout returns the bound for one HTTP-triggered session
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
