package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("TRANSLATOR_SUBSCRIPTION_KEY", "test-subscription-key")
	defer os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TranslatorSubscriptionKey != "test-subscription-key" {
		t.Errorf("Expected TranslatorSubscriptionKey 'test-subscription-key', got '%s'", cfg.TranslatorSubscriptionKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Clear environment variables
	os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when the subscription key is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("TRANSLATOR_SUBSCRIPTION_KEY", "test-subscription-key")
	defer os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.TranslatorHost != "dev.microsofttranslator.com" {
		t.Errorf("Expected default TranslatorHost 'dev.microsofttranslator.com', got '%s'", cfg.TranslatorHost)
	}

	if cfg.TranslatorClientAppID != "EA66703D-90A8-436B-9BD6-7A2707A2AD99" {
		t.Errorf("Unexpected default TranslatorClientAppID '%s'", cfg.TranslatorClientAppID)
	}

	if cfg.TranslatorFeatures != "TimingInfo" {
		t.Errorf("Expected default TranslatorFeatures 'TimingInfo', got '%s'", cfg.TranslatorFeatures)
	}

	if cfg.TranslatorProfanity != "Strict" {
		t.Errorf("Expected default TranslatorProfanity 'Strict', got '%s'", cfg.TranslatorProfanity)
	}

	if cfg.AudioChunkMs != 100 {
		t.Errorf("Expected default AudioChunkMs 100, got %d", cfg.AudioChunkMs)
	}

	if cfg.SilencePadMs != 2000 {
		t.Errorf("Expected default SilencePadMs 2000, got %d", cfg.SilencePadMs)
	}

	if cfg.IdleTimeout() != 15*time.Second {
		t.Errorf("Expected default IdleTimeout 15s, got %v", cfg.IdleTimeout())
	}

	if cfg.WatchdogInterval() != 10*time.Millisecond {
		t.Errorf("Expected default WatchdogInterval 10ms, got %v", cfg.WatchdogInterval())
	}

	if cfg.SendPollInterval() != 100*time.Millisecond {
		t.Errorf("Expected default SendPollInterval 100ms, got %v", cfg.SendPollInterval())
	}

	if cfg.ReceiveBufferSize != 8192 {
		t.Errorf("Expected default ReceiveBufferSize 8192, got %d", cfg.ReceiveBufferSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("TRANSLATOR_SUBSCRIPTION_KEY", "test-subscription-key")
	os.Setenv("TRANSLATOR_VOICE", "es-ES-Laura")
	defer os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")
	defer os.Unsetenv("TRANSLATOR_VOICE")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.TranslatorVoice != "es-ES-Laura" {
		t.Errorf("Expected TranslatorVoice 'es-ES-Laura', got '%s'", cfg.TranslatorVoice)
	}
}

func TestLoad_InvalidStreamingSettings(t *testing.T) {
	os.Setenv("TRANSLATOR_SUBSCRIPTION_KEY", "test-subscription-key")
	defer os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")

	tests := []struct {
		key   string
		value string
	}{
		{"AUDIO_CHUNK_MS", "15"},
		{"AUDIO_CHUNK_MS", "0"},
		{"SILENCE_PAD_MS", "-10"},
		{"WATCHDOG_INTERVAL_MS", "0"},
		{"TRANSLATOR_PROFANITY", "Loose"},
		{"TRANSLATOR_FEATURES", "TimingInfo,Subtitles"},
		{"TRANSLATOR_CLIENT_APP_ID", "not-a-guid"},
	}

	for _, tt := range tests {
		os.Setenv(tt.key, tt.value)
		_, err := LoadFromEnv()
		os.Unsetenv(tt.key)

		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s=%s: expected ErrInvalid, got %v", tt.key, tt.value, err)
		}
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("TRANSLATOR_SUBSCRIPTION_KEY", "test-subscription-key")
	defer os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("Expected default ReconnectMaxAttempts 3, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Setenv("TRANSLATOR_SUBSCRIPTION_KEY", "test-subscription-key")
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("TRANSLATOR_SUBSCRIPTION_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
