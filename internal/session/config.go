package session

import (
	"fmt"
	"time"

	"github.com/lexiqai/speech-translator/internal/audio"
	"github.com/lexiqai/speech-translator/internal/config"
	"github.com/lexiqai/speech-translator/internal/translator"
)

// Config controls how sessions connect and pace their audio
type Config struct {
	Hostname     string
	ClientAppID  string
	Features     []translator.Feature
	Profanity    translator.Profanity
	Voice        string
	Experimental bool

	ChunkMs           int
	SilencePadMs      int
	IdleTimeout       time.Duration
	WatchdogInterval  time.Duration
	SendPollInterval  time.Duration
	ReceiveBufferSize int

	// TTSOutputDir receives synthesized segments as files; memory when empty
	TTSOutputDir string
}

// DefaultConfig returns the settings used against the public endpoint
func DefaultConfig() Config {
	return Config{
		Hostname:          "dev.microsofttranslator.com",
		ClientAppID:       "EA66703D-90A8-436B-9BD6-7A2707A2AD99",
		Features:          []translator.Feature{translator.FeatureTimingInfo},
		Profanity:         translator.ProfanityStrict,
		ChunkMs:           100,
		SilencePadMs:      2000,
		IdleTimeout:       15 * time.Second,
		WatchdogInterval:  10 * time.Millisecond,
		SendPollInterval:  translator.DefaultPollInterval,
		ReceiveBufferSize: translator.DefaultReceiveBufferSize,
	}
}

// NewConfig derives session settings from the service configuration
func NewConfig(cfg *config.Config) (Config, error) {
	features, err := translator.ParseFeatures(cfg.TranslatorFeatures)
	if err != nil {
		return Config{}, err
	}
	profanity, err := translator.ParseProfanity(cfg.TranslatorProfanity)
	if err != nil {
		return Config{}, err
	}

	c := Config{
		Hostname:          cfg.TranslatorHost,
		ClientAppID:       cfg.TranslatorClientAppID,
		Features:          features,
		Profanity:         profanity,
		Voice:             cfg.TranslatorVoice,
		Experimental:      cfg.TranslatorExperimental,
		ChunkMs:           cfg.AudioChunkMs,
		SilencePadMs:      cfg.SilencePadMs,
		IdleTimeout:       cfg.IdleTimeout(),
		WatchdogInterval:  cfg.WatchdogInterval(),
		SendPollInterval:  cfg.SendPollInterval(),
		ReceiveBufferSize: cfg.ReceiveBufferSize,
		TTSOutputDir:      cfg.TTSOutputDir,
	}
	return c, c.Validate()
}

// Validate fails on settings that would otherwise break mid-session
func (c Config) Validate() error {
	if _, err := audio.ChunkSize(c.ChunkMs); err != nil {
		return err
	}
	if c.SilencePadMs <= 0 || c.SilencePadMs%audio.FrameDurationMs != 0 {
		return fmt.Errorf("%w: silence pad must be a positive multiple of %dms, got %d",
			audio.ErrInvalidArgument, audio.FrameDurationMs, c.SilencePadMs)
	}
	if c.IdleTimeout <= 0 || c.WatchdogInterval <= 0 {
		return fmt.Errorf("%w: idle timeout and watchdog interval must be positive", audio.ErrInvalidArgument)
	}
	return nil
}
