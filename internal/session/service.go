// Package session runs end-to-end speech translation sessions: it connects
// to the translation endpoint, streams audio at real-time cadence and
// collects the results until the service goes quiet.
package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-translator/internal/audio"
	"github.com/lexiqai/speech-translator/internal/auth"
	"github.com/lexiqai/speech-translator/internal/observability"
	"github.com/lexiqai/speech-translator/internal/translator"
)

const (
	kindTranslate  = "translate"
	kindSynthesize = "synthesize"
)

// Service runs translation sessions; one Service is shared by all callers
type Service struct {
	cfg        Config
	tokens     auth.TokenProvider
	loader     *audio.Loader
	clock      clock.Clock
	logger     zerolog.Logger
	clientOpts []translator.ClientOption
}

// Option customizes a Service
type Option func(*Service)

// WithClock drives pacing and the idle watchdog from clk
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		s.clock = clk
	}
}

// WithClientOptions is passed to every translator client the service creates
func WithClientOptions(opts ...translator.ClientOption) Option {
	return func(s *Service) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// WithLoader replaces the audio loader
func WithLoader(l *audio.Loader) Option {
	return func(s *Service) {
		s.loader = l
	}
}

// NewService creates a session service
func NewService(cfg Config, tokens auth.TokenProvider, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		tokens: tokens,
		clock:  clock.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loader == nil {
		s.loader = audio.NewLoader(logger)
	}
	return s
}

// Config returns the settings sessions are run with
func (s *Service) Config() Config {
	return s.cfg
}

// SpeechToTranslatedText streams the WAV file at audioURL followed by a
// trailing silence pad and returns the first utterance the service
// recognized, or nil when it recognized nothing. The report is returned on
// every path, including failures.
func (s *Service) SpeechToTranslatedText(ctx context.Context, audioURL, from, to string) (*Utterance, *Report, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, &Report{Outcome: OutcomeFailed}, err
	}

	src, err := s.loader.LoadSource(ctx, audioURL)
	if err != nil {
		return nil, &Report{Outcome: OutcomeFailed}, err
	}
	silence, err := audio.NewSilenceSource(s.cfg.SilencePadMs)
	if err != nil {
		return nil, &Report{Outcome: OutcomeFailed}, err
	}
	sources := audio.NewCollection(src, silence)
	chunks, err := sources.Emit(s.cfg.ChunkMs)
	if err != nil {
		return nil, &Report{Outcome: OutcomeFailed}, err
	}

	report, err := s.run(ctx, request{
		kind:     kindTranslate,
		from:     from,
		to:       to,
		voice:    s.cfg.Voice,
		features: s.cfg.Features,
		start: func(ctx context.Context, st *stream) error {
			if level := src.Level(); level < audio.SilenceThreshold {
				st.logger.Warn().Float64("rms", level).Str("audio", src.Name()).Msg("Input audio is silent")
			}
			sources.OnSourceChange(func(index int, src audio.Source) {
				if index > 0 {
					st.logger.Debug().Int("chunks_sent", st.chunksSent).Msg("Audio exhausted, sending trailing silence")
				}
			})
			st.client.SendBinary(audio.StreamingHeader())
			return st.pump(ctx, chunks)
		},
	})
	return report.First(), report, err
}

// Synthesize sends text for speech synthesis and collects the audio
// segments the service returns until it goes quiet.
func (s *Service) Synthesize(ctx context.Context, text, from, to, voice string) (*Report, error) {
	if err := s.cfg.Validate(); err != nil {
		return &Report{Outcome: OutcomeFailed}, err
	}
	if strings.TrimSpace(text) == "" {
		return &Report{Outcome: OutcomeFailed}, fmt.Errorf("%w: text", translator.ErrMissingOption)
	}
	if voice == "" {
		voice = s.cfg.Voice
	}

	features := slices.Clone(s.cfg.Features)
	if !slices.Contains(features, translator.FeatureTextToSpeech) {
		features = append(features, translator.FeatureTextToSpeech)
	}

	return s.run(ctx, request{
		kind:     kindSynthesize,
		from:     from,
		to:       to,
		voice:    voice,
		features: features,
		start: func(ctx context.Context, st *stream) error {
			if err := st.client.SendText(text).Wait(ctx); err != nil && ctx.Err() == nil {
				st.logger.Warn().Err(err).Msg("Text frame was not delivered")
			}
			return nil
		},
	})
}

// request describes what one session sends once connected
type request struct {
	kind     string
	from     string
	to       string
	voice    string
	features []translator.Feature
	// start queues the outbound traffic and returns once it has been sent
	start func(ctx context.Context, st *stream) error
}

func (s *Service) run(ctx context.Context, req request) (*Report, error) {
	correlationID := observability.NewCorrelationID()
	base := observability.WithCorrelationID(s.logger, correlationID)
	logger := observability.WithComponent(base, "session").
		With().
		Str("kind", req.kind).
		Logger()

	metrics := observability.NewSessionMetrics(req.kind)
	metrics.RecordSessionStart()

	report := &Report{CorrelationID: correlationID, Started: s.clock.Now()}
	finish := func(outcome Outcome, err error) (*Report, error) {
		report.Outcome = outcome
		report.Duration = s.clock.Since(report.Started)
		metrics.RecordSessionEnd(string(outcome))

		event := logger.Info()
		if outcome == OutcomeFailed {
			event = logger.Error().Err(err)
		}
		event.
			Str("outcome", string(outcome)).
			Int("utterances", len(report.Utterances)).
			Int("errors", len(report.Errors)).
			Dur("duration", report.Duration).
			Msg("Session finished")
		return report, err
	}

	logger.Info().Str("from", req.from).Str("to", req.to).Msg("Starting session")

	token, err := s.tokens.Token(ctx)
	if err != nil {
		metrics.RecordError("token", "auth")
		return finish(OutcomeFailed, fmt.Errorf("failed to acquire token: %w", err))
	}

	opts := translator.Options{
		Hostname:          s.cfg.Hostname,
		From:              req.from,
		To:                req.to,
		Voice:             req.voice,
		Features:          req.features,
		Profanity:         s.cfg.Profanity,
		Experimental:      s.cfg.Experimental,
		AuthToken:         token,
		ClientAppID:       s.cfg.ClientAppID,
		CorrelationID:     correlationID,
		ReceiveBufferSize: s.cfg.ReceiveBufferSize,
		PollInterval:      s.cfg.SendPollInterval,
	}

	client := translator.NewClient(base, s.clientOpts...)
	metrics.RecordConnectStart()
	if err := client.Connect(ctx, opts); err != nil {
		metrics.RecordConnectEnd(false)
		report.Errors = client.ErrorLog().Entries()
		return finish(OutcomeFailed, err)
	}
	metrics.RecordConnectEnd(true)

	if !client.IsConnected() {
		client.Disconnect()
		report.Errors = client.ErrorLog().Entries()
		return finish(OutcomeFailed, fmt.Errorf("%w: connection is %s after handshake", translator.ErrTransport, client.State()))
	}

	st := newStream(s.cfg, s.clock, client, logger, metrics, correlationID)
	st.collect()

	outcome, runErr := st.run(ctx, func(ctx context.Context) error {
		return req.start(ctx, st)
	})

	client.Disconnect()
	st.wait()
	st.fill(report)
	report.Errors = client.ErrorLog().Entries()

	return finish(outcome, runErr)
}
