package audio

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/cavaliergopher/grab/v3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// Loader fetches WAV files from a local path, a file:// URL or an http(s) URL
type Loader struct {
	client *grab.Client
	logger zerolog.Logger
}

// NewLoader creates a loader that downloads remote audio into memory
func NewLoader(logger zerolog.Logger) *Loader {
	client := grab.NewClient()
	client.UserAgent = "speech-translator"

	return &Loader{
		client: client,
		logger: logger.With().Str("component", "audio_loader").Logger(),
	}
}

// Load returns the raw bytes behind location after checking they look like WAV
func (l *Loader) Load(ctx context.Context, location string) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	u, parseErr := url.Parse(location)
	switch {
	case parseErr == nil && (u.Scheme == "http" || u.Scheme == "https"):
		data, err = l.download(ctx, u.String())
	case parseErr == nil && u.Scheme == "file":
		data, err = os.ReadFile(u.Path)
	default:
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audio from %s: %w", location, err)
	}

	mt := mimetype.Detect(data)
	if !mt.Is("audio/wav") {
		return nil, fmt.Errorf("%w: %s is %s", ErrDataFormat, location, mt.String())
	}

	l.logger.Debug().
		Str("location", location).
		Int("bytes", len(data)).
		Str("mime", mt.String()).
		Msg("Audio loaded")

	return data, nil
}

// LoadSource loads location and wraps its PCM payload in a FileSource
func (l *Loader) LoadSource(ctx context.Context, location string) (*FileSource, error) {
	data, err := l.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	return NewFileSource(path.Base(location), data)
}

func (l *Loader) download(ctx context.Context, location string) ([]byte, error) {
	req, err := grab.NewRequest("", location)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	// Keep the payload in memory; nothing is written to disk
	req.NoStore = true

	resp := l.client.Do(req)
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Bytes()
}
