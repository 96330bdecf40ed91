package translator

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// APIVersion is appended to every endpoint
	APIVersion = "1.0"
	// DefaultReceiveBufferSize is the largest piece of a message delivered in one frame event
	DefaultReceiveBufferSize = 8 * 1024
	// DefaultPollInterval bounds how long the send loop waits on an empty queue
	DefaultPollInterval = 100 * time.Millisecond

	endpointPath = "/speech/translate"
)

// Feature is an optional capability requested from the service
type Feature string

const (
	FeatureTextToSpeech Feature = "TextToSpeech"
	FeaturePartial      Feature = "Partial"
	FeatureTimingInfo   Feature = "TimingInfo"
)

// Profanity selects how the service treats profane words
type Profanity string

const (
	ProfanityModerate Profanity = "Moderate"
	ProfanityOff      Profanity = "Off"
	ProfanityStrict   Profanity = "Strict"
)

// ParseFeatures parses a comma separated feature list such as "TimingInfo,Partial"
func ParseFeatures(s string) ([]Feature, error) {
	var features []Feature
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch f := Feature(part); f {
		case FeatureTextToSpeech, FeaturePartial, FeatureTimingInfo:
			features = append(features, f)
		default:
			return nil, fmt.Errorf("%w: unknown feature %q", ErrInvalidOption, part)
		}
	}
	return features, nil
}

// ParseProfanity validates a profanity setting; empty means unset
func ParseProfanity(s string) (Profanity, error) {
	switch p := Profanity(s); p {
	case "", ProfanityModerate, ProfanityOff, ProfanityStrict:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown profanity setting %q", ErrInvalidOption, s)
	}
}

// Options describe one connection to the translation endpoint
type Options struct {
	Hostname     string
	From         string
	To           string
	Voice        string
	Features     []Feature
	Profanity    Profanity
	Experimental bool

	AuthToken     string
	ClientAppID   string
	CorrelationID string

	// ReceiveBufferSize caps the size of one inbound frame event
	ReceiveBufferSize int
	// PollInterval bounds the send loop's wait on an empty queue
	PollInterval time.Duration
}

// Validate checks the options required to build an endpoint
func (o Options) Validate() error {
	switch {
	case o.Hostname == "":
		return fmt.Errorf("%w: hostname", ErrMissingOption)
	case o.From == "":
		return fmt.Errorf("%w: from", ErrMissingOption)
	case o.To == "":
		return fmt.Errorf("%w: to", ErrMissingOption)
	}
	if _, err := ParseProfanity(string(o.Profanity)); err != nil {
		return err
	}
	if o.ReceiveBufferSize < 0 || o.PollInterval < 0 {
		return fmt.Errorf("%w: negative buffer size or poll interval", ErrInvalidOption)
	}
	return nil
}

// URL builds the websocket endpoint. Parameters always appear in the same
// order so the result is deterministic for a given set of options.
func (o Options) URL() string {
	var b strings.Builder
	b.WriteString("wss://")
	b.WriteString(o.Hostname)
	b.WriteString(endpointPath)

	b.WriteString("?from=")
	b.WriteString(url.QueryEscape(o.From))
	b.WriteString("&to=")
	b.WriteString(url.QueryEscape(o.To))

	if o.Voice != "" {
		b.WriteString("&voice=")
		b.WriteString(url.QueryEscape(o.Voice))
	}
	if len(o.Features) > 0 {
		names := make([]string, len(o.Features))
		for i, f := range o.Features {
			names[i] = string(f)
		}
		b.WriteString("&features=")
		b.WriteString(url.QueryEscape(strings.Join(names, ",")))
	}
	if o.Profanity != "" {
		b.WriteString("&profanity=")
		b.WriteString(url.QueryEscape(string(o.Profanity)))
	}
	if o.Experimental {
		b.WriteString("&flight=experimental")
	}

	b.WriteString("&api-version=")
	b.WriteString(APIVersion)
	return b.String()
}

// Header returns the handshake headers; empty values are omitted
func (o Options) Header() http.Header {
	h := http.Header{}
	if o.AuthToken != "" {
		h.Set("Authorization", "Bearer "+o.AuthToken)
	}
	if o.ClientAppID != "" {
		h.Set("X-ClientAppId", o.ClientAppID)
	}
	if o.CorrelationID != "" {
		h.Set("X-CorrelationId", o.CorrelationID)
	}
	return h
}

func (o Options) receiveBufferSize() int {
	if o.ReceiveBufferSize > 0 {
		return o.ReceiveBufferSize
	}
	return DefaultReceiveBufferSize
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return DefaultPollInterval
}
