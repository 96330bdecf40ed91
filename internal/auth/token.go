// Package auth issues bearer tokens for the translation endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-translator/internal/resilience"
)

const (
	// SubscriptionKeyHeader carries the subscription key to the issuer
	SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

	// DefaultTokenTTL is how long an issued token is reused. Issued tokens
	// are valid for ten minutes.
	DefaultTokenTTL = 9 * time.Minute

	maxTokenBytes = 16 * 1024
)

// ErrTokenRejected is returned when the issuer refuses the subscription key
var ErrTokenRejected = errors.New("token request rejected")

// TokenProvider returns a bearer token for the translation endpoint
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider always returns the same token
type StaticTokenProvider string

// Token implements TokenProvider
func (s StaticTokenProvider) Token(context.Context) (string, error) {
	return string(s), nil
}

// IssuerConfig configures an IssuerTokenProvider
type IssuerConfig struct {
	Endpoint        string
	SubscriptionKey string
	TTL             time.Duration
	Retry           *resilience.RetryConfig
	HTTPClient      *http.Client
	Clock           clock.Clock
}

// IssuerTokenProvider exchanges a subscription key for a short-lived token
// and caches it until shortly before expiry.
type IssuerTokenProvider struct {
	cfg    IssuerConfig
	logger zerolog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewIssuerTokenProvider creates a provider; zero fields in cfg take defaults
func NewIssuerTokenProvider(cfg IssuerConfig, logger zerolog.Logger) *IssuerTokenProvider {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &IssuerTokenProvider{
		cfg:    cfg,
		logger: logger.With().Str("component", "token_provider").Logger(),
	}
}

// Token returns the cached token or requests a new one. Concurrent callers
// share one request.
func (p *IssuerTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.cfg.Clock.Now().Before(p.expires) {
		return p.token, nil
	}

	var token string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var err error
		token, err = p.issue(ctx)
		return err
	}, p.cfg.Retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return "", fmt.Errorf("failed to obtain token: %w", err)
	}

	p.token = token
	p.expires = p.cfg.Clock.Now().Add(p.cfg.TTL)
	p.logger.Debug().Time("expires", p.expires).Msg("Issued translator token")
	return token, nil
}

// Invalidate drops the cached token so the next call requests a fresh one
func (p *IssuerTokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

// Check probes the issuer, for readiness endpoints
func (p *IssuerTokenProvider) Check(ctx context.Context) error {
	_, err := p.Token(ctx)
	return err
}

func (p *IssuerTokenProvider) issue(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(SubscriptionKeyHeader, p.cfg.SubscriptionKey)
	req.ContentLength = 0

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: status %d", ErrTokenRejected, resp.StatusCode)
		if resilience.IsRetryableStatus(resp.StatusCode) {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenRejected)
	}
	return token, nil
}
