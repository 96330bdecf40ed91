// Package api exposes translation sessions over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-translator/internal/audio"
	"github.com/lexiqai/speech-translator/internal/observability"
	"github.com/lexiqai/speech-translator/internal/resilience"
	"github.com/lexiqai/speech-translator/internal/session"
	"github.com/lexiqai/speech-translator/internal/translator"
)

const maxRequestBytes = 64 * 1024

// Translator runs one speech translation session
type Translator interface {
	SpeechToTranslatedText(ctx context.Context, audioURL, from, to string) (*session.Utterance, *session.Report, error)
}

// TranslateRequest is the body of POST /v1/speech/translate
type TranslateRequest struct {
	AudioURL string `json:"audioUrl"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// TranslateResponse is returned when something was recognized
type TranslateResponse struct {
	Recognition string `json:"recognition"`
	Translation string `json:"translation"`
	AudioURL    string `json:"audioUrl,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Handler serves translation requests. Handshake failures are retried with
// backoff and counted by a circuit breaker shared across requests.
type Handler struct {
	translator Translator
	breaker    *resilience.CircuitBreaker
	reconnect  *resilience.ReconnectConfig
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewHandler creates a handler; timeout bounds each session
func NewHandler(t Translator, breaker *resilience.CircuitBreaker, reconnect *resilience.ReconnectConfig,
	timeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		translator: t,
		breaker:    breaker,
		reconnect:  reconnect,
		timeout:    timeout,
		logger:     observability.WithComponent(logger, "api"),
	}
}

// Register adds the handler's routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/speech/translate", h.Translate)
}

// Translate handles POST /v1/speech/translate
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "")
		return
	}
	if req.AudioURL == "" || req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "audioUrl, from and to are required", "")
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var (
		utterance *session.Utterance
		report    *session.Report
	)
	err := h.breaker.Call(func() error {
		return resilience.Reconnect(ctx, func(ctx context.Context) (bool, error) {
			var err error
			utterance, report, err = h.translator.SpeechToTranslatedText(ctx, req.AudioURL, req.From, req.To)
			return retryableHandshake(err), err
		}, h.reconnect, h.logger)
	}, countsAsFailure)

	correlationID := ""
	if report != nil {
		correlationID = report.CorrelationID
		w.Header().Set("X-CorrelationId", correlationID)
	}

	if err != nil {
		status := statusFor(err)
		event := h.logger.Warn()
		if status >= http.StatusInternalServerError {
			event = h.logger.Error()
		}
		event.Err(err).
			Int("status", status).
			Str("correlation_id", correlationID).
			Str("audio_url", req.AudioURL).
			Msg("Translation request failed")
		writeError(w, status, err.Error(), correlationID)
		return
	}

	if utterance == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(TranslateResponse{
		Recognition: utterance.Recognition,
		Translation: utterance.Translation,
		AudioURL:    utterance.AudioURL,
	})
}

// retryableHandshake reports whether a failed session is worth another
// attempt: only handshakes that failed without a definitive refusal.
func retryableHandshake(err error) bool {
	var cerr *translator.ConnectError
	if !errors.As(err, &cerr) {
		return false
	}
	return cerr.StatusCode == 0 || resilience.IsRetryableStatus(cerr.StatusCode)
}

// countsAsFailure keeps caller mistakes and cancellations from opening the circuit
func countsAsFailure(err error) bool {
	var cerr *translator.ConnectError
	return errors.As(err, &cerr) || errors.Is(err, translator.ErrTransport)
}

func statusFor(err error) int {
	var cerr *translator.ConnectError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrDataFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audio.ErrInvalidArgument),
		errors.Is(err, translator.ErrMissingOption),
		errors.Is(err, translator.ErrInvalidOption):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &cerr), errors.Is(err, translator.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg, CorrelationID: correlationID})
}
