package translator

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrMissingOption is returned by Connect when a required option is empty
	ErrMissingOption = errors.New("missing required option")
	// ErrInvalidOption is returned for option values the service does not understand
	ErrInvalidOption = errors.New("invalid option")
	// ErrTransport wraps socket failures after the handshake succeeded
	ErrTransport = errors.New("transport fault")
	// ErrCancelled resolves queued messages that were never written
	ErrCancelled = errors.New("send cancelled")
	// ErrClosed is returned when connecting a client that has already been torn down
	ErrClosed = errors.New("client closed")
)

// ConnectError reports a failed websocket handshake
type ConnectError struct {
	Host       string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to connect to %s (status %d): %v", e.Host, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ErrorEntry is one recorded failure
type ErrorEntry struct {
	Time time.Time
	Err  error
}

// ErrorLog is an append-only, concurrency-safe record of everything that
// went wrong during a connection's lifetime.
type ErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
}

// Add appends err; nil is ignored
func (l *ErrorLog) Add(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ErrorEntry{Time: time.Now(), Err: err})
}

// Entries returns a snapshot of the recorded errors in order
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEntry(nil), l.entries...)
}

// Errors returns the recorded errors without timestamps
func (l *ErrorLog) Errors() []error {
	entries := l.Entries()
	errs := make([]error, len(entries))
	for i, e := range entries {
		errs[i] = e.Err
	}
	return errs
}

// Len returns the number of recorded errors
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
