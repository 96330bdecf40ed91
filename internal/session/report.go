package session

import (
	"time"

	"github.com/lexiqai/speech-translator/internal/protocol"
	"github.com/lexiqai/speech-translator/internal/translator"
)

// Outcome says how a session ended
type Outcome string

const (
	// OutcomeIdle means the service went quiet for the idle threshold
	OutcomeIdle Outcome = "idle"
	// OutcomeCompleted means the service closed the socket normally
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the session could not connect or the socket faulted
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the caller's context ended the session
	OutcomeCancelled Outcome = "cancelled"
)

// Utterance is one recognized and translated unit of speech
type Utterance struct {
	Recognition string
	Translation string
	// AudioURL points at the synthesized translation when one was captured to disk
	AudioURL string
	Offset   time.Duration
	Duration time.Duration
	Final    bool
}

func newUtterance(r protocol.Result) Utterance {
	body := r.Body()
	return Utterance{
		Recognition: body.Recognition,
		Translation: body.Translation,
		Offset:      body.Offset(),
		Duration:    body.Duration(),
		Final:       r.Kind() == protocol.TypeFinal,
	}
}

// Report describes a finished session, including on failure paths
type Report struct {
	CorrelationID string
	Outcome       Outcome
	Utterances    []Utterance
	Errors        []translator.ErrorEntry

	ChunksSent int
	BytesSent  int64

	// Segments holds synthesized audio kept in memory; SegmentFiles lists
	// the files written instead when an output directory is configured.
	Segments     [][]byte
	SegmentFiles []string
	SegmentBytes int64

	Started  time.Time
	Duration time.Duration
}

// First returns the first collected utterance, or nil
func (r *Report) First() *Utterance {
	if r == nil || len(r.Utterances) == 0 {
		return nil
	}
	u := r.Utterances[0]
	return &u
}
