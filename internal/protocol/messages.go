package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// ResultType is the discriminator carried in the "type" field of every inbound text document
type ResultType string

const (
	TypePartial ResultType = "partial"
	TypeFinal   ResultType = "final"
)

// TickDuration is the length of one service tick
const TickDuration = 100 * time.Nanosecond

// Ticks is an audio position or length in 100ns units. The service encodes it
// as a decimal string; bare JSON numbers are accepted as well.
type Ticks int64

// Duration converts ticks to a time.Duration
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * TickDuration
}

// UnmarshalJSON accepts "123" and 123
func (t *Ticks) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tick count %q: %w", data, err)
	}
	*t = Ticks(v)
	return nil
}

// MarshalJSON encodes ticks as a decimal string
func (t Ticks) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(t), 10))), nil
}

// ResultBody holds the fields shared by partial and final results
type ResultBody struct {
	ID              string `json:"id"`
	Recognition     string `json:"recognition"`
	Translation     string `json:"translation,omitempty"`
	AudioTimeOffset Ticks  `json:"audioTimeOffset"`
	AudioTimeSize   Ticks  `json:"audioTimeSize"`
}

// Offset is the start of the recognized audio relative to the stream start
func (b ResultBody) Offset() time.Duration {
	return b.AudioTimeOffset.Duration()
}

// Duration is the length of the recognized audio
func (b ResultBody) Duration() time.Duration {
	return b.AudioTimeSize.Duration()
}

// Result is either a *PartialResult or a *FinalResult
type Result interface {
	Kind() ResultType
	Body() ResultBody
	isResult()
}

// PartialResult is an interim hypothesis that may still change
type PartialResult struct {
	ResultBody
}

func (*PartialResult) Kind() ResultType { return TypePartial }
func (r *PartialResult) Body() ResultBody { return r.ResultBody }
func (*PartialResult) isResult() {}

// FinalResult is the settled recognition for a stretch of audio
type FinalResult struct {
	ResultBody
}

func (*FinalResult) Kind() ResultType { return TypeFinal }
func (r *FinalResult) Body() ResultBody { return r.ResultBody }
func (*FinalResult) isResult() {}

// ProtocolError reports a text document that could not be turned into a Result
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed result document: %v", e.Err)
	}
	return fmt.Sprintf("unexpected result type %q", e.Type)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Type ResultType `json:"type"`
}

// ParseResult decodes one complete text document. The discriminator is read
// first, then the document is decoded again into the matching variant.
func ParseResult(doc []byte) (Result, error) {
	if !utf8.Valid(doc) {
		return nil, &ProtocolError{Err: fmt.Errorf("document is not valid UTF-8")}
	}

	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	switch env.Type {
	case TypePartial:
		var r PartialResult
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, &ProtocolError{Type: string(env.Type), Err: err}
		}
		return &r, nil
	case TypeFinal:
		var r FinalResult
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, &ProtocolError{Type: string(env.Type), Err: err}
		}
		return &r, nil
	default:
		return nil, &ProtocolError{Type: string(env.Type)}
	}
}
