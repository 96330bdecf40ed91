package protocol

import (
	"bytes"
	"sync/atomic"
)

// TextDecoder reassembles fragmented text frames into whole documents.
// Append and End are called from a single receive goroutine; End hands the
// accumulated bytes off with one atomic swap so ParseResult can run elsewhere.
type TextDecoder struct {
	buf atomic.Pointer[bytes.Buffer]
}

// NewTextDecoder creates an empty decoder
func NewTextDecoder() *TextDecoder {
	d := &TextDecoder{}
	d.buf.Store(new(bytes.Buffer))
	return d
}

// Append adds a non-final fragment of the current document
func (d *TextDecoder) Append(fragment []byte) {
	d.buf.Load().Write(fragment)
}

// End appends the final fragment and returns the complete document,
// leaving the decoder ready for the next one.
func (d *TextDecoder) End(fragment []byte) []byte {
	d.Append(fragment)
	return d.buf.Swap(new(bytes.Buffer)).Bytes()
}

// Pending returns the number of bytes buffered for the current document
func (d *TextDecoder) Pending() int {
	return d.buf.Load().Len()
}
