package protocol

import (
	"fmt"
	"io"

	"github.com/lexiqai/speech-translator/internal/audio"
)

// SinkFactory opens the destination for segment number index
type SinkFactory func(index int) (io.WriteCloser, error)

// SegmentFunc is called after a segment has been fully written and its sink closed
type SegmentFunc func(index int, size int64)

// BinaryDecoder splits the inbound binary stream into self-delimited WAV
// segments. Each segment starts with a RIFF/WAVE preamble whose size field is
// the total segment length, header included. Bytes are written verbatim.
type BinaryDecoder struct {
	newSink    SinkFactory
	onSegment  SegmentFunc
	sink       io.WriteCloser
	header     []byte
	remaining  int64
	written    int64
	index      int
	totalBytes int64
}

// NewBinaryDecoder creates a decoder that opens one sink per segment
func NewBinaryDecoder(newSink SinkFactory) *BinaryDecoder {
	return &BinaryDecoder{
		newSink: newSink,
		header:  make([]byte, 0, audio.RIFFHeaderSize),
	}
}

// OnSegment registers a callback for completed segments
func (d *BinaryDecoder) OnSegment(fn SegmentFunc) {
	d.onSegment = fn
}

// Append feeds the next piece of the binary stream. A piece may end in the
// middle of a segment, finish one and start the next, or split a header.
func (d *BinaryDecoder) Append(data []byte) error {
	for len(data) > 0 {
		if d.sink == nil {
			// Collect the preamble before opening a sink
			take := min(audio.RIFFHeaderSize-len(d.header), len(data))
			d.header = append(d.header, data[:take]...)
			data = data[take:]
			if len(d.header) < audio.RIFFHeaderSize {
				return nil
			}
			if err := d.open(); err != nil {
				return err
			}
			continue
		}

		n := min(int64(len(data)), d.remaining)
		if err := d.write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (d *BinaryDecoder) open() error {
	header := d.header
	d.header = d.header[:0]

	size, err := audio.ParseRIFFHeader(header)
	if err != nil {
		return fmt.Errorf("segment %d: %w", d.index, err)
	}
	if size < audio.RIFFHeaderSize {
		return fmt.Errorf("segment %d: %w: declared size %d is smaller than its header", d.index, audio.ErrDataFormat, size)
	}

	sink, err := d.newSink(d.index)
	if err != nil {
		return fmt.Errorf("failed to open sink for segment %d: %w", d.index, err)
	}
	d.sink = sink
	d.remaining = int64(size)
	d.written = 0

	return d.write(header)
}

func (d *BinaryDecoder) write(p []byte) error {
	n, err := d.sink.Write(p)
	d.remaining -= int64(n)
	d.written += int64(n)
	d.totalBytes += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write segment %d: %w", d.index, err)
	}
	if d.remaining <= 0 {
		return d.finish()
	}
	return nil
}

func (d *BinaryDecoder) finish() error {
	index, size := d.index, d.written
	err := d.sink.Close()
	d.sink = nil
	d.index++

	if err != nil {
		return fmt.Errorf("failed to close segment %d: %w", index, err)
	}
	if d.onSegment != nil {
		d.onSegment(index, size)
	}
	return nil
}

// Segments returns the number of completed segments
func (d *BinaryDecoder) Segments() int {
	return d.index
}

// Bytes returns the number of bytes written to sinks so far
func (d *BinaryDecoder) Bytes() int64 {
	return d.totalBytes
}

// Close releases a sink left open by a truncated stream. It reports
// io.ErrUnexpectedEOF when a segment or header was cut short.
func (d *BinaryDecoder) Close() error {
	if d.sink == nil {
		if len(d.header) > 0 {
			d.header = d.header[:0]
			return fmt.Errorf("segment %d: header: %w", d.index, io.ErrUnexpectedEOF)
		}
		return nil
	}

	index, missing := d.index, d.remaining
	err := d.sink.Close()
	d.sink = nil
	d.index++
	if err != nil {
		return fmt.Errorf("failed to close segment %d: %w", index, err)
	}
	return fmt.Errorf("segment %d: %d bytes missing: %w", index, missing, io.ErrUnexpectedEOF)
}
