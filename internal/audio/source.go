package audio

import (
	"fmt"
	"iter"
	"sync"
)

// Source emits raw 16kHz/16-bit/mono PCM in chunks of a fixed duration.
// Every chunk handed to the consumer is exactly ChunkSize(chunkMs) bytes and
// owned by the consumer.
type Source interface {
	Emit(chunkMs int) (iter.Seq[[]byte], error)
}

// ChunkSize returns the byte length of a chunk of chunkMs milliseconds
func ChunkSize(chunkMs int) (int, error) {
	if chunkMs < FrameDurationMs || chunkMs%FrameDurationMs != 0 {
		return 0, fmt.Errorf("%w: chunk duration %dms must be a positive multiple of %dms",
			ErrInvalidArgument, chunkMs, FrameDurationMs)
	}
	return FrameBytes * (chunkMs / FrameDurationMs), nil
}

// FileSource replays the PCM payload of a WAV file
type FileSource struct {
	name string
	pcm  []byte
}

// NewFileSource parses a WAV buffer and keeps its data payload
func NewFileSource(name string, wav []byte) (*FileSource, error) {
	pcm, err := ExtractPCM(wav)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return &FileSource{name: name, pcm: pcm}, nil
}

// NewPCMSource wraps headerless PCM
func NewPCMSource(name string, pcm []byte) *FileSource {
	return &FileSource{name: name, pcm: pcm}
}

// Name returns the label the source was created with
func (s *FileSource) Name() string {
	return s.name
}

// Len returns the number of PCM bytes
func (s *FileSource) Len() int {
	return len(s.pcm)
}

// Emit slices the payload into chunks; the last one is zero-padded to full size.
func (s *FileSource) Emit(chunkMs int) (iter.Seq[[]byte], error) {
	size, err := ChunkSize(chunkMs)
	if err != nil {
		return nil, err
	}

	data := s.pcm
	return func(yield func([]byte) bool) {
		pos := 0
		for ; len(data)-pos >= size; pos += size {
			chunk := make([]byte, size)
			copy(chunk, data[pos:pos+size])
			if !yield(chunk) {
				return
			}
		}
		if pos < len(data) {
			last := make([]byte, size)
			copy(last, data[pos:])
			yield(last)
		}
	}, nil
}

// SilenceSource emits zeroed chunks for a fixed duration
type SilenceSource struct {
	durationMs int
}

// NewSilenceSource creates a silence source of durationMs milliseconds
func NewSilenceSource(durationMs int) (*SilenceSource, error) {
	if durationMs < FrameDurationMs || durationMs%FrameDurationMs != 0 {
		return nil, fmt.Errorf("%w: silence duration %dms must be a positive multiple of %dms",
			ErrInvalidArgument, durationMs, FrameDurationMs)
	}
	return &SilenceSource{durationMs: durationMs}, nil
}

// DurationMs returns the configured silence length
func (s *SilenceSource) DurationMs() int {
	return s.durationMs
}

// Emit yields floor(duration/chunk)+1 zero chunks. The trailing extra chunk
// keeps the server's endpointer fed past the nominal duration.
func (s *SilenceSource) Emit(chunkMs int) (iter.Seq[[]byte], error) {
	size, err := ChunkSize(chunkMs)
	if err != nil {
		return nil, err
	}

	duration := s.durationMs
	return func(yield func([]byte) bool) {
		for remaining := duration; remaining >= 0; remaining -= chunkMs {
			if !yield(make([]byte, size)) {
				return
			}
		}
	}, nil
}

// SourceObserver is notified each time a Collection starts emitting from a new source
type SourceObserver func(index int, src Source)

// Collection plays several sources back to back
type Collection struct {
	sources []Source

	mu        sync.RWMutex
	observers []SourceObserver
}

// NewCollection creates a collection over sources in order
func NewCollection(sources ...Source) *Collection {
	return &Collection{sources: sources}
}

// OnSourceChange registers an observer
func (c *Collection) OnSourceChange(fn SourceObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Sources returns the sources in playback order
func (c *Collection) Sources() []Source {
	return c.sources
}

// Emit validates every source up front so an invalid duration fails before
// any chunk is produced, then concatenates their chunks.
func (c *Collection) Emit(chunkMs int) (iter.Seq[[]byte], error) {
	if _, err := ChunkSize(chunkMs); err != nil {
		return nil, err
	}

	seqs := make([]iter.Seq[[]byte], len(c.sources))
	for i, src := range c.sources {
		seq, err := src.Emit(chunkMs)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		seqs[i] = seq
	}

	return func(yield func([]byte) bool) {
		for i, seq := range seqs {
			c.notify(i, c.sources[i])
			for chunk := range seq {
				if !yield(chunk) {
					return
				}
			}
		}
	}, nil
}

func (c *Collection) notify(index int, src Source) {
	c.mu.RLock()
	observers := append([]SourceObserver(nil), c.observers...)
	c.mu.RUnlock()

	for _, fn := range observers {
		fn(index, src)
	}
}
