package protocol

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileSinkFactory writes segment i to fmt.Sprintf(pattern, i), creating the
// parent directory when needed.
func FileSinkFactory(pattern string) SinkFactory {
	return func(index int) (io.WriteCloser, error) {
		name := fmt.Sprintf(pattern, index)
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return nil, err
		}
		return os.Create(name)
	}
}

// MemorySinks keeps every completed segment in memory
type MemorySinks struct {
	mu       sync.Mutex
	segments [][]byte
}

// Factory returns a SinkFactory whose sinks report to m on Close
func (m *MemorySinks) Factory() SinkFactory {
	return func(index int) (io.WriteCloser, error) {
		return &memorySink{parent: m}, nil
	}
}

// Segments returns the completed segments in arrival order
func (m *MemorySinks) Segments() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.segments...)
}

type memorySink struct {
	parent *MemorySinks
	buf    bytes.Buffer
}

func (s *memorySink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *memorySink) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.segments = append(s.parent.segments, s.buf.Bytes())
	return nil
}
