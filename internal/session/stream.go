package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/speech-translator/internal/observability"
	"github.com/lexiqai/speech-translator/internal/protocol"
	"github.com/lexiqai/speech-translator/internal/translator"
)

var (
	errIdle         = errors.New("no inbound traffic within the idle timeout")
	errRemoteClosed = errors.New("service closed the connection")
)

// stream is the per-session state shared by the pump, the watchdog and the
// inbound consumers.
type stream struct {
	cfg     Config
	clock   clock.Clock
	client  *translator.Client
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	lastPacket atomic.Int64
	pumpDone   atomic.Bool

	// owned by the pump goroutine
	chunksSent int
	bytesSent  int64

	text *protocol.TextDecoder
	// one worker keeps decoded results in arrival order
	decoders *workerpool.WorkerPool

	binary    *protocol.BinaryDecoder
	binaryErr error
	memory    *protocol.MemorySinks
	pattern   string

	consumers sync.WaitGroup

	mu           sync.Mutex
	utterances   []Utterance
	segmentFiles []string
}

func newStream(cfg Config, clk clock.Clock, client *translator.Client, logger zerolog.Logger,
	metrics *observability.SessionMetrics, correlationID string) *stream {
	st := &stream{
		cfg:      cfg,
		clock:    clk,
		client:   client,
		logger:   logger,
		metrics:  metrics,
		text:     protocol.NewTextDecoder(),
		decoders: workerpool.New(1),
	}

	var sinks protocol.SinkFactory
	if cfg.TTSOutputDir != "" {
		st.pattern = filepath.Join(cfg.TTSOutputDir, correlationID+"-%03d.wav")
		sinks = protocol.FileSinkFactory(st.pattern)
	} else {
		st.memory = &protocol.MemorySinks{}
		sinks = st.memory.Factory()
	}
	st.binary = protocol.NewBinaryDecoder(sinks)
	st.binary.OnSegment(st.segmentDone)

	st.touch()
	return st
}

// run drives start and the watchdog until one of them ends the session
func (st *stream) run(ctx context.Context, start func(ctx context.Context) error) (Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := start(gctx); err != nil {
			return err
		}
		st.pumpDone.Store(true)
		return nil
	})
	g.Go(func() error {
		return st.watch(gctx)
	})

	err := g.Wait()
	switch {
	case ctx.Err() != nil:
		return OutcomeCancelled, ctx.Err()
	case errors.Is(err, errIdle):
		return OutcomeIdle, nil
	case errors.Is(err, errRemoteClosed):
		return OutcomeCompleted, nil
	default:
		return OutcomeFailed, err
	}
}

// pump sends chunks against wall-clock deadlines so the service receives
// audio at real-time cadence. Each deadline advances by exactly one chunk
// duration, so scheduling delays do not accumulate.
func (st *stream) pump(ctx context.Context, chunks iter.Seq[[]byte]) error {
	step := time.Duration(st.cfg.ChunkMs) * time.Millisecond
	deadline := st.clock.Now().Add(step)

	var last *translator.OutboundMessage
	for chunk := range chunks {
		if ctx.Err() != nil {
			return nil
		}
		last = st.client.SendBinary(chunk)
		st.chunksSent++
		st.bytesSent += int64(len(chunk))

		if wait := deadline.Sub(st.clock.Now()); wait > 0 && !st.sleep(ctx, wait) {
			return nil
		}
		deadline = deadline.Add(step)
	}

	// The pump is done once the last chunk has left the queue
	if last != nil {
		last.Wait(ctx)
	}
	st.metrics.RecordAudioBytes("out", st.bytesSent)
	st.logger.Debug().
		Int("chunks", st.chunksSent).
		Int64("bytes", st.bytesSent).
		Msg("Audio stream sent")
	return nil
}

func (st *stream) sleep(ctx context.Context, d time.Duration) bool {
	t := st.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// watch polls connection liveness and, once everything has been sent, the
// time since the last inbound packet.
func (st *stream) watch(ctx context.Context) error {
	ticker := st.clock.Ticker(st.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !st.client.IsConnected() {
				return st.connectionLost()
			}
			if st.pumpDone.Load() && st.idleFor() > st.cfg.IdleTimeout {
				st.logger.Debug().Dur("idle", st.idleFor()).Msg("Idle timeout reached")
				return errIdle
			}
		}
	}
}

func (st *stream) connectionLost() error {
	select {
	case err := <-st.client.Failures():
		return err
	default:
	}
	for _, err := range st.client.ErrorLog().Errors() {
		if errors.Is(err, translator.ErrTransport) {
			return err
		}
	}
	return errRemoteClosed
}

func (st *stream) touch() {
	st.lastPacket.Store(st.clock.Now().UnixNano())
}

func (st *stream) idleFor() time.Duration {
	return st.clock.Now().Sub(time.Unix(0, st.lastPacket.Load()))
}

// collect starts the inbound consumers
func (st *stream) collect() {
	st.consumers.Add(2)
	go st.consumeText()
	go st.consumeBinary()
}

func (st *stream) consumeText() {
	defer st.consumers.Done()

	for f := range st.client.TextFrames() {
		st.touch()
		if !f.EndOfMessage {
			st.text.Append(f.Data)
			continue
		}
		doc := st.text.End(f.Data)
		st.decoders.Submit(func() {
			st.decode(doc)
		})
	}
}

func (st *stream) decode(doc []byte) {
	r, err := protocol.ParseResult(doc)
	if err != nil {
		st.metrics.RecordDecodeError("text")
		st.client.ErrorLog().Add(err)
		st.logger.Warn().Err(err).Int("bytes", len(doc)).Msg("Dropping undecodable text message")
		return
	}

	st.metrics.RecordResult(string(r.Kind()))
	u := newUtterance(r)
	if u.Final {
		st.logger.Info().
			Str("recognition", u.Recognition).
			Str("translation", u.Translation).
			Dur("start", u.Offset).
			Dur("end", u.Offset+u.Duration).
			Msg("Final result")
	} else {
		st.logger.Debug().Str("recognition", u.Recognition).Msg("Partial result")
	}

	st.mu.Lock()
	st.utterances = append(st.utterances, u)
	st.mu.Unlock()
}

func (st *stream) consumeBinary() {
	defer st.consumers.Done()

	for f := range st.client.BinaryFrames() {
		st.touch()
		if st.binaryErr != nil {
			continue
		}
		if err := st.binary.Append(f.Data); err != nil {
			st.binaryErr = err
			st.metrics.RecordDecodeError("binary")
			st.client.ErrorLog().Add(err)
			st.logger.Error().Err(err).Msg("Discarding the rest of the synthesized audio")
		}
	}
}

func (st *stream) segmentDone(index int, size int64) {
	st.metrics.RecordSegment(size)
	st.logger.Debug().Int("segment", index).Int64("bytes", size).Msg("Synthesized segment received")

	if st.pattern != "" {
		st.mu.Lock()
		st.segmentFiles = append(st.segmentFiles, fmt.Sprintf(st.pattern, index))
		st.mu.Unlock()
	}
}

// wait blocks until every inbound frame has been decoded. The client must
// already be disconnected.
func (st *stream) wait() {
	st.consumers.Wait()
	st.decoders.StopWait()

	if st.binaryErr == nil {
		if err := st.binary.Close(); err != nil {
			st.metrics.RecordDecodeError("binary")
			st.client.ErrorLog().Add(err)
			st.logger.Warn().Err(err).Msg("Synthesized audio was cut short")
		}
	}
}

// fill copies the collected results into r
func (st *stream) fill(r *Report) {
	st.mu.Lock()
	defer st.mu.Unlock()

	r.ChunksSent = st.chunksSent
	r.BytesSent = st.bytesSent
	r.SegmentBytes = st.binary.Bytes()
	r.SegmentFiles = append([]string(nil), st.segmentFiles...)
	if st.memory != nil {
		r.Segments = st.memory.Segments()
	}

	r.Utterances = append([]Utterance(nil), st.utterances...)
	// Segments follow final results one to one
	next := 0
	for i := range r.Utterances {
		if !r.Utterances[i].Final || next >= len(r.SegmentFiles) {
			continue
		}
		r.Utterances[i].AudioURL = "file://" + filepath.ToSlash(r.SegmentFiles[next])
		next++
	}
}
