package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-translator/internal/audio"
	"github.com/lexiqai/speech-translator/internal/auth"
	"github.com/lexiqai/speech-translator/internal/protocol"
	"github.com/lexiqai/speech-translator/internal/translator"
	"github.com/lexiqai/speech-translator/internal/translator/translatortest"
)

const finalResult = `{"type":"final","id":"0","recognition":"Hello world.","translation":"Hola mundo.","audioTimeOffset":"5000000","audioTimeSize":"12000000"}`

// writeWAV writes durationMs of a ramp signal as a 16kHz/16-bit/mono file
func writeWAV(t *testing.T, durationMs int) (string, []byte) {
	t.Helper()
	pcm := make([]byte, audio.FrameBytes*durationMs/audio.FrameDurationMs)
	for i := range pcm {
		pcm[i] = byte(i%251 + 1)
	}
	name := filepath.Join(t.TempDir(), "speech.wav")
	if err := os.WriteFile(name, append(audio.EncodeHeader(uint32(len(pcm))), pcm...), 0o644); err != nil {
		t.Fatal(err)
	}
	return name, pcm
}

// segment builds a synthesized audio segment whose RIFF size is its total length
func segment(size int, fill byte) []byte {
	seg := bytes.Repeat([]byte{fill}, size)
	copy(seg[0:4], "RIFF")
	binary.LittleEndian.PutUint32(seg[4:8], uint32(size))
	copy(seg[8:12], "WAVE")
	return seg
}

func newTestService(srv *translatortest.Server, mock *clock.Mock, mutate func(*Config)) *Service {
	cfg := DefaultConfig()
	cfg.Hostname = srv.Hostname()
	cfg.SendPollInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return NewService(cfg, auth.StaticTokenProvider("test-token"), zerolog.Nop(),
		WithClock(mock),
		WithClientOptions(srv.ClientOption()),
	)
}

// drive advances the mock clock until fn returns
func drive(t *testing.T, mock *clock.Mock, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	timeout := time.After(30 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-timeout:
			t.Fatal("Session did not finish")
		default:
		}
		mock.Add(20 * time.Millisecond)
	}
}

// recorder keeps every message the fake service receives
type recorder struct {
	mu       sync.Mutex
	messages []translatortest.Message
}

func (r *recorder) add(m translatortest.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return len(r.messages)
}

func (r *recorder) all() []translatortest.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]translatortest.Message(nil), r.messages...)
}

func TestSpeechToTranslatedText_StreamsHeaderAudioAndSilence(t *testing.T) {
	rec := &recorder{}
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		translatortest.ReadUntilClose(conn, func(m translatortest.Message) {
			if rec.add(m) == 10 {
				conn.WriteMessage(websocket.TextMessage, []byte(finalResult))
			}
		})
	})
	defer srv.Close()

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)
	name, pcm := writeWAV(t, 3000)

	var (
		utterance *Utterance
		report    *Report
		err       error
	)
	drive(t, mock, func() {
		utterance, report, err = svc.SpeechToTranslatedText(context.Background(), name, "en", "es")
	})
	srv.Wait()

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if report.Outcome != OutcomeIdle {
		t.Errorf("Expected outcome idle, got %s", report.Outcome)
	}
	if len(report.Errors) != 0 {
		t.Errorf("Expected no recorded errors, got %v", report.Errors)
	}

	messages := rec.all()
	if len(messages) != 1+30+21 {
		t.Fatalf("Expected 52 frames, got %d", len(messages))
	}
	for i, m := range messages {
		if m.Type != websocket.BinaryMessage {
			t.Fatalf("Frame %d: expected binary, got type %d", i, m.Type)
		}
	}
	if !bytes.Equal(messages[0].Data, audio.StreamingHeader()) {
		t.Error("Expected the streaming WAV header as the first frame")
	}
	for i := 0; i < 30; i++ {
		want := pcm[i*3200 : (i+1)*3200]
		if !bytes.Equal(messages[1+i].Data, want) {
			t.Fatalf("Audio frame %d does not match the source", i)
		}
	}
	zero := make([]byte, 3200)
	for i := 31; i < 52; i++ {
		if !bytes.Equal(messages[i].Data, zero) {
			t.Fatalf("Frame %d: expected a silence chunk", i)
		}
	}

	if report.ChunksSent != 51 || report.BytesSent != 51*3200 {
		t.Errorf("Expected 51 chunks of 3200 bytes, got %d chunks and %d bytes", report.ChunksSent, report.BytesSent)
	}

	if utterance == nil {
		t.Fatal("Expected an utterance")
	}
	if utterance.Recognition != "Hello world." || utterance.Translation != "Hola mundo." {
		t.Errorf("Unexpected utterance %+v", utterance)
	}
	if !utterance.Final || utterance.Offset != 500*time.Millisecond || utterance.Duration != 1200*time.Millisecond {
		t.Errorf("Unexpected timing %+v", utterance)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 handshake, got %d", len(reqs))
	}
	q := reqs[0].URL.Query()
	if q.Get("features") != "TimingInfo" || q.Get("profanity") != "Strict" {
		t.Errorf("Unexpected query %s", reqs[0].URL.RawQuery)
	}
	if got := reqs[0].Header.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("Expected bearer token, got %q", got)
	}
	if got := reqs[0].Header.Get("X-CorrelationId"); got != report.CorrelationID || len(got) != 8 {
		t.Errorf("Expected correlation id %q, got %q", report.CorrelationID, got)
	}
}

func TestSpeechToTranslatedText_IdleTimeoutWithoutResults(t *testing.T) {
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		translatortest.ReadUntilClose(conn, nil)
	})
	defer srv.Close()

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)
	name, _ := writeWAV(t, 500)

	var (
		utterance *Utterance
		report    *Report
		err       error
	)
	drive(t, mock, func() {
		utterance, report, err = svc.SpeechToTranslatedText(context.Background(), name, "en", "fr")
	})

	if err != nil {
		t.Fatalf("Expected idle timeout to be a success, got %v", err)
	}
	if utterance != nil {
		t.Errorf("Expected no utterance, got %+v", utterance)
	}
	if report.Outcome != OutcomeIdle {
		t.Errorf("Expected outcome idle, got %s", report.Outcome)
	}
	if len(report.Utterances) != 0 || len(report.Errors) != 0 {
		t.Errorf("Expected no utterances and no errors, got %d and %v", len(report.Utterances), report.Errors)
	}
	if report.Duration < 15*time.Second {
		t.Errorf("Expected the session to last the idle timeout, got %s", report.Duration)
	}
}

func TestSpeechToTranslatedText_ProtocolErrorIsDropped(t *testing.T) {
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		sent := false
		translatortest.ReadUntilClose(conn, func(m translatortest.Message) {
			if !sent {
				sent = true
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus","id":"1"}`))
				conn.WriteMessage(websocket.TextMessage, []byte(finalResult))
			}
		})
	})
	defer srv.Close()

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)
	name, _ := writeWAV(t, 200)

	var (
		utterance *Utterance
		report    *Report
		err       error
	)
	drive(t, mock, func() {
		utterance, report, err = svc.SpeechToTranslatedText(context.Background(), name, "en", "es")
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if utterance == nil || utterance.Translation != "Hola mundo." {
		t.Errorf("Expected the final result after the bad message, got %+v", utterance)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("Expected 1 recorded error, got %d", len(report.Errors))
	}
	var perr *protocol.ProtocolError
	if !errors.As(report.Errors[0].Err, &perr) || perr.Type != "bogus" {
		t.Errorf("Expected a protocol error for type bogus, got %v", report.Errors[0].Err)
	}
}

func TestSpeechToTranslatedText_ConnectFailure(t *testing.T) {
	srv := translatortest.NewServer(nil)
	defer srv.Close()
	srv.Reject(http.StatusUnauthorized)

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)
	name, _ := writeWAV(t, 200)

	utterance, report, err := svc.SpeechToTranslatedText(context.Background(), name, "en", "es")

	var cerr *translator.ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected ConnectError, got %v", err)
	}
	if cerr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", cerr.StatusCode)
	}
	if utterance != nil {
		t.Error("Expected no utterance")
	}
	if report.Outcome != OutcomeFailed || len(report.Errors) != 1 {
		t.Errorf("Expected failed outcome with 1 error, got %s with %d", report.Outcome, len(report.Errors))
	}
}

func TestSpeechToTranslatedText_InvalidAudioFailsBeforeConnect(t *testing.T) {
	srv := translatortest.NewServer(nil)
	defer srv.Close()

	name := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(name, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := newTestService(srv, clock.NewMock(), nil)
	_, report, err := svc.SpeechToTranslatedText(context.Background(), name, "en", "es")

	if !errors.Is(err, audio.ErrDataFormat) {
		t.Errorf("Expected ErrDataFormat, got %v", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", report.Outcome)
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("Expected no handshake, got %d", n)
	}
}

func TestSpeechToTranslatedText_InvalidChunkDuration(t *testing.T) {
	srv := translatortest.NewServer(nil)
	defer srv.Close()

	svc := newTestService(srv, clock.NewMock(), func(c *Config) { c.ChunkMs = 25 })
	name, _ := writeWAV(t, 200)

	_, _, err := svc.SpeechToTranslatedText(context.Background(), name, "en", "es")
	if !errors.Is(err, audio.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("Expected no handshake, got %d", n)
	}
}

func TestSpeechToTranslatedText_RemoteFault(t *testing.T) {
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		translatortest.CloseWith(conn, websocket.CloseInternalServerErr, "recognizer crashed")
		translatortest.ReadUntilClose(conn, nil)
	})
	defer srv.Close()

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)
	name, _ := writeWAV(t, 3000)

	var (
		report *Report
		err    error
	)
	drive(t, mock, func() {
		_, report, err = svc.SpeechToTranslatedText(context.Background(), name, "en", "es")
	})

	if !errors.Is(err, translator.ErrTransport) {
		t.Fatalf("Expected ErrTransport, got %v", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", report.Outcome)
	}
	if len(report.Errors) == 0 {
		t.Error("Expected the fault in the error log")
	}
	if report.ChunksSent >= 51 {
		t.Errorf("Expected the pump to stop early, sent %d chunks", report.ChunksSent)
	}
}

func TestSpeechToTranslatedText_Cancelled(t *testing.T) {
	received := make(chan struct{})
	var once sync.Once
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		n := 0
		translatortest.ReadUntilClose(conn, func(m translatortest.Message) {
			if n++; n == 5 {
				once.Do(func() { close(received) })
			}
		})
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-received
		cancel()
	}()

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)
	name, _ := writeWAV(t, 3000)

	var (
		report *Report
		err    error
	)
	drive(t, mock, func() {
		_, report, err = svc.SpeechToTranslatedText(ctx, name, "en", "es")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if report.Outcome != OutcomeCancelled {
		t.Errorf("Expected cancelled outcome, got %s", report.Outcome)
	}
	if report.ChunksSent >= 51 {
		t.Errorf("Expected the pump to stop early, sent %d chunks", report.ChunksSent)
	}
}

func TestSynthesize_CollectsSegments(t *testing.T) {
	s1, s2 := segment(1000, 0x11), segment(600, 0x22)

	var text string
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		mt, data, err := conn.ReadMessage()
		if err != nil || mt != websocket.TextMessage {
			return
		}
		text = string(data)
		// The second segment straddles two messages
		conn.WriteMessage(websocket.BinaryMessage, append(append([]byte(nil), s1...), s2[:100]...))
		conn.WriteMessage(websocket.BinaryMessage, s2[100:])
		translatortest.ReadUntilClose(conn, nil)
	})
	defer srv.Close()

	mock := clock.NewMock()
	svc := newTestService(srv, mock, nil)

	var (
		report *Report
		err    error
	)
	drive(t, mock, func() {
		report, err = svc.Synthesize(context.Background(), "Hola mundo", "es", "es", "es-ES-Laura")
	})
	srv.Wait()

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if text != "Hola mundo" {
		t.Errorf("Expected the text frame, got %q", text)
	}
	if len(report.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(report.Segments))
	}
	if !bytes.Equal(report.Segments[0], s1) || !bytes.Equal(report.Segments[1], s2) {
		t.Error("Segments do not match what the service sent")
	}
	if report.SegmentBytes != 1600 {
		t.Errorf("Expected 1600 segment bytes, got %d", report.SegmentBytes)
	}

	q := srv.Requests()[0].URL.Query()
	if !strings.Contains(q.Get("features"), "TextToSpeech") {
		t.Errorf("Expected TextToSpeech feature, got %q", q.Get("features"))
	}
	if q.Get("voice") != "es-ES-Laura" {
		t.Errorf("Expected voice es-ES-Laura, got %q", q.Get("voice"))
	}
}

func TestSpeechToTranslatedText_SegmentsWrittenToDisk(t *testing.T) {
	seg := segment(800, 0x33)
	srv := translatortest.NewServer(func(conn *websocket.Conn, r *http.Request) {
		sent := false
		translatortest.ReadUntilClose(conn, func(m translatortest.Message) {
			if !sent {
				sent = true
				conn.WriteMessage(websocket.TextMessage, []byte(finalResult))
				conn.WriteMessage(websocket.BinaryMessage, seg)
			}
		})
	})
	defer srv.Close()

	dir := t.TempDir()
	mock := clock.NewMock()
	svc := newTestService(srv, mock, func(c *Config) {
		c.TTSOutputDir = dir
		c.Features = append(c.Features, translator.FeatureTextToSpeech)
	})
	name, _ := writeWAV(t, 200)

	var (
		utterance *Utterance
		report    *Report
		err       error
	)
	drive(t, mock, func() {
		utterance, report, err = svc.SpeechToTranslatedText(context.Background(), name, "en", "es")
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(report.SegmentFiles) != 1 {
		t.Fatalf("Expected 1 segment file, got %v", report.SegmentFiles)
	}
	data, err := os.ReadFile(report.SegmentFiles[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, seg) {
		t.Error("Segment file does not match what the service sent")
	}
	if utterance == nil || utterance.AudioURL != "file://"+filepath.ToSlash(report.SegmentFiles[0]) {
		t.Errorf("Expected the utterance to point at the segment file, got %+v", utterance)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	srv := translatortest.NewServer(nil)
	defer srv.Close()

	svc := newTestService(srv, clock.NewMock(), nil)
	if _, err := svc.Synthesize(context.Background(), "  ", "en", "en", ""); !errors.Is(err, translator.ErrMissingOption) {
		t.Errorf("Expected ErrMissingOption, got %v", err)
	}
}

func TestSynthesize_InvalidConfigFailsBeforeConnect(t *testing.T) {
	srv := translatortest.NewServer(nil)
	defer srv.Close()

	svc := newTestService(srv, clock.NewMock(), func(c *Config) { c.WatchdogInterval = 0 })
	report, err := svc.Synthesize(context.Background(), "hello", "en", "en", "")
	if !errors.Is(err, audio.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", report.Outcome)
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("Expected no handshake, got %d", n)
	}
}
