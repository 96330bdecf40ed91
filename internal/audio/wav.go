package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SampleRate is the only sample rate accepted by the speech service (16kHz)
	SampleRate = 16000
	// BitsPerSample for signed little-endian PCM
	BitsPerSample = 16
	// Channels is mono
	Channels = 1

	// FrameDurationMs is the granularity every chunk duration must be a multiple of
	FrameDurationMs = 10
	// FrameBytes is one 10ms frame of 16-bit mono PCM at 16kHz
	FrameBytes = SampleRate / 1000 * FrameDurationMs * BitsPerSample / 8 * Channels

	// RIFFHeaderSize is the length of the "RIFF" <size> "WAVE" preamble
	RIFFHeaderSize = 12
	// HeaderSize is the length of a canonical PCM header with a single fmt and data chunk
	HeaderSize = 44
)

var (
	// ErrInvalidArgument is returned for chunk or silence durations that are not positive multiples of 10ms
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDataFormat is returned when a buffer is not a RIFF/WAVE container
	ErrDataFormat = errors.New("invalid WAV data")
)

var (
	riffTag = []byte("RIFF")
	waveTag = []byte("WAVE")
	dataTag = []byte("data")
)

// WAVHeader is the canonical 44-byte PCM header layout
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 0 when streaming
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // 0 when streaming
}

// EncodeHeader builds a 16kHz/16-bit/mono PCM header declaring dataSize payload bytes.
// A dataSize of zero produces the streaming form where both sizes are unknown.
func EncodeHeader(dataSize uint32) []byte {
	var chunkSize uint32
	if dataSize > 0 {
		chunkSize = HeaderSize - 8 + dataSize
	}

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     chunkSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BitsPerSample / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	// Writing a fixed-size struct into a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, &header)
	return buf.Bytes()
}

// StreamingHeader is the first binary frame of every speech session: it announces
// 16kHz/16-bit/mono PCM of unknown length.
func StreamingHeader() []byte {
	return EncodeHeader(0)
}

// ParseRIFFHeader validates the RIFF/WAVE magic numbers at the start of b and
// returns the declared chunk size.
func ParseRIFFHeader(b []byte) (uint32, error) {
	if len(b) < RIFFHeaderSize {
		return 0, fmt.Errorf("%w: need %d header bytes, got %d", ErrDataFormat, RIFFHeaderSize, len(b))
	}
	if !bytes.Equal(b[0:4], riffTag) {
		return 0, fmt.Errorf("%w: missing RIFF tag", ErrDataFormat)
	}
	if !bytes.Equal(b[8:12], waveTag) {
		return 0, fmt.Errorf("%w: missing WAVE tag", ErrDataFormat)
	}
	return binary.LittleEndian.Uint32(b[4:8]), nil
}

// ExtractPCM walks the sub-chunks of a WAV file and returns the concatenated
// payload of its data chunks. fmt and any metadata chunks are discarded.
func ExtractPCM(wav []byte) ([]byte, error) {
	size, err := ParseRIFFHeader(wav)
	if err != nil {
		return nil, err
	}

	// Streaming writers leave the size at 0 (or garbage); trust the buffer length then
	end := len(wav)
	if declared := uint64(size) + 8; size != 0 && declared < uint64(end) {
		end = int(declared)
	}

	var (
		pcm   bytes.Buffer
		found bool
	)
	for pos := RIFFHeaderSize; pos+8 <= end; {
		id := wav[pos : pos+4]
		n := uint64(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8

		isData := bytes.Equal(id, dataTag)
		if n > uint64(end-body) || (isData && n == 0) {
			n = uint64(end - body)
		}

		if isData {
			found = true
			pcm.Write(wav[body : body+int(n)])
		}

		// Sub-chunks are word aligned
		pos = body + int(n) + int(n%2)
	}

	if !found {
		return nil, fmt.Errorf("%w: no data chunk", ErrDataFormat)
	}
	return pcm.Bytes(), nil
}
