package audio

import (
	"encoding/binary"
	"math"
)

// SilenceThreshold is the RMS below which 16-bit PCM is treated as silence
const SilenceThreshold = 500.0

// RMS calculates the root mean square of 16-bit little-endian PCM. A trailing
// odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(n))
}

// IsSilent reports whether pcm stays below threshold
func IsSilent(pcm []byte, threshold float64) bool {
	return RMS(pcm) < threshold
}

// Level returns the RMS of the whole payload
func (s *FileSource) Level() float64 {
	return RMS(s.pcm)
}
