// Package audio provides pure audio encoding helpers: float to PCM16
// conversion, the base64 transport encoding used inside protocol messages,
// WAV container construction, and loudness estimation.
package audio

import (
	"encoding/base64"
	"math"
)

// EncodePCM16 converts normalized float samples to little-endian PCM16.
// Samples are clamped to [-1,1]. Negative values scale by 32768 and
// non-negative values by 32767 so the full int16 range is used without
// overflow.
func EncodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return buf
}

// ToTransportText encodes binary audio so it can ride inside a text-based
// protocol message.
func ToTransportText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransportText is the inverse of ToTransportText.
func DecodeTransportText(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// RMSLevel computes a display volume in [0,1] from a block of normalized
// samples: root-mean-square loudness scaled by 5 and clamped.
func RMSLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(1, rms*5)
}
