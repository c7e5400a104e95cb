package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV container constants for mono PCM16.
const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// WAVContainer wraps raw PCM16 samples in a minimal uncompressed WAV
// container: a 44-byte header followed by the little-endian sample data.
// Output is byte-exact: len == 44 + 2*len(samples).
func WAVContainer(samples []int16, sampleRate int) []byte {
	dataBytes := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataBytes)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataBytes))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataBytes))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// WAVFromBytes wraps raw little-endian PCM16 bytes in a WAV container.
func WAVFromBytes(pcm []byte, sampleRate int) []byte {
	return WAVContainer(BytesToInt16(pcm), sampleRate)
}

// ParseWAV extracts the sample rate and PCM16 data from a mono WAV
// container produced by WAVContainer.
func ParseWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < wavHeaderSize {
		return nil, 0, errors.New("audio: WAV data shorter than header")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a WAV container")
	}
	if binary.LittleEndian.Uint16(data[20:22]) != wavFormatPCM {
		return nil, 0, fmt.Errorf("audio: unsupported WAV format tag %d", binary.LittleEndian.Uint16(data[20:22]))
	}
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	dataBytes := int(binary.LittleEndian.Uint32(data[40:44]))
	if wavHeaderSize+dataBytes > len(data) {
		return nil, 0, errors.New("audio: WAV data length mismatch")
	}
	return data[wavHeaderSize : wavHeaderSize+dataBytes], sampleRate, nil
}
