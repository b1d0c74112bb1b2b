// Package audio provides PCM frame conversion, transport-text encoding,
// WAV containers and level metering for the voice pipeline.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedAudio is returned when a PCM byte buffer cannot be
// reinterpreted as 16-bit samples for the declared channel count.
var ErrMalformedAudio = errors.New("malformed audio data")

const bytesPerSample = 2

// EncodeFrame converts normalized float samples into raw 16-bit
// little-endian PCM. Out-of-range samples are clamped, never rejected.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		scaled := float64(s) * 32768
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		v := int16(scaled)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodeFrame reinterprets raw 16-bit little-endian PCM as per-channel
// normalized float samples. channels must be >= 1 and the buffer length a
// multiple of 2*channels.
func DecodeFrame(b []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrMalformedAudio, channels)
	}
	if len(b)%(bytesPerSample*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes not aligned to %d channels", ErrMalformedAudio, len(b), channels)
	}

	frames := len(b) / (bytesPerSample * channels)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			v := int16(b[off]) | (int16(b[off+1]) << 8)
			out[ch][i] = float32(v) / 32768.0
		}
	}
	return out, nil
}

// ToTransportText encodes raw bytes for embedding in a text envelope.
func ToTransportText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromTransportText reverses ToTransportText.
func FromTransportText(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Duration returns the playback length in seconds of a raw 16-bit PCM
// buffer at the given rate and channel count.
func Duration(byteLen, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(byteLen) / float64(bytesPerSample*channels*sampleRate)
}
