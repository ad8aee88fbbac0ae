// Package transcribe defines the offline transcription abstraction used to
// re-transcribe recorded interview audio after a session ends. Unlike the
// live capture path, which trades accuracy for latency, offline transcription
// runs over the full recording and produces the authoritative transcript
// attached to the interview report.
package transcribe

import (
	"context"
	"time"
)

// Segment is one span of transcribed speech.
type Segment struct {
	// Text is the transcribed speech, trimmed of surrounding whitespace.
	Text string
	// Start is the offset of the segment from the beginning of the audio.
	Start time.Duration
	// End is the offset at which the segment ends.
	End time.Duration
}

// Transcriber converts recorded audio into transcript segments.
//
// Samples are mono float32 PCM in the range [-1, 1] at the sample rate the
// implementation was configured with.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) ([]Segment, error)
	// Close releases the underlying model. The Transcriber must not be used
	// after Close.
	Close() error
}

// PCMToFloat32Mono converts 16-bit signed little-endian PCM to mono float32
// samples in [-1, 1]. Multi-channel input is downmixed by averaging.
func PCMToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	n := len(pcm) / 2
	frames := n / channels
	out := make([]float32, 0, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			i := (f*channels + c) * 2
			sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
			sum += float32(sample) / 32768
		}
		out = append(out, sum/float32(channels))
	}
	return out
}
