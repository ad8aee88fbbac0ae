package recording

import (
	"fmt"

	"layeh.com/gopus"
)

// Audio is encoded in 20 ms Opus frames.
const frameMs = 20

// opusEncoder wraps a gopus Opus encoder for the mixed session audio stream.
type opusEncoder struct {
	enc       *gopus.Encoder
	channels  int
	frameSize int // samples per channel per frame
}

// newOpusEncoder creates an encoder for the given PCM format. sampleRate must
// be one of the Opus-supported rates (8, 12, 16, 24 or 48 kHz).
func newOpusEncoder(sampleRate, channels, bitrateKbps int) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("recording: create opus encoder: %w", err)
	}
	if bitrateKbps > 0 {
		enc.SetBitrate(bitrateKbps * 1000)
	}
	return &opusEncoder{
		enc:       enc,
		channels:  channels,
		frameSize: sampleRate * frameMs / 1000,
	}, nil
}

// encode encodes one interleaved PCM frame of exactly
// frameSize*channels samples into an Opus packet.
func (e *opusEncoder) encode(pcm []int16) ([]byte, error) {
	packet, err := e.enc.Encode(pcm, e.frameSize, len(pcm)*2)
	if err != nil {
		return nil, fmt.Errorf("recording: opus encode: %w", err)
	}
	return packet, nil
}

// mixInto adds src into dst with int16 saturation. Slices must be the same
// length.
func mixInto(dst, src []int16) {
	for i, s := range src {
		sum := int32(dst[i]) + int32(s)
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		dst[i] = int16(sum)
	}
}

// bytesToInt16s reinterprets little-endian PCM bytes as int16 samples. A
// trailing odd byte is dropped.
func bytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
