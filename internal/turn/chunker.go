// Package turn implements the conversation turn pipeline: a final candidate
// transcript goes in, assistant reply deltas stream back, and the reply is
// voiced through the avatar as ordered sentence chunks.
package turn

import "strings"

// defaultChunkLimit is the character threshold at which a chunk is closed
// even without a sentence boundary, keeping avatar latency bounded on long
// unpunctuated output.
const defaultChunkLimit = 240

// chunker accumulates streamed reply deltas and cuts them into speakable
// chunks. A chunk closes on sentence-terminal punctuation followed by
// whitespace, or when the pending text reaches the character limit.
type chunker struct {
	pending string
	limit   int
}

func newChunker(limit int) *chunker {
	if limit <= 0 {
		limit = defaultChunkLimit
	}
	return &chunker{limit: limit}
}

// Feed appends delta to the pending text and returns every complete chunk it
// closed, trimmed, in order. Empty chunks are dropped.
func (c *chunker) Feed(delta string) []string {
	c.pending += delta

	var chunks []string
	for {
		cut := sentenceBoundary(c.pending)
		if cut < 0 && len(c.pending) >= c.limit {
			cut = breakPoint(c.pending, c.limit)
		}
		if cut < 0 {
			break
		}
		chunk := strings.TrimSpace(c.pending[:cut+1])
		c.pending = c.pending[cut+1:]
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// Flush returns the trimmed remainder after the stream ends, or "" when
// nothing is pending.
func (c *chunker) Flush() string {
	rem := strings.TrimSpace(c.pending)
	c.pending = ""
	return rem
}

// sentenceBoundary returns the index of the first sentence-terminal
// punctuation character that is followed by whitespace, or -1. Punctuation
// at the very end of the pending text does not count; the stream may still
// continue the sentence ("1." of "1.5").
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// breakPoint picks where to cut an over-long unpunctuated run: the last
// space before limit, or limit-1 when the run has no space at all.
func breakPoint(s string, limit int) int {
	if idx := strings.LastIndexByte(s[:limit], ' '); idx > 0 {
		return idx
	}
	return limit - 1
}
