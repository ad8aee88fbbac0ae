package media

import "sync"

// teeBuffer is the per-branch frame queue depth. A branch that falls behind
// drops incoming frames rather than stalling the source or its siblings.
const teeBuffer = 64

// Tee fans a track out to n derived tracks carrying the same frames, so one
// microphone can feed both speech capture and the recording mixer. Stopping a
// branch ends only that branch; the source track is unaffected and must still
// be stopped by its owner. All branches end when the source track ends.
func Tee(src Track, n int) []Track {
	branches := make([]*teeBranch, n)
	out := make([]Track, n)
	for i := range branches {
		b := &teeBranch{
			kind:   src.Kind(),
			frames: make(chan Frame, teeBuffer),
		}
		branches[i] = b
		out[i] = b
	}
	go func() {
		for f := range src.Frames() {
			for _, b := range branches {
				b.send(f)
			}
		}
		for _, b := range branches {
			b.close()
		}
	}()
	return out
}

// teeBranch is one derived track produced by [Tee].
type teeBranch struct {
	kind   TrackKind
	frames chan Frame

	mu     sync.Mutex
	closed bool
}

func (b *teeBranch) Kind() TrackKind { return b.kind }

func (b *teeBranch) Frames() <-chan Frame { return b.frames }

func (b *teeBranch) Stop() error {
	b.close()
	return nil
}

// send delivers a frame unless the branch is closed or full. The closed check
// and the channel send happen under the same lock so a concurrent Stop can
// never race a send against the close.
func (b *teeBranch) send(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.frames <- f:
	default:
	}
}

func (b *teeBranch) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.frames)
}

var _ Track = (*teeBranch)(nil)
