package recording

import (
	"bufio"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
)

// encodeFunc turns one interleaved PCM frame into a compressed packet.
type encodeFunc func(pcm []int16) ([]byte, error)

// audioRecorder mixes the session's audio tracks into one Opus stream.
//
// A reader goroutine per track feeds a per-source sample buffer; a mix loop
// pops a fixed 20 ms frame from every buffer on each tick, sums them with
// saturation, and hands the frame to the encoder. A source that falls behind
// contributes silence for the missing samples, so the output timeline keeps
// advancing at wall-clock rate.
type audioRecorder struct {
	path       string
	file       *os.File
	bw         *bufio.Writer
	ogg        *oggWriter
	encode     encodeFunc
	channels   int
	frameTotal int // samples per frame across all channels

	mu      sync.Mutex
	sources [][]int16
	mono    []int16 // downmixed copy kept for offline transcription
	err     error

	quit chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newAudioRecorder(path string, sampleRate, channels int, encode encodeFunc) (*audioRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	ogg, err := newOggWriter(bw, sampleRate, channels, uint32(time.Now().UnixNano()))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &audioRecorder{
		path:       path,
		file:       f,
		bw:         bw,
		ogg:        ogg,
		encode:     encode,
		channels:   channels,
		frameTotal: sampleRate * frameMs / 1000 * channels,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// start begins consuming the given audio tracks and encoding mixed frames.
func (a *audioRecorder) start(tracks []media.Track) {
	a.sources = make([][]int16, len(tracks))
	for i, tr := range tracks {
		a.wg.Add(1)
		go a.readTrack(i, tr)
	}
	go a.mixLoop()
}

func (a *audioRecorder) readTrack(i int, tr media.Track) {
	defer a.wg.Done()
	for {
		select {
		case <-a.quit:
			return
		case f, ok := <-tr.Frames():
			if !ok {
				return
			}
			samples := bytesToInt16s(f.Data)
			a.mu.Lock()
			a.sources[i] = append(a.sources[i], samples...)
			a.mu.Unlock()
		}
	}
}

func (a *audioRecorder) mixLoop() {
	defer close(a.done)
	ticker := time.NewTicker(frameMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.quit:
			// Flush whatever the sources still hold.
			for a.mixFrame() {
			}
			return
		case <-ticker.C:
			a.mixFrame()
		}
	}
}

// mixFrame pops one frame from every source, mixes and encodes it. It
// reports whether any source still held samples, so the shutdown drain knows
// when to stop.
func (a *audioRecorder) mixFrame() bool {
	frame := make([]int16, a.frameTotal)
	hadData := false
	a.mu.Lock()
	for i, src := range a.sources {
		if len(src) == 0 {
			continue
		}
		hadData = true
		n := a.frameTotal
		if len(src) < n {
			n = len(src)
		}
		mixInto(frame[:n], src[:n])
		a.sources[i] = src[n:]
	}
	for f := 0; f < a.frameTotal/a.channels; f++ {
		var sum int32
		for c := 0; c < a.channels; c++ {
			sum += int32(frame[f*a.channels+c])
		}
		a.mono = append(a.mono, int16(sum/int32(a.channels)))
	}
	failed := a.err != nil
	a.mu.Unlock()

	if failed {
		return hadData
	}
	packet, err := a.encode(frame)
	if err == nil {
		err = a.ogg.WritePacket(packet)
	}
	if err != nil {
		slog.Error("recording: audio frame dropped, stopping audio leg", "err", err)
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
	}
	return hadData
}

// stop ends the mix loop, finalizes the Ogg stream and closes the file.
func (a *audioRecorder) stop() error {
	close(a.quit)
	<-a.done
	a.wg.Wait()

	err := a.ogg.Close()
	if ferr := a.bw.Flush(); err == nil {
		err = ferr
	}
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	a.mu.Lock()
	if a.err != nil {
		err = a.err
	}
	a.mu.Unlock()
	return err
}

// monoSamples returns the downmixed mono PCM recorded so far.
func (a *audioRecorder) monoSamples() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int16, len(a.mono))
	copy(out, a.mono)
	return out
}
