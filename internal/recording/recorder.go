// Package recording captures the artifacts of one interview session: the
// mixed session audio as an Ogg Opus file, the shared screen as an IVF video
// file, and the ordered dialogue transcript as JSON.
//
// The audio and video legs are independent. A leg that fails to start or
// fails mid-session is reported, but never takes the other leg or the
// session itself down.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/transcribe"
)

// Config tunes a session [Recorder].
type Config struct {
	// Dir is the root directory recordings are written under. Each session
	// gets its own subdirectory.
	Dir string

	// SampleRate is the PCM sample rate of recorded audio in Hz.
	SampleRate int

	// Channels is the recorded audio channel count.
	Channels int

	// BitrateKbps is the Opus encoder target bitrate. Zero keeps the
	// encoder default.
	BitrateKbps int
}

// Artifacts lists the files a finished recording produced. Paths are empty
// for legs that never started.
type Artifacts struct {
	AudioPath      string
	VideoPath      string
	TranscriptPath string
}

// Recorder captures one session's artifacts. Create one per session with
// [New], call [Recorder.Start] once, and [Recorder.Stop] exactly once.
type Recorder struct {
	cfg        Config
	dir        string
	transcript *TranscriptLog

	audio    *audioRecorder
	video    *videoRecorder
	startErr error

	stopOnce sync.Once
	stopErr  error
	arts     Artifacts
}

// New creates a Recorder whose artifacts live under cfg.Dir/sessionID.
func New(cfg Config, sessionID string) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Recorder{
		cfg:        cfg,
		dir:        filepath.Join(cfg.Dir, sessionID),
		transcript: NewTranscriptLog(),
	}
}

// Transcript returns the session's dialogue log. It accepts appends from the
// moment the Recorder is created, even before Start.
func (r *Recorder) Transcript() *TranscriptLog {
	return r.transcript
}

// Start begins recording. audioTracks are mixed into a single Opus stream;
// screen, when non-nil, is written as video. The returned error joins the
// failures of legs that could not start; legs that did start keep running.
func (r *Recorder) Start(audioTracks []media.Track, screen media.Track) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.startErr = fmt.Errorf("recording: create session dir: %w", err)
		return r.startErr
	}

	var errs []error

	if len(audioTracks) > 0 {
		enc, err := newOpusEncoder(r.cfg.SampleRate, r.cfg.Channels, r.cfg.BitrateKbps)
		if err == nil {
			r.audio, err = newAudioRecorder(filepath.Join(r.dir, "audio.ogg"), r.cfg.SampleRate, r.cfg.Channels, enc.encode)
		}
		if err != nil {
			slog.Error("recording: audio leg failed to start", "err", err)
			errs = append(errs, err)
		} else {
			r.audio.start(audioTracks)
		}
	}

	if screen != nil {
		v, err := newVideoRecorder(filepath.Join(r.dir, "screen.ivf"))
		if err != nil {
			slog.Error("recording: video leg failed to start", "err", err)
			errs = append(errs, err)
		} else {
			r.video = v
			v.start(screen)
		}
	}

	r.startErr = errors.Join(errs...)
	return r.startErr
}

// Stop finalizes all running legs in parallel and writes the transcript.
// Subsequent calls return the first call's result.
func (r *Recorder) Stop(ctx context.Context) (Artifacts, error) {
	r.stopOnce.Do(func() {
		g, _ := errgroup.WithContext(ctx)
		if r.audio != nil {
			g.Go(func() error {
				if err := r.audio.stop(); err != nil {
					return fmt.Errorf("recording: finalize audio: %w", err)
				}
				r.arts.AudioPath = r.audio.path
				return nil
			})
		}
		if r.video != nil {
			g.Go(func() error {
				if err := r.video.stop(); err != nil {
					return fmt.Errorf("recording: finalize video: %w", err)
				}
				r.arts.VideoPath = r.video.path
				return nil
			})
		}
		g.Go(func() error {
			path := filepath.Join(r.dir, "transcript.json")
			if err := r.transcript.WriteFile(path); err != nil {
				return err
			}
			r.arts.TranscriptPath = path
			return nil
		})
		r.stopErr = errors.Join(g.Wait(), r.startErr)
	})
	return r.arts, r.stopErr
}

// Retranscribe runs the offline transcriber over the mixed session audio.
// Only valid after Stop. Returns an error when no audio was recorded.
func (r *Recorder) Retranscribe(ctx context.Context, t transcribe.Transcriber) ([]transcribe.Segment, error) {
	if r.audio == nil {
		return nil, errors.New("recording: no audio recorded")
	}
	mono := r.audio.monoSamples()
	samples := make([]float32, len(mono))
	for i, s := range mono {
		samples[i] = float32(s) / 32768
	}
	return t.Transcribe(ctx, samples)
}

// videoRecorder copies encoded screen frames into an IVF file.
type videoRecorder struct {
	path string
	ivf  *ivfWriter

	quit chan struct{}
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newVideoRecorder(path string) (*videoRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := newIVFWriter(f, 0, 0, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &videoRecorder{
		path: path,
		ivf:  w,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

func (v *videoRecorder) start(track media.Track) {
	go func() {
		defer close(v.done)
		for {
			select {
			case <-v.quit:
				return
			case f, ok := <-track.Frames():
				if !ok {
					return
				}
				v.mu.Lock()
				failed := v.err != nil
				v.mu.Unlock()
				if failed {
					continue
				}
				if err := v.ivf.WriteFrame(f.Data); err != nil {
					slog.Error("recording: video frame dropped, stopping video leg", "err", err)
					v.mu.Lock()
					v.err = err
					v.mu.Unlock()
				}
			}
		}
	}()
}

func (v *videoRecorder) stop() error {
	close(v.quit)
	<-v.done
	err := v.ivf.Close()
	v.mu.Lock()
	if v.err != nil {
		err = v.err
	}
	v.mu.Unlock()
	return err
}
