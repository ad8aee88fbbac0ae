package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
	mediamock "github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media/mock"
)

func TestOggWriter_HeaderPages(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w, err := newOggWriter(&buf, 16000, 1, 42)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WritePacket([]byte{0xf8, 0xff, 0xfe}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Fatal("stream does not start with an Ogg capture pattern")
	}
	if data[5] != 0x02 {
		t.Errorf("first page header type = %#x, want begin-of-stream", data[5])
	}
	if !bytes.Contains(data, []byte("OpusHead")) {
		t.Error("OpusHead header missing")
	}
	if !bytes.Contains(data, []byte("OpusTags")) {
		t.Error("OpusTags header missing")
	}
	if got := bytes.Count(data, []byte("OggS")); got != 3 {
		t.Errorf("page count = %d, want 3 (two headers, one audio)", got)
	}
	// The audio page must carry the end-of-stream flag.
	last := bytes.LastIndex(data, []byte("OggS"))
	if data[last+5] != 0x04 {
		t.Errorf("last page header type = %#x, want end-of-stream", data[last+5])
	}
}

func TestOggWriter_GranuleAdvancesAt48k(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w, err := newOggWriter(&buf, 16000, 1, 7)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := w.WritePacket([]byte{0x01}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	last := bytes.LastIndex(data, []byte("OggS"))
	granule := binary.LittleEndian.Uint64(data[last+6:])
	// Three 20 ms packets at the mandated 48 kHz granule rate.
	if want := uint64(3 * 960); granule != want {
		t.Errorf("final granule = %d, want %d", granule, want)
	}
}

func TestIVFWriter_HeaderAndFrameCount(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "screen.ivf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := newIVFWriter(f, 1920, 1080, 25)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := w.WriteFrame([]byte{0xde, 0xad}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("DKIF")) {
		t.Fatal("missing DKIF signature")
	}
	if got := string(data[8:12]); got != "VP80" {
		t.Errorf("fourcc = %q, want VP80", got)
	}
	if got := binary.LittleEndian.Uint16(data[12:]); got != 1920 {
		t.Errorf("width = %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:]); got != 4 {
		t.Errorf("frame count = %d, want 4", got)
	}
}

func TestTranscriptLog_OrderedAndTimed(t *testing.T) {
	t.Parallel()
	log := NewTranscriptLog()
	log.Append("candidate", "I rewrote the billing service.")
	log.Append("interviewer", "What drove that decision?")
	log.Append("candidate", "Latency, mostly.")

	lines := log.Lines()
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if lines[0].Speaker != "candidate" || lines[1].Speaker != "interviewer" {
		t.Errorf("speaker order wrong: %+v", lines)
	}
	if lines[2].Text != "Latency, mostly." {
		t.Errorf("last line = %q", lines[2].Text)
	}
}

func TestTranscriptLog_WriteFile(t *testing.T) {
	t.Parallel()
	log := NewTranscriptLog()
	log.Append("interviewer", "Tell me about yourself.")

	path := filepath.Join(t.TempDir(), "transcript.json")
	if err := log.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("transcript is not valid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["speaker"] != "interviewer" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestMixInto_Saturates(t *testing.T) {
	t.Parallel()
	dst := []int16{30000, -30000, 100}
	mixInto(dst, []int16{10000, -10000, 23})
	if dst[0] != 32767 {
		t.Errorf("positive overflow = %d, want 32767", dst[0])
	}
	if dst[1] != -32768 {
		t.Errorf("negative overflow = %d, want -32768", dst[1])
	}
	if dst[2] != 123 {
		t.Errorf("sum = %d, want 123", dst[2])
	}
}

func TestBytesToInt16s(t *testing.T) {
	t.Parallel()
	got := bytesToInt16s([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0xaa})
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestAudioRecorder_MixesTracksIntoStream(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audio.ogg")
	var packets int
	encode := func(pcm []int16) ([]byte, error) {
		packets++
		return []byte{0x01}, nil
	}
	ar, err := newAudioRecorder(path, 16000, 1, encode)
	if err != nil {
		t.Fatal(err)
	}

	mic := &mediamock.Track{TrackKind: media.TrackAudio}
	remote := &mediamock.Track{TrackKind: media.TrackAudio}
	ar.start([]media.Track{mic, remote})

	pcm := make([]byte, 640) // one 20 ms frame at 16 kHz mono
	for i := range pcm {
		pcm[i] = byte(i)
	}
	mic.Push(media.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
	remote.Push(media.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
	time.Sleep(60 * time.Millisecond)

	mic.Stop()
	remote.Stop()
	if err := ar.stop(); err != nil {
		t.Fatal(err)
	}

	if packets == 0 {
		t.Fatal("no frames encoded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Fatal("output is not an Ogg stream")
	}
	if mono := ar.monoSamples(); len(mono) == 0 {
		t.Error("no mono copy retained for offline transcription")
	}
}

func TestVideoRecorder_WritesFrames(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "screen.ivf")
	vr, err := newVideoRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	screen := &mediamock.Track{TrackKind: media.TrackVideo}
	vr.start(screen)

	screen.Push(media.Frame{Data: []byte{0x01, 0x02}})
	screen.Push(media.Frame{Data: []byte{0x03}})
	screen.Stop()

	if err := vr.stop(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(data[24:]); got != 2 {
		t.Errorf("frame count = %d, want 2", got)
	}
}

func TestRecorder_VideoLegIndependentOfAudio(t *testing.T) {
	t.Parallel()
	rec := New(Config{Dir: t.TempDir()}, "sess-1")
	rec.Transcript().Append("interviewer", "Welcome.")

	screen := &mediamock.Track{TrackKind: media.TrackVideo}
	// No audio tracks at all: the audio leg is skipped, video still runs.
	if err := rec.Start(nil, screen); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	screen.Push(media.Frame{Data: []byte{0x0a}})
	screen.Stop()

	arts, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if arts.AudioPath != "" {
		t.Errorf("AudioPath = %q, want empty", arts.AudioPath)
	}
	if arts.VideoPath == "" || arts.TranscriptPath == "" {
		t.Errorf("artifacts incomplete: %+v", arts)
	}
	if _, err := os.Stat(arts.TranscriptPath); err != nil {
		t.Errorf("transcript missing: %v", err)
	}
}

func TestRecorder_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	rec := New(Config{Dir: t.TempDir()}, "sess-2")
	if err := rec.Start(nil, nil); err != nil {
		t.Fatal(err)
	}
	a1, err1 := rec.Stop(context.Background())
	a2, err2 := rec.Stop(context.Background())
	if err1 != nil || err2 != nil {
		t.Fatalf("Stop errors: %v, %v", err1, err2)
	}
	if a1 != a2 {
		t.Errorf("artifacts differ across calls: %+v vs %+v", a1, a2)
	}
}

func TestRecorder_StartFailureReportedNotFatal(t *testing.T) {
	t.Parallel()
	// A file where the session directory should be makes MkdirAll fail.
	root := t.TempDir()
	blocked := filepath.Join(root, "sessions")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := New(Config{Dir: blocked}, "sess-3")
	if err := rec.Start(nil, nil); err == nil {
		t.Fatal("Start() = nil, want error for unwritable dir")
	}
	if _, err := rec.Stop(context.Background()); err == nil {
		t.Error("Stop() should surface the start failure")
	}
}
