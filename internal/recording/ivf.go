package recording

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ivfWriter stores encoded VP8 frames in an IVF container. IVF is the
// simplest container the reference tooling reads; the frame count in the
// header is patched when the writer closes.
type ivfWriter struct {
	f      *os.File
	frames uint32
}

const ivfHeaderSize = 32

// newIVFWriter writes the fixed IVF file header. Zero width, height or
// frameRate fall back to 1280x720 at 30 fps.
func newIVFWriter(f *os.File, width, height, frameRate int) (*ivfWriter, error) {
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	if frameRate <= 0 {
		frameRate = 30
	}
	hdr := make([]byte, ivfHeaderSize)
	copy(hdr, "DKIF")
	binary.LittleEndian.PutUint16(hdr[6:], ivfHeaderSize)
	copy(hdr[8:], "VP80")
	binary.LittleEndian.PutUint16(hdr[12:], uint16(width))
	binary.LittleEndian.PutUint16(hdr[14:], uint16(height))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(frameRate)) // timebase denominator
	binary.LittleEndian.PutUint32(hdr[20:], 1)                 // timebase numerator
	if _, err := f.Write(hdr); err != nil {
		return nil, fmt.Errorf("recording: write ivf header: %w", err)
	}
	return &ivfWriter{f: f}, nil
}

// WriteFrame appends one encoded frame with the next sequential timestamp.
func (w *ivfWriter) WriteFrame(data []byte) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))
	binary.LittleEndian.PutUint64(hdr[4:], uint64(w.frames))
	if _, err := w.f.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(data); err != nil {
		return err
	}
	w.frames++
	return nil
}

// Close patches the frame count into the header and closes the file.
func (w *ivfWriter) Close() error {
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], w.frames)
	if _, err := w.f.WriteAt(count[:], 24); err != nil {
		w.f.Close()
		return fmt.Errorf("recording: patch ivf frame count: %w", err)
	}
	return w.f.Close()
}

var _ io.Closer = (*ivfWriter)(nil)
