package recording

import (
	"encoding/binary"
	"fmt"
	"io"
)

// oggWriter encapsulates Opus packets in an Ogg stream (RFC 3533 framing
// with the RFC 7845 OpusHead/OpusTags headers). One packet is written per
// page; the final page carries the end-of-stream flag, so the last packet is
// buffered until the next write or close.
type oggWriter struct {
	w          io.Writer
	serial     uint32
	pageSeq    uint32
	granule    uint64
	granuleInc uint64 // 48 kHz samples per packet, per RFC 7845

	pending        []byte
	pendingGranule uint64
}

var oggCRCTable = makeOggCRCTable()

// makeOggCRCTable builds the CRC-32 lookup table Ogg uses: polynomial
// 0x04c11db7, no bit reflection, zero init and xor-out.
func makeOggCRCTable() *[256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return &t
}

func oggCRC(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^v]
	}
	return crc
}

// newOggWriter writes the OpusHead and OpusTags header pages and returns a
// writer ready for audio packets.
func newOggWriter(w io.Writer, sampleRate, channels int, serial uint32) (*oggWriter, error) {
	o := &oggWriter{
		w:      w,
		serial: serial,
		// Ogg Opus granule positions always count 48 kHz samples.
		granuleInc: uint64(48000 * frameMs / 1000),
	}

	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:], 312) // pre-skip
	binary.LittleEndian.PutUint32(head[12:], uint32(sampleRate))
	// output gain 0, mapping family 0
	if err := o.writePage(head, 0x02, 0); err != nil {
		return nil, fmt.Errorf("recording: write OpusHead: %w", err)
	}

	vendor := "communiqate"
	tags := make([]byte, 0, 8+4+len(vendor)+4)
	tags = append(tags, "OpusTags"...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0) // comment count
	if err := o.writePage(tags, 0x00, 0); err != nil {
		return nil, fmt.Errorf("recording: write OpusTags: %w", err)
	}
	return o, nil
}

// WritePacket appends one Opus packet to the stream.
func (o *oggWriter) WritePacket(packet []byte) error {
	var err error
	if o.pending != nil {
		err = o.writePage(o.pending, 0x00, o.pendingGranule)
	}
	o.granule += o.granuleInc
	o.pending = packet
	o.pendingGranule = o.granule
	return err
}

// Close flushes the buffered packet as the end-of-stream page.
func (o *oggWriter) Close() error {
	if o.pending == nil {
		return o.writePage(nil, 0x04, o.granule)
	}
	err := o.writePage(o.pending, 0x04, o.pendingGranule)
	o.pending = nil
	return err
}

// writePage emits one Ogg page holding a single packet. headerType is the
// page flag byte: 0x02 begin-of-stream, 0x04 end-of-stream.
func (o *oggWriter) writePage(packet []byte, headerType byte, granule uint64) error {
	nSegs := len(packet)/255 + 1
	page := make([]byte, 0, 27+nSegs+len(packet))
	page = append(page, "OggS"...)
	page = append(page, 0, headerType)
	page = binary.LittleEndian.AppendUint64(page, granule)
	page = binary.LittleEndian.AppendUint32(page, o.serial)
	page = binary.LittleEndian.AppendUint32(page, o.pageSeq)
	page = append(page, 0, 0, 0, 0) // checksum placeholder
	page = append(page, byte(nSegs))

	// Lacing values: 255 for each full segment, then the remainder. A packet
	// whose length is a multiple of 255 ends with a zero lacing value.
	rem := len(packet)
	for rem >= 255 {
		page = append(page, 255)
		rem -= 255
	}
	page = append(page, byte(rem))
	page = append(page, packet...)

	binary.LittleEndian.PutUint32(page[22:], oggCRC(page))
	o.pageSeq++
	_, err := o.w.Write(page)
	return err
}
