package opus

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/jonas747/ogg"
)

// maxLacedPacket is the largest packet that fits whole on one page: 255
// lacing values, the last of which must be below 255.
const maxLacedPacket = ogg.MaxSegmentSize*ogg.MaxSegmentSize - 1

var errPacketTooLarge = errors.New("packet does not fit on one ogg page")

// crcTable is the unreflected CRC-32 (polynomial 0x04c11db7) used by Ogg.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func pageCRC(p []byte) uint32 {
	var c uint32
	for _, b := range p {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

// pageWriter frames one packet per Ogg page for a single logical stream.
// Page sequence numbers start at 0 and increase by one per page.
type pageWriter struct {
	w       io.Writer
	serial  uint32
	seq     uint32
	granule int64
	buf     []byte
}

func newPageWriter(serial uint32, w io.Writer) *pageWriter {
	return &pageWriter{w: w, serial: serial}
}

// writePacket writes packet on its own page. flags is a mask of ogg.BOS and
// ogg.EOS. A granule below the last one written is raised to it.
func (p *pageWriter) writePacket(flags byte, granule int64, packet []byte) error {
	if len(packet) > maxLacedPacket {
		return errPacketTooLarge
	}
	if granule < p.granule {
		granule = p.granule
	}

	// A packet whose length is a multiple of 255 ends with a 0 lacing value.
	nsegs := len(packet)/ogg.MaxSegmentSize + 1

	p.buf = p.buf[:0]
	p.buf = append(p.buf, 'O', 'g', 'g', 'S', 0, flags)
	p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(granule))
	p.buf = binary.LittleEndian.AppendUint32(p.buf, p.serial)
	p.buf = binary.LittleEndian.AppendUint32(p.buf, p.seq)
	p.buf = append(p.buf, 0, 0, 0, 0, byte(nsegs))
	for range nsegs - 1 {
		p.buf = append(p.buf, ogg.MaxSegmentSize)
	}
	p.buf = append(p.buf, byte(len(packet)%ogg.MaxSegmentSize))
	p.buf = append(p.buf, packet...)
	binary.LittleEndian.PutUint32(p.buf[22:26], pageCRC(p.buf))

	if _, err := p.w.Write(p.buf); err != nil {
		return err
	}
	p.seq++
	p.granule = granule
	return nil
}
