package opus

import (
	"errors"
	"io"

	"github.com/jonas747/ogg"
)

// PacketReader reads Opus packets back out of an Ogg stream.
type PacketReader struct {
	d *ogg.PacketDecoder
}

// NewPacketReader returns a PacketReader that reads pages from r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{d: ogg.NewPacketDecoder(ogg.NewDecoder(r))}
}

// ReadPacket returns the next packet, header packets included.
// Returns io.EOF when the stream is exhausted.
func (p *PacketReader) ReadPacket() ([]byte, error) {
	packet, _, err := p.d.Decode()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return packet, nil
}

// ReadAll returns every remaining packet.
func (p *PacketReader) ReadAll() ([][]byte, error) {
	var packets [][]byte
	for {
		packet, err := p.ReadPacket()
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, packet)
	}
}
