package opus

import (
	"encoding/binary"
	"strings"
)

const (
	vendor = "tau"
	// preSkip is the libopus encoder lookahead at 48 kHz.
	preSkip = 312
)

// headPacket builds the OpusHead identification header for channel mapping
// family 0 (mono or stereo).
func headPacket(sampleRate, channels int) []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = 1
	b[9] = byte(channels)
	binary.LittleEndian.PutUint16(b[10:12], preSkip)
	binary.LittleEndian.PutUint32(b[12:16], uint32(sampleRate))
	binary.LittleEndian.PutUint16(b[16:18], 0)
	b[18] = 0
	return b
}

// tagsPacket builds the OpusTags comment header. Empty values are skipped.
func tagsPacket(comments map[string]string) []byte {
	var entries []string
	for k, v := range comments {
		if v == "" {
			continue
		}
		entries = append(entries, strings.ToUpper(k)+"="+v)
	}

	b := make([]byte, 0, 64)
	b = append(b, "OpusTags"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(vendor)))
	b = append(b, vendor...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(entries)))
	for _, e := range entries {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(e)))
		b = append(b, e...)
	}
	return b
}
