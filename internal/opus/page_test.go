package opus

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonas747/ogg"
)

type pageInfo struct {
	Seq     uint32
	Type    byte
	Granule int64
	Serial  uint32
}

func readPages(t *testing.T, r io.Reader) []pageInfo {
	t.Helper()
	d := ogg.NewDecoder(r)
	var pages []pageInfo
	for {
		page, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return pages
		}
		if err != nil {
			t.Fatalf("Decode() returned error: %v", err)
		}
		pages = append(pages, pageInfo{Seq: page.Page, Type: page.Type, Granule: page.Granule, Serial: page.Serial})
	}
}

func TestPageWriterLacingAndSequence(t *testing.T) {
	var out bytes.Buffer
	pw := newPageWriter(7, &out)

	packets := [][]byte{
		bytes.Repeat([]byte{1}, 255),
		bytes.Repeat([]byte{2}, 510),
		{3, 3},
		{},
	}
	flags := []byte{ogg.BOS, 0, 0, ogg.EOS}
	granules := []int64{0, 960, 1920, 0}
	for i, packet := range packets {
		if err := pw.writePacket(flags[i], granules[i], packet); err != nil {
			t.Fatalf("writePacket(%d) returned error: %v", i, err)
		}
	}
	stream := out.Bytes()

	got, err := NewPacketReader(bytes.NewReader(stream)).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() returned error: %v", err)
	}
	if diff := cmp.Diff(packets, got, cmp.Comparer(bytes.Equal)); diff != "" {
		t.Errorf("decoded packets mismatch (-want +got):\n%s", diff)
	}

	wantPages := []pageInfo{
		{Seq: 0, Type: ogg.BOS, Granule: 0, Serial: 7},
		{Seq: 1, Type: 0, Granule: 960, Serial: 7},
		{Seq: 2, Type: 0, Granule: 1920, Serial: 7},
		// The end-of-stream page keeps the last granule position.
		{Seq: 3, Type: ogg.EOS, Granule: 1920, Serial: 7},
	}
	if diff := cmp.Diff(wantPages, readPages(t, bytes.NewReader(stream))); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestPageWriterRejectsOversizedPacket(t *testing.T) {
	pw := newPageWriter(1, io.Discard)
	if err := pw.writePacket(0, 0, make([]byte, maxLacedPacket+1)); !errors.Is(err, errPacketTooLarge) {
		t.Errorf("writePacket() error = %v, want %v", err, errPacketTooLarge)
	}
	if err := pw.writePacket(0, 0, make([]byte, maxLacedPacket)); err != nil {
		t.Errorf("writePacket() of the largest packet returned error: %v", err)
	}
}

func TestPageCRCMatchesKnownValue(t *testing.T) {
	// Check value of the Ogg CRC: CRC-32/POSIX without the final xor.
	if got := pageCRC([]byte("123456789")); got != 0x89a1897f {
		t.Errorf("pageCRC() = %#x, want %#x", got, 0x89a1897f)
	}
}
