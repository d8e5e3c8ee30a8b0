package opus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/glizzus/tau/internal/encoder"
	"github.com/jonas747/ogg"
	"gopkg.in/hraban/opus.v2"
)

const (
	// maxPacketSize is the largest Opus packet libopus will produce.
	maxPacketSize = 4000
	// minChunkSize is how much output a stream encoder holds back when a
	// flush is not forced.
	minChunkSize = 4096
	// granuleRate is the fixed Ogg/Opus granule clock.
	granuleRate = 48000
)

var errClosed = errors.New("opus encoder closed")

// Encoder is an Ogg/Opus codec. It implements encoder.Codec.
type Encoder struct {
	kind     encoder.SinkKind
	opus     *opus.Encoder
	pages    *pageWriter
	buf      bytes.Buffer
	packet   []byte
	channels int
	rate     int
	granule  int64
	closed   bool
}

var _ encoder.Codec = (*Encoder)(nil)

// NewEncoder creates an encoder for either sink. A SinkStream encoder keeps
// its pages in memory for FlushChunk and w must be nil; a SinkFile encoder
// writes pages to w as they are produced.
func NewEncoder(kind encoder.SinkKind, meta encoder.Metadata, w io.Writer) (*Encoder, error) {
	switch kind {
	case encoder.SinkStream:
		if w != nil {
			return nil, fmt.Errorf("stream encoder does not take a writer")
		}
	case encoder.SinkFile:
		if w == nil {
			return nil, fmt.Errorf("file encoder needs a writer")
		}
	default:
		return nil, fmt.Errorf("unknown sink kind %d", int(kind))
	}
	if meta.Channels < 1 || meta.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", meta.Channels)
	}

	oe, err := opus.NewEncoder(meta.SampleRate, meta.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	e := &Encoder{
		kind:     kind,
		opus:     oe,
		packet:   make([]byte, maxPacketSize),
		channels: meta.Channels,
		rate:     meta.SampleRate,
	}
	if kind == encoder.SinkStream {
		w = &e.buf
	}
	e.pages = newPageWriter(rand.Uint32(), w)

	if err := e.pages.writePacket(ogg.BOS, 0, headPacket(meta.SampleRate, meta.Channels)); err != nil {
		return nil, fmt.Errorf("write OpusHead: %w", err)
	}
	if err := e.pages.writePacket(0, 0, tagsPacket(map[string]string{"title": meta.Title})); err != nil {
		return nil, fmt.Errorf("write OpusTags: %w", err)
	}
	return e, nil
}

// New adapts NewEncoder to encoder.Factory.
func New(kind encoder.SinkKind, meta encoder.Metadata, w io.Writer) (encoder.Codec, error) {
	e, err := NewEncoder(kind, meta, w)
	if err != nil {
		return nil, err
	}
	return e, nil
}

var _ encoder.Factory = New

// Write encodes one frame into a single Opus packet on its own Ogg page. The
// frame must hold a duration libopus accepts (2.5 to 60 ms).
func (e *Encoder) Write(frame []float32) error {
	if e.closed {
		return errClosed
	}
	if len(frame)%e.channels != 0 {
		return fmt.Errorf("%w: %d samples for %d channels", encoder.ErrFrameLength, len(frame), e.channels)
	}

	n, err := e.opus.EncodeFloat32(frame, e.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}

	e.granule += int64(len(frame)/e.channels) * granuleRate / int64(e.rate)
	if err := e.pages.writePacket(0, e.granule, e.packet[:n]); err != nil {
		return fmt.Errorf("write ogg page: %w", err)
	}
	return nil
}

// FlushChunk hands out the pages produced since the last call. A file
// encoder never has pending output.
func (e *Encoder) FlushChunk(force bool) ([]byte, bool) {
	if e.kind != encoder.SinkStream || e.buf.Len() == 0 {
		return nil, false
	}
	if !force && e.buf.Len() < minChunkSize {
		return nil, false
	}
	chunk := bytes.Clone(e.buf.Bytes())
	e.buf.Reset()
	return chunk, true
}

// Close ends the logical stream with an empty end-of-stream page carrying
// the final granule position. A stream encoder leaves that page for a final
// FlushChunk.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.pages.writePacket(ogg.EOS, e.granule, nil); err != nil {
		return fmt.Errorf("write ogg end of stream: %w", err)
	}
	return nil
}
