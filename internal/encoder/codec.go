package encoder

import (
	"errors"
	"io"
)

// ErrFrameLength is returned by a Codec when a frame's length is not a
// multiple of the channel count. Callers treat it as a programming error.
var ErrFrameLength = errors.New("frame length is not a multiple of the channel count")

// SinkKind selects where a codec's output goes.
type SinkKind int

const (
	// SinkStream keeps encoded output in memory until FlushChunk hands it out.
	SinkStream SinkKind = iota
	// SinkFile writes encoded output straight to the writer the codec was
	// created with.
	SinkFile
)

func (k SinkKind) String() string {
	switch k {
	case SinkStream:
		return "stream"
	case SinkFile:
		return "file"
	default:
		return "unknown"
	}
}

// Metadata describes the audio handed to a codec.
type Metadata struct {
	Title      string
	SampleRate int
	Channels   int
}

// Codec turns fixed-size frames of interleaved float32 samples into chunks.
type Codec interface {
	// Write encodes one frame. The codec must not retain frame.
	Write(frame []float32) error
	// FlushChunk returns the output accumulated since the last call. When
	// force is false the codec may hold back small amounts of output.
	FlushChunk(force bool) ([]byte, bool)
	Close() error
}

// Factory creates a Codec. w is only used for SinkFile and must be nil for
// SinkStream.
type Factory func(kind SinkKind, meta Metadata, w io.Writer) (Codec, error)
