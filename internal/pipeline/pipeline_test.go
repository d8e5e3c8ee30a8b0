package pipeline_test

import (
	"context"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/glizzus/tau/internal/capture"
	"github.com/glizzus/tau/internal/encoder"
	"github.com/glizzus/tau/internal/pipeline"
	"github.com/glizzus/tau/internal/recorder"
	"github.com/glizzus/tau/internal/ringbuf"
	"github.com/glizzus/tau/internal/shutdown"
	"github.com/glizzus/tau/internal/transport"
	"github.com/google/go-cmp/cmp"
)

// fakeCodec emits one chunk per frame naming the frame's first sample. As a
// file codec it writes one line per frame.
type fakeCodec struct {
	w        io.Writer
	pending  []byte
	badLen   bool
	closeErr error
}

func (c *fakeCodec) Write(frame []float32) error {
	if c.badLen {
		return fmt.Errorf("%w: got %d", encoder.ErrFrameLength, len(frame))
	}
	if c.w != nil {
		_, err := fmt.Fprintf(c.w, "frame %v\n", frame[0])
		return err
	}
	c.pending = []byte(fmt.Sprint(frame[0]))
	return nil
}

func (c *fakeCodec) FlushChunk(bool) ([]byte, bool) {
	if c.pending == nil {
		return nil, false
	}
	chunk := c.pending
	c.pending = nil
	return chunk, true
}

func (c *fakeCodec) Close() error { return c.closeErr }

func factory(brokenStream bool) encoder.Factory {
	return func(kind encoder.SinkKind, _ encoder.Metadata, w io.Writer) (encoder.Codec, error) {
		if kind == encoder.SinkFile {
			return &fakeCodec{w: w}, nil
		}
		return &fakeCodec{badLen: brokenStream}, nil
	}
}

// diskFullFactory hands out file codecs that fail with ENOSPC on frame
// failAt and close failed when they do.
func diskFullFactory(failAt int, failed chan<- struct{}) encoder.Factory {
	return func(kind encoder.SinkKind, meta encoder.Metadata, w io.Writer) (encoder.Codec, error) {
		if kind == encoder.SinkStream {
			return &fakeCodec{}, nil
		}
		return &diskFullCodec{fakeCodec: fakeCodec{w: w}, failAt: failAt, failed: failed}, nil
	}
}

type diskFullCodec struct {
	fakeCodec
	frames int
	failAt int
	failed chan<- struct{}
}

func (c *diskFullCodec) Write(frame []float32) error {
	c.frames++
	if c.frames == c.failAt {
		close(c.failed)
		return syscall.ENOSPC
	}
	return c.fakeCodec.Write(frame)
}

// manualSource hands its producer to the test so samples can be pushed in
// stages.
type manualSource struct {
	mu       sync.Mutex
	producer *ringbuf.Producer
}

func (s *manualSource) Start(p *ringbuf.Producer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producer = p
	return nil
}

func (s *manualSource) Close() error { return nil }

func (s *manualSource) push(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producer.Push(samples)
}

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, transport.Credentials) (transport.Conn, error) {
	return nil, syscall.ECONNREFUSED
}

type chunkConn struct {
	chunks chan string
}

func (c *chunkConn) Send(chunk []byte) error {
	c.chunks <- string(chunk)
	return nil
}

func (c *chunkConn) Close() error { return nil }

type chunkDialer struct {
	conn *chunkConn
}

func (d *chunkDialer) Dial(context.Context, transport.Credentials) (transport.Conn, error) {
	return d.conn, nil
}

type failingSource struct{}

func (failingSource) Start(*ringbuf.Producer) error { return errors.New("device busy") }
func (failingSource) Close() error                  { return nil }

// samples returns 0, 1, ..., n-1.
func samples(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func newPipeline(t *testing.T, src capture.Source, f encoder.Factory, recordPath string) (*pipeline.Pipeline, *shutdown.Signal, *chunkConn) {
	t.Helper()
	conn := &chunkConn{chunks: make(chan string, 16)}
	signal := shutdown.New()
	p, err := pipeline.New(pipeline.Config{
		Source:       src,
		Factory:      f,
		Dialer:       &chunkDialer{conn: conn},
		Title:        "test",
		FrameLength:  2,
		RingCapacity: 64,
		SampleDepth:  64,
		ChunkDepth:   16,
		Backoff:      5 * time.Millisecond,
		RecordPath:   recordPath,
	}, signal)
	if err != nil {
		t.Fatalf("pipeline.New() returned error: %v", err)
	}
	return p, signal, conn
}

func receive(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	for range n {
		select {
		case c := <-ch:
			got = append(got, c)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after receiving %v", got)
		}
	}
	return got
}

func waitForFile(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, _ := os.ReadFile(path)
		if string(got) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("recording = %q, want %q", got, want)
		}
		time.Sleep(time.Millisecond)
	}
}

// stop triggers shutdown and requires Wait to return promptly.
func stop(t *testing.T, p *pipeline.Pipeline, signal *shutdown.Signal) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	signal.Trigger()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop after shutdown")
		return nil
	}
}

func TestPipelineStreamsAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "show.ogg")
	p, signal, conn := newPipeline(t, &capture.Buffered{Samples: samples(12)}, factory(false), path)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	if err := p.Start(); !errors.Is(err, pipeline.ErrStarted) {
		t.Errorf("second Start() error = %v, want %v", err, pipeline.ErrStarted)
	}

	got := receive(t, conn.chunks, 3)
	waitForFile(t, path, "frame 0\nframe 4\nframe 8\n")

	if err := stop(t, p, signal); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"0", "4", "8"}, got); diff != "" {
		t.Errorf("streamed chunks mismatch (-want +got):\n%s", diff)
	}
	if !p.RecordingSaved() {
		t.Error("RecordingSaved() = false after a clean shutdown")
	}

	st := p.Stats()
	if st.NetworkFrames != 3 || st.Sender.Sessions != 1 || st.Sender.ChunksSent != 3 {
		t.Errorf("Stats() = %+v, want 3 frames and 3 chunks over 1 session", st)
	}
}

func TestRecorderFailureLeavesNetworkRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken.ogg")
	if err := os.WriteFile(path, []byte("earlier"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	p, signal, conn := newPipeline(t, &capture.Buffered{Samples: samples(12)}, factory(false), path)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	got := receive(t, conn.chunks, 3)

	err := stop(t, p, signal)
	if !errors.Is(err, recorder.ErrFileExists) {
		t.Errorf("Wait() error = %v, want %v", err, recorder.ErrFileExists)
	}
	if diff := cmp.Diff([]string{"0", "4", "8"}, got); diff != "" {
		t.Errorf("streamed chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestNetworkEncoderPanicIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.ogg")
	p, signal, _ := newPipeline(t, &capture.Buffered{Samples: samples(12)}, factory(true), path)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	waitForFile(t, path, "frame 0\nframe 4\nframe 8\n")

	err := stop(t, p, signal)
	if err == nil || !strings.Contains(err.Error(), "network panicked") {
		t.Errorf("Wait() error = %v, want the network encoder panic", err)
	}
}

func TestRecordingDisabled(t *testing.T) {
	p, signal, conn := newPipeline(t, &capture.Buffered{Samples: samples(8)}, factory(false), "")

	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	receive(t, conn.chunks, 2)
	if err := stop(t, p, signal); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if st := p.Stats(); st.DroppedRecord != 0 {
		t.Errorf("DroppedRecord = %d with recording disabled", st.DroppedRecord)
	}
}

func TestCaptureFailureIsFatal(t *testing.T) {
	p, signal, _ := newPipeline(t, failingSource{}, factory(false), "")

	if err := p.Start(); err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("Start() error = %v, want the capture error", err)
	}
	if !signal.Triggered() {
		t.Error("capture failure did not trigger shutdown")
	}
	if err := stop(t, p, signal); err != nil {
		t.Errorf("Wait() returned error: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := pipeline.New(pipeline.Config{}, shutdown.New()); err == nil {
		t.Error("expected an error for an empty config")
	}
}

func TestRecorderWriteFailureLeavesNetworkRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.ogg")
	failed := make(chan struct{})
	src := &manualSource{}
	p, signal, conn := newPipeline(t, src, diskFullFactory(2, failed), path)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	src.push(samples(12))
	before := receive(t, conn.chunks, 3)

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("recording never hit the full disk")
	}

	more := samples(24)[12:]
	src.push(more)
	after := receive(t, conn.chunks, 3)

	err := stop(t, p, signal)
	if !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("Wait() error = %v, want ENOSPC", err)
	}
	if msg := err.Error(); !strings.HasPrefix(msg, "record: ") || strings.Contains(msg, "\n") {
		t.Errorf("Wait() error = %q, want only the recorder failure", msg)
	}
	if diff := cmp.Diff([]string{"0", "4", "8"}, before); diff != "" {
		t.Errorf("chunks before the failure mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"12", "16", "20"}, after); diff != "" {
		t.Errorf("chunks after the failure mismatch (-want +got):\n%s", diff)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "frame 0\n" {
		t.Errorf("recording = %q, want only the frame written before the failure", got)
	}
}

func TestFullChunkChannelEndsOnlyNetworkPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.ogg")
	signal := shutdown.New()
	p, err := pipeline.New(pipeline.Config{
		Source:       &capture.Buffered{Samples: samples(20)},
		Factory:      factory(false),
		Dialer:       refusingDialer{},
		FrameLength:  2,
		RingCapacity: 64,
		SampleDepth:  64,
		ChunkDepth:   2,
		Backoff:      time.Hour,
		RecordPath:   path,
	}, signal)
	if err != nil {
		t.Fatalf("pipeline.New() returned error: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	waitForFile(t, path, "frame 0\nframe 4\nframe 8\nframe 12\nframe 16\n")

	err = stop(t, p, signal)
	if !errors.Is(err, encoder.ErrChannelFull) {
		t.Fatalf("Wait() error = %v, want %v", err, encoder.ErrChannelFull)
	}
	if st := p.Stats(); st.NetworkFrames != 3 {
		t.Errorf("NetworkFrames = %d, want 3 (two chunks queued, the third refused)", st.NetworkFrames)
	}
}

func TestStreamEncoderCloseErrorIsLogged(t *testing.T) {
	var logs bytes.Buffer
	conn := &chunkConn{chunks: make(chan string, 16)}
	signal := shutdown.New()
	p, err := pipeline.New(pipeline.Config{
		Source: &capture.Buffered{Samples: samples(4)},
		Factory: func(encoder.SinkKind, encoder.Metadata, io.Writer) (encoder.Codec, error) {
			return &fakeCodec{closeErr: errors.New("flush failed")}, nil
		},
		Dialer:       &chunkDialer{conn: conn},
		FrameLength:  2,
		RingCapacity: 64,
		SampleDepth:  64,
		ChunkDepth:   16,
		Logger:       slog.New(slog.NewTextHandler(&logs, nil)),
	}, signal)
	if err != nil {
		t.Fatalf("pipeline.New() returned error: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	receive(t, conn.chunks, 1)
	if err := stop(t, p, signal); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}

	if !strings.Contains(logs.String(), "could not close stream encoder") || !strings.Contains(logs.String(), "flush failed") {
		t.Errorf("close error not logged; logs:\n%s", logs.String())
	}
}
