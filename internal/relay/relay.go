// Package relay is the listening end of the streaming wire contract.
//
// Every connection is authenticated on its own from the handshake headers.
// A rejected connection gets 401 and nothing else changes; the server keeps
// accepting other connections.
package relay

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/glizzus/tau/internal/transport"
	"github.com/gorilla/websocket"
)

const maxChunkSize = 1 << 20

// ChunkSink receives the chunks of every accepted connection in arrival
// order. It may be called from several connections at once.
type ChunkSink interface {
	WriteChunk(port uint16, chunk []byte) error
}

type Server struct {
	username string
	password string
	sink     ChunkSink
	upgrader websocket.Upgrader
	logger   *slog.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

var _ http.Handler = (*Server)(nil)

func NewServer(username, password string, sink ChunkSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		username: username,
		password: password,
		sink:     sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Accepted returns the number of connections that passed authentication.
func (s *Server) Accepted() uint64 { return s.accepted.Load() }

// Rejected returns the number of connections refused at the handshake.
func (s *Server) Rejected() uint64 { return s.rejected.Load() }

func (s *Server) authenticate(r *http.Request) bool {
	user := r.Header.Get(transport.HeaderUsername)
	pass := r.Header.Get(transport.HeaderPassword)
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		s.rejected.Add(1)
		s.logger.Warn("rejected connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("username", r.Header.Get(transport.HeaderUsername)),
		)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	port, err := strconv.ParseUint(r.Header.Get(transport.HeaderPort), 10, 16)
	if err != nil {
		http.Error(w, "invalid port header", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChunkSize)

	s.accepted.Add(1)
	s.logger.Info("source connected",
		slog.String("remote", r.RemoteAddr),
		slog.Uint64("port", port),
	)

	for {
		kind, chunk, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("source read failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
			} else {
				s.logger.Info("source disconnected", slog.String("remote", r.RemoteAddr))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := s.sink.WriteChunk(uint16(port), chunk); err != nil {
			s.logger.Error("sink write failed", slog.Any("error", err))
			return
		}
	}
}

// WriterSink appends every chunk to one writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteChunk(_ uint16, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(chunk)
	return err
}

var _ ChunkSink = (*WriterSink)(nil)
