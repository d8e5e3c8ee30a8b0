// Package transport opens connections to the listening server.
//
// A connection carries one opaque binary message per chunk, client to
// server. Credentials travel as out-of-band metadata when the connection is
// opened.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Header names that carry Credentials on the WebSocket handshake.
const (
	HeaderUsername = "username"
	HeaderPassword = "password"
	HeaderPort     = "port"
)

// ErrUnauthorized is wrapped by handshake errors the server rejected because
// of the credentials.
var ErrUnauthorized = errors.New("credentials rejected")

// Credentials are fixed for the lifetime of the process.
type Credentials struct {
	Username string
	Password string
	// BroadcastPort is the numeric role/port value the server routes on.
	BroadcastPort uint16
}

// Conn is an open connection. It is owned by a single goroutine.
type Conn interface {
	Send(chunk []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// HandshakeError is returned when the server answered the open request with
// something other than a protocol upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed with status %d %s: %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *HandshakeError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return errors.Join(ErrUnauthorized, e.Err)
	}
	return e.Err
}

var _ error = (*HandshakeError)(nil)
