package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 5 * time.Second
)

// WebSocketDialer connects to ws://host:port/ and presents the credentials as
// handshake headers.
type WebSocketDialer struct {
	Host string
	Port uint16
	// Path defaults to "/".
	Path             string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
}

var _ Dialer = (*WebSocketDialer)(nil)

func NewWebSocketDialer(host string, port uint16) *WebSocketDialer {
	return &WebSocketDialer{
		Host:             host,
		Port:             port,
		Path:             "/",
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteWait:        defaultWriteWait,
	}
}

// URL returns the address the dialer connects to.
func (d *WebSocketDialer) URL() string {
	path := d.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port))),
		Path:   path,
	}
	return u.String()
}

func (d *WebSocketDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	header := http.Header{}
	header.Set(HeaderUsername, creds.Username)
	header.Set(HeaderPassword, creds.Password)
	header.Set(HeaderPort, strconv.Itoa(int(creds.BroadcastPort)))

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, d.URL(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL(), err)
	}

	wc := &wsConn{conn: conn, writeWait: d.WriteWait}
	go wc.discardReads()
	return wc, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

// discardReads keeps control frames flowing. The server never sends data,
// and the read fails once the peer goes away, which surfaces on the next
// Send.
func (c *wsConn) discardReads() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			c.conn.Close()
			return
		}
	}
}

func (c *wsConn) Send(chunk []byte) error {
	if c.writeWait > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (c *wsConn) Close() error {
	// Best effort; the peer may already be gone.
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
