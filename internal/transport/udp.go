package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// UDPDialer sends each chunk as one datagram. UDP has no open request, so
// credentials are not transmitted and every Dial succeeds once the address
// resolves.
type UDPDialer struct {
	Host string
	Port uint16
}

var _ Dialer = (*UDPDialer)(nil)

func (d *UDPDialer) Dial(ctx context.Context, _ Credentials) (Conn, error) {
	addr := net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	return &udpConn{conn: conn}, nil
}

type udpConn struct {
	conn net.Conn
}

func (c *udpConn) Send(chunk []byte) error {
	if len(chunk) > maxDatagram {
		return fmt.Errorf("chunk of %d bytes exceeds the datagram limit", len(chunk))
	}
	_, err := c.conn.Write(chunk)
	return err
}

func (c *udpConn) Close() error {
	return c.conn.Close()
}
