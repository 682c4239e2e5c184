package websocket

import "net"

// prefixedConn replays a buffered prefix of already-read bytes in front of
// conn's own stream, so bytes the HTTP hijack path buffered ahead of the
// handshake (a pipelining client's first frame, squeezed into the same TCP
// segment) are not lost when the Connection Engine starts reading.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func newMergedNetConnReader(conn net.Conn, prefix []byte) net.Conn {
	return &prefixedConn{Conn: conn, prefix: prefix}
}

func (c *prefixedConn) Read(b []byte) (int, error) {
	if len(c.prefix) == 0 {
		return c.Conn.Read(b)
	}
	n := copy(b, c.prefix)
	c.prefix = c.prefix[n:]
	return n, nil
}
