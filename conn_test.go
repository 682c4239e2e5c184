// Copyright 2016 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"io"
	"net"
	"time"
)

// fakeNetConn adapts a plain io.Reader/io.Writer pair to net.Conn so tests
// can drive a Conn over an in-memory bytes.Buffer instead of a real socket.
type fakeNetConn struct {
	io.Reader
	io.Writer
}

func (c fakeNetConn) Close() error                        { return nil }
func (c fakeNetConn) LocalAddr() net.Addr                 { return nil }
func (c fakeNetConn) RemoteAddr() net.Addr                { return nil }
func (c fakeNetConn) SetDeadline(t time.Time) error       { return nil }
func (c fakeNetConn) SetReadDeadline(t time.Time) error   { return nil }
func (c fakeNetConn) SetWriteDeadline(t time.Time) error  { return nil }

// newTestConn builds a Conn directly over r/w, bypassing the handshake, for
// tests that only exercise the frame codec and Connection Engine.
func newTestConn(r io.Reader, w io.Writer, isServer bool) *Conn {
	return newConn(fakeNetConn{Reader: r, Writer: w}, isServer, 1024, 1024, connConfig{})
}
