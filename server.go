// Copyright 2013 Gary Burd. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Upgrader performs the server side of the opening handshake (SPEC_FULL.md
// §4.3), turning an *http.Request/http.ResponseWriter pair into a *Conn via
// http.Hijacker.
type Upgrader struct {
	// HandshakeTimeout bounds how long writing the 101 response may take.
	HandshakeTimeout time.Duration

	// ReadBufferSize and WriteBufferSize size the Connection's I/O buffers.
	// Zero selects a 4096-byte default. Messages may be larger than these
	// buffers; they only bound how much is buffered per read/write.
	ReadBufferSize, WriteBufferSize int

	// MaxFrameSize bounds the size of an outbound data-frame chunk; zero
	// selects a small default. MaxMessageSize bounds the size of a
	// reassembled inbound message; zero selects a 1MiB default.
	MaxFrameSize   int
	MaxMessageSize int64

	// Subprotocols lists the server's supported subprotocols in preference
	// order. If nil, no subprotocol negotiation is attempted and
	// responseHeader's own Sec-Websocket-Protocol value, if any, is used
	// verbatim.
	Subprotocols []string

	// Error generates the HTTP error response for a failed handshake. If
	// nil, http.Error is used.
	Error func(w http.ResponseWriter, r *http.Request, status int, reason error)

	// CheckOrigin returns true if the request's Origin header is
	// acceptable. If nil, the default same-origin check is used.
	CheckOrigin func(r *http.Request) bool

	// PingHandler and PongHandler, if set, are installed on every Conn
	// this Upgrader produces.
	PingHandler PingHandler
	PongHandler PongHandler

	// Logger receives debug-level events for connections this Upgrader
	// produces. If nil, events are discarded.
	Logger *slog.Logger
}

func (u *Upgrader) returnError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	if u.Error != nil {
		u.Error(w, r, status, reason)
	} else {
		http.Error(w, reason.Error(), status)
	}
}

func (u *Upgrader) hasSubprotocol(subprotocol string) bool {
	for _, s := range u.Subprotocols {
		if s == subprotocol {
			return true
		}
	}
	return false
}

// Upgrade upgrades an HTTP server connection to the WebSocket protocol per
// RFC 6455 §4.2. responseHeader is merged into the 101 response; use it to
// set cookies. If r is not a valid handshake request, or CheckOrigin
// rejects it, Upgrade writes an HTTP error response itself (unless
// Upgrader.Error is set) and returns a HandshakeError.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Conn, error) {
	if values := r.Header["Sec-Websocket-Version"]; len(values) == 0 || values[0] != websocketVersion {
		err := HandshakeError{Message: "websocket: version != " + websocketVersion, Err: ErrVersionMismatch}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if !tokenListContainsValue(r.Header, "Connection", "upgrade") {
		err := HandshakeError{Message: "websocket: connection header != upgrade"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if !tokenListContainsValue(r.Header, "Upgrade", "websocket") {
		err := HandshakeError{Message: "websocket: upgrade != websocket"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	checkOrigin := u.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOrigin
	}
	if !checkOrigin(r) {
		err := HandshakeError{Message: "websocket: origin not allowed"}
		u.returnError(w, r, http.StatusForbidden, err)
		return nil, err
	}

	challengeKey := r.Header.Get("Sec-Websocket-Key")
	if challengeKey == "" {
		err := HandshakeError{Message: "websocket: key missing or blank"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if u.Subprotocols != nil {
		if offered := Subprotocols(r); len(offered) > 0 && matchSubprotocol(offered, u.Subprotocols) == "" {
			err := HandshakeError{Message: "websocket: no offered subprotocol is supported", Err: ErrProtocolMismatch}
			u.returnError(w, r, http.StatusBadRequest, err)
			return nil, err
		}
	}

	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, errors.New("websocket: response does not implement http.Hijacker")
	}
	netConn, rw, err := h.Hijack()
	if err != nil {
		return nil, err
	}
	br := rw.Reader

	// A pipelining client may have squeezed the first WebSocket frame into
	// the same TCP segment as the handshake request; bufio.Reader already
	// consumed it into its buffer. Rather than drop those bytes, splice
	// them back in front of the raw connection so the new Conn's own
	// reader picks them up first.
	if n := br.Buffered(); n > 0 {
		unread := make([]byte, n)
		if _, err := br.Read(unread); err != nil {
			netConn.Close()
			return nil, err
		}
		netConn = newMergedNetConnReader(netConn, unread)
	}

	readBufSize := u.ReadBufferSize
	if readBufSize == 0 {
		readBufSize = 4096
	}
	writeBufSize := u.WriteBufferSize
	if writeBufSize == 0 {
		writeBufSize = 4096
	}

	subprotocol := ""
	if u.Subprotocols != nil {
		offered := Subprotocols(r)
		if len(offered) > 0 {
			for _, proto := range offered {
				if u.hasSubprotocol(proto) {
					subprotocol = proto
					break
				}
			}
		}
	} else if responseHeader != nil {
		subprotocol = responseHeader.Get(protocolHeader)
	}

	c := newConn(netConn, true, readBufSize, writeBufSize, connConfig{
		MaxFrameSize:   u.MaxFrameSize,
		MaxMessageSize: u.MaxMessageSize,
		Subprotocol:    subprotocol,
		PingHandler:    u.PingHandler,
		PongHandler:    u.PongHandler,
		Logger:         u.Logger,
	})

	p := make([]byte, 0, 256)
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: "...)
	p = append(p, computeAcceptKey(challengeKey)...)
	p = append(p, "\r\n"...)
	if c.subprotocol != "" {
		p = append(p, "Sec-Websocket-Protocol: "...)
		p = append(p, c.subprotocol...)
		p = append(p, "\r\n"...)
	}
	for k, vs := range responseHeader {
		if k == protocolHeader {
			continue
		}
		for _, v := range vs {
			p = append(p, k...)
			p = append(p, ": "...)
			for i := 0; i < len(v); i++ {
				b := v[i]
				if b <= 31 {
					// prevent response splitting.
					b = ' '
				}
				p = append(p, b)
			}
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)

	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Now().Add(u.HandshakeTimeout))
	}
	if _, err = netConn.Write(p); err != nil {
		netConn.Close()
		return nil, ErrSendError
	}
	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Time{})
	}

	return c, nil
}
