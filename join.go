// Copyright 2019 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import "io"

// JoinMessages returns a reader that reads c's successive data messages one
// after another as a single stream, with term appended after each message.
// It stops at the first error from c, including the error from a received
// Close frame.
func JoinMessages(c *Conn, term string) io.Reader {
	return &joinReader{c: c, term: term, termPos: -1}
}

type joinReader struct {
	c       *Conn
	term    string
	r       io.Reader
	err     error
	termPos int // index into term still to emit; -1 when not emitting it
}

func (r *joinReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	if r.termPos >= 0 {
		n := copy(p, r.term[r.termPos:])
		r.termPos += n
		if r.termPos == len(r.term) {
			r.termPos = -1
		}
		return n, nil
	}

	if r.r == nil {
		_, rr, err := r.c.NextReader()
		if err != nil {
			r.err = err
			return 0, err
		}
		r.r = rr
	}

	n, err := r.r.Read(p)
	switch {
	case err == io.EOF:
		r.r = nil
		if r.term != "" {
			r.termPos = 0
		}
		if n == 0 {
			return r.Read(p)
		}
		return n, nil
	case err != nil:
		r.err = err
		return n, err
	default:
		return n, nil
	}
}
