// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"net"
	"reflect"
	"testing"
)

func TestJSON(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	wc := newConn(clientConn, false, 1024, 1024, connConfig{})
	rc := newConn(serverConn, true, 1024, 1024, connConfig{})

	var actual, expect struct {
		A int
		B string
	}
	expect.A = 1
	expect.B = "hello"

	done := make(chan error, 1)
	go func() { done <- wc.WriteJSON(&expect) }()

	if err := rc.ReadJSON(&actual); err != nil {
		t.Fatal("read", err)
	}
	if err := <-done; err != nil {
		t.Fatal("write", err)
	}

	if !reflect.DeepEqual(&actual, &expect) {
		t.Fatal("equal", actual, expect)
	}
}
