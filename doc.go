// Copyright 2013 Gary Burd. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package websocket implements the WebSocket protocol defined in RFC 6455:
// the wire frame codec, the connection state machine, and the client and
// server sides of the opening handshake.
//
// Overview
//
// The Conn type represents a single WebSocket connection.
//
// A server application upgrades an incoming request with an Upgrader:
//
//	var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    conn, err := upgrader.Upgrade(w, r, nil)
//	    if _, ok := err.(websocket.HandshakeError); ok {
//	        http.Error(w, "Not a websocket handshake", 400)
//	        return
//	    } else if err != nil {
//	        log.Println(err)
//	        return
//	    }
//	    defer conn.Close()
//	    ... use conn to send and receive messages.
//	}
//
// A client application dials out with a Dialer:
//
//	conn, _, err := websocket.DefaultDialer.Dial("ws://example.com/echo", nil)
//
// A server using valyala/fasthttp instead of net/http registers a
// FastHTTPUpgrader.UpgradeHandler in place of the net/http Upgrader; both
// adapters hand the same Conn to the application once the handshake
// completes.
//
// WebSocket messages are represented by the io.Reader interface when
// receiving a message and by the io.WriteCloser interface when sending a
// message. An application receives a message by calling the Conn.NextReader
// method and reading the returned io.Reader to EOF. An application sends a
// message by calling the Conn.NextWriter method and writing the message to
// the returned io.WriteCloser. The application terminates the message by
// closing the io.WriteCloser.
//
// The following example shows how to use NextReader and NextWriter to echo
// messages:
//
//	for {
//	    mt, r, err := conn.NextReader()
//	    if err != nil {
//	        return
//	    }
//	    w, err := conn.NextWriter(mt)
//	    if err != nil {
//	        return
//	    }
//	    if _, err := io.Copy(w, r); err != nil {
//	        return
//	    }
//	    if err := w.Close(); err != nil {
//	        return
//	    }
//	}
//
// ReadMessage and WriteMessage are helpers for reading or writing an entire
// message in one call:
//
//	for {
//	    mt, p, err := conn.ReadMessage()
//	    if err != nil {
//	        return
//	    }
//	    if err := conn.WriteMessage(mt, p); err != nil {
//	        return
//	    }
//	}
//
// A long-lived reader that wants a single byte stream across many inbound
// messages, rather than one io.Reader per message, can wrap a Conn with
// JoinMessages.
//
// Concurrency
//
// A Conn supports one concurrent caller of the write methods (NextWriter,
// WriteMessage, WriteJSON, SetWriteDeadline) and one concurrent caller of
// the read methods (NextReader, ReadMessage, ReadJSON, SetReadDeadline).
// Close, CloseWithPayload, WriteControl, SendPing, and SendPong may be
// called concurrently with everything else; a frame produced by one of
// these while a data message write is in flight is queued and flushed by
// whichever side next holds the write lock, rather than blocking.
//
// Data Messages
//
// The WebSocket protocol distinguishes between text and binary data
// messages. Text messages are interpreted as UTF-8 encoded text; the
// interpretation of binary messages is left to the application. This
// package uses the same types and methods for both; it is the
// application's responsibility to ensure that text messages are valid
// UTF-8.
//
// Control Messages
//
// The WebSocket protocol defines three control message types: close, ping,
// and pong. Call WriteControl, SendPing, SendPong, or Close to send one.
//
// Received ping and pong messages invoke the callbacks set with
// SetPingHandler and SetPongHandler (or the PingHandler/PongHandler fields
// of Upgrader/Dialer/FastHTTPUpgrader), synchronously from the goroutine
// calling ReadMessage, NextReader, or the message reader NextReader
// returned.
//
// A received close message ends the connection and is returned as a
// *CloseError from ReadMessage, NextReader, or the message reader's Read.
package websocket
