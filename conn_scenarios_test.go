package websocket

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// writeRawFrame writes a hand-built, already-masked-if-needed frame directly
// onto conn, bypassing the Connection Engine — used to play the role of a
// peer that isn't itself a *Conn.
func writeRawFrame(t *testing.T, conn net.Conn, fh frameHeader, payload []byte) {
	t.Helper()
	if _, err := conn.Write(encodeFrame(fh, payload)); err != nil {
		t.Fatalf("writeRawFrame: %v", err)
	}
}

func TestFragmentationChunking(t *testing.T) {
	var buf bytes.Buffer
	wc := newConn(fakeNetConn{Reader: nil, Writer: &buf}, false, 1024, 1024, connConfig{MaxFrameSize: 300})

	payload := bytes.Repeat([]byte("x"), 1000)
	if err := wc.WriteMessage(TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	type frameInfo struct {
		opcode int
		fin    bool
		length uint64
	}
	var got []frameInfo
	r := bytes.NewReader(buf.Bytes())
	for r.Len() > 0 {
		fh, payload, err := decodeFrame(r)
		if err != nil {
			t.Fatalf("decodeFrame: %v", err)
		}
		got = append(got, frameInfo{fh.opcode, fh.fin, uint64(len(payload))})
	}

	want := []frameInfo{
		{TextMessage, false, 300},
		{continuationFrame, false, 300},
		{continuationFrame, false, 300},
		{continuationFrame, true, 100},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPingDuringRead(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := newConn(serverConn, true, 1024, 1024, connConfig{})

	done := make(chan struct{})
	var firstHalf, secondHalf []byte
	go func() {
		defer close(done)
		_, r, err := server.NextReader()
		if err != nil {
			t.Errorf("NextReader: %v", err)
			return
		}
		firstHalf = make([]byte, 2)
		if _, err := io.ReadFull(r, firstHalf); err != nil {
			t.Errorf("read first half: %v", err)
			return
		}
		secondHalf = make([]byte, 2)
		if _, err := io.ReadFull(r, secondHalf); err != nil {
			t.Errorf("read second half: %v", err)
			return
		}
	}()

	// First fragment of a 4-byte Binary message: "ab".
	writeRawFrame(t, clientConn, frameHeader{fin: false, opcode: BinaryMessage, masked: true, maskKey: [4]byte{1, 2, 3, 4}}, []byte("ab"))
	// A Ping interleaved mid-message.
	writeRawFrame(t, clientConn, frameHeader{fin: true, opcode: PingMessage, masked: true, maskKey: [4]byte{5, 6, 7, 8}}, []byte("hi"))

	pongBuf := make([]byte, 4+2)
	if _, err := io.ReadFull(clientConn, pongBuf[:2]); err != nil {
		t.Fatalf("read pong header: %v", err)
	}
	if opcode := int(pongBuf[0] & 0xf); opcode != PongMessage {
		t.Fatalf("expected Pong opcode, got %d", opcode)
	}
	pongLen := int(pongBuf[1] & 0x7f)
	pongPayload := make([]byte, pongLen)
	if _, err := io.ReadFull(clientConn, pongPayload); err != nil {
		t.Fatalf("read pong payload: %v", err)
	}
	if string(pongPayload) != "hi" {
		t.Fatalf("pong payload = %q, want %q", pongPayload, "hi")
	}

	// Final fragment, completing the message: "cd".
	writeRawFrame(t, clientConn, frameHeader{fin: true, opcode: continuationFrame, masked: true, maskKey: [4]byte{9, 9, 9, 9}}, []byte("cd"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message read to complete")
	}

	if string(firstHalf) != "ab" || string(secondHalf) != "cd" {
		t.Fatalf("got halves %q/%q, want \"ab\"/\"cd\"", firstHalf, secondHalf)
	}
}

func TestCloseHandshakeLocalInitiator(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := newConn(serverConn, true, 1024, 1024, connConfig{})

	closeSent := make(chan struct{})
	go func() {
		server.Close()
		close(closeSent)
	}()

	header := make([]byte, 2)
	if _, err := io.ReadFull(clientConn, header); err != nil {
		t.Fatalf("read close header: %v", err)
	}
	if opcode := int(header[0] & 0xf); opcode != CloseMessage {
		t.Fatalf("expected Close opcode, got %d", opcode)
	}
	n := int(header[1] & 0x7f)
	payload := make([]byte, n)
	io.ReadFull(clientConn, payload)

	<-closeSent
	if server.ReadyState() != StateClosing {
		t.Fatalf("ReadyState after local close() = %v, want Closing", server.ReadyState())
	}

	// Peer echoes the close frame back (masked, since the peer here plays
	// the client role relative to this server).
	readDone := make(chan error, 1)
	go func() {
		_, _, err := server.NextReader()
		readDone <- err
	}()
	writeRawFrame(t, clientConn, frameHeader{fin: true, opcode: CloseMessage, masked: true, maskKey: [4]byte{1, 1, 1, 1}}, FormatCloseMessage(CloseNormalClosure, ""))

	select {
	case err := <-readDone:
		if _, ok := err.(*CloseError); !ok {
			t.Fatalf("NextReader after peer close = %v, want *CloseError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close echo to be processed")
	}

	if server.ReadyState() != StateClosed {
		t.Fatalf("ReadyState after peer close echo = %v, want Closed", server.ReadyState())
	}
}

func TestOversizeMessageExceedsCap(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := newConn(serverConn, true, 1024, 1024, connConfig{MaxMessageSize: 1024})

	// 3 chunks of 500 bytes (1500 total) is enough to cross the 1024-byte
	// cap; a 4th chunk is never sent, since nothing would consume it once
	// recvInto reports ErrMaxMessageSizeExceeded on the 3rd.
	go func() {
		chunk := bytes.Repeat([]byte("y"), 500)
		writeRawFrame(t, clientConn, frameHeader{fin: false, opcode: BinaryMessage, masked: true, maskKey: [4]byte{1, 2, 3, 4}}, chunk)
		writeRawFrame(t, clientConn, frameHeader{fin: false, opcode: continuationFrame, masked: true, maskKey: [4]byte{1, 2, 3, 4}}, chunk)
		writeRawFrame(t, clientConn, frameHeader{fin: false, opcode: continuationFrame, masked: true, maskKey: [4]byte{1, 2, 3, 4}}, chunk)
	}()

	_, r, err := server.NextReader()
	if err != nil {
		t.Fatalf("NextReader: %v", err)
	}
	_, err = io.Copy(io.Discard, r)
	if err != ErrMaxMessageSizeExceeded {
		t.Fatalf("io.Copy error = %v, want ErrMaxMessageSizeExceeded", err)
	}
}
