package websocket

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 100, 125, 126, 127, 65535, 65536, 70000}
	for _, length := range lengths {
		for _, masked := range []bool{false, true} {
			for _, opcode := range []int{TextMessage, BinaryMessage, continuationFrame} {
				payload := make([]byte, length)
				rand.New(rand.NewSource(int64(length))).Read(payload)

				fh := frameHeader{fin: true, opcode: opcode}
				if masked {
					fh.masked = true
					fh.maskKey = [4]byte{1, 2, 3, 4}
				}

				encoded := encodeFrame(fh, payload)
				gotFH, gotPayload, err := decodeFrame(bytes.NewReader(encoded))
				if err != nil {
					t.Fatalf("length=%d masked=%v: decodeFrame: %v", length, masked, err)
				}
				if gotFH.fin != fh.fin || gotFH.opcode != fh.opcode || gotFH.masked != fh.masked {
					t.Fatalf("length=%d masked=%v: header mismatch: got %+v", length, masked, gotFH)
				}
				if gotFH.length != uint64(length) {
					t.Fatalf("length=%d: header.length=%d, want %d", length, gotFH.length, length)
				}
				if !bytes.Equal(gotPayload, payload) {
					t.Fatalf("length=%d masked=%v: payload mismatch after round-trip", length, masked)
				}
			}
		}
	}
}

func TestFrameLengthIndicator(t *testing.T) {
	tests := []struct {
		length  int
		want    []byte // left nil in every case; the indicator is checked from length below
		extended int    // expected number of extended-length bytes
	}{
		{125, nil, 0},
		{126, nil, 2},
		{65535, nil, 2},
		{65536, nil, 8},
	}
	for _, tt := range tests {
		fh := frameHeader{fin: true, opcode: BinaryMessage}
		encoded := encodeFrame(fh, make([]byte, tt.length))
		lengthIndicator := encoded[1] & 0x7f
		switch {
		case tt.length <= 125:
			if int(lengthIndicator) != tt.length {
				t.Errorf("length=%d: indicator=%d, want %d", tt.length, lengthIndicator, tt.length)
			}
		case tt.length <= 65535:
			if lengthIndicator != 126 {
				t.Errorf("length=%d: indicator=%d, want 126", tt.length, lengthIndicator)
			}
		default:
			if lengthIndicator != 127 {
				t.Errorf("length=%d: indicator=%d, want 127", tt.length, lengthIndicator)
			}
		}
		if got := len(encoded) - 2 - tt.length; got != tt.extended {
			t.Errorf("length=%d: extended-length bytes=%d, want %d", tt.length, got, tt.extended)
		}

		gotFH, _, err := decodeFrame(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("length=%d: decodeFrame: %v", tt.length, err)
		}
		if gotFH.length != uint64(tt.length) {
			t.Errorf("length=%d: round-tripped length=%d", tt.length, gotFH.length)
		}
	}
}

func TestControlFrameTooLarge(t *testing.T) {
	fh := frameHeader{fin: true, opcode: PingMessage}
	encoded := encodeFrame(fh, make([]byte, 126))
	if _, _, err := decodeFrame(bytes.NewReader(encoded)); err != ErrControlFrameTooLarge {
		t.Fatalf("decodeFrame on oversize control frame returned %v, want ErrControlFrameTooLarge", err)
	}
}

func TestControlFrameFragmented(t *testing.T) {
	fh := frameHeader{fin: false, opcode: PingMessage}
	encoded := encodeFrame(fh, []byte("hi"))
	if _, _, err := decodeFrame(bytes.NewReader(encoded)); err != ErrControlFrameFragmented {
		t.Fatalf("decodeFrame on fragmented control frame returned %v, want ErrControlFrameFragmented", err)
	}
}

func TestRsvBitRejected(t *testing.T) {
	fh := frameHeader{fin: true, opcode: BinaryMessage}
	encoded := encodeFrame(fh, []byte("x"))
	encoded[0] |= 1 << 6 // set rsv1
	if _, _, err := decodeFrame(bytes.NewReader(encoded)); err != ErrRsvMismatch {
		t.Fatalf("decodeFrame with rsv1 set returned %v, want ErrRsvMismatch", err)
	}
}

func TestOpcodeUnknownRejected(t *testing.T) {
	for _, opcode := range []int{0x3, 0x7, 0xB, 0xF} {
		fh := frameHeader{fin: true, opcode: opcode}
		encoded := encodeFrame(fh, nil)
		if _, _, err := decodeFrame(bytes.NewReader(encoded)); err != ErrOpcodeUnknown {
			t.Errorf("opcode=0x%x: decodeFrame returned %v, want ErrOpcodeUnknown", opcode, err)
		}
	}
}

func TestMaskedPayloadDiffersFromPlaintext(t *testing.T) {
	payload := []byte("the quick brown fox")
	fh := frameHeader{fin: true, opcode: TextMessage, masked: true, maskKey: [4]byte{0xaa, 0xbb, 0xcc, 0xdd}}
	encoded := encodeFrame(fh, payload)
	// The encoded payload (everything after the 2-byte header + 4-byte mask key)
	// must never equal the plaintext for a non-empty payload and non-zero key.
	encodedPayload := encoded[len(encoded)-len(payload):]
	if bytes.Equal(encodedPayload, payload) {
		t.Fatal("masked wire payload equals plaintext")
	}
}
