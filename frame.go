package websocket

import (
	"encoding/binary"
	"io"
)

// Message types, passed to WriteMessage/WriteControl and returned from
// ReadMessage/NextReader. These mirror the RFC 6455 opcode values for the
// three application-visible message kinds plus the three control kinds.
const (
	continuationFrame = 0
	TextMessage       = 1
	BinaryMessage     = 2
	CloseMessage      = 8
	PingMessage       = 9
	PongMessage       = 10
)

const maxControlFramePayloadSize = 125

// isControl reports whether opcode identifies a control frame (Close, Ping,
// or Pong). Per RFC 6455 §5.5 control opcodes have the high bit of the
// opcode nibble set.
func isControl(opcode int) bool {
	return opcode&8 != 0
}

func isData(opcode int) bool {
	return opcode == TextMessage || opcode == BinaryMessage
}

func validOpcode(opcode int) bool {
	switch opcode {
	case continuationFrame, TextMessage, BinaryMessage, CloseMessage, PingMessage, PongMessage:
		return true
	default:
		return false
	}
}

// frameHeader is the parsed form of the first 2-to-14 bytes of a frame, as
// laid out in RFC 6455 §5.2. It never carries the payload itself: large
// payloads are streamed by the Connection Engine rather than buffered here.
type frameHeader struct {
	fin     bool
	rsv1    bool
	rsv2    bool
	rsv3    bool
	opcode  int
	masked  bool
	maskKey [4]byte
	length  uint64
}

// validate applies the codec-level invariants from §4.1 that do not require
// knowing which role (client or server) is decoding. Mask-direction
// checking is the Connection Engine's job, since that depends on role.
func (fh frameHeader) validate() error {
	if fh.rsv1 || fh.rsv2 || fh.rsv3 {
		return ErrRsvMismatch
	}
	if !validOpcode(fh.opcode) {
		return ErrOpcodeUnknown
	}
	if isControl(fh.opcode) {
		if !fh.fin {
			return ErrControlFrameFragmented
		}
		if fh.length > maxControlFramePayloadSize {
			return ErrControlFrameTooLarge
		}
	}
	return nil
}

// appendFrameHeader appends the wire encoding of fh (everything up to, but
// not including, the payload) to buf and returns the extended slice.
func appendFrameHeader(buf []byte, fh frameHeader) []byte {
	b0 := byte(fh.opcode)
	if fh.fin {
		b0 |= 1 << 7
	}
	if fh.rsv1 {
		b0 |= 1 << 6
	}
	if fh.rsv2 {
		b0 |= 1 << 5
	}
	if fh.rsv3 {
		b0 |= 1 << 4
	}

	var lengthField [8]byte
	var b1 byte
	var extra []byte
	switch {
	case fh.length <= 125:
		b1 = byte(fh.length)
	case fh.length <= 65535:
		b1 = 126
		binary.BigEndian.PutUint16(lengthField[:2], uint16(fh.length))
		extra = lengthField[:2]
	default:
		b1 = 127
		binary.BigEndian.PutUint64(lengthField[:8], fh.length)
		extra = lengthField[:8]
	}
	if fh.masked {
		b1 |= 1 << 7
	}

	buf = append(buf, b0, b1)
	buf = append(buf, extra...)
	if fh.masked {
		buf = append(buf, fh.maskKey[:]...)
	}
	return buf
}

// parseFrameHeader reads one frame header from r, in the exact byte order
// RFC 6455 specifies: the 2-byte minimal header, then the extended length
// if indicated, then the mask key if the masked bit is set. It never reads
// the payload.
func parseFrameHeader(r io.Reader) (frameHeader, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return frameHeader{}, ErrMalformedHeader
	}

	fh := frameHeader{
		fin:    head[0]&(1<<7) != 0,
		rsv1:   head[0]&(1<<6) != 0,
		rsv2:   head[0]&(1<<5) != 0,
		rsv3:   head[0]&(1<<4) != 0,
		opcode: int(head[0] & 0xf),
		masked: head[1]&(1<<7) != 0,
	}

	lengthIndicator := head[1] & 0x7f
	switch {
	case lengthIndicator <= 125:
		fh.length = uint64(lengthIndicator)
	case lengthIndicator == 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frameHeader{}, ErrMalformedHeader
		}
		fh.length = uint64(binary.BigEndian.Uint16(ext[:]))
	default: // 127
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frameHeader{}, ErrMalformedHeader
		}
		fh.length = binary.BigEndian.Uint64(ext[:])
	}

	if fh.masked {
		if _, err := io.ReadFull(r, fh.maskKey[:]); err != nil {
			return frameHeader{}, ErrMalformedHeader
		}
	}

	if err := fh.validate(); err != nil {
		return frameHeader{}, err
	}
	return fh, nil
}

// encodeFrame renders a complete frame (header and, if masked, a masked
// copy of payload) to a single byte slice. It is a pure function used by
// the codec's round-trip tests and by callers that don't need the
// Connection Engine's streaming write path.
func encodeFrame(fh frameHeader, payload []byte) []byte {
	fh.length = uint64(len(payload))
	buf := appendFrameHeader(make([]byte, 0, 14+len(payload)), fh)
	if fh.masked {
		masked := make([]byte, len(payload))
		copy(masked, payload)
		maskBytes(fh.maskKey, 0, masked)
		buf = append(buf, masked...)
	} else {
		buf = append(buf, payload...)
	}
	return buf
}

// decodeFrame parses one complete frame (header and payload) from r,
// unmasking the payload if necessary. It eagerly buffers the payload and so
// is only suitable for control frames, tests, and other bounded uses; the
// Connection Engine streams large data-frame payloads instead.
func decodeFrame(r io.Reader) (frameHeader, []byte, error) {
	fh, err := parseFrameHeader(r)
	if err != nil {
		return frameHeader{}, nil, err
	}
	payload := make([]byte, fh.length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frameHeader{}, nil, ErrMalformedHeader
	}
	if fh.masked {
		maskBytes(fh.maskKey, 0, payload)
	}
	return fh, payload, nil
}
