package websocket

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ReadyState is the lifecycle state of a Connection: Connecting, Open,
// Closing, or Closed. It only ever advances rightward.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const maxFrameHeaderSize = 14 // 2 (base) + 8 (extended length) + 4 (mask key)

// PingHandler and PongHandler are invoked synchronously from the read path
// when a Ping or Pong control frame arrives. They must not block or call
// back into the same Connection's read methods (SPEC_FULL.md §5).
type PingHandler func(c *Conn, data []byte)
type PongHandler func(c *Conn, data []byte)

// connConfig carries the immutable per-Connection configuration described
// in SPEC_FULL.md §3 and §6. Upgrader and Dialer build one of these and
// pass it to newConn; applications never construct it directly.
type connConfig struct {
	MaxFrameSize   int
	MaxMessageSize int64
	Subprotocol    string
	PingHandler    PingHandler
	PongHandler    PongHandler
	Logger         *slog.Logger
}

const (
	defaultMaxFrameSize   = 256
	defaultMaxMessageSize = 1 << 20
)

func (cfg *connConfig) setDefaults() {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(discardHandler{})
	}
}

// Conn represents a single WebSocket connection: the Connection Engine of
// SPEC_FULL.md §4.4. It owns the underlying net.Conn exclusively. A single
// concurrent caller is supported for the read methods (NextReader,
// ReadMessage, SetReadDeadline) and a single concurrent caller for the
// write methods (NextWriter, WriteMessage, SetWriteDeadline); Close and the
// control-frame senders (SendPing, SendPong, WriteControl) may be called
// concurrently with everything else.
type Conn struct {
	conn     net.Conn
	isServer bool

	subprotocol string

	state int32 // ReadyState, accessed atomically

	// --- read side ---
	br *bufio.Reader

	readErr         error
	curFrame        *frameHeader // frame currently under assembly; nil when none
	curConsumed     uint64
	readMessageType int // opcode of the in-progress message's first frame; 0 if none
	messageBytesRead uint64
	maxMessageSize  int64

	pingHandler PingHandler
	pongHandler PongHandler

	// --- write side ---
	writeMu  sync.Mutex
	bw       *bufio.Writer
	writeErr error

	maxFrameSize   int
	writeFrameType int
	writePos       int
	writeBuf       []byte

	control *controlQueue

	closeOnce sync.Once
	logger    *slog.Logger
}

// newConn wraps conn as a Connection Engine instance in StateOpen. isServer
// selects the masking direction: true means this side expects masked
// frames from the peer and must not mask its own.
func newConn(conn net.Conn, isServer bool, readBufferSize, writeBufferSize int, cfg connConfig) *Conn {
	cfg.setDefaults()
	if readBufferSize <= 0 {
		readBufferSize = 4096
	}
	if writeBufferSize <= 0 {
		writeBufferSize = 4096
	}
	c := &Conn{
		conn:           conn,
		isServer:       isServer,
		subprotocol:    cfg.Subprotocol,
		br:             bufio.NewReaderSize(conn, readBufferSize),
		bw:             bufio.NewWriterSize(conn, writeBufferSize),
		maxFrameSize:   cfg.MaxFrameSize,
		maxMessageSize: cfg.MaxMessageSize,
		pingHandler:    cfg.PingHandler,
		pongHandler:    cfg.PongHandler,
		control:        newControlQueue(),
		logger:         cfg.Logger,
	}
	c.writeBuf = make([]byte, c.maxFrameSize)
	atomic.StoreInt32(&c.state, int32(StateOpen))
	return c
}

// ReadyState returns the Connection's current lifecycle state.
func (c *Conn) ReadyState() ReadyState {
	return ReadyState(atomic.LoadInt32(&c.state))
}

// advanceState moves the Connection to to, unless it is already at or past
// to. It reports whether the move happened, implementing the "state may
// only advance rightward" invariant from SPEC_FULL.md §3.
func (c *Conn) advanceState(to ReadyState) bool {
	for {
		cur := ReadyState(atomic.LoadInt32(&c.state))
		if cur >= to {
			return false
		}
		if atomic.CompareAndSwapInt32(&c.state, int32(cur), int32(to)) {
			return true
		}
	}
}

// Subprotocol returns the negotiated subprotocol, or "" if none was
// negotiated.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// UnderlyingConn returns the net.Conn wrapped by this Connection.
func (c *Conn) UnderlyingConn() net.Conn { return c.conn }

// LocalAddr and RemoteAddr pass through to the underlying stream.
func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetReadDeadline and SetWriteDeadline pass through to the underlying
// stream. The core itself never sets a deadline (SPEC_FULL.md §5); these
// exist for callers that want their own timeout policy.
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// SetPingHandler and SetPongHandler override the control callbacks
// configured at construction time.
func (c *Conn) SetPingHandler(h PingHandler) { c.pingHandler = h }
func (c *Conn) SetPongHandler(h PongHandler) { c.pongHandler = h }

// SetReadLimit changes the maximum inbound message size enforced by
// ReadMessage/NextReader's Reader.
func (c *Conn) SetReadLimit(limit int64) { c.maxMessageSize = limit }

// fatal records err as the sticky read error, drops the Connection to
// Closed, and releases the stream. It is the terminal path for every
// codec error and protocol-invariant violation in SPEC_FULL.md §4.4's
// error semantics.
func (c *Conn) fatal(err error) error {
	c.logger.Debug("websocket: connection terminated", "err", err, "role", c.role())
	c.readErr = err
	c.advanceState(StateClosed)
	c.shutdown()
	return err
}

func (c *Conn) role() string {
	if c.isServer {
		return "server"
	}
	return "client"
}

// shutdown releases the underlying stream exactly once, regardless of how
// many terminal transitions raced to get here.
func (c *Conn) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Close sends a Close control frame with the normal-closure code and no
// reason, per the local-initiator row of the close state machine
// (SPEC_FULL.md §4.4). It does not block waiting for the peer's echo:
// that arrives through the ongoing read loop and finalizes the transition
// to Closed.
func (c *Conn) Close() error {
	return c.CloseWithPayload(FormatCloseMessage(CloseNormalClosure, ""))
}

// CloseWithPayload is Close with an explicit close-frame payload (code and
// optional UTF-8 reason, see FormatCloseMessage).
func (c *Conn) CloseWithPayload(payload []byte) error {
	if !c.advanceState(StateClosing) {
		// Already Closing or Closed: nothing new to send, but make sure
		// the stream is released.
		return c.shutdown()
	}
	return c.writeControlFrame(CloseMessage, payload)
}

// handleCloseFrame implements the two close-state-machine rows triggered
// by a received Close frame: echo-and-close when we were still Open, or
// just close when we were already Closing because we initiated the
// handshake ourselves.
func (c *Conn) handleCloseFrame(payload []byte) error {
	code := CloseNoStatusReceived
	text := ""
	switch {
	case len(payload) >= 2:
		code = int(binary.BigEndian.Uint16(payload[:2]))
		text = string(payload[2:])
	case len(payload) == 1:
		return c.fatal(ErrMalformedHeader)
	}

	if c.advanceState(StateClosing) {
		// We were Open: echo the close payload back before tearing down.
		c.writeControlFrame(CloseMessage, payload)
	}
	c.advanceState(StateClosed)
	c.shutdown()

	err := &CloseError{Code: code, Text: text}
	c.readErr = err
	return err
}

// writeControlFrame encodes and sends a single control frame (Close, Ping,
// or Pong). Unlike NextWriter, it does not require exclusive ownership of
// the write side for the lifetime of a message: if the write mutex is
// currently held by an in-flight data write, the frame is queued instead
// of blocking the caller (SPEC_FULL.md §4.7).
func (c *Conn) writeControlFrame(opcode int, payload []byte) error {
	if len(payload) > maxControlFramePayloadSize {
		return ErrControlFrameTooLarge
	}
	fh := frameHeader{fin: true, opcode: opcode, length: uint64(len(payload))}
	body := payload
	if !c.isServer {
		key, err := newMaskKey()
		if err != nil {
			return err
		}
		fh.masked = true
		fh.maskKey = key
		body = append([]byte(nil), payload...)
		maskBytes(key, 0, body)
	}
	frame := appendFrameHeader(make([]byte, 0, maxFrameHeaderSize+len(body)), fh)
	frame = append(frame, body...)

	if c.writeMu.TryLock() {
		defer c.writeMu.Unlock()
		if err := c.drainControlQueueLocked(); err != nil {
			return err
		}
		return c.writeRaw(frame)
	}
	c.control.push(frame)
	return nil
}

// SendPing and SendPong are the control-send operations named in
// SPEC_FULL.md §4.4.
func (c *Conn) SendPing(payload []byte) error { return c.writeControlFrame(PingMessage, payload) }
func (c *Conn) SendPong(payload []byte) error { return c.writeControlFrame(PongMessage, payload) }

// WriteControl sends a pre-built control message, honoring deadline on the
// underlying stream if it is non-zero. A Close message goes through
// CloseWithPayload; Ping and Pong go through the same path as
// SendPing/SendPong, which send without a deadline.
func (c *Conn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if !isControl(messageType) {
		return ErrOpcodeUnknown
	}
	if !deadline.IsZero() {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if messageType == CloseMessage {
		return c.CloseWithPayload(data)
	}
	return c.writeControlFrame(messageType, data)
}

// drainControlQueueLocked flushes every control frame queued by
// writeControlFrame while the write mutex was held elsewhere. Callers must
// already hold writeMu.
func (c *Conn) drainControlQueueLocked() error {
	for _, frame := range c.control.drain() {
		if err := c.writeRaw(frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) writeRaw(p []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	if _, err := c.bw.Write(p); err != nil {
		c.writeErr = err
		return ErrSendError
	}
	if err := c.bw.Flush(); err != nil {
		c.writeErr = err
		return ErrSendError
	}
	return nil
}

func (c *Conn) checkWriteOp() error {
	if c.ReadyState() != StateOpen {
		return ErrCloseSent
	}
	return nil
}

// NextWriter returns a writer for the next message to send, with the
// given message type (TextMessage or BinaryMessage). Callers must call
// Close on the returned writer to flush the final frame.
func (c *Conn) NextWriter(messageType int) (io.WriteCloser, error) {
	if !isData(messageType) {
		return nil, ErrOpcodeUnknown
	}
	if err := c.checkWriteOp(); err != nil {
		return nil, err
	}
	c.writeMu.Lock()
	if err := c.drainControlQueueLocked(); err != nil {
		c.writeMu.Unlock()
		return nil, err
	}
	c.writeFrameType = messageType
	c.writePos = 0
	return &messageWriter{c: c}, nil
}

// WriteMessage sends a complete message in one call, fragmenting it across
// multiple frames if it is larger than MaxFrameSize, per the send
// algorithm in SPEC_FULL.md §4.4.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	if isControl(messageType) {
		return c.writeControlFrame(messageType, data)
	}
	w, err := c.NextWriter(messageType)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// WriteJSON writes the JSON encoding of v as a text message.
func (c *Conn) WriteJSON(v any) error {
	w, err := c.NextWriter(TextMessage)
	if err != nil {
		return err
	}
	err1 := jsonEncode(w, v)
	err2 := w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// messageWriter implements io.WriteCloser for a single outbound message,
// buffering payload bytes up to c.maxFrameSize before flushing a
// non-final frame, and flushing the final frame on Close.
type messageWriter struct {
	c   *Conn
	err error
}

func (w *messageWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	total := len(p)
	for len(p) > 0 {
		n := copy(w.c.writeBuf[w.c.writePos:], p)
		w.c.writePos += n
		p = p[n:]
		if w.c.writePos == len(w.c.writeBuf) {
			if err := w.c.flushFrame(false); err != nil {
				w.err = err
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (w *messageWriter) Close() error {
	if w.err != nil {
		w.c.writeMu.Unlock()
		return w.err
	}
	err := w.c.flushFrame(true)
	if err == nil {
		// Control frames queued while this message held the lock.
		err = w.c.drainControlQueueLocked()
	}
	w.c.writeMu.Unlock()
	return err
}

// flushFrame writes the buffered payload (writeBuf[:writePos]) as one
// frame, masking it if this side is a client, and resets the buffer for
// the next chunk. final marks the last frame of the message, after which
// subsequent frames (of the next message) start a fresh opcode rather than
// Continuation.
func (c *Conn) flushFrame(final bool) error {
	length := c.writePos
	fh := frameHeader{fin: final, opcode: c.writeFrameType, length: uint64(length)}
	payload := c.writeBuf[:length]
	if !c.isServer {
		key, err := newMaskKey()
		if err != nil {
			return err
		}
		fh.masked = true
		fh.maskKey = key
		maskBytes(key, 0, payload)
	}
	header := appendFrameHeader(make([]byte, 0, maxFrameHeaderSize), fh)
	if err := c.writeRaw(header); err != nil {
		return err
	}
	if length > 0 {
		if _, err := c.bw.Write(payload); err != nil {
			c.writeErr = err
			return ErrSendError
		}
		if err := c.bw.Flush(); err != nil {
			c.writeErr = err
			return ErrSendError
		}
	}
	c.writePos = 0
	c.writeFrameType = continuationFrame
	return nil
}

// readFrame is the inner receive primitive from SPEC_FULL.md §4.4: it
// reads and validates one frame header, transparently absorbing and
// responding to any number of control frames before returning the header
// of the next data or continuation frame.
func (c *Conn) readFrame() (frameHeader, error) {
	for {
		fh, err := parseFrameHeader(c.br)
		if err != nil {
			return frameHeader{}, c.fatal(err)
		}
		if fh.masked != c.isServer {
			return frameHeader{}, c.fatal(ErrMaskMismatch)
		}

		if isControl(fh.opcode) {
			payload := make([]byte, fh.length)
			if fh.length > 0 {
				if _, err := io.ReadFull(c.br, payload); err != nil {
					return frameHeader{}, c.fatal(ErrMalformedHeader)
				}
				if fh.masked {
					maskBytes(fh.maskKey, 0, payload)
				}
			}
			switch fh.opcode {
			case PingMessage:
				c.logger.Debug("websocket: ping received", "len", len(payload), "role", c.role())
				if c.pingHandler != nil {
					c.pingHandler(c, payload)
				}
				if err := c.writeControlFrame(PongMessage, payload); err != nil {
					return frameHeader{}, c.fatal(err)
				}
			case PongMessage:
				if c.pongHandler != nil {
					c.pongHandler(c, payload)
				}
			case CloseMessage:
				return frameHeader{}, c.handleCloseFrame(payload)
			}
			continue
		}

		if fh.opcode == continuationFrame {
			if c.readMessageType == 0 {
				return frameHeader{}, c.fatal(ErrInvalidContinuation)
			}
		} else {
			if c.readMessageType != 0 {
				return frameHeader{}, c.fatal(ErrInvalidContinuation)
			}
			c.readMessageType = fh.opcode
		}
		return fh, nil
	}
}

// messageReader implements io.Reader over recvInto for the duration of one
// logical message.
type messageReader struct {
	c *Conn
}

func (r *messageReader) Read(b []byte) (int, error) {
	return r.c.recvInto(b)
}

// NextReader starts (or resumes) reading the next message and returns its
// message type along with a Reader that streams its payload. Ping/Pong
// frames observed before the first data frame are absorbed transparently;
// a Close frame ends the Connection and is returned as the error.
func (c *Conn) NextReader() (messageType int, r io.Reader, err error) {
	if c.readErr != nil {
		return 0, nil, c.readErr
	}
	if c.curFrame == nil {
		fh, err := c.readFrame()
		if err != nil {
			return 0, nil, err
		}
		c.curFrame = &fh
		c.curConsumed = 0
		c.messageBytesRead = 0
	}
	return c.readMessageType, &messageReader{c: c}, nil
}

// ReadMessage reads one complete message, up to MaxMessageSize.
func (c *Conn) ReadMessage() (messageType int, p []byte, err error) {
	messageType, r, err := c.NextReader()
	if err != nil {
		return messageType, nil, err
	}
	p, err = io.ReadAll(r)
	return messageType, p, err
}

// ReadJSON reads one complete message and JSON-decodes it into v.
func (c *Conn) ReadJSON(v any) error {
	_, r, err := c.NextReader()
	if err != nil {
		return err
	}
	return jsonDecode(r, v)
}

// recvInto implements the message reassembly contract of SPEC_FULL.md
// §4.4: it fills b with up to len(b) bytes of application payload,
// transparently fetching Continuation frames as needed, and returns
// (0, io.EOF) once the current message's final frame has been fully
// consumed.
func (c *Conn) recvInto(b []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(b) == 0 {
		return 0, nil
	}

	for {
		if c.curFrame == nil {
			fh, err := c.readFrame()
			if err != nil {
				return 0, err
			}
			c.curFrame = &fh
			c.curConsumed = 0
		}

		remaining := c.curFrame.length - c.curConsumed
		if remaining == 0 {
			if c.curFrame.fin {
				c.readMessageType = 0
				c.curFrame = nil
				return 0, io.EOF
			}
			fh, err := c.readFrame()
			if err != nil {
				return 0, err
			}
			if fh.opcode != continuationFrame {
				return 0, c.fatal(ErrInvalidContinuation)
			}
			c.curFrame = &fh
			c.curConsumed = 0
			continue
		}

		n := len(b)
		if uint64(n) > remaining {
			n = int(remaining)
		}
		read, err := io.ReadFull(c.br, b[:n])
		if err != nil {
			return 0, c.fatal(ErrMalformedHeader)
		}
		if c.curFrame.masked {
			maskBytes(c.curFrame.maskKey, int(c.curConsumed), b[:read])
		}
		c.curConsumed += uint64(read)
		c.messageBytesRead += uint64(read)
		if c.maxMessageSize > 0 && c.messageBytesRead > uint64(c.maxMessageSize) {
			return read, ErrMaxMessageSizeExceeded
		}
		return read, nil
	}
}

// discardHandler is a slog.Handler that drops every record, used as the
// default Logger so an unconfigured Connection never panics or writes
// unwanted output (SPEC_FULL.md's AMBIENT STACK).
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
