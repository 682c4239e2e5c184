//go:build go1.4

package websocket

import (
	"bytes"
	"log/slog"
	"net"

	"github.com/valyala/fasthttp"
)

func checkSameOriginFastHTTP(ctx *fasthttp.RequestCtx) bool {
	return checkSameOriginFromHeaderAndHost(string(ctx.Request.Header.Peek(originHeader)), string(ctx.Host()))
}

// FastHTTPUpgrader is the fasthttp-backed sibling of Upgrader, for
// applications built on valyala/fasthttp instead of net/http. It performs
// the same opening handshake (SPEC_FULL.md §4.5) against fasthttp's own
// header and hijack APIs.
type FastHTTPUpgrader struct {
	// Handler receives the Connection once the handshake completes. Required.
	Handler func(*Conn)

	// ReadBufferSize and WriteBufferSize size the Connection's I/O buffers.
	// Zero selects a 4096-byte default.
	ReadBufferSize, WriteBufferSize int

	// MaxFrameSize and MaxMessageSize mirror the fields of the same name on
	// Upgrader.
	MaxFrameSize   int
	MaxMessageSize int64

	// Subprotocols lists the server's supported subprotocols in preference
	// order.
	Subprotocols []string

	// CheckOrigin returns true if the request's Origin header is
	// acceptable. If nil, the default same-origin check is used.
	CheckOrigin func(ctx *fasthttp.RequestCtx) bool

	PingHandler PingHandler
	PongHandler PongHandler

	Logger *slog.Logger
}

var websocketVersionByte = []byte(websocketVersion)

// UpgradeHandler validates a fasthttp request as a WebSocket handshake,
// writes the 101 response, and hijacks the connection into f.Handler.
func (f *FastHTTPUpgrader) UpgradeHandler(ctx *fasthttp.RequestCtx) {
	if f.Handler == nil {
		panic("websocket: FastHTTPUpgrader has no Handler set")
	}

	if !ctx.IsGet() {
		ctx.Error("websocket: method not GET", fasthttp.StatusMethodNotAllowed)
		return
	}

	if !bytes.Equal(ctx.Request.Header.Peek("Sec-Websocket-Version"), websocketVersionByte) {
		ctx.Error("websocket: version != "+websocketVersion, fasthttp.StatusBadRequest)
		return
	}

	if !ctx.Request.Header.ConnectionUpgrade() {
		ctx.Error("websocket: connection header != upgrade", fasthttp.StatusBadRequest)
		return
	}

	if !headerListContainsValue([]string{string(ctx.Request.Header.Peek("Upgrade"))}, "websocket") {
		ctx.Error("websocket: upgrade != websocket", fasthttp.StatusBadRequest)
		return
	}

	checkOrigin := f.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOriginFastHTTP
	}
	if !checkOrigin(ctx) {
		ctx.Error("websocket: origin not allowed", fasthttp.StatusForbidden)
		return
	}

	challengeKey := ctx.Request.Header.Peek("Sec-Websocket-Key")
	if len(challengeKey) == 0 {
		ctx.Error("websocket: key missing or blank", fasthttp.StatusBadRequest)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusSwitchingProtocols)
	ctx.Response.Header.Set("Upgrade", "websocket")
	ctx.Response.Header.Set("Connection", "Upgrade")
	ctx.Response.Header.Set("Sec-WebSocket-Accept", computeAcceptKeyByte(challengeKey))

	subprotocol := string(ctx.Response.Header.Peek(protocolHeader))
	if subprotocol == "" {
		clientProtocols := subprotocolsFromHeader(string(ctx.Request.Header.Peek(protocolHeader)))
		if len(clientProtocols) != 0 {
			subprotocol = matchSubprotocol(clientProtocols, f.Subprotocols)
			if subprotocol != "" {
				ctx.Response.Header.Set(protocolHeader, subprotocol)
			}
		}
	}

	cfg := connConfig{
		MaxFrameSize:   f.MaxFrameSize,
		MaxMessageSize: f.MaxMessageSize,
		Subprotocol:    subprotocol,
		PingHandler:    f.PingHandler,
		PongHandler:    f.PongHandler,
		Logger:         f.Logger,
	}

	ctx.Hijack(func(conn net.Conn) {
		c := newConn(conn, true, f.ReadBufferSize, f.WriteBufferSize, cfg)
		f.Handler(c)
	})
}
