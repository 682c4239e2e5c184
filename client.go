// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// connect performs the client side of the opening handshake over netConn,
// which must already be a plaintext stream to the target host: this is the
// ws-only core primitive from SPEC_FULL.md §4.3. wss is handled one layer
// up, by Dialer.Dial wrapping netConn in TLS before calling here.
func connect(netConn net.Conn, u *url.URL, requestHeader http.Header, readBufSize, writeBufSize int, cfg connConfig) (c *Conn, response *http.Response, err error) {
	if u.Scheme != "ws" {
		return nil, nil, ErrWrongUriScheme
	}

	challengeKey, err := newChallengeNonce()
	if err != nil {
		return nil, nil, err
	}
	acceptKey := computeAcceptKey(challengeKey)

	c = newConn(netConn, false, readBufSize, writeBufSize, cfg)
	p := make([]byte, 0, 256)
	p = append(p, "GET "...)
	p = append(p, u.RequestURI()...)
	p = append(p, " HTTP/1.1\r\nHost: "...)
	p = append(p, u.Host...)
	// "Upgrade" is capitalized for servers that do not use case-insensitive
	// comparisons on header tokens.
	p = append(p, "\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nCache-Control: no-cache\r\nSec-WebSocket-Version: "...)
	p = append(p, websocketVersion...)
	p = append(p, "\r\nSec-WebSocket-Key: "...)
	p = append(p, challengeKey...)
	p = append(p, "\r\n"...)
	for k, vs := range requestHeader {
		for _, v := range vs {
			p = append(p, k...)
			p = append(p, ": "...)
			p = append(p, v...)
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)

	if _, err := netConn.Write(p); err != nil {
		return nil, nil, err
	}

	resp, err := http.ReadResponse(c.br, &http.Request{Method: "GET", URL: u})
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != 101 ||
		!strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") ||
		!strings.EqualFold(resp.Header.Get("Connection"), "upgrade") ||
		resp.Header.Get("Sec-Websocket-Accept") != acceptKey {
		return nil, resp, ErrBadHandshake
	}
	c.subprotocol = resp.Header.Get(protocolHeader)
	return c, resp, nil
}

// Dialer holds the configuration for the client side of the opening
// handshake (SPEC_FULL.md §4.6), including optional proxy support via
// golang.org/x/net/proxy (SOCKS5 proxies only; see Proxy).
type Dialer struct {
	// NetDial specifies the dial function for the initial TCP connection.
	// If nil, the dial goes through the proxy chosen by Proxy, if any, and
	// is direct otherwise.
	NetDial func(network, addr string) (net.Conn, error)

	// NetDialContext specifies a context-aware dial function for the
	// initial TCP connection. If set, it takes precedence over NetDial;
	// DialContext passes it the caller's context so a canceled or
	// deadline-exceeded context aborts an in-flight dial.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxy returns the proxy URL to use for a given request, in the style
	// of http.Transport.Proxy; the request carries the ws or wss URL being
	// dialed. If Proxy is nil or returns a nil URL, no proxy is used. A
	// non-nil URL is resolved by golang.org/x/net/proxy.FromURL, which
	// supports socks5 and socks5h proxies; an http or https proxy URL makes
	// the dial fail. Proxy is not consulted when NetDial or NetDialContext
	// is set.
	Proxy func(*http.Request) (*url.URL, error)

	// TLSClientConfig is used when the URL scheme is wss.
	TLSClientConfig *tls.Config

	// HandshakeTimeout, if non-zero, sets a deadline on the connection for
	// the TLS and opening handshakes. The deadline is counted from the
	// start of the dial, but the TCP dial itself is bounded only by the
	// context passed to DialContext.
	HandshakeTimeout time.Duration

	// ReadBufferSize and WriteBufferSize size the Connection's I/O
	// buffers. Zero selects a 4096-byte default.
	ReadBufferSize, WriteBufferSize int

	// MaxFrameSize and MaxMessageSize mirror the fields of the same name
	// on Upgrader.
	MaxFrameSize   int
	MaxMessageSize int64

	// Subprotocols lists the client's requested subprotocols, sent in
	// preference order.
	Subprotocols []string

	PingHandler PingHandler
	PongHandler PongHandler

	Logger *slog.Logger
}

var errMalformedURL = errors.New("websocket: malformed ws or wss URL")

func parseURL(u string) (useTLS bool, host, port, opaque string, err error) {
	// ws-URI  = "ws:"  "//" host [ ":" port ] path [ "?" query ]
	// wss-URI = "wss:" "//" host [ ":" port ] path [ "?" query ]
	//
	// net/url's percent-decoding gets in the way of round-tripping opaque
	// paths, so the URI is split by hand instead.
	switch {
	case strings.HasPrefix(u, "ws://"):
		u = u[len("ws://"):]
	case strings.HasPrefix(u, "wss://"):
		u = u[len("wss://"):]
		useTLS = true
	default:
		return false, "", "", "", errMalformedURL
	}

	hostPort := u
	opaque = "/"
	if i := strings.Index(u, "/"); i >= 0 {
		hostPort = u[:i]
		opaque = u[i:]
	}

	host = hostPort
	port = ":80"
	if i := strings.LastIndex(hostPort, ":"); i > strings.LastIndex(hostPort, "]") {
		host = hostPort[:i]
		port = hostPort[i:]
	} else if useTLS {
		port = ":443"
	}

	return useTLS, host, port, opaque, nil
}

// DefaultDialer is a Dialer whose only non-zero field is Proxy, set to
// http.ProxyFromEnvironment.
var DefaultDialer = &Dialer{Proxy: http.ProxyFromEnvironment}

// Dial opens a client connection to urlStr ("ws://..." or "wss://..."),
// performing the opening handshake and returning a ready Connection.
// requestHeader carries Origin, Sec-WebSocket-Protocol, and any cookies.
// If the handshake fails, the returned error is ErrBadHandshake and
// response is non-nil so callers can inspect redirects or auth challenges.
// It is DialContext against context.Background().
func (d *Dialer) Dial(urlStr string, requestHeader http.Header) (*Conn, *http.Response, error) {
	return d.DialContext(context.Background(), urlStr, requestHeader)
}

// DialContext is Dial with a context for the initial TCP dial. A direct
// dial, NetDialContext, and a proxy dialer that implements
// proxy.ContextDialer receive ctx, so canceling ctx or passing its deadline
// aborts an in-flight dial; NetDial and proxy dialers without DialContext
// do not see ctx. HandshakeTimeout, if set, bounds the handshakes that
// follow independently of ctx.
func (d *Dialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*Conn, *http.Response, error) {
	if d == nil {
		d = &Dialer{}
	}

	useTLS, host, port, opaque, err := parseURL(urlStr)
	if err != nil {
		return nil, nil, err
	}

	var deadline time.Time
	if d.HandshakeTimeout != 0 {
		deadline = time.Now().Add(d.HandshakeTimeout)
	}

	target := host + port
	netDial, err := d.dialFunc(ctx, urlStr, target)
	if err != nil {
		return nil, nil, err
	}

	netConn, err := netDial(ctx, "tcp", target)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if netConn != nil {
			netConn.Close()
		}
	}()

	if err := netConn.SetDeadline(deadline); err != nil {
		return nil, nil, err
	}

	if useTLS {
		cfg := d.TLSClientConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: host}
		} else if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = host
		}
		tlsConn := tls.Client(netConn, cfg)
		netConn = tlsConn
		if err := tlsConn.Handshake(); err != nil {
			return nil, nil, err
		}
		if !cfg.InsecureSkipVerify {
			if err := tlsConn.VerifyHostname(cfg.ServerName); err != nil {
				return nil, nil, err
			}
		}
	}

	readBufferSize := d.ReadBufferSize
	if readBufferSize == 0 {
		readBufferSize = 4096
	}
	writeBufferSize := d.WriteBufferSize
	if writeBufferSize == 0 {
		writeBufferSize = 4096
	}

	if len(d.Subprotocols) > 0 {
		h := http.Header{}
		for k, v := range requestHeader {
			h[k] = v
		}
		h.Set(protocolHeader, strings.Join(d.Subprotocols, ", "))
		requestHeader = h
	}

	conn, resp, err := connect(
		netConn,
		&url.URL{Scheme: "ws", Host: host + port, Opaque: opaque},
		requestHeader, readBufferSize, writeBufferSize,
		connConfig{
			MaxFrameSize:   d.MaxFrameSize,
			MaxMessageSize: d.MaxMessageSize,
			PingHandler:    d.PingHandler,
			PongHandler:    d.PongHandler,
			Logger:         d.Logger,
		},
	)
	if err != nil {
		return nil, resp, err
	}

	netConn.SetDeadline(time.Time{})
	netConn = nil // avoid the deferred close
	return conn, resp, nil
}

// dialFunc resolves the context-aware TCP dial function to use for target,
// taking Dialer.NetDialContext, Dialer.NetDial, and Dialer.Proxy into
// account. A non-nil proxy URL is resolved through
// golang.org/x/net/proxy.FromURL, which knows the socks5 and socks5h
// schemes and returns an error for any other scheme, http and https
// included.
func (d *Dialer) dialFunc(ctx context.Context, urlStr, target string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	if d.NetDialContext != nil {
		return d.NetDialContext, nil
	}
	if d.NetDial != nil {
		nd := d.NetDial
		return func(_ context.Context, network, addr string) (net.Conn, error) {
			return nd(network, addr)
		}, nil
	}

	proxyFn := d.Proxy
	if proxyFn == nil {
		return (&net.Dialer{}).DialContext, nil
	}

	req, err := http.NewRequest("GET", urlStr, nil)
	if err != nil {
		return nil, err
	}
	proxyURL, err := proxyFn(req)
	if err != nil {
		return nil, err
	}
	if proxyURL == nil {
		return (&net.Dialer{}).DialContext, nil
	}

	proxyDialer, err := proxy.FromURL(proxyURL, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if ctxDialer, ok := proxyDialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return proxyDialer.Dial(network, addr)
	}, nil
}
