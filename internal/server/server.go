// Package server implements the thread-per-connection listener and the
// per-connection HTTP/1.1 loop: one goroutine per accepted connection,
// blocking socket I/O, and a cooperative handoff to internal/httpx for
// parsing and response framing.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/andycostintoma/remote-test-agent/internal/httpx"
	"github.com/andycostintoma/remote-test-agent/internal/netx"
	"github.com/andycostintoma/remote-test-agent/internal/tlsadapter"
	"go.uber.org/zap"
)

const (
	defaultHeaderBufSize = 64 * 1024
	defaultMaxBodyBytes  = 64 << 20
	defaultIdleTimeout   = 30 * time.Second
)

// Config configures a Server. TLSCertFile/TLSKeyFile must both be set to
// enable TLS; ALPNProtocols defaults to {"http/1.1"} when empty,
// since this package only implements an HTTP/1.1 engine — offering
// "h2" without an h2 engine behind it would just mean silently falling back,
// which is worse than never offering it.
type Config struct {
	Addr          string
	Handler       httpx.Handler
	Logger        *zap.Logger
	TLSCertFile   string
	TLSKeyFile    string
	ALPNProtocols []string
	IdleTimeout   time.Duration
	MaxBodyBytes  int64
}

// Server accepts TCP connections and serves each on its own goroutine.
type Server struct {
	cfg Config
}

// New returns a Server ready to ListenAndServe.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(cfg.ALPNProtocols) == 0 {
		cfg.ALPNProtocols = []string{"http/1.1"}
	}
	return &Server{cfg: cfg}
}

func (s *Server) tlsEnabled() bool {
	return s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
}

// ListenAndServe binds Addr and accepts connections until Accept returns an
// error (including the listener being closed); it returns that error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	s.cfg.Logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", s.tlsEnabled()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

// serveConn runs the per-connection HTTP/1.1 loop. Exactly one
// goroutine owns conn for its whole lifetime; all exit paths close it.
func (s *Server) serveConn(conn net.Conn) {
	logger := s.cfg.Logger
	defer conn.Close()

	var in io.Reader = conn
	var out io.Writer = conn

	if s.tlsEnabled() {
		tlsIn, tlsOut, negotiated, err := tlsadapter.Handshake(conn, conn, s.cfg.TLSCertFile, s.cfg.TLSKeyFile, s.cfg.ALPNProtocols)
		if err != nil {
			logger.Warn("tls handshake failed", zap.Error(err))
			return
		}
		logger.Debug("tls handshake ok", zap.String("negotiated", negotiated))
		in, out = tlsIn, tlsOut
	}

	r := netx.NewCRLFFastReader(in)
	limits := httpx.ParseLimits{MaxLineBytes: defaultHeaderBufSize, MaxHeaderBytes: defaultHeaderBufSize}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		req, err := httpx.ParseRequest(r, limits)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("malformed request, closing connection", zap.Error(err))
			}
			return
		}

		_ = conn.SetReadDeadline(time.Time{})

		body, contentLength, err := s.attachBody(req, r)
		if err != nil {
			logger.Debug("bad request body framing, closing connection", zap.Error(err))
			return
		}
		req.Body = body
		req.ContentLength = contentLength

		resp := s.dispatch(req)
		_ = body.Close()

		logger.Info("request", zap.String("method", req.Method), zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode))

		if err := httpx.WriteResponse(req.Context(), out, resp); err != nil {
			logger.Debug("failed writing response, closing connection", zap.Error(err))
			return
		}
		if closer, ok := resp.Body.(io.Closer); ok {
			_ = closer.Close()
		}

		if shouldClose(req) {
			return
		}
	}
}

// attachBody builds the request body stream: POST and PUT get a body
// limited by Content-Length (or chunked/close-delimited, which
// NewBodyReader also supports though chunked request bodies aren't
// required); every other method gets an always-empty stream.
func (s *Server) attachBody(req *httpx.Request, r *netx.CRLFFastReader) (io.ReadCloser, int64, error) {
	if req.Method != "POST" && req.Method != "PUT" {
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	return httpx.NewBodyReader(context.Background(), req, r.Underlying(), s.cfg.MaxBodyBytes)
}

// dispatch invokes the handler and converts a panic or nil Response into a
// 500: any failure from a handler body results in a 500 response (headers
// haven't been sent yet at this point, so it is always safe to substitute one).
func (s *Server) dispatch(req *httpx.Request) (resp *httpx.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("handler panicked", zap.Any("panic", r))
			resp = &httpx.Response{StatusCode: 500, Header: httpx.Header{}, ContentLength: 0, Body: strings.NewReader("")}
		}
	}()

	resp = s.cfg.Handler(req)
	if resp == nil {
		resp = &httpx.Response{StatusCode: 500, Header: httpx.Header{}, ContentLength: 0, Body: strings.NewReader("")}
	}
	if resp.Body == nil {
		resp.Body = strings.NewReader("")
		resp.ContentLength = 0
	}
	return resp
}

// shouldClose reports whether the connection should close after this
// response, honoring an explicit "Connection: close" request header.
func shouldClose(req *httpx.Request) bool {
	return strings.EqualFold(req.Header.Get("Connection"), "close")
}
