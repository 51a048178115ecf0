// Package tlsadapter turns a pair of blocking byte streams (in, out) into a
// TLS session over the same pair, negotiating an application protocol via
// ALPN. crypto/tls only speaks to a net.Conn, so streamConn adapts an
// arbitrary io.Reader/io.Writer pair into the minimal net.Conn surface
// *tls.Conn actually exercises.
package tlsadapter

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"
)

// Handshake performs a server-side TLS handshake (TLS 1.2 minimum) over in
// and out, offering alpnOffers via ALPN. It returns a stream pair that reads
// and writes plaintext, plus the negotiated protocol (empty if the peer did
// not participate in ALPN).
//
// I/O errors raised by in or out surface unchanged (the original error value) from
// the returned streams' Read/Write, rather than as opaque tls package errors
// — streamConn stashes the underlying error and Handshake/Read/Write below
// prefer it over whatever crypto/tls made of it.
func Handshake(in io.Reader, out io.Writer, certFile, keyFile string, alpnOffers []string) (tlsIn io.Reader, tlsOut io.Writer, negotiated string, err error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, nil, "", fmt.Errorf("tlsadapter: load key pair: %w", err)
	}

	conn := &streamConn{in: in, out: out}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   alpnOffers,
	}

	tconn := tls.Server(conn, cfg)
	if err := tconn.Handshake(); err != nil {
		if conn.err != nil {
			return nil, nil, "", conn.err
		}
		return nil, nil, "", fmt.Errorf("tlsadapter: handshake: %w", err)
	}

	return &errUnwrappingReader{conn: conn, r: tconn}, &errUnwrappingWriter{conn: conn, w: tconn}, tconn.ConnectionState().NegotiatedProtocol, nil
}

// streamConn adapts (io.Reader, io.Writer) into net.Conn. Only Read, Write
// and Close are ever called by *tls.Conn in the way this adapter uses it;
// the rest are no-ops so the adapter works over streams that have no real
// notion of addresses or deadlines (matching the BIO-based "abstract
// stream" shim the original TLS layer used).
type streamConn struct {
	in  io.Reader
	out io.Writer
	err error // last I/O error observed from in/out, for rethrowing
}

func (c *streamConn) Read(p []byte) (int, error) {
	n, err := c.in.Read(p)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

func (c *streamConn) Write(p []byte) (int, error) {
	n, err := c.out.Write(p)
	if err != nil {
		c.err = err
	}
	return n, err
}

func (c *streamConn) Close() error {
	if wc, ok := c.out.(io.Closer); ok {
		return wc.Close()
	}
	return nil
}

func (c *streamConn) LocalAddr() net.Addr                { return streamAddr{} }
func (c *streamConn) RemoteAddr() net.Addr               { return streamAddr{} }
func (c *streamConn) SetDeadline(t time.Time) error      { return nil }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return nil }

type streamAddr struct{}

func (streamAddr) Network() string { return "stream" }
func (streamAddr) String() string  { return "stream" }

// errUnwrappingReader/Writer prefer the underlying stream's own error over
// whatever crypto/tls wrapped it in, so a caller checking errors.Is against
// the underlying stream's sentinel errors still works through the TLS hop.
type errUnwrappingReader struct {
	conn *streamConn
	r    io.Reader
}

func (r *errUnwrappingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.conn.err != nil {
		return n, r.conn.err
	}
	return n, err
}

type errUnwrappingWriter struct {
	conn *streamConn
	w    io.Writer
}

func (w *errUnwrappingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil && w.conn.err != nil {
		return n, w.conn.err
	}
	return n, err
}
