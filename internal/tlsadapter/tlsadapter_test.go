package tlsadapter

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeSelfSignedCert generates an ephemeral ECDSA cert/key pair on disk for
// exercising Handshake end to end.
func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "remote-test-agent"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}), 0o600))
	return certFile, keyFile
}

func TestHandshakeNegotiatesALPNAndCarriesData(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	type result struct {
		in         io.Reader
		out        io.Writer
		negotiated string
		err        error
	}
	serverDone := make(chan result, 1)
	go func() {
		in, out, proto, err := Handshake(serverConn, serverConn, certFile, keyFile, []string{"h2", "http/1.1"})
		serverDone <- result{in, out, proto, err}
	}()

	clientCfg := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"http/1.1"}}
	tclient := tls.Client(clientConn, clientCfg)
	require.NoError(t, tclient.Handshake())
	require.Equal(t, "http/1.1", tclient.ConnectionState().NegotiatedProtocol)

	res := <-serverDone
	require.NoError(t, res.err)
	require.Equal(t, "http/1.1", res.negotiated)

	want := []byte("hello over tls")
	go func() {
		_, _ = res.out.Write(want)
	}()

	got := make([]byte, len(want))
	_, err := io.ReadFull(tclient, got)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestHandshakeWithNoALPNOffersLeavesNegotiatedEmpty(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	protoCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		_, _, proto, err := Handshake(serverConn, serverConn, certFile, keyFile, nil)
		protoCh <- proto
		errCh <- err
	}()

	tclient := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, tclient.Handshake())

	require.NoError(t, <-errCh)
	require.Equal(t, "", <-protoCh)
}
