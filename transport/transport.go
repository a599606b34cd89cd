// Package transport implements the byte-transport capability of spec §4.1:
// establishing, reading, writing and closing a stream to (host, port),
// optionally wrapped in TLS, with would-block and fatal errors reported
// distinctly so HttpEngine can drive it without blocking.
//
// Grounded on the teacher's transport.Client (Read/Pushback/Write/Remote/
// Close over an already-accepted net.Conn), generalized here from
// "server accepted this for us" to "we dial it ourselves", and on the
// teacher's https.go for the crypto/tls.Config construction. The
// "optional verification" policy and the exact verification-flag set are
// taken from original_source/minihttp.cpp's mbedtls SSL block (§6);
// FlagRevoked is populated from a stapled OCSP response via
// golang.org/x/crypto/ocsp, the nearest Go equivalent of mbedtls's CRL
// check.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/fgenesis/minihttp/httperr"
)

// Flags is a bitset over the certificate problems described in §6, filled
// in by VerifyTLS after a handshake. A non-empty set does not by itself
// abort the connection: verification is "optional".
type Flags uint16

const (
	FlagNone       Flags = 0
	FlagExpired    Flags = 1 << iota
	FlagRevoked
	FlagCNMismatch
	FlagNotTrusted
	FlagMissing
	FlagSkipVerify
	FlagFuture
	FlagFail
	// FlagNoSSL is returned when the connection isn't using TLS at all.
	FlagNoSSL
)

// ignoreSigpipeOnce installs the platform's SIGPIPE-ignore, exactly once
// per process, mirroring example2.cpp's signal(SIGPIPE, SIG_IGN) and §4.1's
// "disables SIGPIPE on platforms where that signal exists".
var ignoreSigpipeOnce sync.Once

// Conn is the capability surface HttpEngine drives: everything a Transport
// exposes, pulled out as an interface so the engine can be exercised
// against a scriptable fake (see engine's tests) instead of a real socket,
// grounded on the teacher's internal/server/tcp.Client / transport.Client
// interfaces.
type Conn interface {
	Open(host string, port uint16, useSSL bool) error
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	SetNonblocking(nonblocking bool)
	VerifyTLS() (Flags, string)
	Close() error
	IsOpen() bool
}

var _ Conn = (*Transport)(nil)

// Transport is a single (host, port, useSSL) byte stream. One instance
// corresponds to one TCP (or TLS) connection; a new Transport is created
// per Request fingerprint change, per §3's ConnectionState.
type Transport struct {
	conn        net.Conn
	tlsConn     *tls.Conn
	useSSL      bool
	nonblocking bool
	verifyFlags Flags
	verifyInfo  string
	rootCAs     *x509.CertPool
}

// New constructs an unopened Transport. Call Open to establish the
// connection.
func New() *Transport {
	ignoreSIGPIPE()

	return &Transport{}
}

// SetRootCAs installs a PEM-like certificate blob to trust in addition to
// the system pool, mirroring §6's init_ssl(certs).
func (t *Transport) SetRootCAs(pemCerts []byte) bool {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if !pool.AppendCertsFromPEM(pemCerts) {
		return false
	}

	t.rootCAs = pool
	return true
}

// Open resolves host, connects, and — if useSSL — completes a TLS 1.0+
// handshake with verification mode "optional": the handshake proceeds even
// if verification fails, and the result is reported separately via
// VerifyTLS, per §4.1.
func (t *Transport) Open(host string, port uint16, useSSL bool) error {
	t.useSSL = useSSL
	t.verifyFlags = FlagNone
	t.verifyInfo = ""

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	conn, err := net.DialTimeout("tcp4", addr, 10*time.Second)
	if err != nil {
		return classifyDialErr(err)
	}

	if !useSSL {
		t.conn = conn
		return nil
	}

	cfg := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS10,
		InsecureSkipVerify: true,
		RootCAs:            t.rootCAs,
		VerifyConnection:   t.recordVerification,
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		return httperr.Wrap(httperr.KindTLSHandshakeFailure, err)
	}

	t.conn = tlsConn
	t.tlsConn = tlsConn

	return nil
}

// recordVerification performs the certificate chain verification manually
// (so a failure can be recorded as a flag instead of aborting the
// handshake, matching mbedtls's MBEDTLS_SSL_VERIFY_OPTIONAL) and never
// itself returns an error.
func (t *Transport) recordVerification(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		// Nothing was presented to check, so every per-certificate test
		// below is trivially skipped.
		t.verifyFlags |= FlagMissing | FlagSkipVerify
		return nil
	}

	opts := x509.VerifyOptions{
		DNSName:       cs.ServerName,
		Intermediates: x509.NewCertPool(),
		Roots:         t.rootCAs,
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}

	leaf := cs.PeerCertificates[0]
	now := time.Now()

	if now.Before(leaf.NotBefore) {
		t.verifyFlags |= FlagFuture
	}
	if now.After(leaf.NotAfter) {
		t.verifyFlags |= FlagExpired
	}

	if _, err := leaf.Verify(opts); err != nil {
		t.verifyFlags |= FlagNotTrusted
		t.verifyInfo = err.Error()

		if _, ok := err.(x509.HostnameError); ok {
			t.verifyFlags |= FlagCNMismatch
		}
	}

	t.recordOCSP(cs, leaf)

	if t.verifyFlags&(FlagNotTrusted|FlagExpired|FlagRevoked) != 0 {
		t.verifyFlags |= FlagFail
	}

	return nil
}

// recordOCSP decodes a stapled OCSP response, if the peer sent one, and
// sets FlagRevoked when the responder reports the leaf certificate
// revoked. A missing or unparseable response sets no flag: stapling is
// optional and its absence is not itself a certificate problem.
func (t *Transport) recordOCSP(cs tls.ConnectionState, leaf *x509.Certificate) {
	if len(cs.OCSPResponse) == 0 {
		return
	}

	var issuer *x509.Certificate
	if len(cs.PeerCertificates) > 1 {
		issuer = cs.PeerCertificates[1]
	}

	resp, err := ocsp.ParseResponseForCert(cs.OCSPResponse, leaf, issuer)
	if err != nil {
		return
	}

	if resp.Status == ocsp.Revoked {
		t.verifyFlags |= FlagRevoked
	}
}

// VerifyTLS returns the verification flags and a human-readable diagnostic,
// per §4.1 and §6. Returns FlagNoSSL when TLS is not in use, matching
// original_source's SSLR_NO_SSL.
func (t *Transport) VerifyTLS() (Flags, string) {
	if !t.useSSL {
		return FlagNoSSL, ""
	}

	return t.verifyFlags, t.verifyInfo
}

// SetNonblocking toggles non-blocking behavior. A near-zero read/write
// deadline is used on each call so a would-block condition surfaces as
// httperr.KindWouldBlock instead of a generic timeout.
func (t *Transport) SetNonblocking(nonblocking bool) {
	t.nonblocking = nonblocking
}

// Read reads into buf. Returns (n, nil) for n>0 bytes read,
// httperr.ErrConnectionClosed on peer close (io.EOF from the socket), or an
// httperr.Error classifying would-block vs. fatal errors
// per §4.1's error-kind table.
func (t *Transport) Read(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, httperr.New(httperr.KindNotConnected, "transport not open")
	}

	if t.nonblocking {
		_ = t.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	n, err := t.conn.Read(buf)
	if err != nil {
		return n, classifyIOErr(err)
	}

	return n, nil
}

// Write writes buf, returning the number of bytes actually written. Partial
// writes are allowed; the caller loops, per §4.1.
func (t *Transport) Write(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, httperr.New(httperr.KindNotConnected, "transport not open")
	}

	if t.nonblocking {
		_ = t.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}

	n, err := t.conn.Write(buf)
	if err != nil {
		return n, classifyIOErr(err)
	}

	return n, nil
}

// Close releases OS and TLS resources.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.tlsConn = nil

	return err
}

// IsOpen reports whether the underlying connection is established.
func (t *Transport) IsOpen() bool {
	return t.conn != nil
}

func classifyDialErr(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return httperr.Wrap(httperr.KindTimeout, err)
	}

	return httperr.Wrap(httperr.KindResolveFailure, err)
}

func classifyIOErr(err error) error {
	if err == io.EOF {
		return httperr.ErrConnectionClosed
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return httperr.New(httperr.KindWouldBlock, "would block")
	}

	if opErr, ok := err.(*net.OpError); ok {
		switch {
		case opErr.Timeout():
			return httperr.New(httperr.KindWouldBlock, "would block")
		case isConnReset(opErr):
			return httperr.Wrap(httperr.KindConnectionReset, err)
		}
	}

	return httperr.Wrap(httperr.KindAborted, err)
}

func isConnReset(opErr *net.OpError) bool {
	return opErr.Err != nil && (opErr.Err.Error() == "connection reset by peer" ||
		opErr.Err.Error() == "broken pipe")
}

func ignoreSIGPIPE() {
	ignoreSigpipeOnce.Do(ignoreSIGPIPEPlatform)
}
