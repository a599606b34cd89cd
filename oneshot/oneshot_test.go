package oneshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fgenesis/minihttp/engine"
	"github.com/fgenesis/minihttp/httperr"
	"github.com/fgenesis/minihttp/request"
	"github.com/fgenesis/minihttp/transport"
)

// fakeConn is a scriptable transport.Conn, the same pattern
// engine/engine_test.go uses to exercise the state machine without a real
// socket.
type fakeConn struct {
	reads  [][]byte
	readAt int
	open   bool
}

func newFakeConn(chunks ...string) *fakeConn {
	c := &fakeConn{open: true}
	for _, s := range chunks {
		c.reads = append(c.reads, []byte(s))
	}

	return c
}

func (f *fakeConn) Open(string, uint16, bool) error { f.open = true; return nil }

func (f *fakeConn) Read(buf []byte) (int, error) {
	if f.readAt >= len(f.reads) {
		return 0, httperr.ErrWouldBlock
	}

	chunk := f.reads[f.readAt]
	f.readAt++

	return copy(buf, chunk), nil
}

func (f *fakeConn) Write(buf []byte) (int, error) { return len(buf), nil }

func (f *fakeConn) SetNonblocking(bool) {}

func (f *fakeConn) VerifyTLS() (transport.Flags, string) { return transport.FlagNoSSL, "" }

func (f *fakeConn) Close() error { f.open = false; return nil }

func (f *fakeConn) IsOpen() bool { return f.open }

var _ transport.Conn = (*fakeConn)(nil)

// withFakeDialer overrides newEngine for the duration of one test, handing
// every constructed Engine a Dialer that returns conn instead of opening a
// real socket.
func withFakeDialer(t *testing.T, conn *fakeConn) {
	t.Helper()

	orig := newEngine
	newEngine = func(h engine.Handler) *engine.Engine {
		e := orig(h)
		e.SetDialer(func(string, uint16, bool) (transport.Conn, error) {
			return conn, nil
		})

		return e
	}

	t.Cleanup(func() { newEngine = orig })
}

func TestDownloadReturnsBody(t *testing.T) {
	conn := newFakeConn("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")
	withFakeDialer(t, conn)

	body, ok := Download("http://example.com/", "", nil)

	require.True(t, ok)
	require.Equal(t, []byte("hello"), body)
}

func TestDownloadGrowsBufferAcrossManySmallRecvs(t *testing.T) {
	body := make([]byte, 0, 4096)
	for len(body) < 4096 {
		body = append(body, "0123456789abcdef"...)
	}

	resp := "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\nConnection: close\r\n\r\n"

	conn := newFakeConn()
	conn.reads = append(conn.reads, []byte(resp))
	for i := 0; i < len(body); i += 37 {
		end := i + 37
		if end > len(body) {
			end = len(body)
		}

		conn.reads = append(conn.reads, body[i:end])
	}

	withFakeDialer(t, conn)

	got, ok := Download("http://example.com/big", "", nil)

	require.True(t, ok)
	require.Equal(t, body, got)
}

func TestDownloadEmptyBodySucceedsWithNilBuffer(t *testing.T) {
	conn := newFakeConn("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	withFakeDialer(t, conn)

	body, ok := Download("http://example.com/", "", nil)

	require.True(t, ok)
	require.Nil(t, body)
}

func TestDownloadFailsOnConnectionError(t *testing.T) {
	orig := newEngine
	newEngine = func(h engine.Handler) *engine.Engine {
		e := orig(h)
		e.SetDialer(func(string, uint16, bool) (transport.Conn, error) {
			return nil, httperr.ErrConnectionClosed
		})

		return e
	}
	t.Cleanup(func() { newEngine = orig })

	_, ok := Download("http://example.com/", "", nil)

	require.False(t, ok)
}

func TestDownloadFailsOnBadURL(t *testing.T) {
	body, ok := Download("not a url", "", nil)

	require.False(t, ok)
	require.Nil(t, body)
}

func TestDownloadPostsForm(t *testing.T) {
	conn := newFakeConn("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	withFakeDialer(t, conn)

	form := request.NewForm().Add("a", "b")
	body, ok := Download("http://example.com/submit", "", form)

	require.True(t, ok)
	require.Equal(t, []byte("ok"), body)
}

func TestDownloadJSONDecodesMatchingContentType(t *testing.T) {
	resp := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 11\r\nConnection: close\r\n\r\n" +
		`{"ok":true}`
	conn := newFakeConn(resp)
	withFakeDialer(t, conn)

	var out struct {
		OK bool `json:"ok"`
	}
	ok := DownloadJSON("http://example.com/api", "", &out)

	require.True(t, ok)
	require.True(t, out.OK)
}

func TestDownloadJSONRejectsNonJSONContentType(t *testing.T) {
	resp := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 11\r\nConnection: close\r\n\r\n" +
		`{"ok":true}`
	conn := newFakeConn(resp)
	withFakeDialer(t, conn)

	var out struct {
		OK bool `json:"ok"`
	}
	ok := DownloadJSON("http://example.com/api", "", &out)

	require.False(t, ok)
	require.False(t, out.OK)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}

	return string(digits)
}
