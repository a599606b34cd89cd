package request

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildGET(t *testing.T) {
	req := New("example.com", 0, "/", false)
	b := NewBuilder()
	out := string(b.Build(req, 0, "", ""))

	require.True(t, strings.HasPrefix(out, "GET / HTTP/1.1\r\n"))
	require.Contains(t, out, "Host: example.com\r\n")
	require.Contains(t, out, "Connection: close\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestBuildKeepAliveUserAgentAcceptEncoding(t *testing.T) {
	req := New("example.com", 0, "/x", false)
	b := NewBuilder()
	out := string(b.Build(req, 30, "minihttp", "identity"))

	require.Contains(t, out, "Connection: Keep-Alive\r\n")
	require.Contains(t, out, "Keep-Alive: 30\r\n")
	require.Contains(t, out, "User-Agent: minihttp\r\n")
	require.Contains(t, out, "Accept-Encoding: identity\r\n")
}

func TestBuildPOSTFormEncodesBodyAndHeaders(t *testing.T) {
	req := New("httpbin.org", 0, "/post", true)
	req.Post = NewForm().Add("a", "b").Add("x", "a b")

	b := NewBuilder()
	out := string(b.Build(req, 0, "", ""))

	require.True(t, strings.HasPrefix(out, "POST /post HTTP/1.1\r\n"))
	require.Contains(t, out, "Content-Length: 9\r\n")
	require.Contains(t, out, "Content-Type: application/x-www-form-urlencoded\r\n")
	require.True(t, strings.HasSuffix(out, "a=b&x=a+b"))
}

func TestBuildExtraHeadersAppendsMissingCRLF(t *testing.T) {
	req := New("x", 0, "/", false)
	req.ExtraHeaders = "X-Foo: bar"

	b := NewBuilder()
	out := string(b.Build(req, 0, "", ""))

	require.Contains(t, out, "X-Foo: bar\r\n\r\n")
}

func TestFormEncodePercentEncodesAndPreservesUnreserved(t *testing.T) {
	f := NewForm().Add("long string", "possibly invalid data: /x/&$+*#'?!;")
	enc := f.Encode()

	require.Equal(t, "long+string=possibly+invalid+data%3a+%2fx%2f%26%24%2b%2a%23%27%3f%21%3b", enc)
}
