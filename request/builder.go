// RequestBuilder serializes a Request into the HTTP/1.1 request-message
// byte string of spec §4.3.
//
// Grounded on internal/transport/http1/serializer.go's Serializer
// (renderHeaders/renderContentLength/crlf/sp helpers, buffer reused
// across Build calls), inverted here from response- to request-rendering.
package request

import "strconv"

const crlf = "\r\n"

// Builder accumulates request bytes into a reusable buffer, mirroring the
// teacher's Serializer's buffer-reuse idiom.
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder with a preallocated scratch buffer.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 512)}
}

// Build serializes req into its wire form, stores it on req.Header(), and
// returns the bytes. keepAliveSecs of 0 means "don't advertise
// keep-alive"; userAgent/acceptEncoding of "" are omitted, per §3/§4.3.
func (b *Builder) Build(req *Request, keepAliveSecs uint32, userAgent, acceptEncoding string) []byte {
	b.buf = b.buf[:0]

	method := req.Method()
	body := ""
	if !req.Post.Empty() {
		body = req.Post.Encode()
	}

	b.append(method)
	b.append(" ")
	b.append(req.Resource)
	b.append(" HTTP/1.1")
	b.append(crlf)

	b.append("Host: ")
	b.append(req.Host)
	b.append(crlf)

	if keepAliveSecs != 0 {
		b.append("Connection: Keep-Alive")
		b.append(crlf)
		b.append("Keep-Alive: ")
		b.append(strconv.FormatUint(uint64(keepAliveSecs), 10))
		b.append(crlf)
	} else {
		b.append("Connection: close")
		b.append(crlf)
	}

	if userAgent != "" {
		b.append("User-Agent: ")
		b.append(userAgent)
		b.append(crlf)
	}

	if acceptEncoding != "" {
		b.append("Accept-Encoding: ")
		b.append(acceptEncoding)
		b.append(crlf)
	}

	if method == "POST" {
		b.append("Content-Length: ")
		b.append(strconv.Itoa(len(body)))
		b.append(crlf)
		b.append("Content-Type: application/x-www-form-urlencoded")
		b.append(crlf)
	}

	if req.ExtraHeaders != "" {
		b.append(req.ExtraHeaders)
		if len(req.ExtraHeaders) < 2 || req.ExtraHeaders[len(req.ExtraHeaders)-2:] != crlf {
			b.append(crlf)
		}
	}

	b.append(crlf)

	if method == "POST" {
		b.append(body)
	}

	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	req.header = out

	return out
}

func (b *Builder) append(s string) {
	b.buf = append(b.buf, s...)
}
