// Package oneshot implements the blocking convenience of spec §4.6: a
// hidden HttpEngine that drives a single Download/DownloadJSON call to
// completion and returns the body as one contiguous buffer.
//
// Grounded on original_source/minihttp.cpp's DLSocket and its free
// Download(url, sz, post) function: the same geometric buffer growth
// (new = old + old/2 + size + 1, always one byte of trailing headroom)
// and the same "block in a loop until the engine has nothing left to do"
// drive loop, translated from realloc to a growable Go slice.
package oneshot

import (
	"strings"

	json "github.com/json-iterator/go"

	"github.com/fgenesis/minihttp/config"
	"github.com/fgenesis/minihttp/engine"
	"github.com/fgenesis/minihttp/request"
)

// accumulator is the Handler behind every oneshot call. It mirrors
// DLSocket's _OnRecv/_OnRequestDone: grow the buffer on demand and record
// the final status code, nothing else.
type accumulator struct {
	engine.NopHandler

	buf    []byte
	done   bool
	status int
}

// OnRecv appends data to buf, growing it geometrically per §4.6: whenever
// the current capacity can't hold the new data plus one spare trailing
// byte, bufcap grows by half of itself plus the incoming size plus one.
func (a *accumulator) OnRecv(_ *request.Request, data []byte) {
	size := len(data)
	if size == 0 {
		return
	}

	bufsz := len(a.buf)
	if bufsz+size+1 >= cap(a.buf) {
		newcap := cap(a.buf) + cap(a.buf)/2 + size + 1

		grown := make([]byte, bufsz, newcap)
		copy(grown, a.buf)
		a.buf = grown
	}

	a.buf = append(a.buf, data...)
}

func (a *accumulator) OnRequestDone(_ *request.Request, statusCode int) {
	a.done = true
	a.status = statusCode
}

var _ engine.Handler = (*accumulator)(nil)

// newEngine builds the hidden HttpEngine per §4.6: SetNonBlocking(false),
// SetFollowRedirect(true), a 64KiB InBuffer, User-Agent "minihttp".
// Overridable in tests to inject a fake Dialer.
var newEngine = func(h engine.Handler) *engine.Engine {
	cfg := config.Default()
	cfg.InBufferSize = 64 * 1024
	cfg.NonBlocking = false
	cfg.FollowRedirects = true
	cfg.AlwaysHandle = false
	cfg.UserAgent = "minihttp"

	return engine.New(h).Tune(cfg)
}

// run drives e to completion, blocking the calling goroutine: the source's
// "while(isOpen() || HasPendingTask()) update();" loop. Update blocks
// inside the Transport read when the engine isn't configured non-blocking,
// so this never busy-spins.
func run(e *engine.Engine) {
	for !e.Done() {
		e.Update()
	}
}

// Download fetches rawurl, following redirects, optionally POSTing post,
// and returns the accumulated body. ok is false on any failure: a bad URL,
// a connection error, or a non-success final status. A success with an
// empty body (headers-only reply) returns a nil buffer with ok true,
// the same "known API wart" the source flags rather than hides.
func Download(rawurl, extraHeaders string, post *request.Form) (body []byte, ok bool) {
	acc := &accumulator{}
	e := newEngine(acc)

	if !e.Download(rawurl, extraHeaders, nil, post) {
		return nil, false
	}

	run(e)

	if !acc.done || acc.status == 0 || !e.IsSuccess() {
		return nil, false
	}

	return acc.buf, true
}

// DownloadJSON fetches rawurl and, if the response succeeded and its
// Content-Type names a JSON media type, decodes the body into out via
// json-iterator. Returns false on any fetch failure, a non-JSON
// Content-Type, or a decode error.
func DownloadJSON(rawurl, extraHeaders string, out any) bool {
	acc := &accumulator{}
	e := newEngine(acc)

	if !e.Download(rawurl, extraHeaders, nil, nil) {
		return false
	}

	run(e)

	if !acc.done || acc.status == 0 || len(acc.buf) == 0 {
		return false
	}

	contentType, _ := e.Header("content-type")
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return false
	}

	return json.Unmarshal(acc.buf, out) == nil
}
