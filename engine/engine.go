// Package engine implements the HttpEngine state machine: it drains a
// Transport into an InBuffer, parses the status line and headers, decodes
// identity or chunked bodies, tracks per-request progress, follows
// redirects, reuses or closes the connection, and dispatches a Handler's
// callbacks. It is single-threaded and cooperative: all progress happens
// inside calls to Update.
//
// Grounded on client/internal/parser/http1/responseparser.go (the
// incremental state-shape for status-line/header parsing, here driven
// against a growable buffer rather than a goto-resumed byte scan),
// internal/transport/http1/body.go (identity vs. chunked body reading,
// chunked decode wired to github.com/indigo-web/chunkedbody), and
// original_source/minihttp.cpp's _ParseHeader/_ProcessChunk/_Redirect for
// exact status-class and redirect semantics.
package engine

import (
	"bytes"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/dchest/uniuri"
	"github.com/indigo-web/chunkedbody"
	"github.com/indigo-web/iter"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"

	"github.com/fgenesis/minihttp/config"
	"github.com/fgenesis/minihttp/httperr"
	"github.com/fgenesis/minihttp/inbuffer"
	"github.com/fgenesis/minihttp/request"
	"github.com/fgenesis/minihttp/transport"
	"github.com/fgenesis/minihttp/urlsplit"
)

const (
	defaultBufsizeIn = 4096
	defaultUserAgent = "minihttp"
)

// logger receives warnings and anomalies the engine notices: unexpected
// chunk framing (which also fails the request) and, when Config.Debug is
// set, a content-length of 0 on a success status or a redirect being
// followed. Defaults to log.Default(); override with SetLogger.
var logger = log.Default()

// SetLogger overrides the package-level logger used for engine trace and
// anomaly output. Passing nil restores log.Default().
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.Default()
	}

	logger = l
}

// Engine is the HTTP client state machine. It exclusively owns its
// Transport, InBuffer, and request queue.
type Engine struct {
	conn    transport.Conn
	in      *inbuffer.Buffer
	builder *request.Builder
	handler Handler
	chunks  *chunkedbody.Parser

	// dial constructs and opens the Transport for an endpoint. Overridable
	// in tests so the state machine can be driven against a scripted fake
	// instead of a real socket.
	dial func(host string, port uint16, useSSL bool) (transport.Conn, error)

	// connection identity and policy, mirroring ConnectionState.
	host           string
	port           uint16
	useSSL         bool
	keepAliveSecs  uint32
	userAgent      string
	acceptEncoding string
	followRedir    bool
	alwaysHandle   bool
	nonBlocking    bool
	bufsizeIn      int
	debug          bool

	state State
	queue []*request.Request

	// TransferState, reset at the start of every request.
	current    *request.Request
	reqTag     string
	status     int
	contentLen uint64
	remaining  uint64
	chunked    bool
	mustClose  bool
	inProgress bool
	headers    map[string]string
	hdrOrder   []HeaderPair

	sendOff int

	closed bool
}

// HeaderPair is one response header as received on the wire, preserving the
// original name casing and insertion order, independent of the lowercased
// last-wins lookup map.
type HeaderPair struct {
	Name, Value string
}

// New constructs an idle Engine with default policy: redirects followed,
// non-success bodies not delivered, InBuffer sized defaultBufsizeIn.
func New(handler Handler) *Engine {
	if handler == nil {
		handler = NopHandler{}
	}

	return &Engine{
		in:          inbuffer.New(defaultBufsizeIn),
		builder:     request.NewBuilder(),
		handler:     handler,
		chunks:      chunkedbody.NewParser(chunkedbody.DefaultSettings()),
		dial:        dialTransport,
		userAgent:   defaultUserAgent,
		followRedir: true,
		bufsizeIn:   defaultBufsizeIn,
		headers:     make(map[string]string, 8),
		state:       StateIdle,
		closed:      true,
	}
}

func dialTransport(host string, port uint16, useSSL bool) (transport.Conn, error) {
	conn := transport.New()
	if err := conn.Open(host, port, useSSL); err != nil {
		return nil, err
	}

	return conn, nil
}

// Dialer opens a Transport for an endpoint. It is the same shape the engine
// uses internally, exported so callers that build an Engine for another
// package (oneshot, socketset) can inject a fake Transport in tests without
// a real socket.
type Dialer func(host string, port uint16, useSSL bool) (transport.Conn, error)

// SetDialer overrides how the engine opens new connections.
func (e *Engine) SetDialer(d Dialer) {
	if d != nil {
		e.dial = d
	}
}

// Tune applies cfg's fields on top of the current policy, mirroring the
// teacher's App.Tune(settings.Settings). Returns the Engine so construction
// can be chained: engine.New(h).Tune(config.Default()).
func (e *Engine) Tune(cfg *config.Config) *Engine {
	if cfg == nil {
		return e
	}

	e.SetBufsizeIn(cfg.InBufferSize)
	e.SetKeepAlive(cfg.KeepAliveSecs)
	e.SetUserAgent(cfg.UserAgent)
	e.SetAcceptEncoding(cfg.AcceptEncoding)
	e.SetFollowRedirect(cfg.FollowRedirects)
	e.SetAlwaysHandle(cfg.AlwaysHandle)
	e.SetNonBlocking(cfg.NonBlocking)
	e.debug = cfg.Debug

	return e
}

// SetKeepAlive sets the Keep-Alive timeout advertised on outgoing requests.
// 0 disables it (Connection: close is sent instead).
func (e *Engine) SetKeepAlive(secs uint32) { e.keepAliveSecs = secs }

// SetUserAgent sets the User-Agent header value; empty omits the header.
func (e *Engine) SetUserAgent(ua string) { e.userAgent = ua }

// SetAcceptEncoding sets the Accept-Encoding header value; empty omits the
// header. The engine never decodes the response body regardless of this
// setting.
func (e *Engine) SetAcceptEncoding(enc string) { e.acceptEncoding = enc }

// SetFollowRedirect toggles automatic 301/302/303/307/308 handling.
func (e *Engine) SetFollowRedirect(follow bool) { e.followRedir = follow }

// SetAlwaysHandle toggles delivery of OnRecv/OnRequestDone for non-success
// responses and suppressed redirect legs.
func (e *Engine) SetAlwaysHandle(always bool) { e.alwaysHandle = always }

// SetBufsizeIn grows the InBuffer to at least n bytes; values below 512 are
// clamped up. It never shrinks the buffer, so a size below the current
// capacity (4096 for a new Engine) leaves it unchanged.
func (e *Engine) SetBufsizeIn(n int) {
	e.bufsizeIn = n
	e.in.EnsureCapacity(n)
}

// SetNonBlocking toggles non-blocking I/O on the underlying Transport.
func (e *Engine) SetNonBlocking(nonblocking bool) {
	e.nonBlocking = nonblocking
	if e.conn != nil {
		e.conn.SetNonblocking(nonblocking)
	}
}

// StatusCode returns the status code of the most recently parsed response,
// or 0 if none has been parsed yet.
func (e *Engine) StatusCode() int { return e.status }

// ContentLength returns the Content-Length of the in-flight response, or 0
// for chunked/unsized bodies.
func (e *Engine) ContentLength() uint64 { return e.contentLen }

// Remaining returns the number of identity body bytes still expected. For
// chunked transfers it is always 0: chunk framing is tracked by the chunked
// body parser, not by this counter.
func (e *Engine) Remaining() uint64 { return e.remaining }

// Chunked reports whether the in-flight response uses chunked
// transfer-encoding.
func (e *Engine) Chunked() bool { return e.chunked }

// Header looks up a response header by name, case-insensitively, returning
// the last-wins value per §3's headers map.
func (e *Engine) Header(name string) (string, bool) {
	v, ok := e.headers[strings.ToLower(name)]
	return v, ok
}

// Headers returns an iterator over every response header pair in the order
// they arrived on the wire, grounded on the teacher's
// datastruct.KeyValue.Iter (github.com/indigo-web/iter.Slice), unlike
// Header's lowercased last-wins lookup.
func (e *Engine) Headers() iter.Iterator[HeaderPair] {
	return iter.Slice(e.hdrOrder)
}

// ExpectMoreData reports whether the engine still expects bytes for the
// current request (body not yet fully received).
func (e *Engine) ExpectMoreData() bool { return e.inProgress }

// IsSuccess reports whether the last parsed status code is in 100-205.
func (e *Engine) IsSuccess() bool {
	return e.status >= 100 && e.status <= 205
}

// IsRedirecting reports whether the engine is chasing a 3xx Location.
func (e *Engine) IsRedirecting() bool { return e.state == StateRedirecting }

// CurrentRequest returns the request presently in flight, or nil.
func (e *Engine) CurrentRequest() *request.Request { return e.current }

// Closed reports whether the engine has no open Transport: true before the
// first connection is opened and after one has been released.
func (e *Engine) Closed() bool { return e.closed }

// Done reports whether the engine is idle with nothing queued and no
// connection open, suitable for SocketSet reclamation.
func (e *Engine) Done() bool {
	return e.closed && len(e.queue) == 0 && e.current == nil
}

// Download enqueues a GET (or POST, if post is non-nil) against url. If the
// engine is idle against the same endpoint, the request is sent immediately
// on the next Update; otherwise it is appended to the FIFO. An endpoint
// change while idle closes any open Transport first.
func (e *Engine) Download(rawurl string, extraHeaders string, userTag any, post *request.Form) bool {
	split, ok := urlsplit.SplitURL(rawurl)
	if !ok {
		return false
	}

	req := request.New(split.Host, split.Port, split.Path, split.UseSSL)
	req.ExtraHeaders = extraHeaders
	req.UserTag = userTag
	req.Post = post

	return e.Enqueue(req)
}

// Enqueue appends req to the FIFO; it is opened and sent on the next
// Update. If the engine is idle with nothing queued and req's endpoint
// differs from the open connection, that connection is closed first.
func (e *Engine) Enqueue(req *request.Request) bool {
	if req == nil {
		return false
	}

	if e.state == StateIdle && e.current == nil && len(e.queue) == 0 {
		if e.conn != nil && e.endpointChanged(req) {
			e.closeConn()
		}

		e.queue = append(e.queue, req)
		return true
	}

	e.queue = append(e.queue, req)
	return true
}

func (e *Engine) endpointChanged(req *request.Request) bool {
	return e.host != req.Host || e.port != req.EffectivePort() || e.useSSL != req.UseSSL
}

// Close releases the Transport, failing any in-flight request.
func (e *Engine) Close() error {
	e.failCurrent(httperr.ErrShutdown)
	e.queue = nil

	return nil
}

func (e *Engine) closeConn() {
	if e.conn != nil && e.conn.IsOpen() {
		e.conn.Close()
		e.handler.OnClose()
	}

	e.state = StateClosed
	e.closed = true
}

func (e *Engine) resetTransferState() {
	e.status = 0
	e.contentLen = 0
	e.remaining = 0
	e.chunked = false
	e.mustClose = false
	e.inProgress = true
	e.reqTag = uniuri.NewLen(8)

	for k := range e.headers {
		delete(e.headers, k)
	}
	e.hdrOrder = e.hdrOrder[:0]

	if e.debug {
		logger.Printf("minihttp[%s]: sending %s %s", e.reqTag, e.current.Method(), e.current.Resource)
	}
}

// Update drives the state machine forward by at most one Transport read,
// then processes whatever is possible before yielding. It returns true if
// any progress was made this tick.
func (e *Engine) Update() bool {
	if !e.handler.OnUpdate() {
		return false
	}

	return e.step()
}

// step drives the engine for one Update tick. It performs at most one
// Transport read (readUsed), matching §4.4's "call read once into InBuffer"
// contract, but may otherwise freely dequeue, send, redirect, and finish
// requests purely from already-buffered bytes within the same tick.
func (e *Engine) step() bool {
	progressed := false
	readUsed := false

	for {
		switch e.state {
		case StateIdle, StateClosed:
			if !e.tryDequeue() {
				return progressed
			}
			progressed = true

		case StateSending:
			advanced, blocked := e.trySend()
			progressed = progressed || advanced
			if blocked {
				return progressed
			}

		case StateRedirecting:
			e.finishRedirect()
			progressed = true

		case StateReadingHeader, StateReadingBodyIdentity, StateReadingBodyChunked:
			if readUsed {
				return progressed
			}

			advanced, blocked := e.pumpOnce()
			readUsed = true
			progressed = progressed || advanced
			if blocked {
				return progressed
			}

		default:
			return progressed
		}
	}
}

func (e *Engine) tryDequeue() bool {
	if len(e.queue) == 0 {
		return false
	}

	req := e.queue[0]
	e.queue = e.queue[1:]

	if e.conn != nil && e.conn.IsOpen() && e.endpointChanged(req) {
		e.closeConn()
	}

	if e.conn == nil || !e.conn.IsOpen() {
		if err := e.open(req); err != nil {
			e.current = req
			e.failCurrent(err)
			return true
		}
	}

	e.current = req
	e.resetTransferState()
	e.sendOff = 0
	e.builder.Build(req, e.keepAliveSecs, e.userAgent, e.acceptEncoding)
	e.state = StateSending

	return true
}

func (e *Engine) open(req *request.Request) error {
	e.host = req.Host
	e.port = req.EffectivePort()
	e.useSSL = req.UseSSL

	conn, err := e.dial(e.host, e.port, e.useSSL)
	if err != nil {
		return err
	}

	conn.SetNonblocking(e.nonBlocking)
	e.conn = conn
	e.closed = false
	e.in.Reset()
	e.handler.OnOpen()

	return nil
}

func (e *Engine) trySend() (advanced bool, blocked bool) {
	header := e.current.Header()

	for e.sendOff < len(header) {
		n, err := e.conn.Write(header[e.sendOff:])
		if n > 0 {
			e.sendOff += n
			advanced = true
		}

		if err != nil {
			if isWouldBlock(err) {
				return advanced, true
			}

			e.failCurrent(err)
			return true, false
		}

		if n == 0 {
			return advanced, true
		}
	}

	e.state = StateReadingHeader

	return true, false
}

func isWouldBlock(err error) bool {
	if he, ok := err.(httperr.Error); ok {
		return he.Kind == httperr.KindWouldBlock
	}

	return false
}

// foldHasPrefix reports whether s starts with prefix, ignoring case, via
// strcomp.EqualFold over the matching-length slice, mirroring the teacher's
// use of strcomp for header-value comparisons.
func foldHasPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}

	return strcomp.EqualFold(s[:len(prefix)], prefix)
}

// pumpOnce performs exactly one Transport read and then drives whatever
// parsing that unlocks as far as the buffered bytes allow.
func (e *Engine) pumpOnce() (advanced bool, blocked bool) {
	buf := e.in.WriteSlice()
	if len(buf) == 0 {
		e.in.Shift()
		buf = e.in.WriteSlice()
	}

	if len(buf) == 0 {
		e.failCurrent(httperr.New(httperr.KindBufferExhausted, "response header or chunk too large for InBuffer"))
		return true, false
	}

	n, err := e.conn.Read(buf)
	if n > 0 {
		e.in.Produced(n)
	}

	if err != nil {
		if isWouldBlock(err) {
			return e.drive() || n > 0, true
		}

		if he, ok := err.(httperr.Error); ok && he.Kind == httperr.KindConnectionClosed {
			return e.handleEOF(), false
		}

		e.failCurrent(err)
		return true, false
	}

	madeProgress := e.drive()

	return madeProgress || n > 0, false
}

func (e *Engine) handleEOF() bool {
	if e.remaining == 0 && !e.chunked && e.state == StateReadingBodyIdentity {
		e.completeRequest()
	} else {
		e.failCurrent(httperr.ErrConnectionClosed)
	}

	return true
}

// drive processes as much of the buffered bytes as the current state
// allows, returning true if it made any progress.
func (e *Engine) drive() bool {
	progressed := false

	for {
		switch e.state {
		case StateReadingHeader:
			if !e.tryParseHeader() {
				return progressed
			}
			progressed = true

		case StateReadingBodyIdentity:
			if !e.tryReadIdentity() {
				return progressed
			}
			progressed = true

		case StateReadingBodyChunked:
			if !e.tryReadChunk() {
				return progressed
			}
			progressed = true

		default:
			return progressed
		}
	}
}

func (e *Engine) tryParseHeader() bool {
	data := e.in.Unread()

	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx == -1 {
		if e.in.Full() {
			e.in.Shift()
		}
		if e.in.Full() {
			e.failCurrent(httperr.New(httperr.KindMalformedHeader, "header exceeds InBuffer capacity"))
		}

		return false
	}

	headerBlock := data[:idx]
	e.in.Advance(idx + 4)

	if err := e.parseStatusAndHeaders(headerBlock); err != nil {
		e.failCurrent(err)
		return true
	}

	e.applyHeaders()
	e.dispatchStatus()

	return true
}

func (e *Engine) parseStatusAndHeaders(block []byte) error {
	lineEnd := bytes.IndexByte(block, '\n')
	var statusLine []byte
	if lineEnd == -1 {
		statusLine = block
		block = nil
	} else {
		statusLine = block[:lineEnd]
		block = block[lineEnd+1:]
	}

	statusLine = bytes.TrimSuffix(statusLine, []byte("\r"))

	if len(statusLine) < 5 || !strcomp.EqualFold(uf.B2S(statusLine[:5]), "HTTP/") {
		return httperr.ErrNotHTTP
	}

	sp := bytes.IndexByte(statusLine, ' ')
	if sp == -1 {
		return httperr.ErrMalformedHeader
	}

	rest := statusLine[sp+1:]
	codeEnd := bytes.IndexByte(rest, ' ')
	var codeBytes []byte
	if codeEnd == -1 {
		codeBytes = rest
	} else {
		codeBytes = rest[:codeEnd]
	}

	code, err := strconv.Atoi(string(codeBytes))
	if err != nil {
		return httperr.ErrMalformedHeader
	}

	e.status = code

	for len(block) > 0 {
		nl := bytes.IndexByte(block, '\n')
		var line []byte
		if nl == -1 {
			line = block
			block = nil
		} else {
			line = block[:nl]
			block = block[nl+1:]
		}

		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			return httperr.ErrMalformedHeader
		}

		rawName := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		e.headers[strings.ToLower(rawName)] = value
		e.hdrOrder = append(e.hdrOrder, HeaderPair{Name: rawName, Value: value})
	}

	return nil
}

func (e *Engine) applyHeaders() {
	if v, ok := e.headers["content-length"]; ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			e.contentLen = n
			e.remaining = n
		}
	}

	if v, ok := e.headers["transfer-encoding"]; ok {
		if foldHasPrefix(v, "chunked") {
			e.chunked = true
			e.remaining = 0
		}
	}

	if v, ok := e.headers["connection"]; ok {
		if !foldHasPrefix(v, "keep-alive") {
			e.mustClose = true
		}
	} else if e.keepAliveSecs == 0 {
		e.mustClose = true
	}

	if e.debug {
		logger.Printf("minihttp[%s]: status=%d content-length=%d chunked=%t must-close=%t",
			e.reqTag, e.status, e.contentLen, e.chunked, e.mustClose)
	}
}

func (e *Engine) dispatchStatus() {
	switch {
	case e.status == 301 || e.status == 302 || e.status == 307 || e.status == 308:
		if e.followRedir && e.tryRedirect(true) {
			return
		}
	case e.status == 303:
		if e.followRedir && e.tryRedirect(false) {
			return
		}
	}

	if e.chunked {
		e.state = StateReadingBodyChunked
		return
	}

	if e.remaining == 0 {
		if e.debug && e.IsSuccess() {
			logger.Printf("minihttp[%s]: Content-Length of 0 on a success status, this will go fail", e.reqTag)
		}

		e.completeRequest()
		return
	}

	e.state = StateReadingBodyIdentity
}

func (e *Engine) tryRedirect(preserveMethod bool) bool {
	location, ok := e.headers["location"]
	if !ok || location == "" {
		return false
	}

	current := urlsplit.Split{
		Scheme: schemeFor(e.useSSL),
		Host:   e.host,
		Port:   e.port,
		UseSSL: e.useSSL,
	}

	next, ok := urlsplit.ResolveLocation(location, current)
	if !ok {
		return false
	}

	successor := e.current.Clone()
	successor.Host = next.Host
	successor.Port = next.Port
	successor.UseSSL = next.UseSSL
	successor.Resource = next.Path

	if !preserveMethod {
		successor.ForceGET()
	}

	if e.debug {
		logger.Printf("minihttp[%s]: %d redirect to %s%s", e.reqTag, e.status, successor.Host, successor.Resource)
	}

	e.queue = append([]*request.Request{successor}, e.queue...)
	e.state = StateRedirecting

	return true
}

func schemeFor(useSSL bool) string {
	if useSSL {
		return "https"
	}

	return "http"
}

func (e *Engine) finishRedirect() {
	if e.alwaysHandle {
		e.handler.OnRequestDone(e.current, e.status)
	}

	e.current = nil
	e.state = StateIdle
}

func (e *Engine) tryReadIdentity() bool {
	data := e.in.Unread()
	if len(data) == 0 {
		return false
	}

	n := uint64(len(data))
	if n > e.remaining {
		n = e.remaining
	}

	if n > 0 {
		e.deliver(data[:n])
		e.in.Advance(int(n))
		e.remaining -= n
	}

	if e.remaining == 0 {
		e.completeRequest()
	}

	return true
}

func (e *Engine) tryReadChunk() bool {
	data := e.in.Unread()
	if len(data) == 0 {
		return false
	}

	chunk, extra, err := e.chunks.Parse(data, false)
	consumed := len(data) - len(extra)

	if len(chunk) > 0 {
		e.deliver(chunk)
	}

	if consumed > 0 {
		e.in.Advance(consumed)
	}

	switch err {
	case nil:
		return consumed > 0 || len(chunk) > 0
	case io.EOF:
		if len(extra) > 0 {
			if e.debug {
				logger.Printf("minihttp[%s]: %d anomalous byte(s) after chunked body terminator, ignored", e.reqTag, len(extra))
			}

			e.in.Advance(len(extra))
		}

		if e.debug {
			logger.Printf("minihttp[%s]: chunked body complete", e.reqTag)
		}

		e.completeRequest()
		return true
	default:
		logger.Printf("minihttp[%s]: unexpected chunk framing: %v", e.reqTag, err)
		e.failCurrent(httperr.New(httperr.KindUnexpectedChunkFraming, err.Error()))
		return true
	}
}

func (e *Engine) deliver(data []byte) {
	if !e.shouldDeliver() {
		return
	}

	e.handler.OnRecv(e.current, data)
}

func (e *Engine) shouldDeliver() bool {
	return e.alwaysHandle || e.IsSuccess()
}

func (e *Engine) completeRequest() {
	e.inProgress = false
	e.handler.OnRequestDone(e.current, e.status)
	e.current = nil

	if e.mustClose {
		e.closeConn()
		return
	}

	e.state = StateIdle
}

func (e *Engine) failCurrent(err error) {
	e.inProgress = false
	if e.current != nil {
		e.handler.OnRequestDone(e.current, 0)
		e.current = nil
	}

	e.closeConn()
	e.state = StateIdle
}
