package engine

import "github.com/fgenesis/minihttp/request"

// Handler is the capability set an HttpEngine dispatches to, replacing the
// source's virtual-function base class: OnOpen, OnClose, OnRecv,
// OnRequestDone, OnUpdate. An engine holds exactly one Handler.
type Handler interface {
	// OnOpen fires once the Transport has connected (and, for TLS, the
	// handshake has completed).
	OnOpen()
	// OnClose fires whenever an open Transport is released. This includes a
	// close caused by following a redirect to a different endpoint; it is
	// not suppressed during redirects, whatever AlwaysHandle says.
	OnClose()
	// OnRecv delivers body bytes only: never header bytes, never chunk
	// framing. The slice is only valid until the next engine call; retain a
	// copy if needed past that point.
	OnRecv(req *request.Request, data []byte)
	// OnRequestDone fires exactly once per request that reaches a terminal
	// state, suppressed during redirect chaining (unless AlwaysHandle).
	OnRequestDone(req *request.Request, statusCode int)
	// OnUpdate is a pre-read hook; returning false aborts the current
	// Update() tick.
	OnUpdate() bool
}

// NopHandler implements Handler with no-op methods, embeddable by callers
// who only care about a subset of the callbacks.
type NopHandler struct{}

func (NopHandler) OnOpen()                             {}
func (NopHandler) OnClose()                            {}
func (NopHandler) OnRecv(*request.Request, []byte)     {}
func (NopHandler) OnRequestDone(*request.Request, int) {}
func (NopHandler) OnUpdate() bool                      { return true }

var _ Handler = NopHandler{}
