package ahttp

import (
	"bytes"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

// State is the Handle lifecycle position. A handle is created in
// StateReceiving and reaches exactly one terminal state.
type State int32

const (
	StateReceiving State = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "receiving"
	}
}

// Handle represents an in-flight or finished request. It is the single
// object shared between the I/O goroutine delivering events and any
// number of caller goroutines reading, waiting, or cancelling.
//
// The terminal transition is a compare-and-swap on the state word:
// whichever of event delivery and cancellation lands first wins, and the
// loser's action becomes a no-op. All snapshot accessors are safe for
// concurrent use and never block; Wait and Err block until terminal.
type Handle struct {
	state atomic.Int32
	done  chan struct{}

	mu       sync.Mutex
	op       Operation
	status   Status
	hasStat  bool
	header   http.Header
	parts    [][]byte
	err      error
	uri      *url.URL
	encoding string
}

func newHandle(uri *url.URL, encoding string) *Handle {
	h := &Handle{
		done:     make(chan struct{}),
		uri:      uri,
		encoding: encoding,
	}
	h.state.Store(int32(StateReceiving))
	return h
}

// transition attempts the single receiving→terminal CAS. It runs under
// mu so the data mutators observe the state atomically with respect to
// their writes. The winner releases all blocked waiters.
func (h *Handle) transition(to State) bool {
	h.mu.Lock()
	won := h.state.CompareAndSwap(int32(StateReceiving), int32(to))
	h.mu.Unlock()
	if !won {
		return false
	}
	close(h.done)
	return true
}

// State returns the current lifecycle position without blocking.
func (h *Handle) State() State { return State(h.state.Load()) }

// Terminal reports whether the handle left the receiving state.
func (h *Handle) Terminal() bool { return h.State() != StateReceiving }

// Completed reports normal end-of-stream.
func (h *Handle) Completed() bool { return h.State() == StateCompleted }

// Failed reports a terminal error.
func (h *Handle) Failed() bool { return h.State() == StateFailed }

// Cancelled reports caller- or handler-directed cancellation.
func (h *Handle) Cancelled() bool { return h.State() == StateCancelled }

// Done returns a channel closed when the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle is terminal and returns the terminal
// error, if any. Safe to call from any number of goroutines; returns
// immediately if already terminal.
func (h *Handle) Wait() error {
	<-h.done
	return h.Err()
}

// Err returns the recorded terminal error without blocking. It is nil
// while receiving, nil on completion, and nil on cancellation:
// cancellation is a state, not an error.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel cancels the in-flight request. It returns true if this call won
// the terminal transition; a handle that already completed, failed, or
// was cancelled is left untouched and Cancel returns false.
func (h *Handle) Cancel() bool {
	if !h.transition(StateCancelled) {
		return false
	}
	h.mu.Lock()
	op := h.op
	h.mu.Unlock()
	if op != nil {
		op.Cancel()
	}
	return true
}

// bind attaches the transport operation once submission returns. A Cancel
// that raced ahead of submission is honored here.
func (h *Handle) bind(op Operation) {
	h.mu.Lock()
	h.op = op
	h.mu.Unlock()
	if h.Cancelled() {
		op.Cancel()
	}
}

// fail records err and attempts the receiving→failed transition. State
// and error are published in one critical section: a caller that observes
// Failed never reads a nil error.
func (h *Handle) fail(err error) bool {
	h.mu.Lock()
	if !h.state.CompareAndSwap(int32(StateReceiving), int32(StateFailed)) {
		h.mu.Unlock()
		return false
	}
	h.err = err
	h.mu.Unlock()
	close(h.done)
	return true
}

// Status returns the status line and whether it has been delivered.
func (h *Handle) Status() (Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.hasStat
}

// StatusCode returns the response code, or 0 before the status arrives.
func (h *Handle) StatusCode() int {
	s, _ := h.Status()
	return s.Code
}

// Headers returns a copy of the response headers, or nil before they
// arrive. The handle's own header state is finalized on delivery;
// mutating the returned copy has no effect on it.
func (h *Handle) Headers() http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.header == nil {
		return nil
	}
	return h.header.Clone()
}

// Parts returns the accumulated body fragments in arrival order.
func (h *Handle) Parts() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.parts))
	copy(out, h.parts)
	return out
}

// Body concatenates the accumulated fragments.
func (h *Handle) Body() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var buf bytes.Buffer
	for _, p := range h.parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

// BodyString decodes the accumulated body using the response-declared
// charset, falling back to the request or client default, then UTF-8.
// Supported charsets: utf-8, us-ascii, iso-8859-1/latin1.
func (h *Handle) BodyString() string {
	body := h.Body()
	charset := h.charset()

	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return string(body)
	case "iso-8859-1", "latin1", "latin-1":
		runes := make([]rune, len(body))
		for i, b := range body {
			runes[i] = rune(b)
		}
		return string(runes)
	default:
		return string(body)
	}
}

func (h *Handle) charset() string {
	if ct := h.ContentType(); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			if cs := params["charset"]; cs != "" {
				return cs
			}
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.encoding
}

// ContentType returns the response Content-Type header, if delivered.
func (h *Handle) ContentType() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.header == nil {
		return ""
	}
	return h.header.Get("Content-Type")
}

// Cookies parses the response Set-Cookie headers.
func (h *Handle) Cookies() []*http.Cookie {
	hdr := h.Headers()
	if hdr == nil {
		return nil
	}
	resp := http.Response{Header: hdr}
	return resp.Cookies()
}

// URI returns the final request URI, reflecting any followed redirects.
func (h *Handle) URI() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.uri
}

// IsRedirect reports whether the response is a 3xx carrying a Location.
func (h *Handle) IsRedirect() bool {
	s, ok := h.Status()
	if !ok || s.Code < 300 || s.Code > 399 {
		return false
	}
	hdr := h.Headers()
	return hdr != nil && hdr.Get("Location") != ""
}

// Location resolves the redirect target against the request URI, or nil
// when the response is not a redirect.
func (h *Handle) Location() *url.URL {
	if !h.IsRedirect() {
		return nil
	}
	loc, err := url.Parse(h.Headers().Get("Location"))
	if err != nil {
		return nil
	}
	if base := h.URI(); base != nil {
		return base.ResolveReference(loc)
	}
	return loc
}

// Mutators below are called only by the dispatcher processing this
// request's events, never by caller goroutines. Each re-checks the state
// under mu and drops its write once the handle is terminal, so a Cancel
// that wins mid-event cannot be followed by a mutation.

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Terminal() {
		return
	}
	h.status = s
	h.hasStat = true
}

func (h *Handle) setHeaders(hdr http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Terminal() {
		return
	}
	h.header = hdr.Clone()
}

func (h *Handle) appendPart(p []byte) {
	if len(p) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Terminal() {
		return
	}
	h.parts = append(h.parts, p)
}

func (h *Handle) setURI(u *url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Terminal() {
		return
	}
	h.uri = u
}
