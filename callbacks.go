package ahttp

import "net/http"

// Signal is the control value returned by staged callbacks. Abort stops
// event delivery: the transport operation is cancelled and the handle
// transitions to the cancelled state.
type Signal int

const (
	Continue Signal = iota
	Abort
)

// Status is the response status line.
type Status struct {
	Code  int
	Text  string
	Proto string
}

// StatusFunc runs when the status line arrives. The returned Status
// replaces the value stored on the handle.
type StatusFunc func(h *Handle, s Status) (Status, Signal)

// HeadersFunc runs when the response headers arrive. The returned header
// map replaces the value stored on the handle.
type HeadersFunc func(h *Handle, hdr http.Header) (http.Header, Signal)

// PartFunc runs for each body fragment. The returned bytes replace the
// fragment appended to the handle, enabling streaming transformation; a
// nil return appends nothing.
type PartFunc func(h *Handle, part []byte) ([]byte, Signal)

// CompletedFunc runs exactly once after end-of-stream. A non-nil error
// flips the handle to failed with that error as the terminal error.
type CompletedFunc func(h *Handle) error

// ErrorFunc runs exactly once when the request fails. A non-nil return
// replaces the recorded terminal error.
type ErrorFunc func(h *Handle, err error) error

// Callbacks is the per-request ordered callback registry. Handlers for a
// stage run in registration order; the stage value threads through them
// and the first Abort wins.
type Callbacks struct {
	status    []StatusFunc
	headers   []HeadersFunc
	part      []PartFunc
	completed []CompletedFunc
	onError   []ErrorFunc
}

// runStatus threads the status line through the registered handlers.
func (c *Callbacks) runStatus(h *Handle, s Status) (Status, Signal) {
	for _, fn := range c.status {
		var sig Signal
		if s, sig = fn(h, s); sig == Abort {
			return s, Abort
		}
	}
	return s, Continue
}

func (c *Callbacks) runHeaders(h *Handle, hdr http.Header) (http.Header, Signal) {
	for _, fn := range c.headers {
		var sig Signal
		if hdr, sig = fn(h, hdr); sig == Abort {
			return hdr, Abort
		}
	}
	return hdr, Continue
}

func (c *Callbacks) runPart(h *Handle, part []byte) ([]byte, Signal) {
	for _, fn := range c.part {
		var sig Signal
		if part, sig = fn(h, part); sig == Abort {
			return part, Abort
		}
	}
	return part, Continue
}

// runCompleted runs the completion handlers, stopping at the first error.
func (c *Callbacks) runCompleted(h *Handle) error {
	for _, fn := range c.completed {
		if err := fn(h); err != nil {
			return err
		}
	}
	return nil
}

// runError runs the error handlers. The last non-nil replacement wins.
func (c *Callbacks) runError(h *Handle, err error) error {
	for _, fn := range c.onError {
		if replaced := fn(h, err); replaced != nil {
			err = replaced
		}
	}
	return err
}

// OnStatus registers a status-line handler.
func OnStatus(fn StatusFunc) RequestOption {
	return func(o *requestOpts) error {
		o.chain.status = append(o.chain.status, fn)
		return nil
	}
}

// OnHeaders registers a headers handler.
func OnHeaders(fn HeadersFunc) RequestOption {
	return func(o *requestOpts) error {
		o.chain.headers = append(o.chain.headers, fn)
		return nil
	}
}

// OnPart registers a body-fragment handler.
func OnPart(fn PartFunc) RequestOption {
	return func(o *requestOpts) error {
		o.chain.part = append(o.chain.part, fn)
		return nil
	}
}

// OnCompleted registers a completion handler.
func OnCompleted(fn CompletedFunc) RequestOption {
	return func(o *requestOpts) error {
		o.chain.completed = append(o.chain.completed, fn)
		return nil
	}
}

// OnError registers an error handler.
func OnError(fn ErrorFunc) RequestOption {
	return func(o *requestOpts) error {
		o.chain.onError = append(o.chain.onError, fn)
		return nil
	}
}
