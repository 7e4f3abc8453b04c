package ahttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// dispatcher is the per-request EventSink. It owns the handle's mutation:
// transport events arrive on the engine's goroutine, run through the
// callback chain, and land on the handle. Events arriving after the
// handle went terminal (the CAS loser) are dropped.
type dispatcher struct {
	h      *Handle
	chain  *Callbacks
	logger *slog.Logger
	span   trace.Span
	id     string

	endSpan sync.Once
}

func (d *dispatcher) OnStatus(s Status, finalURL *url.URL) {
	if d.h.Terminal() {
		return
	}
	if finalURL != nil {
		d.h.setURI(finalURL)
	}

	s, sig, err := d.safeStatus(s)
	switch {
	case err != nil:
		d.fail(err)
	case sig == Abort:
		d.abort("status")
	default:
		d.h.setStatus(s)
	}
}

func (d *dispatcher) OnHeaders(hdr http.Header) {
	if d.h.Terminal() {
		return
	}

	hdr, sig, err := d.safeHeaders(hdr)
	switch {
	case err != nil:
		d.fail(err)
	case sig == Abort:
		d.abort("headers")
	default:
		d.h.setHeaders(hdr)
	}
}

func (d *dispatcher) OnPart(p []byte) {
	if d.h.Terminal() {
		return
	}

	p, sig, err := d.safePart(p)
	switch {
	case err != nil:
		d.fail(err)
	case sig == Abort:
		d.abort("part")
	default:
		d.h.appendPart(p)
	}
}

func (d *dispatcher) OnEnd() {
	defer d.finishSpan()

	if d.h.Terminal() {
		return
	}

	if err := d.safeCompleted(); err != nil {
		d.fail(err)
		return
	}

	if d.h.transition(StateCompleted) {
		d.logger.Debug("request completed", "id", d.id, "status", d.h.StatusCode())
	}
}

func (d *dispatcher) OnError(err error) {
	defer d.finishSpan()

	if d.h.Terminal() {
		return
	}

	// An error handler's own failure replaces the transport error. This
	// mirrors the long-observed behavior of the callback protocol.
	err = d.safeError(err)
	d.fail(err)
}

// abort handles a callback-directed Abort: the transport operation is
// cancelled and the handle lands in the cancelled state, same as a
// caller-side Cancel.
func (d *dispatcher) abort(stage string) {
	if d.h.Cancel() {
		d.logger.Debug("request aborted by callback", "id", d.id, "stage", stage)
	}
	d.finishSpan()
}

func (d *dispatcher) fail(err error) {
	if d.h.fail(err) {
		d.logger.Debug("request failed", "id", d.id, "error", err)
	}
	d.finishSpan()
}

func (d *dispatcher) finishSpan() {
	d.endSpan.Do(func() {
		state := d.h.State()
		d.span.SetAttributes(attribute.String("ahttp.state", state.String()))
		if code := d.h.StatusCode(); code > 0 {
			d.span.SetAttributes(attribute.Int("http.response.status_code", code))
		}
		if err := d.h.Err(); err != nil {
			d.span.RecordError(err)
			d.span.SetStatus(codes.Error, err.Error())
		}
		d.span.End()
	})
}

// safe* invoke the callback chain with panic capture. A panicking handler
// is recorded as the terminal error; the handle never sticks in receiving.

func (d *dispatcher) safeStatus(s Status) (out Status, sig Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = handlerError("status", r)
		}
	}()
	out, sig = d.chain.runStatus(d.h, s)
	return out, sig, nil
}

func (d *dispatcher) safeHeaders(hdr http.Header) (out http.Header, sig Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = handlerError("headers", r)
		}
	}()
	out, sig = d.chain.runHeaders(d.h, hdr)
	return out, sig, nil
}

func (d *dispatcher) safePart(p []byte) (out []byte, sig Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = handlerError("part", r)
		}
	}()
	out, sig = d.chain.runPart(d.h, p)
	return out, sig, nil
}

func (d *dispatcher) safeCompleted() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = handlerError("completed", r)
		}
	}()
	if herr := d.chain.runCompleted(d.h); herr != nil {
		return &Error{Kind: KindHandler, Op: "completed", Err: herr}
	}
	return nil
}

func (d *dispatcher) safeError(original error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = handlerError("error", r)
		}
	}()
	replaced := d.chain.runError(d.h, original)
	if replaced != original && replaced != nil {
		return &Error{Kind: KindHandler, Op: "error", Err: replaced}
	}
	return original
}

func handlerError(stage string, recovered any) error {
	return &Error{
		Kind: KindHandler,
		Op:   stage,
		Err:  fmt.Errorf("panic: %v", recovered),
	}
}
