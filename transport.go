package ahttp

import (
	"context"
	"net/http"
	"net/url"
)

// EventSink receives one request's response events from the transport.
// Per request the transport delivers, in order and on its own goroutine:
// at most one OnStatus, at most one OnHeaders, zero or more OnPart, then
// exactly one of OnEnd or OnError. Nothing is delivered after that.
type EventSink interface {
	// OnStatus delivers the status line together with the final request
	// URI, reflecting any redirects the transport followed.
	OnStatus(s Status, finalURL *url.URL)
	OnHeaders(h http.Header)
	OnPart(p []byte)
	OnEnd()
	OnError(err error)
}

// Operation is the cancellation token for one submitted request.
type Operation interface {
	// Cancel aborts the in-flight operation. It reports whether this
	// call performed the cancellation; repeated calls return false.
	Cancel() bool
}

// Transport is the underlying engine that puts a resolved request on the
// wire and streams response events back. Submit must not block on network
// I/O; event delivery happens on transport-owned goroutines.
type Transport interface {
	Submit(ctx context.Context, d *Descriptor, sink EventSink) (Operation, error)

	// CloseIdleConnections releases pooled connections.
	CloseIdleConnections()
}
