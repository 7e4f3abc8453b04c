// Package ahttp is an asynchronous HTTP client: requests return
// immediately with a [Handle] that fills in progressively as the status
// line, headers, and body fragments arrive, while registered callbacks
// can transform values or abort the request at any stage.
//
// # Building a Client
//
// Use [New] with functional options:
//
//	c, err := ahttp.New(
//		ahttp.WithRequestTimeout(10*time.Second),
//		ahttp.WithUserAgent("myapp/1.0"),
//	)
//	defer c.Close()
//
// # Issuing Requests
//
// Request issuance never blocks on the network. Validation problems are
// returned synchronously; everything else lands on the handle:
//
//	h, err := c.Get(ctx, "https://api.example.com/v1/items",
//		ahttp.WithQuery("page", 2),
//		ahttp.WithAuth(ahttp.AuthSettings{Type: ahttp.AuthBasic, User: "u", Password: "p"}),
//	)
//	if err != nil {
//		return err // bad options, never a network failure
//	}
//	if err := h.Wait(); err != nil {
//		return err // network/timeout/handler failure
//	}
//	fmt.Println(h.StatusCode(), h.BodyString())
//
// # Streaming and Early Termination
//
// Staged callbacks run on the transport's I/O goroutine as events arrive.
// Each returns the (possibly transformed) value and a control signal:
//
//	h, _ := c.Get(ctx, url,
//		ahttp.OnStatus(func(h *ahttp.Handle, s ahttp.Status) (ahttp.Status, ahttp.Signal) {
//			if s.Code != http.StatusOK {
//				return s, ahttp.Abort // no headers or body are delivered
//			}
//			return s, ahttp.Continue
//		}),
//		ahttp.OnPart(func(h *ahttp.Handle, p []byte) ([]byte, ahttp.Signal) {
//			return bytes.ToUpper(p), ahttp.Continue // stored transformed
//		}),
//	)
//
// Aborting is caller-directed cancellation, not an error: the handle
// lands in the cancelled state with a nil error.
//
// # Cancellation
//
// [Handle.Cancel] races fairly with event delivery; the terminal
// transition is a single compare-and-swap and the loser becomes a no-op:
//
//	if h.Cancel() {
//		// this call won; h.Cancelled() == true, h.Err() == nil
//	}
//
// # WebSockets
//
// [Client.WebSocket] opens a [github.com/asynclabs/ahttp/ws.Session]
// sharing the client's configuration and lifecycle.
package ahttp
