package ahttp_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/asynclabs/ahttp"
)

// captureTransport records the resolved descriptor and completes the
// request immediately, keeping resolution tests off the network.
type captureTransport struct {
	d *ahttp.Descriptor
}

func (ct *captureTransport) Submit(_ context.Context, d *ahttp.Descriptor, sink ahttp.EventSink) (ahttp.Operation, error) {
	ct.d = d
	go sink.OnEnd()
	return nopOp{}, nil
}

func (ct *captureTransport) CloseIdleConnections() {}

type nopOp struct{}

func (nopOp) Cancel() bool { return false }

func newCaptureClient(t *testing.T) (*ahttp.Client, *captureTransport) {
	t.Helper()
	ct := &captureTransport{}
	c, err := ahttp.New(ahttp.WithTransport(ct))
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c, ct
}

func TestResolve_ProxyValidation(t *testing.T) {
	testCases := []struct {
		name     string
		proxy    ahttp.ProxySettings
		expField string
		expOK    bool
	}{
		{
			name:     "missing host",
			proxy:    ahttp.ProxySettings{Port: 8080},
			expField: "host",
		},
		{
			name:     "missing port",
			proxy:    ahttp.ProxySettings{Host: "proxy.local"},
			expField: "port",
		},
		{
			name:     "invalid protocol",
			proxy:    ahttp.ProxySettings{Protocol: "socks5", Host: "proxy.local", Port: 8080},
			expField: "protocol",
		},
		{
			name:     "user without password",
			proxy:    ahttp.ProxySettings{Host: "proxy.local", Port: 8080, User: "u"},
			expField: "password",
		},
		{
			name:     "password without user",
			proxy:    ahttp.ProxySettings{Host: "proxy.local", Port: 8080, Password: "p"},
			expField: "user",
		},
		{
			name:  "host and port only",
			proxy: ahttp.ProxySettings{Host: "proxy.local", Port: 8080},
			expOK: true,
		},
		{
			name:  "full credentials",
			proxy: ahttp.ProxySettings{Protocol: "https", Host: "proxy.local", Port: 8080, User: "u", Password: "p"},
			expOK: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCaptureClient(t)
			defer c.Close()

			_, err := c.Get(context.Background(), "http://example.com/", ahttp.WithProxy(tc.proxy))

			if tc.expOK {
				if err != nil {
					t.Fatalf("exp nil err, got: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("exp validation error, got nil")
			}

			var fields ahttp.FieldErrors
			if !errors.As(err, &fields) {
				t.Fatalf("exp FieldErrors, got: %T %v", err, err)
			}
			if !fields.Has(tc.expField) {
				t.Errorf("exp error naming field %q, got: %v", tc.expField, fields)
			}
		})
	}
}

func TestResolve_AuthValidation(t *testing.T) {
	testCases := []struct {
		name   string
		auth   ahttp.AuthSettings
		expMsg string
		expOK  bool
	}{
		{
			name:   "both missing",
			auth:   ahttp.AuthSettings{Type: ahttp.AuthBasic},
			expMsg: "auth requires user and password",
		},
		{
			name:   "missing user",
			auth:   ahttp.AuthSettings{Type: ahttp.AuthBasic, Password: "p"},
			expMsg: "user: is required",
		},
		{
			name:   "missing password",
			auth:   ahttp.AuthSettings{Type: ahttp.AuthBasic, User: "u"},
			expMsg: "password: is required",
		},
		{
			name:   "digest without realm",
			auth:   ahttp.AuthSettings{Type: ahttp.AuthDigest, User: "u", Password: "p"},
			expMsg: "digest authentication requires realm",
		},
		{
			name:   "unknown type",
			auth:   ahttp.AuthSettings{Type: "bearer", User: "u", Password: "p"},
			expMsg: "type",
		},
		{
			name:  "basic ok",
			auth:  ahttp.AuthSettings{Type: ahttp.AuthBasic, User: "u", Password: "p"},
			expOK: true,
		},
		{
			name:  "digest with realm ok",
			auth:  ahttp.AuthSettings{Type: ahttp.AuthDigest, User: "u", Password: "p", Realm: "r"},
			expOK: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCaptureClient(t)
			defer c.Close()

			_, err := c.Get(context.Background(), "http://example.com/", ahttp.WithAuth(tc.auth))

			if tc.expOK {
				if err != nil {
					t.Fatalf("exp nil err, got: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("exp validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.expMsg) {
				t.Errorf("exp error containing %q, got: %v", tc.expMsg, err)
			}
		})
	}
}

func TestResolve_BodyExclusivity(t *testing.T) {
	c, _ := newCaptureClient(t)
	defer c.Close()

	_, err := c.Post(context.Background(), "http://example.com/",
		ahttp.WithBodyString("raw", "text/plain"),
		ahttp.WithForm(ahttp.FormField{Name: "a", Value: "1"}),
	)
	if err == nil {
		t.Fatal("exp error for two body options, got nil")
	}
	if !strings.Contains(err.Error(), "exactly one body option") {
		t.Errorf("exp body exclusivity error, got: %v", err)
	}
}

func TestResolve_Headers(t *testing.T) {
	c, ct := newCaptureClient(t)
	defer c.Close()

	h, err := c.Get(context.Background(), "http://example.com/",
		ahttp.WithHeader("X-Count", 42),
		ahttp.WithHeaders(map[string][]string{
			"X-Multi": {"a", "b"},
			"accept":  {"application/json"},
		}),
	)
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	h.Wait()

	hdr := ct.d.Header()
	if got := hdr.Get("x-count"); got != "42" {
		t.Errorf("exp stringified header 42 under case-insensitive lookup, got %q", got)
	}
	if diff := cmp.Diff([]string{"a", "b"}, hdr.Values("X-Multi")); diff != "" {
		t.Errorf("multi-valued header mismatch (-want +got):\n%s", diff)
	}
	if got := hdr.Get("Accept"); got != "application/json" {
		t.Errorf("exp accept header, got %q", got)
	}
}

func TestResolve_QueryOrder(t *testing.T) {
	c, ct := newCaptureClient(t)
	defer c.Close()

	h, err := c.Get(context.Background(), "http://example.com/search?base=1",
		ahttp.WithQuery("tag", "a", "b"),
		ahttp.WithQuery("page", 2),
	)
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	h.Wait()

	exp := "base=1&tag=a&tag=b&page=2"
	if got := ct.d.URL().RawQuery; got != exp {
		t.Errorf("exp query %q, got %q", exp, got)
	}
}

func TestResolve_TimeoutOverride(t *testing.T) {
	c, ct := newCaptureClient(t)
	defer c.Close()

	h, err := c.Get(context.Background(), "http://example.com/", ahttp.WithTimeout(-1))
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	h.Wait()

	d, ok := ct.d.Timeout()
	if !ok {
		t.Fatal("exp timeout override to be set")
	}
	if d >= 0 {
		t.Errorf("exp negative (disabled) timeout, got %v", d)
	}

	// Zero is not a valid override: absence inherits the client default.
	if _, err := c.Get(context.Background(), "http://example.com/", ahttp.WithTimeout(0)); err == nil {
		t.Error("exp error for zero timeout override, got nil")
	}
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	c, _ := newCaptureClient(t)
	defer c.Close()

	_, err := c.Get(context.Background(), "ftp://example.com/")
	if err == nil || !strings.Contains(err.Error(), "unsupported url scheme") {
		t.Errorf("exp unsupported scheme error, got: %v", err)
	}
}

func TestResolve_CookieValidation(t *testing.T) {
	c, _ := newCaptureClient(t)
	defer c.Close()

	_, err := c.Get(context.Background(), "http://example.com/", ahttp.WithCookies(ahttp.Cookie{Value: "v"}))
	if err == nil {
		t.Fatal("exp validation error for unnamed cookie, got nil")
	}
	var fields ahttp.FieldErrors
	if !errors.As(err, &fields) || !fields.Has("name") {
		t.Errorf("exp FieldErrors naming 'name', got: %v", err)
	}
}

// cancelTransport never delivers events, leaving the handle in flight.
type cancelTransport struct {
	cancelled atomic.Bool
}

func (st *cancelTransport) Submit(context.Context, *ahttp.Descriptor, ahttp.EventSink) (ahttp.Operation, error) {
	return cancelOp{c: &st.cancelled}, nil
}

func (st *cancelTransport) CloseIdleConnections() {}

type cancelOp struct{ c *atomic.Bool }

func (o cancelOp) Cancel() bool { return o.c.CompareAndSwap(false, true) }

func TestClient_CloseCancelsInflight(t *testing.T) {
	st := &cancelTransport{}
	c, err := ahttp.New(ahttp.WithTransport(st))
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	h, err := c.Get(context.Background(), "http://example.com/")
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("closing client: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle not released by Close")
	}
	if !h.Cancelled() {
		t.Errorf("exp cancelled handle after Close, got state %v", h.State())
	}
	if !st.cancelled.Load() {
		t.Error("exp transport operation to be cancelled")
	}

	if _, err := c.Get(context.Background(), "http://example.com/"); !errors.Is(err, ahttp.ErrClientClosed) {
		t.Errorf("exp ErrClientClosed after Close, got: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("exp idempotent Close, got: %v", err)
	}
}
