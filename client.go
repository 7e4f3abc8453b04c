package ahttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/asynclabs/ahttp/ws"
)

// Client is the process-wide handle owning the transport engine, the
// default configuration, and the lifecycle of every request and websocket
// session issued through it. A Client is open on construction and closes
// exactly once; operations after Close fail immediately with
// [ErrClientClosed].
type Client struct {
	transport Transport
	logger    *slog.Logger
	tracer    trace.Tracer
	encoding  string
	wsOpts    WSOptions

	closed   atomic.Bool
	mu       sync.Mutex
	inflight map[*Handle]struct{}
	sessions map[*ws.Session]struct{}
}

// New builds a Client from the given options.
func New(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	c := &Client{
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("ahttp"),
		encoding: opts.encoding,
		wsOpts:   opts.ws,
		inflight: map[*Handle]struct{}{},
		sessions: map[*ws.Session]struct{}{},
	}
	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.tracer != nil {
		c.tracer = opts.tracer
	}

	if opts.transport != nil {
		c.transport = opts.transport
		return c, nil
	}

	follow := true
	if opts.followRedirects != nil {
		follow = *opts.followRedirects
	}

	engine, err := newEngine(engineConfig{
		maxConnsPerHost: opts.maxConnsPerHost,
		maxIdleConns:    opts.maxIdleConns,
		requestTimeout:  opts.requestTimeout,
		readTimeout:     opts.readTimeout,
		connectTimeout:  opts.connectTimeout,
		idleConnTimeout: opts.idleConnTimeout,
		followRedirects: follow,
		userAgent:       opts.userAgent,
		defaultAuth:     opts.defaultAuth,
		throttle:        opts.throttle,
		logger:          c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.transport = engine

	return c, nil
}

// Do resolves the options into a request descriptor, submits it, and
// returns the live [Handle]. Validation failures are returned here,
// synchronously; everything that happens after submission is observable
// only through the handle.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts ...RequestOption) (*Handle, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	d, chain, err := resolve(method, rawURL, opts)
	if err != nil {
		return nil, err
	}

	encoding := d.Encoding()
	if encoding == "" {
		encoding = c.encoding
	}

	h := newHandle(d.URL(), encoding)
	id := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "ahttp.request", trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", d.URL().String()),
		attribute.String("ahttp.request.id", id),
	))

	disp := &dispatcher{
		h:      h,
		chain:  chain,
		logger: c.logger,
		span:   span,
		id:     id,
	}

	if !c.track(h) {
		span.End()
		return nil, ErrClientClosed
	}

	op, err := c.transport.Submit(ctx, d, disp)
	if err != nil {
		c.forget(h)
		span.End()
		return nil, fmt.Errorf("submitting request: %w", err)
	}
	h.bind(op)

	go func() {
		<-h.Done()
		c.forget(h)
	}()

	return h, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Handle, error) {
	return c.Do(ctx, http.MethodGet, url, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Handle, error) {
	return c.Do(ctx, http.MethodPost, url, opts...)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Handle, error) {
	return c.Do(ctx, http.MethodPut, url, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Handle, error) {
	return c.Do(ctx, http.MethodDelete, url, opts...)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) (*Handle, error) {
	return c.Do(ctx, http.MethodHead, url, opts...)
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, url string, opts ...RequestOption) (*Handle, error) {
	return c.Do(ctx, http.MethodOptions, url, opts...)
}

// WebSocket opens a websocket session through the client, applying the
// client-level websocket tuning. The session is owned by the client: a
// client Close also closes it.
func (c *Client) WebSocket(ctx context.Context, rawURL string, opts ...ws.Option) (*ws.Session, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	cfg := ws.Config{
		ReadBufferSize:    c.wsOpts.ReadBufferSize,
		WriteBufferSize:   c.wsOpts.WriteBufferSize,
		EnableCompression: c.wsOpts.EnableCompression,
		MaxMessageSize:    c.wsOpts.MaxMessageSize,
		HandshakeTimeout:  c.wsOpts.HandshakeTimeout,
		Logger:            c.logger,
	}

	s, err := ws.Dial(ctx, rawURL, cfg, opts...)
	if err != nil {
		return nil, err
	}

	if !c.trackSession(s) {
		s.Close()
		return nil, ErrClientClosed
	}

	go func() {
		<-s.Done()
		c.forgetSession(s)
	}()

	return s, nil
}

// Close shuts the client down: all in-flight requests are cancelled, open
// websocket sessions are closed, and pooled connections are released.
// Close is idempotent; subsequent operations fail with [ErrClientClosed].
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.inflight))
	for h := range c.inflight {
		handles = append(handles, h)
	}
	sessions := make([]*ws.Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.inflight = map[*Handle]struct{}{}
	c.sessions = map[*ws.Session]struct{}{}
	c.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			c.logger.Error("closing websocket session", "error", err)
		}
	}

	c.transport.CloseIdleConnections()

	return nil
}

// track registers an in-flight handle. It re-checks the closed flag under
// the lock so a concurrent Close cannot strand the handle.
func (c *Client) track(h *Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.inflight[h] = struct{}{}
	return true
}

func (c *Client) forget(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, h)
}

func (c *Client) trackSession(s *ws.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.sessions[s] = struct{}{}
	return true
}

func (c *Client) forgetSession(s *ws.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}
