package ahttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/asynclabs/ahttp/throttle"
)

type ctxKey int

const (
	ctxKeyProxy ctxKey = iota
	ctxKeyFollow
)

// errReadIdle is the cancellation cause when no body data arrives within
// the read-idle window.
var errReadIdle = errors.New("read idle timeout")

const readChunkSize = 32 * 1024

// engineConfig carries the client-level knobs the engine needs. All
// timeouts follow the resolution rules: zero means unset, negative means
// explicitly disabled.
type engineConfig struct {
	maxConnsPerHost int
	maxIdleConns    int
	requestTimeout  time.Duration
	readTimeout     time.Duration
	connectTimeout  time.Duration
	idleConnTimeout time.Duration
	followRedirects bool
	userAgent       string
	defaultAuth     *AuthSettings
	throttle        *throttle.Config
	logger          *slog.Logger
}

// engine is the default Transport, built on a single pooled
// http.Transport shared across requests. Per-request proxy and redirect
// policy travel through the request context so one pool serves all
// configurations.
type engine struct {
	hc  *http.Client
	cfg engineConfig
}

func newEngine(cfg engineConfig) (*engine, error) {
	dialTimeout := cfg.connectTimeout
	if dialTimeout <= 0 {
		dialTimeout = 0 // disabled
	}

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		MaxConnsPerHost: cfg.maxConnsPerHost,
		MaxIdleConns:    cfg.maxIdleConns,
		Proxy: func(r *http.Request) (*url.URL, error) {
			if p, ok := r.Context().Value(ctxKeyProxy).(*ProxySettings); ok && p != nil {
				return p.url(), nil
			}
			return nil, nil
		},
	}
	if cfg.idleConnTimeout > 0 {
		base.IdleConnTimeout = cfg.idleConnTimeout
	}

	var rt http.RoundTripper = base
	if cfg.throttle != nil {
		var err error
		rt, err = throttle.NewRoundTripper(cfg.throttle, func() *slog.Logger { return cfg.logger }, rt)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
	}

	hc := &http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if follow, ok := req.Context().Value(ctxKeyFollow).(bool); ok && !follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}

	return &engine{hc: hc, cfg: cfg}, nil
}

func (e *engine) CloseIdleConnections() {
	e.hc.CloseIdleConnections()
}

// operation is the per-request cancellation token.
type operation struct {
	cancelled atomic.Bool
	cancel    context.CancelCauseFunc
}

func (o *operation) Cancel() bool {
	if !o.cancelled.CompareAndSwap(false, true) {
		return false
	}
	o.cancel(context.Canceled)
	return true
}

// Submit starts the request on a new goroutine and returns its
// cancellation token. It never blocks on network I/O.
func (e *engine) Submit(ctx context.Context, d *Descriptor, sink EventSink) (Operation, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	op := &operation{cancel: cancel}

	go e.run(ctx, cancel, d, sink)

	return op, nil
}

func (e *engine) run(ctx context.Context, cancel context.CancelCauseFunc, d *Descriptor, sink EventSink) {
	defer cancel(nil)

	// Per-request timeout overrides the client default; a negative value
	// at either level disables the deadline entirely.
	timeout := e.cfg.requestTimeout
	if t, ok := d.Timeout(); ok {
		timeout = t
	}
	if timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, timeout)
		defer tcancel()
	}

	follow := e.cfg.followRedirects
	if f, ok := d.FollowRedirects(); ok {
		follow = f
	}
	ctx = context.WithValue(ctx, ctxKeyFollow, follow)
	if d.Proxy() != nil {
		ctx = context.WithValue(ctx, ctxKeyProxy, d.Proxy())
	}

	auth := d.Auth()
	if auth == nil {
		auth = e.cfg.defaultAuth
	}

	resp, err := e.roundTrip(ctx, d, auth)
	if err != nil {
		sink.OnError(e.classify(ctx, "roundtrip", err))
		return
	}
	defer resp.Body.Close()

	sink.OnStatus(Status{
		Code:  resp.StatusCode,
		Text:  statusText(resp),
		Proto: resp.Proto,
	}, resp.Request.URL)

	sink.OnHeaders(resp.Header)

	e.readBody(ctx, cancel, resp.Body, sink)
}

// roundTrip sends the request, handling one authentication challenge
// round when credentials are configured non-preemptively.
func (e *engine) roundTrip(ctx context.Context, d *Descriptor, auth *AuthSettings) (*http.Response, error) {
	body, contentType, err := d.Body().materialize()
	if err != nil {
		return nil, err
	}

	// A challenge round needs a replayable body. Buffer it up front when a
	// second attempt is possible.
	var replay []byte
	retryable := auth != nil && (auth.Type == AuthDigest || !auth.Preemptive)
	if retryable && body != nil {
		replay, err = io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
		body = io.NopCloser(bytes.NewReader(replay))
	}

	req, err := e.buildRequest(ctx, d, body, contentType)
	if err != nil {
		return nil, err
	}
	if auth != nil && auth.Type == AuthBasic && auth.Preemptive {
		req.SetBasicAuth(auth.User, auth.Password)
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if !retryable || resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	authz, err := answerChallenge(auth, challenge, d.Method(), req.URL.RequestURI())
	if err != nil {
		// No usable challenge; surface the 401 as-is.
		return resp, nil //nolint:nilerr
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retry, err := e.buildRequest(ctx, d, io.NopCloser(bytes.NewReader(replay)), contentType)
	if err != nil {
		return nil, err
	}
	retry.Header.Set("Authorization", authz)

	return e.hc.Do(retry)
}

func (e *engine) buildRequest(ctx context.Context, d *Descriptor, body io.ReadCloser, contentType string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = body
	}
	req, err := http.NewRequestWithContext(ctx, d.Method(), d.URL().String(), r)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for k, vals := range d.Header() {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.cfg.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.cfg.userAgent)
	}

	for _, c := range d.Cookies() {
		req.AddCookie(&http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			MaxAge: c.MaxAge,
			Secure: c.Secure,
		})
	}

	return req, nil
}

// readBody streams the response body to the sink in chunks, enforcing the
// read-idle timeout between chunks.
func (e *engine) readBody(ctx context.Context, cancel context.CancelCauseFunc, body io.Reader, sink EventSink) {
	var idle *time.Timer
	if e.cfg.readTimeout > 0 {
		idle = time.AfterFunc(e.cfg.readTimeout, func() {
			cancel(errReadIdle)
		})
		defer idle.Stop()
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if idle != nil {
			idle.Reset(e.cfg.readTimeout)
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.OnPart(chunk)
		}
		if err == io.EOF {
			sink.OnEnd()
			return
		}
		if err != nil {
			sink.OnError(e.classify(ctx, "read", err))
			return
		}
	}
}

// classify maps low-level failures onto the error taxonomy.
func (e *engine) classify(ctx context.Context, op string, err error) *Error {
	if cause := context.Cause(ctx); errors.Is(cause, errReadIdle) {
		return &Error{Kind: KindTimeout, Op: op, Err: errReadIdle}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindDNS, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: KindConnect, Op: op, Err: err}
	}

	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// statusText strips the numeric prefix from the status line, falling back
// to the registered reason phrase.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
