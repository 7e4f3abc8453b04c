package ahttp

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// AuthType selects the authentication scheme carried by AuthSettings.
type AuthType string

const (
	AuthBasic  AuthType = "basic"
	AuthDigest AuthType = "digest"
)

// ProxySettings routes a request through an HTTP proxy. Host and Port are
// required; User and Password must be supplied together or not at all.
type ProxySettings struct {
	Protocol string `opt:"protocol" validate:"omitempty,oneof=http https"`
	Host     string `opt:"host" validate:"required"`
	Port     int    `opt:"port" validate:"required"`
	User     string `opt:"user" validate:"required_with=Password"`
	Password string `opt:"password" validate:"required_with=User"`
}

// url builds the proxy URL, embedding credentials when present.
func (p *ProxySettings) url() *url.URL {
	scheme := p.Protocol
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

// AuthSettings carries request credentials. Preemptive only applies to
// basic auth: credentials are sent up front instead of after a challenge.
// Digest requires Realm so a malformed server challenge is caught during
// resolution rather than mid-flight.
type AuthSettings struct {
	Type       AuthType `opt:"type" validate:"required,oneof=basic digest"`
	User       string   `opt:"user"`
	Password   string   `opt:"password"`
	Realm      string   `opt:"realm"`
	Preemptive bool     `opt:"preemptive"`
}

// Cookie is an outbound cookie descriptor attached to the request's
// Cookie header.
type Cookie struct {
	Name   string `opt:"name" validate:"required"`
	Value  string `opt:"value"`
	Domain string `opt:"domain"`
	Path   string `opt:"path"`
	MaxAge int    `opt:"max-age"`
	Secure bool   `opt:"secure"`
}

// Descriptor is the immutable, fully-resolved representation of one
// outbound request. It is produced by option resolution and owned by the
// in-flight request; nothing mutates it after construction.
type Descriptor struct {
	method   string
	url      *url.URL
	header   http.Header
	body     *Body
	proxy    *ProxySettings
	auth     *AuthSettings
	cookies  []Cookie
	timeout  *time.Duration
	redirect *bool
	encoding string
}

func (d *Descriptor) Method() string        { return d.method }
func (d *Descriptor) URL() *url.URL         { return d.url }
func (d *Descriptor) Body() *Body           { return d.body }
func (d *Descriptor) Proxy() *ProxySettings { return d.proxy }
func (d *Descriptor) Auth() *AuthSettings   { return d.auth }
func (d *Descriptor) Cookies() []Cookie     { return d.cookies }
func (d *Descriptor) Encoding() string      { return d.encoding }

// Header returns a copy of the resolved header multimap.
func (d *Descriptor) Header() http.Header { return d.header.Clone() }

// Timeout reports the per-request override and whether one was set. A
// negative duration means "no timeout", overriding any client default.
func (d *Descriptor) Timeout() (time.Duration, bool) {
	if d.timeout == nil {
		return 0, false
	}
	return *d.timeout, true
}

// FollowRedirects reports the per-request redirect override and whether
// one was set.
func (d *Descriptor) FollowRedirects() (bool, bool) {
	if d.redirect == nil {
		return false, false
	}
	return *d.redirect, true
}

// RequestOption configures one outbound request. All validation happens
// during resolution, before any network activity begins.
type RequestOption func(*requestOpts) error

type queryParam struct {
	key, value string
}

type requestOpts struct {
	header   http.Header
	query    []queryParam
	body     *Body
	bodyOpts int // how many body options were supplied
	proxy    *ProxySettings
	auth     *AuthSettings
	cookies  []Cookie
	timeout  *time.Duration
	redirect *bool
	encoding string
	chain    Callbacks
}

// WithHeader adds a single header value. The value is stringified with
// fmt.Sprint, matching the loosely-typed option surface.
func WithHeader(key string, value any) RequestOption {
	return func(o *requestOpts) error {
		if key == "" {
			return errors.New("header key must not be empty")
		}
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, fmt.Sprint(value))
		return nil
	}
}

// WithHeaders merges the given headers into the request. Keys are
// case-insensitive for lookup; the supplied case is preserved on the wire.
func WithHeaders(headers map[string][]string) RequestOption {
	return func(o *requestOpts) error {
		if o.header == nil {
			o.header = http.Header{}
		}
		for k, vals := range headers {
			for _, v := range vals {
				o.header.Add(k, v)
			}
		}
		return nil
	}
}

// WithQuery appends query parameters in insertion order. Multiple values
// expand to repeated key=value pairs.
func WithQuery(key string, values ...any) RequestOption {
	return func(o *requestOpts) error {
		if key == "" {
			return errors.New("query key must not be empty")
		}
		for _, v := range values {
			o.query = append(o.query, queryParam{key: key, value: fmt.Sprint(v)})
		}
		return nil
	}
}

// WithProxy routes the request through the given proxy.
func WithProxy(p ProxySettings) RequestOption {
	return func(o *requestOpts) error {
		if err := validateStruct(&p); err != nil {
			return err
		}
		o.proxy = &p
		return nil
	}
}

// WithAuth attaches credentials to the request.
func WithAuth(a AuthSettings) RequestOption {
	return func(o *requestOpts) error {
		if err := validateAuth(&a); err != nil {
			return err
		}
		o.auth = &a
		return nil
	}
}

// WithCookies attaches outbound cookies to the request.
func WithCookies(cookies ...Cookie) RequestOption {
	return func(o *requestOpts) error {
		for _, c := range cookies {
			if err := validateStruct(&c); err != nil {
				return err
			}
		}
		o.cookies = append(o.cookies, cookies...)
		return nil
	}
}

// WithTimeout overrides the client-level request timeout for this request.
// A negative duration disables the timeout entirely, including a finite
// client default. Zero is rejected: an absent override inherits the
// client default.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOpts) error {
		if d == 0 {
			return errors.New("timeout override must not be zero")
		}
		o.timeout = &d
		return nil
	}
}

// WithRedirects overrides the client-level redirect policy for this
// request.
func WithRedirects(follow bool) RequestOption {
	return func(o *requestOpts) error {
		o.redirect = &follow
		return nil
	}
}

// WithEncoding overrides the charset used by Handle.BodyString when the
// response does not declare one.
func WithEncoding(charset string) RequestOption {
	return func(o *requestOpts) error {
		if charset == "" {
			return errors.New("encoding must not be empty")
		}
		o.encoding = charset
		return nil
	}
}

// validateAuth applies the AuthSettings rules, producing the distinct
// both-missing message before the per-field ones.
func validateAuth(a *AuthSettings) error {
	if err := validateStruct(a); err != nil {
		return err
	}
	switch {
	case a.User == "" && a.Password == "":
		return errors.New("auth requires user and password")
	case a.User == "":
		return FieldErrors{{Field: "user", Err: "is required"}}
	case a.Password == "":
		return FieldErrors{{Field: "password", Err: "is required"}}
	}
	if a.Type == AuthDigest && a.Realm == "" {
		return errors.New("digest authentication requires realm")
	}
	return nil
}

// resolve validates and normalizes the options into a Descriptor plus the
// request's callback chain. Every failure here is synchronous; nothing has
// touched the network yet.
func resolve(method, rawURL string, opts []RequestOption) (*Descriptor, *Callbacks, error) {
	var o requestOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, nil, fmt.Errorf("resolving request options: %w", err)
		}
	}

	if o.bodyOpts > 1 {
		return nil, nil, errors.New("request accepts exactly one body option")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if len(o.query) > 0 {
		q := u.RawQuery
		for _, p := range o.query {
			if q != "" {
				q += "&"
			}
			q += url.QueryEscape(p.key) + "=" + url.QueryEscape(p.value)
		}
		u.RawQuery = q
	}

	header := o.header
	if header == nil {
		header = http.Header{}
	}

	body := o.body
	if body == nil {
		body = &Body{kind: BodyNone}
	}

	d := &Descriptor{
		method:   method,
		url:      u,
		header:   header,
		body:     body,
		proxy:    o.proxy,
		auth:     o.auth,
		cookies:  o.cookies,
		timeout:  o.timeout,
		redirect: o.redirect,
		encoding: o.encoding,
	}

	chain := o.chain
	return d, &chain, nil
}
