package ahttp

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/asynclabs/ahttp/throttle"
)

// Option is a functional option for configuring a [Client] via [New].
type Option func(*options) error

type options struct {
	maxConnsPerHost int
	maxIdleConns    int
	requestTimeout  time.Duration
	readTimeout     time.Duration
	connectTimeout  time.Duration
	idleConnTimeout time.Duration
	followRedirects *bool
	defaultAuth     *AuthSettings
	userAgent       string
	encoding        string
	throttle        *throttle.Config
	transport       Transport
	logger          *slog.Logger
	tracer          trace.Tracer

	ws WSOptions
}

// WSOptions carries client-level websocket tuning applied to every
// session opened through the client.
type WSOptions struct {
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
	MaxMessageSize    int64
	HandshakeTimeout  time.Duration
}

// WithMaxConnsPerHost caps concurrent connections per host.
func WithMaxConnsPerHost(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("max conns per host must not be negative")
		}
		o.maxConnsPerHost = n
		return nil
	}
}

// WithMaxIdleConns caps the total pooled idle connections.
func WithMaxIdleConns(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("max idle conns must not be negative")
		}
		o.maxIdleConns = n
		return nil
	}
}

// WithRequestTimeout sets the default whole-request timeout. Individual
// requests override it with [WithTimeout]; a negative per-request value
// disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.requestTimeout = d
		return nil
	}
}

// WithReadTimeout sets the read-idle timeout: the maximum gap between two
// body chunks before the request fails with a timeout error.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.readTimeout = d
		return nil
	}
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.connectTimeout = d
		return nil
	}
}

// WithIdleConnTimeout sets how long a pooled connection may sit unused
// before eviction. It governs reuse, not the active request.
func WithIdleConnTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.idleConnTimeout = d
		return nil
	}
}

// WithFollowRedirects sets the client-wide redirect policy. Default is to
// follow.
func WithFollowRedirects(follow bool) Option {
	return func(o *options) error {
		o.followRedirects = &follow
		return nil
	}
}

// WithDefaultAuth applies credentials to every request that does not
// carry its own.
func WithDefaultAuth(a AuthSettings) Option {
	return func(o *options) error {
		if err := validateAuth(&a); err != nil {
			return err
		}
		o.defaultAuth = &a
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing
// requests.
func WithUserAgent(ua string) Option {
	return func(o *options) error {
		o.userAgent = ua
		return nil
	}
}

// WithDefaultEncoding sets the charset used to decode response bodies
// that do not declare one. Default is UTF-8.
func WithDefaultEncoding(charset string) Option {
	return func(o *options) error {
		if charset == "" {
			return errors.New("encoding must not be empty")
		}
		o.encoding = charset
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting on outbound requests
// with the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithTransport replaces the default net/http-backed engine. Intended for
// tests and custom transports.
func WithTransport(t Transport) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("transport must not be nil")
		}
		o.transport = t
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer injects an OpenTelemetry tracer. A no-op tracer is used
// unless set.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// WithWebSocketOptions tunes websocket sessions opened through the
// client.
func WithWebSocketOptions(ws WSOptions) Option {
	return func(o *options) error {
		if ws.ReadBufferSize < 0 || ws.WriteBufferSize < 0 || ws.MaxMessageSize < 0 {
			return errors.New("websocket buffer sizes must not be negative")
		}
		o.ws = ws
		return nil
	}
}
