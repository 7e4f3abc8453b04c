package ahttp

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned by every operation issued through a
	// client after Close has been called.
	ErrClientClosed = errors.New("client closed")

	// ErrDNS is the sentinel wrapped by asynchronous errors caused by a
	// failed hostname resolution.
	ErrDNS = errors.New("dns resolution failed")

	// ErrConnect is the sentinel wrapped by asynchronous errors caused by
	// a failed connection attempt.
	ErrConnect = errors.New("connect failed")

	// ErrTimeout is the sentinel wrapped by asynchronous errors caused by
	// an expired request, connect, or read deadline.
	ErrTimeout = errors.New("timeout")

	// ErrNetwork is the sentinel wrapped by asynchronous errors that are
	// neither resolution, connect, nor timeout failures.
	ErrNetwork = errors.New("network failure")

	// ErrHandler is the sentinel wrapped by errors raised inside a
	// registered callback.
	ErrHandler = errors.New("callback failed")
)

// Kind classifies an asynchronous request failure.
type Kind int

const (
	KindNetwork Kind = iota
	KindDNS
	KindConnect
	KindTimeout
	KindHandler
)

func (k Kind) String() string {
	switch k {
	case KindDNS:
		return "dns"
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindHandler:
		return "handler"
	default:
		return "network"
	}
}

// sentinel returns the errors.Is target for the kind.
func (k Kind) sentinel() error {
	switch k {
	case KindDNS:
		return ErrDNS
	case KindConnect:
		return ErrConnect
	case KindTimeout:
		return ErrTimeout
	case KindHandler:
		return ErrHandler
	default:
		return ErrNetwork
	}
}

// Error is the terminal error recorded on a failed Handle. It is never
// returned from the issuing call; callers observe it via Handle.Err.
type Error struct {
	Kind Kind
	Op   string // "dial", "roundtrip", "read", "status", "headers", "part", "completed", "error"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the per-kind sentinels as well as the cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Timeout reports whether the failure was deadline-driven.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}
