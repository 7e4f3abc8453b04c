package ws

import (
	"errors"
	"net/http"
)

// Option is a functional option for [Dial].
type Option func(*settings) error

type settings struct {
	header   http.Header
	onOpen   func(*Session)
	onText   func(*Session, string)
	onBinary func(*Session, []byte)
	onClose  func(*Session, int, string)
	onError  func(*Session, error)
}

// OnOpen registers a handler fired once after a successful handshake.
func OnOpen(fn func(*Session)) Option {
	return func(s *settings) error {
		if fn == nil {
			return errors.New("open handler must not be nil")
		}
		s.onOpen = fn
		return nil
	}
}

// OnText registers the text-frame handler. Mutually exclusive with
// [OnBinary].
func OnText(fn func(*Session, string)) Option {
	return func(s *settings) error {
		if fn == nil {
			return errors.New("text handler must not be nil")
		}
		s.onText = fn
		return nil
	}
}

// OnBinary registers the binary-frame handler. Mutually exclusive with
// [OnText].
func OnBinary(fn func(*Session, []byte)) Option {
	return func(s *settings) error {
		if fn == nil {
			return errors.New("binary handler must not be nil")
		}
		s.onBinary = fn
		return nil
	}
}

// OnClose registers a handler fired exactly once when the session closes,
// with the peer's close code and reason.
func OnClose(fn func(*Session, int, string)) Option {
	return func(s *settings) error {
		if fn == nil {
			return errors.New("close handler must not be nil")
		}
		s.onClose = fn
		return nil
	}
}

// OnError registers a handler for session errors. It may fire in any
// state and does not itself close the session.
func OnError(fn func(*Session, error)) Option {
	return func(s *settings) error {
		if fn == nil {
			return errors.New("error handler must not be nil")
		}
		s.onError = fn
		return nil
	}
}

// WithHeader adds handshake request headers.
func WithHeader(h http.Header) Option {
	return func(s *settings) error {
		if s.header == nil {
			s.header = http.Header{}
		}
		for k, vals := range h {
			for _, v := range vals {
				s.header.Add(k, v)
			}
		}
		return nil
	}
}
