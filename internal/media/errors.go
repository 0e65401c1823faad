package media

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrorKind classifies a failed connection attempt.
type ErrorKind string

// Connection failure kinds.
const (
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindUnreachable ErrorKind = "unreachable"
)

// Sentinels matched with errors.Is against a *ConnectError.
var (
	ErrConnectTimeout  = errors.New("connection timed out")
	ErrAuth            = errors.New("authentication failed")
	ErrUnreachableHost = errors.New("host unreachable")
)

// Stream-level sentinels.
var (
	ErrStreamEnded   = errors.New("stream ended")
	ErrReadTimeout   = errors.New("no frame within read timeout")
	ErrSessionClosed = errors.New("session closed")
)

// ConnectError is returned when a stream could not be opened.
type ConnectError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

// NewConnectError builds a ConnectError with the URL credentials redacted.
func NewConnectError(kind ErrorKind, rawURL string, err error) *ConnectError {
	return &ConnectError{Kind: kind, URL: RedactURL(rawURL), Err: err}
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.URL, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ConnectError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *ConnectError) sentinel() error {
	switch e.Kind {
	case KindTimeout:
		return ErrConnectTimeout
	case KindAuth:
		return ErrAuth
	default:
		return ErrUnreachableHost
	}
}

// DecodeError reports pictures the decoder could not produce cleanly. The
// session skips them; the connection stays up.
type DecodeError struct {
	Count  int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("decode error (%d)", e.Count)
	}
	return fmt.Sprintf("decode error (%d): %s", e.Count, e.Reason)
}

// IsDecodeError reports whether err is a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// RedactURL hides the password of a URL with user info.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}
