package media

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Classify maps an error from a dial attempt to a connection failure kind.
// Typed errors are checked first, then message keywords. Anything left over
// counts as unreachable.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnreachable
	}

	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectTimeout) {
		return KindTimeout
	}
	if errors.Is(err, ErrAuth) {
		return KindAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())

	// Auth first: a 401 body can also mention the connection
	if containsAny(msg, authKeywords) {
		return KindAuth
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindUnreachable
	}

	if containsAny(msg, timeoutKeywords) {
		return KindTimeout
	}

	return KindUnreachable
}

// ClassifyMessage classifies a decoder log line or similar free text.
func ClassifyMessage(msg string) ErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, authKeywords):
		return KindAuth
	case containsAny(msg, timeoutKeywords):
		return KindTimeout
	default:
		return KindUnreachable
	}
}

var authKeywords = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"user/pass",
	"authentication",
	"authorization failed",
	"credentials",
}

var timeoutKeywords = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
