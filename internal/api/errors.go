package api

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates collaborator-call failures. It is assigned exactly
// once, where the HTTP response is read; nothing downstream inspects
// status codes or message text.
type Kind int

const (
	KindTransport Kind = iota // timeout, connection failure
	KindAuth                  // invalid or expired session
	KindValidation            // the request itself was rejected
	KindRateLimited           // recognition service throttling
	KindQuotaExhausted        // scan credits used up
	KindNoResult              // recognition produced no candidates
	KindUpstream              // backend or recognition service failure
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindNoResult:
		return "no_result"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error is a classified collaborator failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for transport errors
	Message string

	retryAfter time.Duration // server-advertised throttle delay, if any
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsAuth reports whether err represents an authentication failure, the
// one error class every component must short-circuit on.
func IsAuth(err error) bool { return IsKind(err, KindAuth) }
