package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// Kind classifies a transport failure for the retry policy. Exactly two
// kinds are worth retrying: rate limiting and connectivity loss. Everything
// else (malformed request, auth, protocol) is fatal.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindConnectivity
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindConnectivity:
		return "connectivity"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind is transient.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindConnectivity
}

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Classify tags err with a failure kind. The tag survives wrapping with
// Wrapf and fmt.Errorf %w.
func Classify(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// KindOf extracts the failure kind from err, or KindUnknown when the error
// was never classified. Unclassified transport errors are treated as fatal
// by the retry policy.
func KindOf(err error) Kind {
	var c *classified
	if stderrors.As(err, &c) {
		return c.kind
	}
	return KindUnknown
}

// Is and As are re-exported so callers do not need to import both this
// package and the standard library one.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
