// Package errs provides the structured error envelope shared by every
// component of the stat server: cache, database, burst aggregator, and
// websocket broadcaster.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies the taxonomy of error kinds from the error handling design.
type Code string

const (
	// CodeConfig marks a fatal configuration-loading failure.
	CodeConfig Code = "config"
	// CodeCacheConnection marks a failure to open or ping the cache.
	CodeCacheConnection Code = "cache_connection"
	// CodeCacheCommand marks a failed SET/GET/MGET against the cache.
	CodeCacheCommand Code = "cache_command"
	// CodeDatabaseConnection marks a failure to dial the document store.
	CodeDatabaseConnection Code = "database_connection"
	// CodeDatabaseAuth marks a failed signin.
	CodeDatabaseAuth Code = "database_auth"
	// CodeDatabaseNamespace marks a failed namespace/database switch.
	CodeDatabaseNamespace Code = "database_namespace"
	// CodeDatabaseCommand marks a failed read or live-stream read.
	CodeDatabaseCommand Code = "database_command"
	// CodeStreamStalled marks a restart triggered by the watchdog or by the
	// live stream's channel closing.
	CodeStreamStalled Code = "stream_stalled"
	// CodeWebsocketUpgrade marks a failed websocket handshake.
	CodeWebsocketUpgrade Code = "websocket_upgrade"
	// CodeWebsocketTransport marks a session-ending transport error.
	CodeWebsocketTransport Code = "websocket_transport"
)

// E is a structured error carrying the component it originated from, its
// taxonomy code, an optional resource name, a human message, and a wrapped
// cause.
type E struct {
	Component string
	Code      Code
	Resource  string
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given component and code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithResource records the resource name this error pertains to.
func WithResource(resource string) Option {
	trimmed := strings.TrimSpace(resource)
	return func(e *E) {
		e.Resource = trimmed
	}
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts := []string{"component=" + component}

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Resource != "" {
		parts = append(parts, "resource="+strconv.Quote(e.Resource))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *E with the same Code, so errors.Is can
// match on taxonomy alone without caring about component/resource/message.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok || other == nil || e == nil {
		return false
	}
	return e.Code == other.Code
}
