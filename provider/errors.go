package provider

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks a bad or missing provider configuration. Fatal,
// surfaced immediately, never retried.
var ErrConfiguration = errors.New("provider configuration error")

// ErrorKind classifies a provider failure for downstream user messaging.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindRateLimited     ErrorKind = "rate_limited"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	KindAuthOrConfig    ErrorKind = "auth_or_config"
	KindUnavailable     ErrorKind = "unavailable"
)

// Error wraps a failure surfaced by a provider backend with its
// classification. The orchestrator turns these into synthesized assistant
// messages rather than propagating raw errors.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
