// Package fault maps failures surfaced by the model invoker or tool
// connector onto a fixed set of user-facing explanations. The engine
// persists exactly one synthesized assistant message per classified
// failure so the user sees actionable guidance instead of silence.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tailored-agentic-units/converse/classify"
	"github.com/tailored-agentic-units/converse/connector"
	"github.com/tailored-agentic-units/converse/provider"
)

// Category is a user-facing failure classification.
type Category string

const (
	PayloadTooLarge        Category = "payload_too_large"
	RateLimited            Category = "rate_limited"
	AuthOrConfig           Category = "auth_or_config"
	UpstreamUnavailable    Category = "upstream_unavailable"
	NetworkUnreachable     Category = "network_unreachable"
	ModelGenerationFailure Category = "model_generation_failure"
	GenericUnexpected      Category = "generic_unexpected"

	// SchedulingFault covers internal runtime faults unrelated to the
	// user's request. It is never surfaced into the conversation;
	// doing so would mislead the user into blaming their own input.
	SchedulingFault Category = "scheduling_fault"
)

// Classify buckets an error by its kind, never by stored state.
func Classify(err error) Category {
	if errors.Is(err, context.Canceled) {
		return SchedulingFault
	}

	// An empty turn means the model answered but produced nothing usable,
	// which is a generation failure rather than an outage, whatever kind
	// the invoker wrapped it in.
	if errors.Is(err, classify.ErrEmptyTurn) {
		return ModelGenerationFailure
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.KindPayloadTooLarge:
			return PayloadTooLarge
		case provider.KindRateLimited:
			return RateLimited
		case provider.KindAuthOrConfig:
			return AuthOrConfig
		case provider.KindUnavailable:
			return UpstreamUnavailable
		case provider.KindTransient:
			return NetworkUnreachable
		}
	}

	if errors.Is(err, provider.ErrConfiguration) {
		return AuthOrConfig
	}
	if errors.Is(err, connector.ErrConnectionFailed) {
		return UpstreamUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkUnreachable
	}

	return GenericUnexpected
}

// Message renders the assistant-role guidance text persisted for a
// classified failure.
func Message(c Category, err error) string {
	switch c {
	case PayloadTooLarge:
		return "I couldn't process your request because it was too large for the model. " +
			"Try sending a shorter message, or start a new conversation to reduce the context size."
	case RateLimited:
		return "I've hit a rate limit with the model provider. " +
			"Please wait a moment and try again, or start a new conversation to reduce the context size."
	case AuthOrConfig:
		return "I couldn't reach the model because of an authentication or configuration problem. " +
			"Please check the agent's model credentials and endpoint settings."
	case UpstreamUnavailable:
		return "The model service is currently unavailable. " +
			"This is usually temporary; please try again shortly."
	case NetworkUnreachable:
		return "I couldn't reach the model service over the network. " +
			"Please check connectivity and any proxy settings, then try again."
	case ModelGenerationFailure:
		return "The model failed to produce a response for this request. " +
			"Please try rephrasing your message."
	default:
		return fmt.Sprintf("Something unexpected went wrong while handling your request (%v). "+
			"Please try again; if the problem persists, contact your administrator.", err)
	}
}
