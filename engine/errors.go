package engine

import "errors"

var (
	// ErrMaxIterations is returned when a turn exhausts its tool-call
	// iteration budget without the model producing a final answer.
	ErrMaxIterations = errors.New("max tool-call iterations reached")

	// ErrTurnInFlight is returned when a new turn is submitted while the
	// session is suspended awaiting a tool call decision.
	ErrTurnInFlight = errors.New("session has a turn awaiting approval")

	// ErrNotUserMessage is returned when the requesting message of a
	// turn or an edit target is not user-role.
	ErrNotUserMessage = errors.New("message is not a user message")

	// ErrUnknownAgent is returned when a session references an agent the
	// source cannot resolve.
	ErrUnknownAgent = errors.New("unknown agent")
)
