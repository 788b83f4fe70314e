package protocol

// Turn is the normalized output of one model invocation, before role
// classification. Providers map their wire formats into this shape and
// nothing else; tool calls are carried through untouched and never
// executed by the invoker.
type Turn struct {
	// Role is the role the provider attributed to the turn. Providers
	// normally report assistant; agent-graph backends may echo system or
	// user turns, which classification passes through for audit.
	Role Role

	// Content is the textual part of the turn, possibly empty.
	Content string

	// ToolCalls holds the calls the model wants executed, in the order
	// the provider reported them.
	ToolCalls []ToolCall
}
