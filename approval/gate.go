// Package approval holds proposed tool calls until a human decides their
// fate. Each pending call is a tiny state machine: proposed, then resolved
// exactly once by approve, modify, or reject. The gate is purely
// in-memory; the durable record of a resolution is the audit and
// tool_response messages the orchestrator writes.
package approval

import (
	"encoding/json"
	"sync"

	"github.com/tailored-agentic-units/converse/connector"
)

// Decision is the human's verdict on a proposed tool call.
type Decision string

const (
	Approve Decision = "approve"
	Modify  Decision = "modify"
	Reject  Decision = "reject"
)

// Valid reports whether d is one of the three decisions.
func (d Decision) Valid() bool {
	return d == Approve || d == Modify || d == Reject
}

// DefaultRejectionReason is used when a reject decision supplies none.
const DefaultRejectionReason = "rejected by user"

// Pending is one proposed tool call awaiting a decision, keyed by the
// tool_input message ID it was persisted under. Server remembers which
// tool server owned the tool at proposal time; after a process restart
// the orchestrator rediscovers it instead.
type Pending struct {
	ID        string
	SessionID string
	ToolName  string
	Arguments json.RawMessage
	Server    connector.ServerConfig
	HasServer bool
}

// Gate tracks pending calls for the lifetime of their approval
// round-trip. Safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{pending: make(map[string]*Pending)}
}

// Propose registers a pending call. Proposing an ID twice is a programmer
// error and returns ErrDuplicatePending.
func (g *Gate) Propose(p *Pending) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.pending[p.ID]; exists {
		return ErrDuplicatePending
	}
	g.pending[p.ID] = p
	return nil
}

// Get returns the pending call for an ID, if the gate still holds it.
// After a process restart the gate is empty; the orchestrator rebuilds
// pending state from the persisted tool_input message instead.
func (g *Gate) Get(id string) (*Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[id]
	return p, ok
}

// Resolve transitions a pending call to its terminal state and removes
// it. The transition happens exactly once; the caller must have already
// verified against the store that the call is still unresolved.
func (g *Gate) Resolve(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
}
