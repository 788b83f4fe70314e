// Package engine drives one conversational turn end-to-end: load history,
// offer the agent's tools to the model, classify the result, and either
// persist a final answer or suspend on a proposed tool call until a human
// decision arrives.
//
// The approval wait is a suspend/resume boundary, not a parked goroutine:
// Submit returns a pending approval and Resolve is a separate entry point,
// so the pause can span arbitrary real time and a process restart.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tailored-agentic-units/converse/approval"
	"github.com/tailored-agentic-units/converse/classify"
	"github.com/tailored-agentic-units/converse/connector"
	"github.com/tailored-agentic-units/converse/core/protocol"
	"github.com/tailored-agentic-units/converse/engine/fault"
	"github.com/tailored-agentic-units/converse/observability"
	"github.com/tailored-agentic-units/converse/provider"
	"github.com/tailored-agentic-units/converse/store"
	"github.com/tailored-agentic-units/converse/toolset"

	"github.com/google/uuid"
)

// DefaultMaxIterations bounds chained tool calls within one turn.
const DefaultMaxIterations = 10

const sessionNameLimit = 240

// PendingApproval is the suspended-turn result handed back to the caller.
type PendingApproval struct {
	PendingID string          `json:"pendingId"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
}

// Outcome is the result of one engine operation: the messages persisted
// during the call and, when the turn suspended, the approval request.
type Outcome struct {
	Messages []protocol.Message `json:"messages"`
	Pending  *PendingApproval   `json:"pendingApproval,omitempty"`
}

// Final reports whether the turn completed with an assistant answer.
func (o *Outcome) Final() bool { return o.Pending == nil }

// Option configures an Engine after default initialization.
type Option func(*Engine)

// WithConnector overrides the default tool connector.
func WithConnector(c *connector.Connector) Option {
	return func(e *Engine) { e.conn = c }
}

// WithProviderFactory overrides model invoker construction.
func WithProviderFactory(f func(*provider.ModelConfig) (provider.Provider, error)) Option {
	return func(e *Engine) { e.newProvider = f }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithMaxIterations overrides the tool-call iteration budget.
// Zero means unbounded.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is the conversation orchestrator.
type Engine struct {
	store         store.Store
	agents        AgentSource
	gate          *approval.Gate
	conn          *connector.Connector
	registry      *toolset.Registry
	newProvider   func(*provider.ModelConfig) (provider.Provider, error)
	observer      observability.Observer
	logger        *slog.Logger
	maxIterations int

	// locks serializes turns per session, including across the
	// suspend/resume gap for the executing parts of each entry point.
	locks sync.Map // session ID -> *sync.Mutex
}

// New creates an Engine over a store and an agent source.
func New(st store.Store, agents AgentSource, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		agents:        agents,
		gate:          approval.NewGate(),
		conn:          connector.New(),
		newProvider:   provider.New,
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.observer == nil {
		e.observer = observability.NewSlogObserver(e.logger)
	}
	e.registry = toolset.NewRegistry(e.conn, e.logger)
	return e
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// StartSession creates a session for an agent, records the opening user
// message, and runs the first turn. The session name is derived from the
// first 240 characters of the opening message.
func (e *Engine) StartSession(ctx context.Context, agentID, text, author string) (*store.Session, *Outcome, error) {
	ag, err := e.agents.Agent(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}

	sess := &store.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      sessionName(text),
		AgentID:   agentID,
		CreatedBy: author,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}

	mu := e.sessionLock(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	outcome := &Outcome{}
	if err := e.append(ctx, outcome, protocol.NewMessage(sess.ID, protocol.RoleUser, text, author)); err != nil {
		return nil, nil, err
	}

	outcome, err = e.runLoop(ctx, ag, sess, outcome)
	return sess, outcome, err
}

// Submit records a user message on an existing session and runs one turn.
// Returns ErrTurnInFlight while the session is suspended awaiting a tool
// call decision.
func (e *Engine) Submit(ctx context.Context, sessionID, text, author string) (*Outcome, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ag, err := e.agents.Agent(ctx, sess.AgentID)
	if err != nil {
		return nil, err
	}

	mu := e.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	history, err := e.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if n := len(history); n > 0 && history[n-1].Role == protocol.RoleToolInput {
		return nil, ErrTurnInFlight
	}

	outcome := &Outcome{}
	if err := e.append(ctx, outcome, protocol.NewMessage(sessionID, protocol.RoleUser, text, author)); err != nil {
		return nil, err
	}

	e.observer.OnEvent(ctx, observability.Event{
		Type:      EventTurnStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "engine.Submit",
		Data:      map[string]any{"session": sessionID, "agent": ag.ID},
	})

	return e.runLoop(ctx, ag, sess, outcome)
}

// Resolve applies a human decision to a suspended tool call and resumes
// the turn. A second resolution of the same pending ID fails with
// approval.ErrAlreadyResolved and produces no additional state.
func (e *Engine) Resolve(ctx context.Context, pendingID string, decision approval.Decision, editedArgs json.RawMessage, reason, author string) (*Outcome, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %q", approval.ErrInvalidDecision, decision)
	}

	msg, err := e.store.GetMessage(ctx, pendingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", approval.ErrUnknownPending, pendingID)
		}
		return nil, err
	}
	if msg.Role != protocol.RoleToolInput {
		return nil, fmt.Errorf("%w: %s is not a tool call", approval.ErrUnknownPending, pendingID)
	}

	sess, err := e.store.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	ag, err := e.agents.Agent(ctx, sess.AgentID)
	if err != nil {
		return nil, err
	}

	mu := e.sessionLock(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	// A suspended tool_input is always the last message in its session.
	// Anything after it means the call was already resolved.
	history, err := e.store.Messages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if n := len(history); n == 0 || history[n-1].ID != pendingID {
		return nil, fmt.Errorf("%w: %s", approval.ErrAlreadyResolved, pendingID)
	}

	pending, err := e.pendingFor(msg)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}

	who := author
	if who == "" {
		who = "SYSTEM"
	}

	args := pending.Arguments
	if decision == approval.Modify {
		if len(editedArgs) > 0 {
			args = editedArgs
		}

		// Audit record first: it is cheap and safe to keep even if the
		// rewrite after it fails, and it must precede what it describes.
		audit := fmt.Sprintf("tool call %q modified by %s", pending.ToolName, who)
		if err := e.append(ctx, outcome, protocol.NewMessage(sess.ID, protocol.RoleSystem, audit, author)); err != nil {
			return nil, err
		}

		rewritten := protocol.EncodeToolCall(protocol.ToolCall{Name: pending.ToolName, Arguments: string(args)})
		if err := e.store.UpdateMessageContent(ctx, pendingID, rewritten); err != nil {
			return nil, err
		}
	}

	var response string
	if decision == approval.Reject {
		if reason == "" {
			reason = approval.DefaultRejectionReason
		}
		// The synthesized response doubles as the audit record for the
		// rejection, so it names the deciding user and the reason the
		// model will see when it regains the turn.
		response = fmt.Sprintf("Tool call rejected by %s: %s", who, reason)
	} else {
		response = e.execute(ctx, ag, pending, args)
	}

	e.gate.Resolve(pendingID)

	if err := e.append(ctx, outcome, protocol.NewMessage(sess.ID, protocol.RoleToolResponse, response, ag.Name)); err != nil {
		return nil, err
	}

	e.observer.OnEvent(ctx, observability.Event{
		Type:      EventToolResolved,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "engine.Resolve",
		Data: map[string]any{
			"session":  sess.ID,
			"pending":  pendingID,
			"tool":     pending.ToolName,
			"decision": string(decision),
		},
	})

	return e.runLoop(ctx, ag, sess, outcome)
}

// Edit rewrites a previously sent user message, discards every later
// message in the session, and reruns the turn as if the edited message
// had just arrived. Destructive and non-undoable; the store guarantees
// the rewrite-and-truncate is all-or-nothing.
func (e *Engine) Edit(ctx context.Context, messageID, newText, author string) (*Outcome, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != protocol.RoleUser {
		return nil, fmt.Errorf("%w: %s", ErrNotUserMessage, messageID)
	}

	sess, err := e.store.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	ag, err := e.agents.Agent(ctx, sess.AgentID)
	if err != nil {
		return nil, err
	}

	mu := e.sessionLock(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	// Snapshot before the truncate so gate entries for any tool_input
	// messages about to be deleted can be released afterwards. Otherwise
	// an edit over a suspended session leaks its pending entry for the
	// process lifetime.
	before, err := e.store.Messages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if err := e.store.EditAndTruncate(ctx, messageID, newText); err != nil {
		return nil, err
	}

	truncated := false
	for _, m := range before {
		if truncated && m.Role == protocol.RoleToolInput {
			e.gate.Resolve(m.ID)
		}
		if m.ID == messageID {
			truncated = true
		}
	}

	edited, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{Messages: []protocol.Message{*edited}}

	return e.runLoop(ctx, ag, sess, outcome)
}

// runLoop is the model-invoke/classify/act cycle shared by every entry
// point. It returns either a final outcome, a suspended outcome, or
// ErrMaxIterations when the iteration budget runs out.
func (e *Engine) runLoop(ctx context.Context, ag *Agent, sess *store.Session, outcome *Outcome) (*Outcome, error) {
	prov, err := e.newProvider(&ag.Model)
	if err != nil {
		// Configuration errors are fatal and not turned into
		// conversation messages; the caller must fix the agent record.
		return outcome, err
	}

	// Stale tool sets are not trusted: discovery is fresh every turn.
	set := e.registry.Discover(ctx, ag.Servers)

	for iteration := 0; e.maxIterations == 0 || iteration < e.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		history, err := e.store.Messages(ctx, sess.ID)
		if err != nil {
			return outcome, err
		}

		turn, err := prov.Complete(ctx, &provider.Request{
			History: withSystemPrompt(ag.SystemPrompt, history),
			Tools:   set.Tools(),
		})
		if err != nil {
			return e.surfaceFailure(ctx, ag, sess, outcome, err)
		}

		result, err := classify.Classify(turn)
		if errors.Is(err, classify.ErrEmptyTurn) {
			return e.surfaceFailure(ctx, ag, sess, outcome,
				&provider.Error{Kind: provider.KindUnavailable, Err: err})
		}
		if err != nil {
			return outcome, err
		}

		if result.Anomaly {
			e.observer.OnEvent(ctx, observability.Event{
				Type:      EventAmbiguousTurn,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "engine.runLoop",
				Data:      map[string]any{"session": sess.ID, "dropped_tool_calls": len(turn.ToolCalls)},
			})
		}

		switch result.Role {
		case protocol.RoleAssistant:
			if err := e.append(ctx, outcome, protocol.NewMessage(sess.ID, protocol.RoleAssistant, result.Content, ag.Name)); err != nil {
				return outcome, err
			}
			e.observer.OnEvent(ctx, observability.Event{
				Type:      EventTurnComplete,
				Level:     observability.LevelInfo,
				Timestamp: time.Now(),
				Source:    "engine.runLoop",
				Data:      map[string]any{"session": sess.ID, "iterations": iteration + 1},
			})
			return outcome, nil

		case protocol.RoleToolInput:
			msg := protocol.NewMessage(sess.ID, protocol.RoleToolInput, result.Content, ag.Name)
			if err := e.append(ctx, outcome, msg); err != nil {
				return outcome, err
			}

			pending := &approval.Pending{
				ID:        msg.ID,
				SessionID: sess.ID,
				ToolName:  result.ToolCall.Name,
				Arguments: json.RawMessage(result.ToolCall.Arguments),
			}
			if cfg, ok := set.ServerFor(result.ToolCall.Name); ok {
				pending.Server = cfg
				pending.HasServer = true
			}
			if err := e.gate.Propose(pending); err != nil {
				return outcome, err
			}

			e.observer.OnEvent(ctx, observability.Event{
				Type:      EventToolProposed,
				Level:     observability.LevelInfo,
				Timestamp: time.Now(),
				Source:    "engine.runLoop",
				Data:      map[string]any{"session": sess.ID, "tool": pending.ToolName, "pending": pending.ID},
			})
			e.observer.OnEvent(ctx, observability.Event{
				Type:      EventTurnSuspend,
				Level:     observability.LevelInfo,
				Timestamp: time.Now(),
				Source:    "engine.runLoop",
				Data:      map[string]any{"session": sess.ID, "pending": pending.ID},
			})

			outcome.Pending = &PendingApproval{
				PendingID: pending.ID,
				ToolName:  pending.ToolName,
				Arguments: pending.Arguments,
			}
			return outcome, nil

		case protocol.RoleSystem, protocol.RoleUser:
			// Echoed turn from an agent-graph backend. Persist for audit
			// unless byte-identical to the message already in that
			// position, then ask the model again.
			if n := len(history); n == 0 || history[n-1].Role != result.Role || history[n-1].Content != result.Content {
				if err := e.append(ctx, outcome, protocol.NewMessage(sess.ID, result.Role, result.Content, ag.Name)); err != nil {
					return outcome, err
				}
			}
		}
	}

	return outcome, ErrMaxIterations
}

// execute runs an approved call against its tool server. Failures become
// the tool_response content so the model can recover; they never abort
// the turn.
func (e *Engine) execute(ctx context.Context, ag *Agent, pending *approval.Pending, args json.RawMessage) string {
	cfg := pending.Server
	if !pending.HasServer {
		// Process restarted since the proposal, or the model named a
		// tool nobody serves. Rediscover before giving up.
		set := e.registry.Discover(ctx, ag.Servers)
		found, ok := set.ServerFor(pending.ToolName)
		if !ok {
			return fmt.Sprintf("tool %q is not available on any configured tool server", pending.ToolName)
		}
		cfg = found
	}

	result, err := e.conn.Invoke(ctx, cfg, pending.ToolName, args)
	if err != nil {
		return fmt.Sprintf("tool %q failed: %v", pending.ToolName, err)
	}
	if result.IsError {
		return fmt.Sprintf("tool %q reported an error: %s", pending.ToolName, result.Content)
	}
	return result.Content
}

// surfaceFailure converts a model-invoker failure into exactly one
// persisted assistant guidance message. Internal scheduling faults are
// logged only; surfacing them would mislead the user.
func (e *Engine) surfaceFailure(ctx context.Context, ag *Agent, sess *store.Session, outcome *Outcome, cause error) (*Outcome, error) {
	category := fault.Classify(cause)

	if category == fault.SchedulingFault {
		e.logger.Error("internal fault during turn, not surfaced to conversation",
			"session", sess.ID, "error", cause)
		return outcome, cause
	}

	e.observer.OnEvent(ctx, observability.Event{
		Type:      EventError,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    "engine.runLoop",
		Data:      map[string]any{"session": sess.ID, "category": string(category), "error": cause.Error()},
	})

	msg := protocol.NewMessage(sess.ID, protocol.RoleAssistant, fault.Message(category, cause), ag.Name)
	if err := e.append(ctx, outcome, msg); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (e *Engine) append(ctx context.Context, outcome *Outcome, msg protocol.Message) error {
	if err := e.store.AppendMessage(ctx, &msg); err != nil {
		return err
	}
	outcome.Messages = append(outcome.Messages, msg)
	return nil
}

// withSystemPrompt prepends the agent's system prompt without persisting
// it; the prompt is configuration, not conversation.
func withSystemPrompt(prompt string, history []protocol.Message) []protocol.Message {
	if prompt == "" {
		return history
	}
	messages := make([]protocol.Message, 0, len(history)+1)
	messages = append(messages, protocol.Message{Role: protocol.RoleSystem, Content: prompt})
	return append(messages, history...)
}

func (e *Engine) pendingFor(msg *protocol.Message) (*approval.Pending, error) {
	if pending, ok := e.gate.Get(msg.ID); ok {
		return pending, nil
	}

	// Gate state is gone (restart). Rebuild from the persisted encoding.
	tc, err := protocol.DecodeToolCall(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", approval.ErrUnknownPending, err)
	}
	return &approval.Pending{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		ToolName:  tc.Name,
		Arguments: json.RawMessage(tc.Arguments),
	}, nil
}

// sessionName derives a display name from the opening message.
func sessionName(text string) string {
	name := strings.TrimSpace(text)
	if len(name) > sessionNameLimit {
		name = strings.TrimSpace(name[:sessionNameLimit]) + "..."
	}
	return name
}
