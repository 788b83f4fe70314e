package engine

import "github.com/tailored-agentic-units/converse/observability"

// Engine event types emitted during a conversation turn.
const (
	EventTurnStart     observability.EventType = "engine.turn.start"
	EventTurnSuspend   observability.EventType = "engine.turn.suspend"
	EventTurnComplete  observability.EventType = "engine.turn.complete"
	EventToolProposed  observability.EventType = "engine.tool.proposed"
	EventToolResolved  observability.EventType = "engine.tool.resolved"
	EventAmbiguousTurn observability.EventType = "engine.anomaly.ambiguous_turn"
	EventError         observability.EventType = "engine.error"
)
