// Package observability provides event-based observability for the
// conversation engine. Level values align with OpenTelemetry
// SeverityNumbers so events forward to OTel collectors without
// translation.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level represents event severity aligned with OTel SeverityNumber ranges.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG (5-8)
	LevelInfo    Level = 9  // OTel INFO (9-12)
	LevelWarning Level = 13 // OTel WARN (13-16)
	LevelError   Level = 17 // OTel ERROR (17-20)
)

// SlogLevel maps this level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of event. The engine defines its own
// constants using this type (e.g., "engine.turn.suspend").
type EventType string

// Event is an observability event emitted by engine subsystems.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives events for logging, tracing, or metrics.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// NoopObserver discards every event.
type NoopObserver struct{}

func (NoopObserver) OnEvent(context.Context, Event) {}

// MultiObserver fans one event out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, o := range m {
		o.OnEvent(ctx, event)
	}
}
