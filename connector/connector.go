// Package connector opens subprocess-based RPC channels to external tool
// servers, discovers their callable functions, and invokes them by name.
// It owns connection retry, backoff, and the global concurrency gate that
// protects the host when many servers are probed at once.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

const (
	maxAttempts     = 3
	baseDelay       = 500 * time.Millisecond
	dialSlots       = 2
	contentionDelay = time.Second
)

// ServerConfig describes one external tool server. Supplied by the
// registry's collaborator; never mutated here.
type ServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Command   string            `json:"command" yaml:"command"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Transport string            `json:"transport" yaml:"transport"`
}

// Result is one tool invocation outcome. IsError reports a failure the
// tool itself signalled; it still counts as a successful invocation and
// feeds back into the conversation.
type Result struct {
	Content string
	IsError bool
}

// Session is one live channel to a tool server.
type Session interface {
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error)
	Close() error
}

// DialFunc opens a session. Overridden in tests.
type DialFunc func(ctx context.Context, cfg ServerConfig) (Session, error)

// Option configures a Connector.
type Option func(*Connector)

// WithDialer overrides session establishment.
func WithDialer(dial DialFunc) Option {
	return func(c *Connector) { c.dial = dial }
}

// WithSleeper overrides the backoff sleep, letting tests observe delays
// without waiting them out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Connector) { c.sleep = sleep }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

// Connector dials tool servers with bounded retry and bounded global
// concurrency. Safe for concurrent use; the dial gate is shared across
// all callers of one Connector.
type Connector struct {
	dial   DialFunc
	sleep  func(ctx context.Context, d time.Duration) error
	gate   chan struct{}
	logger *slog.Logger
}

// New creates a Connector. The default dialer opens stdio MCP subprocess
// sessions.
func New(opts ...Option) *Connector {
	c := &Connector{
		dial:   dialStdio,
		sleep:  sleepCtx,
		gate:   make(chan struct{}, dialSlots),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover connects to one server and lists its callable tools. A failure
// here means no tools from this server this turn; the caller decides
// whether the turn proceeds with a partial set.
func (c *Connector) Discover(ctx context.Context, cfg ServerConfig) ([]protocol.Tool, error) {
	sess, err := c.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	tools, err := sess.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools on %q: %w", cfg.Name, err)
	}
	return tools, nil
}

// Invoke connects to one server and calls a single tool. Errors are
// always reported to the caller, never swallowed; an invoke failure fails
// only this call.
func (c *Connector) Invoke(ctx context.Context, cfg ServerConfig, name string, args json.RawMessage) (Result, error) {
	sess, err := c.connect(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	result, err := sess.CallTool(ctx, name, args)
	if err != nil {
		return Result{}, fmt.Errorf("invoke %q on %q: %w", name, cfg.Name, err)
	}
	return result, nil
}

// connect acquires a gate slot, then dials with exponential backoff:
// up to 3 attempts, 0.5s doubling between them. Resource contention at
// the OS level (EAGAIN while spawning) indicates host pressure rather
// than a dead server, so it earns an extra linear delay per attempt.
func (c *Connector) connect(ctx context.Context, cfg ServerConfig) (Session, error) {
	if cfg.Transport != "" && cfg.Transport != "stdio" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, cfg.Transport)
	}

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.gate }()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := baseDelay << (attempt - 2)
			c.logger.Info("retrying tool server connection",
				"server", cfg.Name, "attempt", attempt, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		sess, err := c.dial(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		c.logger.Warn("tool server connection attempt failed",
			"server", cfg.Name, "attempt", attempt, "error", err)

		// No point backing off after the last attempt; the exhaustion
		// error should return without further delay.
		if attempt < maxAttempts && isResourceContention(err) {
			extra := contentionDelay * time.Duration(attempt)
			c.logger.Info("resource contention detected, backing off further",
				"server", cfg.Name, "delay", extra)
			if err := c.sleep(ctx, extra); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %q after %d attempts: %v",
		ErrConnectionFailed, cfg.Name, maxAttempts, lastErr)
}

func isResourceContention(err error) bool {
	if errors.Is(err, syscall.EAGAIN) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "resource temporarily unavailable")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
