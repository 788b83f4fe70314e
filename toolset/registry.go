// Package toolset builds the callable-tool set offered to the model for
// one conversation turn. Discovery runs fresh every turn across all of an
// agent's configured tool servers; a server that cannot be reached is
// logged and skipped, so a partial set is normal operating mode.
package toolset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tailored-agentic-units/converse/connector"
	"github.com/tailored-agentic-units/converse/core/protocol"
)

// Registry maps an agent's declared tool servers to live discovery.
type Registry struct {
	connector *connector.Connector
	logger    *slog.Logger
}

// NewRegistry creates a Registry that discovers through the given
// connector. A nil logger falls back to slog.Default.
func NewRegistry(c *connector.Connector, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{connector: c, logger: logger}
}

// Set is the tool set assembled for one turn. It knows which server each
// tool came from so the orchestrator can route an approved call back.
type Set struct {
	tools  []protocol.Tool
	origin map[string]connector.ServerConfig
	failed []string
}

// Tools returns the discovered descriptors in server order.
func (s *Set) Tools() []protocol.Tool { return s.tools }

// ServerFor returns the server owning a named tool.
func (s *Set) ServerFor(name string) (connector.ServerConfig, bool) {
	cfg, ok := s.origin[name]
	return cfg, ok
}

// Failed lists servers that could not be discovered this turn.
func (s *Set) Failed() []string { return s.failed }

// Discover probes every configured server concurrently and assembles the
// turn's tool set. The connector's global gate bounds how many dials run
// at once; one server failing never blocks or fails the others.
func (r *Registry) Discover(ctx context.Context, servers []connector.ServerConfig) *Set {
	set := &Set{origin: make(map[string]connector.ServerConfig)}
	if len(servers) == 0 {
		return set
	}

	type discovery struct {
		cfg   connector.ServerConfig
		tools []protocol.Tool
		err   error
	}

	results := make([]discovery, len(servers))
	var wg sync.WaitGroup
	for i, cfg := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tools, err := r.connector.Discover(ctx, cfg)
			results[i] = discovery{cfg: cfg, tools: tools, err: err}
		}()
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("tool server discovery failed, continuing without it",
				"server", res.cfg.Name, "error", res.err)
			set.failed = append(set.failed, res.cfg.Name)
			continue
		}
		for _, tool := range res.tools {
			if _, dup := set.origin[tool.Name]; dup {
				r.logger.Warn("duplicate tool name, keeping first",
					"tool", tool.Name, "server", res.cfg.Name)
				continue
			}
			set.origin[tool.Name] = res.cfg
			set.tools = append(set.tools, tool)
		}
	}
	return set
}
