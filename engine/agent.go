package engine

import (
	"context"

	"github.com/tailored-agentic-units/converse/connector"
	"github.com/tailored-agentic-units/converse/provider"
)

// Agent is the collaborator-supplied configuration driving one
// conversation: a system prompt, a model binding, and a set of tool
// servers. Read-only input to a turn.
type Agent struct {
	ID           string                   `json:"id" yaml:"id"`
	Name         string                   `json:"name" yaml:"name"`
	SystemPrompt string                   `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	Model        provider.ModelConfig     `json:"model" yaml:"model"`
	Servers      []connector.ServerConfig `json:"toolServers,omitempty" yaml:"toolServers,omitempty"`
}

// AgentSource resolves agent configurations. The CRUD layer that manages
// agent records sits behind this interface.
type AgentSource interface {
	Agent(ctx context.Context, id string) (*Agent, error)
}

// StaticAgents is an AgentSource over a fixed catalog, used by the
// config-file deployment mode and by tests.
type StaticAgents map[string]*Agent

func (s StaticAgents) Agent(_ context.Context, id string) (*Agent, error) {
	ag, ok := s[id]
	if !ok {
		return nil, ErrUnknownAgent
	}
	return ag, nil
}
