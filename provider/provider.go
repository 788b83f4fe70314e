// Package provider implements the model invoker: a provider-agnostic
// interface for obtaining one chat completion from a configured LLM
// backend, with optional tool definitions attached.
//
// The invoker never executes tools. When the model proposes calls they are
// returned in the Turn for the approval gate to handle; auto-execution is
// structurally impossible from here.
package provider

import (
	"context"
	"fmt"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// Kind selects a provider implementation. The set is closed; unknown kinds
// fail at configuration time, not at call time.
type Kind string

const (
	KindOpenAI     Kind = "openai"
	KindAzure      Kind = "azure"
	KindGroq       Kind = "groq"
	KindCerebras   Kind = "cerebras"
	KindOpenRouter Kind = "openrouter"
	KindOllama     Kind = "ollama"
)

// ModelConfig is the collaborator-supplied model binding for one agent.
// It is read-only input to a turn.
type ModelConfig struct {
	Kind        Kind    `json:"kind" yaml:"kind"`
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL     string  `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	ProxyURL    string  `json:"proxyUrl,omitempty" yaml:"proxyUrl,omitempty"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Streaming   bool    `json:"streaming" yaml:"streaming"`
}

// Request carries the inputs for one completion.
type Request struct {
	History []protocol.Message
	Tools   []protocol.Tool
}

// Provider produces one completion for a message history. Implementations
// must honor ctx cancellation and return tool calls unexecuted.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*protocol.Turn, error)
}

// constructors is the closed dispatch table. Adding a provider means
// adding a Kind constant and one entry here.
var constructors = map[Kind]func(*ModelConfig) (Provider, error){
	KindOpenAI:     newOpenAICompatible,
	KindAzure:      newOpenAICompatible,
	KindGroq:       newOpenAICompatible,
	KindCerebras:   newOpenAICompatible,
	KindOpenRouter: newOpenAICompatible,
	KindOllama:     newOpenAICompatible,
}

// New builds a Provider from configuration. Unknown kinds and missing
// required credentials surface here as ErrConfiguration wrappings.
func New(cfg *ModelConfig) (Provider, error) {
	ctor, ok := constructors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider kind %q", ErrConfiguration, cfg.Kind)
	}
	return ctor(cfg)
}
