package config

import (
	"fmt"
	"os"

	"github.com/tailored-agentic-units/converse/connector"
	"github.com/tailored-agentic-units/converse/engine"
	"github.com/tailored-agentic-units/converse/provider"

	"gopkg.in/yaml.v3"
)

// CatalogEntry describes one agent in the YAML catalog.
type CatalogEntry struct {
	ID           string                   `yaml:"id"`
	Name         string                   `yaml:"name"`
	SystemPrompt string                   `yaml:"system_prompt"`
	Model        provider.ModelConfig     `yaml:"model"`
	Servers      []connector.ServerConfig `yaml:"tool_servers"`
}

// Catalog is the on-disk agent catalog.
type Catalog struct {
	Agents []CatalogEntry `yaml:"agents"`
}

// LoadCatalog reads the YAML agent catalog and returns an agent source
// for the engine. API keys given as ${VAR} are resolved from the
// environment at load time.
func LoadCatalog(filename string) (engine.StaticAgents, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse agent catalog: %w", err)
	}
	if len(catalog.Agents) == 0 {
		return nil, fmt.Errorf("agent catalog %q defines no agents", filename)
	}

	agents := make(engine.StaticAgents, len(catalog.Agents))
	for _, entry := range catalog.Agents {
		if entry.ID == "" {
			return nil, fmt.Errorf("agent catalog %q: entry with empty id", filename)
		}
		if _, exists := agents[entry.ID]; exists {
			return nil, fmt.Errorf("agent catalog %q: duplicate agent id %q", filename, entry.ID)
		}

		entry.Model.APIKey = os.ExpandEnv(entry.Model.APIKey)

		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		agents[entry.ID] = &engine.Agent{
			ID:           entry.ID,
			Name:         name,
			SystemPrompt: entry.SystemPrompt,
			Model:        entry.Model,
			Servers:      entry.Servers,
		}
	}
	return agents, nil
}
