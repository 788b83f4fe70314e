package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// stdioSession wraps one MCP client bound to a subprocess tool server
// over stdio.
type stdioSession struct {
	client *client.Client
}

// dialStdio spawns the server process and completes the MCP initialize
// handshake. The returned session owns the subprocess; Close terminates it.
func dialStdio(ctx context.Context, cfg ServerConfig) (Session, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", cfg.Command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "converse",
		Version: "0.1.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %q: %w", cfg.Name, err)
	}

	return &stdioSession{client: c}, nil
}

func (s *stdioSession) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]protocol.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]any{
			"type": t.InputSchema.Type,
		}
		if len(t.InputSchema.Properties) > 0 {
			schema["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		tools = append(tools, protocol.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (s *stdioSession) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return Result{}, fmt.Errorf("tool arguments are not a JSON object: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return Result{}, err
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return Result{
		Content: strings.Join(parts, "\n"),
		IsError: result.IsError,
	}, nil
}

func (s *stdioSession) Close() error {
	return s.client.Close()
}
