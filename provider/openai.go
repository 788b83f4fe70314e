package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tailored-agentic-units/converse/core/protocol"
)

// Default endpoints for the OpenAI-compatible hosted vendors. An explicit
// BaseURL in the config always wins.
var defaultBaseURLs = map[Kind]string{
	KindGroq:       "https://api.groq.com/openai/v1",
	KindCerebras:   "https://api.cerebras.ai/v1",
	KindOpenRouter: "https://openrouter.ai/api/v1",
	KindAzure:      "https://models.github.ai/inference",
	KindOllama:     "http://127.0.0.1:11434/v1",
}

// openaiCompatible serves every kind that speaks the OpenAI chat
// completions wire format. The local Ollama runtime exposes the same
// surface, so it rides here too with no API key requirement.
type openaiCompatible struct {
	client      openai.Client
	model       string
	temperature float64
	streaming   bool
}

func newOpenAICompatible(cfg *ModelConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name is required for %s", ErrConfiguration, cfg.Kind)
	}
	if cfg.APIKey == "" && cfg.Kind != KindOllama {
		return nil, fmt.Errorf("%w: api key is required for %s", ErrConfiguration, cfg.Kind)
	}

	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if base := cfg.BaseURL; base != "" {
		opts = append(opts, option.WithBaseURL(base))
	} else if base, ok := defaultBaseURLs[cfg.Kind]; ok {
		opts = append(opts, option.WithBaseURL(base))
	}

	// The proxy lives on an http.Client owned by this provider instance,
	// not in process environment variables. Concurrent calls with and
	// without a proxy cannot interfere.
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid proxy url: %v", ErrConfiguration, err)
		}
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
		}))
	}

	return &openaiCompatible{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		streaming:   cfg.Streaming,
	}, nil
}

func (p *openaiCompatible) Complete(ctx context.Context, req *Request) (*protocol.Turn, error) {
	param := openai.ChatCompletionNewParams{
		Model:       p.model,
		Temperature: openai.Float(p.temperature),
		Messages:    buildMessages(req.History),
		Tools:       buildTools(req.Tools),
	}

	message, err := p.complete(ctx, param)
	if err != nil {
		return nil, classifyError(err)
	}

	turn := &protocol.Turn{
		Role:    protocol.RoleAssistant,
		Content: message.Content,
	}
	for _, tc := range message.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return turn, nil
}

// complete runs one request in the configured mode. Streaming consumes the
// SSE stream through the accumulator and returns the buffered result;
// callers that want incremental delivery hold the stream themselves, which
// the orchestrator does not.
func (p *openaiCompatible) complete(ctx context.Context, param openai.ChatCompletionNewParams) (*openai.ChatCompletionMessage, error) {
	if !p.streaming {
		completion, err := p.client.Chat.Completions.New(ctx, param)
		if err != nil {
			return nil, err
		}
		if len(completion.Choices) == 0 {
			return nil, &Error{Kind: KindUnavailable, Err: errors.New("completion carried no choices")}
		}
		return &completion.Choices[0].Message, nil
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, param)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		acc.AddChunk(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if len(acc.Choices) == 0 {
		return nil, &Error{Kind: KindUnavailable, Err: errors.New("stream carried no choices")}
	}
	return &acc.Choices[0].Message, nil
}

func buildMessages(history []protocol.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))

	// The tool_input message ID is the call correlation ID; the following
	// tool_response reuses it. Tracked while walking the history.
	lastCallID := ""

	for _, msg := range history {
		switch msg.Role {
		case protocol.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))

		case protocol.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))

		case protocol.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))

		case protocol.RoleToolInput:
			tc, err := protocol.DecodeToolCall(msg.Content)
			if err != nil {
				// Malformed tool_input rows cannot be replayed to the
				// provider; surface them as assistant text instead of
				// dropping the position.
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			lastCallID = msg.ID
			assistant := openai.AssistantMessage("")
			assistant.OfAssistant.ToolCalls = []openai.ChatCompletionMessageToolCallUnionParam{{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: msg.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				},
			}}
			messages = append(messages, assistant)

		case protocol.RoleToolResponse:
			messages = append(messages, openai.ToolMessage(msg.Content, lastCallID))
		}
	}
	return messages
}

func buildTools(tools []protocol.Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	params := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params = append(params, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.InputSchema),
				},
			},
		})
	}
	return params
}

// classifyError maps transport and API failures onto the closed Error
// kinds. Context cancellation passes through untouched so callers can
// distinguish their own deadlines from upstream trouble.
func classifyError(err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return &Error{Kind: KindAuthOrConfig, Err: err}
		case apierr.StatusCode == http.StatusRequestEntityTooLarge:
			return &Error{Kind: KindPayloadTooLarge, Err: err}
		case apierr.StatusCode == http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Err: err}
		case apierr.StatusCode == http.StatusRequestTimeout:
			return &Error{Kind: KindTransient, Err: err}
		case apierr.StatusCode >= 500:
			return &Error{Kind: KindUnavailable, Err: err}
		default:
			return &Error{Kind: KindAuthOrConfig, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindTransient, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindTransient, Err: err}
	}

	return &Error{Kind: KindUnavailable, Err: err}
}
