// Package llm adapts hosted chat-completion models to agent.Model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/londonzade-stack/agent-seller-sub000/internal/agent"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.ChatModelGPT4o

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, e.g. for a compatible gateway.
	BaseURL     string
	Temperature float64
	Options     []option.RequestOption
}

// OpenAI implements agent.Model with the chat completions API.
type OpenAI struct {
	client      openai.Client
	model       openai.ChatModel
	temperature float64
	logger      *slog.Logger
}

func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.Options...)

	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		logger:      logging.OrDefault(logger),
	}
}

func (m *OpenAI) Next(ctx context.Context, req agent.Request) (agent.Reply, error) {
	tools, err := functionTools(req.Tools)
	if err != nil {
		return agent.Reply{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: messages(req.System, req.Transcript),
		Tools:    tools,
	}
	if m.temperature > 0 {
		params.Temperature = openai.Float(m.temperature)
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return agent.Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return agent.Reply{}, fmt.Errorf("chat completion returned no choices")
	}

	msg := completion.Choices[0].Message
	reply := agent.Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, agent.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	m.logger.Debug("model replied",
		slog.String("model", string(m.model)),
		logging.Count(len(reply.ToolCalls)),
		slog.Int64("prompt_tokens", completion.Usage.PromptTokens),
		slog.Int64("completion_tokens", completion.Usage.CompletionTokens))
	return reply, nil
}

// functionTools converts MCP tool declarations into function tools.
func functionTools(decls []mcp.Tool) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, t := range decls {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", t.Name, err)
		}
		var params openai.FunctionParameters
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", t.Name, err)
		}
		if _, ok := params["properties"]; !ok {
			params["properties"] = map[string]any{}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func messages(system string, transcript []agent.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(transcript)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range transcript {
		switch msg.Role {
		case agent.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case agent.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case agent.RoleAssistant:
			out = append(out, assistantMessage(msg))
		}
	}
	return out
}

func assistantMessage(msg agent.Message) openai.ChatCompletionMessageParamUnion {
	p := &openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		p.Content.OfString = openai.String(msg.Content)
	}
	for _, c := range msg.ToolCalls {
		args := string(c.Input)
		if args == "" {
			args = "{}"
		}
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: c.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.Name,
				Arguments: args,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: p}
}

var _ agent.Model = (*OpenAI)(nil)
