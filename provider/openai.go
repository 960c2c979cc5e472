package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"lawchat-backend/models"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// OpenAIConfig configures the OpenAI-compatible provider
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // empty for api.openai.com
}

// OpenAIProvider streams chat completions through go-openai
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider for any OpenAI-compatible endpoint
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
		slog.Warn("OPENAI_MODEL not set, using default", "model", model)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI provider", "model", model)
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Name implements Provider
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Ping lists models to prove the key and endpoint work
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai ping failed: %w", err)
	}
	return nil
}

// Start opens the first completion stream
func (p *OpenAIProvider) Start(ctx context.Context, req StartRequest) (Conversation, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	c := &openAIConversation{
		client:   p.client,
		model:    p.model,
		messages: messages,
		tools:    openAITools(req.Tools),
		answered: make(map[string]string),
	}
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// openAIConversation turns a sequence of completion streams into one conversation.
// Tool-call deltas are accumulated by index until the stream ends; the calls
// are then yielded in index order. Once each has a result the follow-up
// stream is opened with the assistant tool-call message and the tool replies.
type openAIConversation struct {
	client   *openai.Client
	model    string
	messages []openai.ChatCompletionMessage
	tools    []openai.Tool

	stream *openai.ChatCompletionStream
	queue  []Unit

	// calls accumulates tool-call deltas of the current stream, keyed by index
	calls     map[int]*openai.ToolCall
	callOrder []int

	// turnCalls are the finished calls awaiting results
	turnCalls []openai.ToolCall
	answered  map[string]string

	finished bool
	closed   bool
}

func (c *openAIConversation) open(ctx context.Context) error {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: c.messages,
		Tools:    c.tools,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to open openai stream: %w", err)
	}
	c.stream = stream
	c.calls = make(map[int]*openai.ToolCall)
	c.callOrder = nil
	return nil
}

// Next implements Conversation
func (c *openAIConversation) Next(ctx context.Context) (Unit, error) {
	for {
		if c.closed {
			return Unit{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Unit{}, err
		}
		if len(c.queue) > 0 {
			u := c.queue[0]
			c.queue = c.queue[1:]
			return u, nil
		}

		if c.stream == nil {
			if len(c.turnCalls) == 0 {
				if c.finished {
					return Unit{}, io.EOF
				}
				return Unit{}, errors.New("openai stream not open")
			}
			if err := c.resume(ctx); err != nil {
				return Unit{}, err
			}
			continue
		}

		resp, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			c.endStream()
			continue
		}
		if err != nil {
			return Unit{}, fmt.Errorf("openai stream failed: %w", err)
		}
		c.absorb(resp)
	}
}

// absorb queues content and accumulates tool-call fragments from one chunk
func (c *openAIConversation) absorb(resp openai.ChatCompletionStreamResponse) {
	if len(resp.Choices) == 0 {
		return
	}
	delta := resp.Choices[0].Delta

	if delta.Content != "" {
		c.queue = append(c.queue, Unit{Kind: UnitContent, Content: delta.Content})
	}

	for _, tc := range delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		acc, ok := c.calls[idx]
		if !ok {
			acc = &openai.ToolCall{Index: &idx, Type: openai.ToolTypeFunction}
			c.calls[idx] = acc
			c.callOrder = append(c.callOrder, idx)
		}
		if tc.ID != "" {
			acc.ID = tc.ID
		}
		if tc.Function.Name != "" {
			acc.Function.Name = tc.Function.Name
		}
		acc.Function.Arguments += tc.Function.Arguments
	}
}

// endStream closes the finished stream and releases any accumulated calls
func (c *openAIConversation) endStream() {
	c.stream.Close()
	c.stream = nil

	if len(c.callOrder) == 0 {
		c.finished = true
		return
	}

	for _, idx := range c.callOrder {
		call := *c.calls[idx]
		if call.ID == "" {
			call.ID = "call_" + strconv.Itoa(idx)
		}
		c.turnCalls = append(c.turnCalls, call)
		c.queue = append(c.queue, Unit{
			Kind: UnitToolCall,
			ToolCall: ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	c.calls = nil
	c.callOrder = nil
}

// resume sends the tool results back and opens the follow-up stream
func (c *openAIConversation) resume(ctx context.Context) error {
	for _, call := range c.turnCalls {
		if _, ok := c.answered[call.ID]; !ok {
			return ErrToolResultsPending
		}
	}

	c.messages = append(c.messages, openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		ToolCalls: c.turnCalls,
	})
	for _, call := range c.turnCalls {
		c.messages = append(c.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    c.answered[call.ID],
			ToolCallID: call.ID,
		})
	}
	c.turnCalls = nil
	c.answered = make(map[string]string)

	return c.open(ctx)
}

// SubmitToolResult implements Conversation
func (c *openAIConversation) SubmitToolResult(callID, content string) error {
	for _, call := range c.turnCalls {
		if call.ID == callID {
			c.answered[callID] = content
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownToolCall, callID)
}

// Close implements Conversation
func (c *openAIConversation) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	return nil
}

func openAIRole(role string) string {
	switch role {
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

func openAITools(defs []ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		params := jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: make(map[string]jsonschema.Definition, len(d.Parameters.Properties)),
		}
		for _, p := range d.Parameters.Properties {
			params.Properties[p.Name] = jsonschema.Definition{
				Type:        jsonschema.DataType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
