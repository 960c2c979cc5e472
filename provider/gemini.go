package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"lawchat-backend/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiConfig configures the Gemini provider
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider streams content through the Gemini chat API
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini client
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	slog.Info("Gemini client initialized", "model", model)
	return &GeminiProvider{client: client, model: model}, nil
}

// Name implements Provider
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Ping fetches model metadata to prove the key works
func (p *GeminiProvider) Ping(ctx context.Context) error {
	if _, err := p.client.GenerativeModel(p.model).Info(ctx); err != nil {
		return fmt.Errorf("gemini ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Start opens a chat session and sends the latest message
func (p *GeminiProvider) Start(ctx context.Context, req StartRequest) (Conversation, error) {
	system, history, last, err := geminiHistory(req.System, req.Messages)
	if err != nil {
		return nil, err
	}

	model := p.client.GenerativeModel(p.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: geminiFunctions(req.Tools)}}
	}

	session := model.StartChat()
	session.History = history

	c := &geminiConversation{
		session: session,
		pending: make(map[string]genai.FunctionCall),
	}
	c.iter = session.SendMessageStream(ctx, genai.Text(last))
	return c, nil
}

// geminiConversation adapts a genai ChatSession. Gemini does not assign call
// ids, so each FunctionCall gets a generated one that the caller echoes back.
type geminiConversation struct {
	session *genai.ChatSession
	iter    *genai.GenerateContentResponseIterator
	queue   []Unit

	pending  map[string]genai.FunctionCall
	order    []string
	answered []genai.Part

	closed bool
}

// Next implements Conversation
func (c *geminiConversation) Next(ctx context.Context) (Unit, error) {
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

		if c.iter == nil {
			if len(c.order) == 0 {
				return Unit{}, io.EOF
			}
			if len(c.answered) < len(c.order) {
				return Unit{}, ErrToolResultsPending
			}
			parts := c.answered
			c.pending = make(map[string]genai.FunctionCall)
			c.order = nil
			c.answered = nil
			c.iter = c.session.SendMessageStream(ctx, parts...)
			continue
		}

		resp, err := c.iter.Next()
		if errors.Is(err, iterator.Done) {
			c.iter = nil
			continue
		}
		if err != nil {
			return Unit{}, fmt.Errorf("gemini stream failed: %w", err)
		}
		c.absorb(resp)
	}
}

func (c *geminiConversation) absorb(resp *genai.GenerateContentResponse) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			if v != "" {
				c.queue = append(c.queue, Unit{Kind: UnitContent, Content: string(v)})
			}
		case genai.FunctionCall:
			id := "call_" + uuid.NewString()
			c.pending[id] = v
			c.order = append(c.order, id)
			c.queue = append(c.queue, Unit{
				Kind: UnitToolCall,
				ToolCall: ToolCall{
					ID:        id,
					Name:      v.Name,
					Arguments: jsonArgs(v.Args),
				},
			})
		}
	}
}

// SubmitToolResult implements Conversation
func (c *geminiConversation) SubmitToolResult(callID, content string) error {
	call, ok := c.pending[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, callID)
	}
	delete(c.pending, callID)

	c.answered = append(c.answered, genai.FunctionResponse{
		Name:     call.Name,
		Response: geminiResponse(content),
	})
	return nil
}

// Close implements Conversation. The iterator is released through its context.
func (c *geminiConversation) Close() error {
	c.closed = true
	c.iter = nil
	return nil
}

// geminiHistory splits messages into the system instruction, prior turns and
// the text to send. Client system messages are folded into the instruction
// and consecutive turns of one role are merged, since Gemini expects the
// roles to alternate. The text sent is always the last user turn; assistant
// turns after it are dropped and the model answers that turn afresh.
func geminiHistory(system string, messages []models.Message) (string, []*genai.Content, string, error) {
	instructions := []string{}
	if system != "" {
		instructions = append(instructions, system)
	}

	var turns []models.Message
	lastUser := -1
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			instructions = append(instructions, m.Content)
			continue
		}
		if m.Role == models.RoleUser {
			lastUser = len(turns)
		}
		turns = append(turns, m)
	}
	if lastUser < 0 {
		return "", nil, "", ErrNoUserMessage
	}

	var history []*genai.Content
	for _, m := range turns[:lastUser] {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, genai.Text(m.Content))
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	return strings.Join(instructions, "\n\n"), history, turns[lastUser].Content, nil
}

func geminiFunctions(defs []ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(d.Parameters.Properties)),
		}
		for _, p := range d.Parameters.Properties {
			t := genai.TypeString
			if p.Type == "integer" {
				t = genai.TypeInteger
			}
			schema.Properties[p.Name] = &genai.Schema{Type: t, Description: p.Description}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return decls
}

// geminiResponse wraps a JSON tool result in the object Gemini requires
func geminiResponse(content string) map[string]any {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return map[string]any{"content": content}
	}
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{"content": v}
}
