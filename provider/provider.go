// Package provider adapts streaming LLM completion APIs to a pull-based
// conversation that yields content tokens and tool calls one unit at a time.
//
// A Conversation spans the whole exchange for one client request: when the
// model stops to call tools, the caller submits each result and the next
// call to Next resumes generation under the same conversation.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"lawchat-backend/models"
)

var (
	// ErrToolResultsPending is returned by Next when the model asked for tools
	// and not every call has been answered yet
	ErrToolResultsPending = errors.New("tool results pending")

	// ErrUnknownToolCall is returned when a result names a call that was not issued
	ErrUnknownToolCall = errors.New("unknown tool call id")

	// ErrNoUserMessage is returned by Start when the conversation has nothing to answer
	ErrNoUserMessage = errors.New("conversation has no user message")
)

// UnitKind classifies what the provider produced
type UnitKind int

const (
	UnitContent UnitKind = iota
	UnitToolCall
)

func (k UnitKind) String() string {
	switch k {
	case UnitContent:
		return "content"
	case UnitToolCall:
		return "tool_call"
	default:
		return "unknown"
	}
}

// ToolCall is a model request to run a named function
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// Unit is one inbound item from the provider stream
type Unit struct {
	Kind     UnitKind
	Content  string
	ToolCall ToolCall
}

// ToolDefinition declares a callable function to the model
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  ToolParameters
}

// ToolParameters is a flat JSON-schema object description
type ToolParameters struct {
	Properties []ToolParameter
}

// ToolParameter is one argument of a tool
type ToolParameter struct {
	Name        string
	Type        string // "string" or "integer"
	Description string
	Required    bool
}

// StartRequest opens a conversation
type StartRequest struct {
	System   string
	Messages []models.Message
	Tools    []ToolDefinition
}

// Conversation is a single streaming exchange with the model
type Conversation interface {
	// Next blocks until the next unit is available. It returns io.EOF once
	// the model has finished and no tool calls are outstanding.
	Next(ctx context.Context) (Unit, error)

	// SubmitToolResult answers a tool call previously returned by Next
	SubmitToolResult(callID, content string) error

	// Close releases the upstream connection. It is safe to call more than once.
	Close() error
}

// Provider starts conversations against one LLM backend
type Provider interface {
	Name() string
	Start(ctx context.Context, req StartRequest) (Conversation, error)
	Ping(ctx context.Context) error
}

// jsonArgs converts a decoded argument map back to its JSON text
func jsonArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
