package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxMessagesPerRequest caps the conversation history a client may send
	MaxMessagesPerRequest = 50

	// MaxMessageContentChars caps a single message, counted in characters
	MaxMessageContentChars = 5000
)

// Message roles accepted from clients
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of the conversation history
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxchars=5000"`
}

// ChatRequest is the body of POST /api/chat/stream
type ChatRequest struct {
	Messages []Message `json:"messages" validate:"required,min=1,max=50,dive"`
}

// ValidationError is a client-reportable rejection of a chat payload.
// Every violation has its own sentinel so callers can match with errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var (
	ErrInvalidJSON      = &ValidationError{Reason: "Request body must be a valid JSON object"}
	ErrMessagesNotArray = &ValidationError{Reason: "Messages must be an array"}
	ErrEmptyMessages    = &ValidationError{Reason: "Messages array cannot be empty"}
	ErrTooManyMessages  = &ValidationError{Reason: "Too many messages (max 50)"}
	ErrMessageNotObject = &ValidationError{Reason: "Each message must be an object"}
	ErrMissingRole      = &ValidationError{Reason: "Each message must have a role"}
	ErrMissingContent   = &ValidationError{Reason: "Each message must have content"}
	ErrRoleNotString    = &ValidationError{Reason: "Message role must be a string"}
	ErrContentNotString = &ValidationError{Reason: "Message content must be a string"}
	ErrInvalidRole      = &ValidationError{Reason: "Message role must be user, assistant or system"}
	ErrContentTooLong   = &ValidationError{Reason: "Message content too long (max 5000 characters)"}
)

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxchars", validateMaxChars)
}

// validateMaxChars counts characters rather than bytes so multi-byte
// scripts get the same allowance as ASCII.
func validateMaxChars(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(fl.Field().String()) <= limit
}

// Validate checks a decoded request against the message count and size limits
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return mapValidationError(err)
	}
	return nil
}

// ParseChatRequest decodes and validates a raw chat payload.
//
// Checks run in a fixed order: envelope, messages type, message count,
// then each message in turn. The first violation wins.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var envelope struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrInvalidJSON
	}

	var raw []json.RawMessage
	if len(envelope.Messages) == 0 {
		return nil, ErrMessagesNotArray
	}
	if err := json.Unmarshal(envelope.Messages, &raw); err != nil || raw == nil {
		return nil, ErrMessagesNotArray
	}

	if err := chatValidate.Var(raw, "min=1,max=50"); err != nil {
		return nil, mapValidationError(err)
	}

	req := &ChatRequest{Messages: make([]Message, 0, len(raw))}
	for _, item := range raw {
		if string(bytes.TrimSpace(item)) == "null" {
			return nil, ErrMessageNotObject
		}
		var msg Message
		if err := json.Unmarshal(item, &msg); err != nil {
			return nil, mapDecodeError(err)
		}
		req.Messages = append(req.Messages, msg)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func mapDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return ErrMessageNotObject
	}
	switch typeErr.Field {
	case "role":
		return ErrRoleNotString
	case "content":
		return ErrContentNotString
	default:
		return ErrMessageNotObject
	}
}

// mapValidationError turns the first failing rule into its reason. Every tag
// used on ChatRequest and Message has an explicit mapping.
func mapValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		// Only a nil request gets here
		return ErrInvalidJSON
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Role":
		if fe.Tag() == "oneof" {
			return ErrInvalidRole
		}
		return ErrMissingRole
	case "Content":
		if fe.Tag() == "maxchars" {
			return ErrContentTooLong
		}
		return ErrMissingContent
	}

	// Slice-level checks come from either the Messages field or a bare Var call
	switch fe.Tag() {
	case "required":
		return ErrMessagesNotArray
	case "min":
		return ErrEmptyMessages
	default:
		return ErrTooManyMessages
	}
}
