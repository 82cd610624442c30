// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request and response types for the chat endpoints.
// For the persisted conversation model, see conversation.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Byte length, not rune count, to bound memory on large payloads.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Checks byte length to prevent memory exhaustion
// with large payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Message Wire Type
// =============================================================================

// Message is a single role-tagged message in the format expected by LLM
// backends. Used for prompt assembly; the persisted record is
// ConversationMessage.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// Request Types
// =============================================================================

// CreateConversationRequest is the body of POST /v1/conversations.
// Title is optional; an empty title is replaced with "New Conversation".
type CreateConversationRequest struct {
	Title string `json:"title" validate:"omitempty,maxbytes"`
}

// Validate validates the CreateConversationRequest fields.
func (r *CreateConversationRequest) Validate() error {
	return chatValidate.Struct(r)
}

// SendMessageRequest is the body of POST /v1/messages and
// POST /v1/messages/stream.
//
// # Fields
//
//   - ConversationID: Optional. When empty, a new conversation is created
//     and titled from the message text.
//   - Message: Required. The user's message. Whitespace-only messages are
//     rejected. Content is limited to 32KB.
//   - Context: Optional caller-supplied hints (client, locale, page).
//     Advisory only; persisted as metadata on the user message.
//
// # Validation
//
// Uses go-playground/validator plus an explicit whitespace check, since
// the required tag alone accepts strings of spaces.
type SendMessageRequest struct {
	ConversationID string         `json:"conversation_id" validate:"omitempty,uuid4"`
	Message        string         `json:"message" validate:"required,maxbytes"`
	Context        map[string]any `json:"context,omitempty"`
}

// Validate validates the SendMessageRequest fields.
//
// This method should be called after binding the JSON request.
func (r *SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &EmptyMessageError{}
	}
	return chatValidate.Struct(r)
}

// EmptyMessageError is returned when a chat request contains no message text
// after trimming whitespace. Handlers map it to HTTP 400.
type EmptyMessageError struct{}

func (e *EmptyMessageError) Error() string {
	return "message must not be empty"
}

// =============================================================================
// Response Types
// =============================================================================

// ConversationResponse is the representation of a conversation returned by
// the conversation endpoints. Messages is populated only by
// GET /v1/conversations/:id.
type ConversationResponse struct {
	Conversation
	Messages []ConversationMessage `json:"messages,omitempty"`
}

// TokenUsage contains token consumption statistics from a buffered
// completion. Streaming completions do not report usage.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamResponse is a single streaming chunk on the SSE and WebSocket
// transports.
//
// The wire framing on SSE is:
//
//	data: {"delta":"...","conversation_id":"...","message_id":"...","is_final":false}
//
// followed by a blank line, and the stream terminates with:
//
//	data: [DONE]
//
// Exactly one chunk per stream has IsFinal set. On success that chunk has an
// empty Delta and carries citations and tool records in Metadata; on failure
// it carries Metadata["error"].
type StreamResponse struct {
	Delta          string         `json:"delta"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	IsFinal        bool           `json:"is_final"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
