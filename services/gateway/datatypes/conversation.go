// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the gateway service.
//
// This file contains the persisted conversation model: conversations,
// their messages, and the citation/tool records attached to assistant
// messages. For HTTP request/response types, see chat.go.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// RoleUser marks a message authored by the end user.
	RoleUser = "user"

	// RoleAssistant marks a message generated by the model.
	RoleAssistant = "assistant"

	// RoleSystem marks an instruction message. System messages are never
	// persisted; they exist only in the prompt sent to the model.
	RoleSystem = "system"

	// MaxTitleChars is the maximum length of an auto-generated conversation
	// title before truncation.
	MaxTitleChars = 50

	// MaxExcerptChars is the maximum length of a citation excerpt before
	// truncation.
	MaxExcerptChars = 200
)

// =============================================================================
// Persisted Records
// =============================================================================

// Conversation is a thread of messages owned by a single user.
//
// # Fields
//
//   - ID: UUID v4, generated server-side.
//   - UserID: Owner. All access checks compare against this field.
//   - Title: Display title. Auto-generated from the first message when the
//     conversation is created implicitly by a chat turn.
//   - CreatedAt: Creation time (UTC).
//   - UpdatedAt: Touched on every message append.
//
// # Thread Safety
//
// Plain value type. The store serializes concurrent mutations.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation with a fresh ID and timestamps.
func NewConversation(userID, title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ConversationMessage is a single persisted message within a conversation.
//
// User messages carry only Role and Content. Assistant messages additionally
// carry the citations, tool invocation records, and metadata produced while
// generating the reply.
type ConversationMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	CreatedAt      time.Time        `json:"created_at"`
	Citations      []Citation       `json:"citations,omitempty"`
	ToolsUsed      []ToolInvocation `json:"tools_used,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

// NewConversationMessage creates a message with a fresh ID and timestamp.
func NewConversationMessage(conversationID, role, content string) *ConversationMessage {
	return &ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// Citation records a retrieved document passage that grounded an assistant
// reply.
//
// RelevanceScore is always within [0, 1]; the retrieval gateway clamps
// backend scores at the mapping boundary.
type Citation struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Source         string  `json:"source"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
	DocumentType   string  `json:"document_type"`
}

// ToolInvocation records a single external call made while producing an
// assistant reply (retrieval, completion).
type ToolInvocation struct {
	ToolName        string         `json:"tool_name"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}

// =============================================================================
// Helpers
// =============================================================================

// TitleFromMessage derives a conversation title from the first user message.
// Titles longer than MaxTitleChars are truncated with a trailing ellipsis.
func TitleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= MaxTitleChars {
		return message
	}
	return string(runes[:MaxTitleChars]) + "..."
}

// ExcerptFromContent derives a citation excerpt from passage content.
// Excerpts longer than MaxExcerptChars are truncated with a trailing ellipsis.
func ExcerptFromContent(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxExcerptChars {
		return content
	}
	return string(runes[:MaxExcerptChars]) + "..."
}
