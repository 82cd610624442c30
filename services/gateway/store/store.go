// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides persistent conversation storage for the gateway.
//
// The default implementation is backed by embedded BadgerDB, giving
// low-latency local persistence without an external database dependency.
package store

import (
	"context"
	"errors"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrForbidden is returned when a conversation exists but belongs to a
	// different user. Handlers map this to HTTP 403, distinct from 404, so
	// a user probing foreign IDs learns the ID exists but nothing more.
	ErrForbidden = errors.New("conversation belongs to another user")
)

// =============================================================================
// ConversationStore Interface
// =============================================================================

// ConversationStore persists conversations and their messages.
//
// # Description
//
// All operations are scoped to a user. Reads on a conversation owned by a
// different user return ErrForbidden; reads on an unknown conversation
// return ErrNotFound. Callers distinguish the two with errors.Is.
//
// # Invariants
//
//   - AppendMessage touches the conversation's UpdatedAt in the same
//     transaction as the message write.
//   - DeleteConversation removes the conversation and all of its messages
//     atomically.
//   - ListMessages returns messages in the order they were appended.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// CreateConversation persists a new conversation.
	CreateConversation(ctx context.Context, conv *datatypes.Conversation) error

	// GetConversation returns the conversation with the given ID if it is
	// owned by userID.
	GetConversation(ctx context.Context, userID, convID string) (*datatypes.Conversation, error)

	// ListConversations returns all conversations owned by userID, most
	// recently updated first. Messages are not populated.
	ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error)

	// DeleteConversation removes a conversation and all of its messages.
	DeleteConversation(ctx context.Context, userID, convID string) error

	// AppendMessage adds a message to a conversation owned by userID and
	// updates the conversation's UpdatedAt timestamp.
	AppendMessage(ctx context.Context, userID string, msg *datatypes.ConversationMessage) error

	// ListMessages returns the messages of a conversation owned by userID,
	// oldest first.
	ListMessages(ctx context.Context, userID, convID string) ([]datatypes.ConversationMessage, error)

	// Close releases underlying resources.
	Close() error
}
