// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the gateway service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/middleware"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
)

// requireUserID resolves the authenticated user, aborting with 401 when
// the auth middleware did not run.
func requireUserID(c *gin.Context) (string, bool) {
	info := middleware.GetAuthInfo(c)
	if info == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return "", false
	}
	return info.UserID, true
}

// respondStoreError maps store errors to HTTP statuses. 404 for unknown
// conversations, 403 for foreign ones.
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	default:
		slog.Error("Conversation store operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CreateConversation handles POST /v1/conversations.
func CreateConversation(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		var req datatypes.CreateConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conv, err := a.CreateConversation(c.Request.Context(), userID, req.Title)
		if err != nil {
			respondStoreError(c, err)
			return
		}

		c.JSON(http.StatusCreated, datatypes.ConversationResponse{Conversation: *conv})
	}
}

// ListConversations handles GET /v1/conversations.
func ListConversations(s store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		convs, err := s.ListConversations(c.Request.Context(), userID)
		if err != nil {
			respondStoreError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}

// GetConversation handles GET /v1/conversations/:id, returning the
// conversation with its messages in chronological order.
func GetConversation(s store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		convID := c.Param("id")

		conv, err := s.GetConversation(c.Request.Context(), userID, convID)
		if err != nil {
			respondStoreError(c, err)
			return
		}

		msgs, err := s.ListMessages(c.Request.Context(), userID, convID)
		if err != nil {
			respondStoreError(c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.ConversationResponse{
			Conversation: *conv,
			Messages:     msgs,
		})
	}
}

// DeleteConversation handles DELETE /v1/conversations/:id. The
// conversation and all of its messages are removed atomically.
func DeleteConversation(s store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		convID := c.Param("id")

		if err := s.DeleteConversation(c.Request.Context(), userID, convID); err != nil {
			respondStoreError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
