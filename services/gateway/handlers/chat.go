// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/observability"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
)

var tracer = otel.Tracer("greenguardian.gateway.handlers")

// HandleChatMessage handles POST /v1/messages, the buffered chat endpoint.
//
// # Description
//
//	Runs a full retrieval-augmented chat turn and returns the complete
//	assistant message once generation finishes. Clients that want
//	incremental delivery should use the SSE or WebSocket endpoints.
//
// # Outputs
//
//	200 with the assistant ConversationMessage on success.
//	400 on validation failure, 404/403 for conversation access errors,
//	500 when the completion backend fails.
func HandleChatMessage(a *agent.Agent, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.HandleChatMessage")
		defer span.End()

		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		var req datatypes.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordError(observability.EndpointBuffered, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.RecordError(observability.EndpointBuffered, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		msg, err := a.ProcessMessage(ctx, userID, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat turn failed")
			metrics.RecordRequest(observability.EndpointBuffered, false)
			respondChatError(c, observability.EndpointBuffered, metrics, err)
			return
		}

		metrics.RecordRequest(observability.EndpointBuffered, true)
		if usage, ok := msg.Metadata["token_usage"].(*datatypes.TokenUsage); ok {
			metrics.RecordTokens(usage.PromptTokens, usage.CompletionTokens)
		}

		c.JSON(http.StatusOK, msg)
	}
}

// respondChatError maps chat turn errors to HTTP statuses and records
// the error category.
func respondChatError(c *gin.Context, endpoint observability.Endpoint, metrics *observability.ChatMetrics, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.RecordError(endpoint, observability.ErrorCodeNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, store.ErrForbidden):
		metrics.RecordError(endpoint, observability.ErrorCodeForbidden)
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case agent.IsModelError(err):
		metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
		slog.Error("Model completion failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "model completion failed"})
	default:
		metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		slog.Error("Chat turn failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
