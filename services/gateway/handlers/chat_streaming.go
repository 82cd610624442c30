// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/observability"
)

// heartbeatInterval is how often an SSE comment ping is sent to keep
// the connection alive through proxy idle timeouts.
const heartbeatInterval = 15 * time.Second

// HandleChatStream handles POST /v1/messages/stream, the SSE chat endpoint.
//
// # Description
//
//	Runs a retrieval-augmented chat turn and streams the assistant reply
//	token by token as SSE data frames. Every stream carries exactly one
//	is_final chunk before the "[DONE]" terminator: on success it holds
//	citations and tool records, on model failure it holds the error.
//
// # Limitations
//
//   - Validation errors are reported as plain JSON before any SSE bytes
//     are written. Once streaming starts, errors arrive in-band.
func HandleChatStream(a *agent.Agent, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.HandleChatStream")
		defer span.End()

		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		var req datatypes.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordError(observability.EndpointSSEStream, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.RecordError(observability.EndpointSSEStream, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		SetSSEHeaders(c.Writer)

		writer, err := NewStreamWriter(c.Writer)
		if err != nil {
			metrics.RecordError(observability.EndpointSSEStream, observability.ErrorCodeInternal)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		metrics.StreamStarted(observability.EndpointSSEStream)
		defer metrics.StreamEnded(observability.EndpointSSEStream)

		heartbeatDone := startHeartbeat(writer, metrics, observability.EndpointSSEStream)
		defer close(heartbeatDone)

		start := time.Now()
		firstToken := false
		chunkSent := false

		streamErr := a.ProcessMessageStream(ctx, userID, &req, func(chunk datatypes.StreamResponse) error {
			if !firstToken && chunk.Delta != "" {
				firstToken = true
				metrics.RecordTimeToFirstToken(observability.EndpointSSEStream, time.Since(start).Seconds())
			}
			if err := writer.WriteChunk(chunk); err != nil {
				return err
			}
			chunkSent = true
			return nil
		})

		duration := time.Since(start).Seconds()

		if streamErr != nil {
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, "stream failed")
			metrics.RecordRequest(observability.EndpointSSEStream, false)
			metrics.RecordStreamDuration(observability.EndpointSSEStream, duration, false)

			if errors.Is(streamErr, context.Canceled) || c.Request.Context().Err() != nil {
				metrics.RecordClientDisconnect(observability.EndpointSSEStream)
				slog.Info("Client disconnected mid-stream", "user_id", userID)
				return
			}

			if !chunkSent {
				// Turn setup failed before any SSE bytes went out, so a
				// plain JSON error is still possible.
				c.Writer.Header().Set("Content-Type", "application/json")
				respondChatError(c, observability.EndpointSSEStream, metrics, streamErr)
				return
			}

			recordStreamErrorCode(metrics, observability.EndpointSSEStream, streamErr)
			slog.Error("Chat stream failed", "error", streamErr, "user_id", userID)

			// The terminal error chunk was already delivered in-band.
			// Still terminate the stream cleanly.
			if err := writer.WriteDone(); err != nil {
				slog.Warn("Failed to write stream terminator", "error", err)
			}
			return
		}

		metrics.RecordRequest(observability.EndpointSSEStream, true)
		metrics.RecordStreamDuration(observability.EndpointSSEStream, duration, true)

		if err := writer.WriteDone(); err != nil {
			slog.Warn("Failed to write stream terminator", "error", err)
		}
	}
}

// startHeartbeat launches a goroutine that sends keep-alive pings until
// the returned channel is closed.
func startHeartbeat(writer StreamWriter, metrics *observability.ChatMetrics, endpoint observability.Endpoint) chan struct{} {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					// Client likely gone; the main stream path will
					// observe the failure on its next write.
					return
				}
				metrics.RecordKeepAlive(endpoint)
			}
		}
	}()

	return done
}

// recordStreamErrorCode categorizes a stream failure for metrics.
func recordStreamErrorCode(metrics *observability.ChatMetrics, endpoint observability.Endpoint, err error) {
	switch {
	case agent.IsModelError(err):
		metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
	default:
		metrics.RecordError(endpoint, observability.ErrorCodeInternal)
	}
}
