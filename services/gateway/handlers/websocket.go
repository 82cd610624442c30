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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/observability"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsErrorFrame is sent when a request frame fails validation. Stream
// chunks use datatypes.StreamResponse directly.
type wsErrorFrame struct {
	Error string `json:"error"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// turnErrorMessage maps a failed chat turn to a client-safe error string,
// mirroring the status mapping of respondChatError.
func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, store.ErrForbidden):
		return "access denied"
	case agent.IsModelError(err):
		return "model completion failed"
	default:
		return "internal error"
	}
}

// HandleChatWebSocket handles GET /v1/messages/ws.
//
// # Description
//
//	Upgrades the connection and serves chat turns over a persistent
//	socket. Each client frame is a SendMessageRequest; the reply is a
//	sequence of StreamResponse frames ending with one is_final chunk,
//	mirroring the SSE endpoint without the SSE framing. The connection
//	stays open for further turns until the client closes it.
func HandleChatWebSocket(a *agent.Agent, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "user_id", userID)

		for {
			var req datatypes.SendMessageRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				break
			}

			if err := req.Validate(); err != nil {
				metrics.RecordError(observability.EndpointWSStream, observability.ErrorCodeValidation)
				if sendJSON(ws, wsErrorFrame{Error: err.Error()}) != nil {
					return
				}
				continue
			}

			metrics.StreamStarted(observability.EndpointWSStream)
			start := time.Now()
			firstToken := false
			chunkDelivered := false

			streamErr := a.ProcessMessageStream(c.Request.Context(), userID, &req, func(chunk datatypes.StreamResponse) error {
				if !firstToken && chunk.Delta != "" {
					firstToken = true
					metrics.RecordTimeToFirstToken(observability.EndpointWSStream, time.Since(start).Seconds())
				}
				if err := ws.WriteJSON(chunk); err != nil {
					return err
				}
				chunkDelivered = true
				return nil
			})

			duration := time.Since(start).Seconds()
			metrics.StreamEnded(observability.EndpointWSStream)

			if streamErr != nil {
				metrics.RecordRequest(observability.EndpointWSStream, false)
				metrics.RecordStreamDuration(observability.EndpointWSStream, duration, false)
				recordStreamErrorCode(metrics, observability.EndpointWSStream, streamErr)
				slog.Error("Websocket chat turn failed", "error", streamErr, "user_id", userID)

				// Write failures mean the socket is gone.
				var closeErr *websocket.CloseError
				if errors.As(streamErr, &closeErr) {
					metrics.RecordClientDisconnect(observability.EndpointWSStream)
					return
				}

				// A turn that failed before any chunk went out must
				// still get a terminal frame, never a silent drop.
				if !chunkDelivered {
					if sendJSON(ws, wsErrorFrame{Error: turnErrorMessage(streamErr)}) != nil {
						return
					}
				}
				continue
			}

			metrics.RecordRequest(observability.EndpointWSStream, true)
			metrics.RecordStreamDuration(observability.EndpointWSStream, duration, true)
		}
	}
}
