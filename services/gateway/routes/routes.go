// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires gateway HTTP endpoints to their handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/greenguardian-ai/gateway/pkg/extensions"
	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/handlers"
	"github.com/greenguardian-ai/gateway/services/gateway/middleware"
	"github.com/greenguardian-ai/gateway/services/gateway/observability"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
)

// Dependencies holds the shared clients handlers need.
type Dependencies struct {
	Agent        *agent.Agent
	Store        store.ConversationStore
	Weaviate     *weaviate.Client
	AuthProvider extensions.AuthProvider
	Metrics      *observability.ChatMetrics
}

// SetupRoutes registers all gateway endpoints on the router.
//
// /health and /metrics are unauthenticated; everything under /v1
// passes through the auth middleware.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.AuthProvider))
	{
		v1.POST("/conversations", handlers.CreateConversation(deps.Agent))
		v1.GET("/conversations", handlers.ListConversations(deps.Store))
		v1.GET("/conversations/:id", handlers.GetConversation(deps.Store))
		v1.DELETE("/conversations/:id", handlers.DeleteConversation(deps.Store))

		v1.POST("/messages", handlers.HandleChatMessage(deps.Agent, deps.Metrics))
		v1.POST("/messages/stream", handlers.HandleChatStream(deps.Agent, deps.Metrics))
		v1.GET("/messages/ws", handlers.HandleChatWebSocket(deps.Agent, deps.Metrics))

		v1.POST("/documents", handlers.CreateDocument(deps.Weaviate))
		v1.GET("/documents", handlers.ListDocuments(deps.Weaviate))
	}
}
