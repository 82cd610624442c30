// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenguardian-ai/gateway/pkg/extensions"
	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/middleware"
	"github.com/greenguardian-ai/gateway/services/gateway/observability"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
	"github.com/greenguardian-ai/gateway/services/llm"
	"github.com/greenguardian-ai/gateway/services/search"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Metrics register globally, so all handler tests share one instance.
var metricsOnce sync.Once

func testMetrics() *observability.ChatMetrics {
	metricsOnce.Do(func() {
		observability.InitMetrics()
	})
	return observability.DefaultMetrics
}

// stubLLM is a canned-response completion backend.
type stubLLM struct {
	content      string
	usage        *datatypes.TokenUsage
	chatErr      error
	streamTokens []string
	streamErrMsg string
}

func (s *stubLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (*llm.ChatResult, error) {
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &llm.ChatResult{Content: s.content, Usage: s.usage}, nil
}

func (s *stubLLM) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	for _, tok := range s.streamTokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return fmt.Errorf("stream callback failed: %w", err)
		}
	}
	if s.streamErrMsg != "" {
		_ = callback(llm.StreamEvent{Type: llm.StreamEventError, Error: s.streamErrMsg})
		return errors.New(s.streamErrMsg)
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

// stubSearch returns fixed passages.
type stubSearch struct {
	results []search.SearchResult
	err     error
}

func (s *stubSearch) Search(ctx context.Context, query string, limit int) ([]search.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type testEnv struct {
	router *gin.Engine
	store  store.ConversationStore
}

// newTestEnv builds a router with real store and agent over the given
// stub backends, authenticated as "local-user" via the nop provider.
func newTestEnv(t *testing.T, llmClient llm.LLMClient, searchClient search.SearchClient) *testEnv {
	t.Helper()
	t.Setenv("GATEWAY_INSECURE_MEMORY", "true")

	st, err := store.NewBadgerStore(store.InMemoryDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a := agent.NewAgent(st, searchClient, llmClient)
	m := testMetrics()

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(&extensions.NopAuthProvider{}))
	{
		v1.POST("/conversations", CreateConversation(a))
		v1.GET("/conversations", ListConversations(st))
		v1.GET("/conversations/:id", GetConversation(st))
		v1.DELETE("/conversations/:id", DeleteConversation(st))
		v1.POST("/messages", HandleChatMessage(a, m))
		v1.POST("/messages/stream", HandleChatStream(a, m))
		v1.GET("/messages/ws", HandleChatWebSocket(a, m))
	}

	return &testEnv{router: router, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck_ReturnsOK(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestCreateConversation_ReturnsCreated(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodPost, "/v1/conversations",
		datatypes.CreateConversationRequest{Title: "Solar panel audit"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Solar panel audit", resp.Conversation.Title)
	assert.NotEmpty(t, resp.Conversation.ID)
	assert.Equal(t, "local-user", resp.Conversation.UserID)
}

func TestCreateConversation_BlankTitleGetsDefault(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodPost, "/v1/conversations",
		datatypes.CreateConversationRequest{Title: "   "})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "New Conversation", resp.Conversation.Title)
}

func TestListConversations_OnlyOwn(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	// One conversation through the API, one for a different user
	// written directly to the store.
	w := env.do(t, http.MethodPost, "/v1/conversations",
		datatypes.CreateConversationRequest{Title: "Mine"})
	require.Equal(t, http.StatusCreated, w.Code)

	other := datatypes.NewConversation("someone-else", "Theirs")
	require.NoError(t, env.store.CreateConversation(context.Background(), other))

	w = env.do(t, http.MethodGet, "/v1/conversations", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []datatypes.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "Mine", resp.Conversations[0].Title)
}

func TestGetConversation_WithMessages(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "Reply text"}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages",
		datatypes.SendMessageRequest{Message: "What is our carbon footprint?"})
	require.Equal(t, http.StatusOK, w.Code)

	var msg datatypes.ConversationMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))

	w = env.do(t, http.MethodGet, "/v1/conversations/"+msg.ConversationID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, msg.ConversationID, resp.Conversation.ID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, datatypes.RoleAssistant, resp.Messages[1].Role)
}

func TestGetConversation_NotFound(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodGet, "/v1/conversations/no-such-id", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetConversation_ForeignReturns403(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	other := datatypes.NewConversation("someone-else", "Theirs")
	require.NoError(t, env.store.CreateConversation(context.Background(), other))

	w := env.do(t, http.MethodGet, "/v1/conversations/"+other.ID, nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteConversation_Removes(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodPost, "/v1/conversations",
		datatypes.CreateConversationRequest{Title: "Doomed"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = env.do(t, http.MethodDelete, "/v1/conversations/"+resp.Conversation.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/v1/conversations/"+resp.Conversation.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
