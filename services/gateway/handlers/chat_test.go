// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/search"
)

func samplePassages() []search.SearchResult {
	return []search.SearchResult{
		{
			ID:           "doc-1",
			Title:        "Emissions Report 2024",
			Content:      "Scope 1 emissions fell by 12 percent year over year.",
			Source:       "emissions_2024.md_part_1",
			Score:        0.91,
			DocumentType: "report",
		},
	}
}

// =============================================================================
// Buffered Endpoint Tests
// =============================================================================

func TestHandleChatMessage_Success(t *testing.T) {
	env := newTestEnv(t,
		&stubLLM{content: "Emissions are trending down.", usage: &datatypes.TokenUsage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52}},
		&stubSearch{results: samplePassages()})

	w := env.do(t, http.MethodPost, "/v1/messages",
		datatypes.SendMessageRequest{Message: "How are our emissions trending?"})

	assert.Equal(t, http.StatusOK, w.Code)

	var msg datatypes.ConversationMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, datatypes.RoleAssistant, msg.Role)
	assert.Equal(t, "Emissions are trending down.", msg.Content)
	require.Len(t, msg.Citations, 1)
	assert.Equal(t, "Emissions Report 2024", msg.Citations[0].Title)
	require.Len(t, msg.ToolsUsed, 2)
	assert.Equal(t, "document_retrieval", msg.ToolsUsed[0].ToolName)
	assert.Equal(t, "chat_completion", msg.ToolsUsed[1].ToolName)
}

func TestHandleChatMessage_EmptyMessage(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages",
		datatypes.SendMessageRequest{Message: "   "})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "message must not be empty")
}

func TestHandleChatMessage_InvalidBody(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages", "not an object")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatMessage_UnknownConversation(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "hi"}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages", datatypes.SendMessageRequest{
		ConversationID: "0b42e7c4-9c8b-4a51-bb1b-07a3f0e6d931",
		Message:        "hello",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleChatMessage_ModelFailure(t *testing.T) {
	env := newTestEnv(t, &stubLLM{chatErr: errors.New("backend exploded")}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages",
		datatypes.SendMessageRequest{Message: "hello"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "model completion failed")
}

// =============================================================================
// SSE Endpoint Tests
// =============================================================================

// parseSSEFrames splits an SSE body into its data payloads, returning
// the decoded chunks and whether a [DONE] terminator was present.
func parseSSEFrames(t *testing.T, body string) ([]datatypes.StreamResponse, bool) {
	t.Helper()

	var chunks []datatypes.StreamResponse
	sawDone := false

	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk datatypes.StreamResponse
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		chunks = append(chunks, chunk)
	}

	return chunks, sawDone
}

func TestHandleChatStream_Success(t *testing.T) {
	env := newTestEnv(t,
		&stubLLM{streamTokens: []string{"Solar ", "looks ", "good"}},
		&stubSearch{results: samplePassages()})

	w := env.do(t, http.MethodPost, "/v1/messages/stream",
		datatypes.SendMessageRequest{Message: "Assess our solar program"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	chunks, sawDone := parseSSEFrames(t, w.Body.String())
	assert.True(t, sawDone)
	require.Len(t, chunks, 4)

	var text strings.Builder
	for _, chunk := range chunks[:3] {
		assert.False(t, chunk.IsFinal)
		text.WriteString(chunk.Delta)
	}
	assert.Equal(t, "Solar looks good", text.String())

	final := chunks[3]
	assert.True(t, final.IsFinal)
	assert.Empty(t, final.Delta)
	assert.NotEmpty(t, final.ConversationID)
	assert.NotEmpty(t, final.MessageID)
	assert.Contains(t, final.Metadata, "citations")
	assert.Contains(t, final.Metadata, "tools_used")
	assert.Equal(t, "sustainability_analysis", final.Metadata["intent"])
	assert.Contains(t, final.Metadata, "confidence")
	assert.Contains(t, final.Metadata, "processing_time_ms")
}

func TestHandleChatStream_IdentityStableAcrossChunks(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"a", "b"}}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages/stream",
		datatypes.SendMessageRequest{Message: "hello"})

	chunks, _ := parseSSEFrames(t, w.Body.String())
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks[1:] {
		assert.Equal(t, chunks[0].ConversationID, chunk.ConversationID)
		assert.Equal(t, chunks[0].MessageID, chunk.MessageID)
	}
}

func TestHandleChatStream_ModelFailure(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamErrMsg: "model crashed"}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages/stream",
		datatypes.SendMessageRequest{Message: "hello"})

	chunks, sawDone := parseSSEFrames(t, w.Body.String())
	assert.True(t, sawDone)
	require.NotEmpty(t, chunks)

	final := chunks[len(chunks)-1]
	assert.True(t, final.IsFinal)
	assert.Contains(t, final.Metadata, "error")
}

func TestHandleChatStream_ValidationErrorIsPlainJSON(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"a"}}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages/stream",
		datatypes.SendMessageRequest{Message: ""})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "data: ")
}

func TestHandleChatStream_UnknownConversation(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"a"}}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages/stream", datatypes.SendMessageRequest{
		ConversationID: "0b42e7c4-9c8b-4a51-bb1b-07a3f0e6d931",
		Message:        "hello",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleChatStream_ForeignConversationIsPlainJSON(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"a"}}, nil)

	other := datatypes.NewConversation("someone-else", "Theirs")
	require.NoError(t, env.store.CreateConversation(context.Background(), other))

	w := env.do(t, http.MethodPost, "/v1/messages/stream", datatypes.SendMessageRequest{
		ConversationID: other.ID,
		Message:        "hello",
	})

	// The turn fails before any SSE bytes go out, so the client gets a
	// plain JSON error instead of a chunkless event stream.
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotContains(t, w.Body.String(), "data: ")
	assert.Contains(t, w.Body.String(), "access denied")
}

func TestHandleChatMessage_RequestContextPersisted(t *testing.T) {
	env := newTestEnv(t, &stubLLM{content: "noted"}, nil)

	w := env.do(t, http.MethodPost, "/v1/messages", datatypes.SendMessageRequest{
		Message: "What changed this quarter?",
		Context: map[string]any{"client": "mobile"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var msg datatypes.ConversationMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))

	w = env.do(t, http.MethodGet, "/v1/conversations/"+msg.ConversationID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)

	reqCtx, ok := resp.Messages[0].Metadata["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mobile", reqCtx["client"])
}
