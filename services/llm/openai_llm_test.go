// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// newTestOpenAIClient creates an OpenAIClient pointing to a test server.
func newTestOpenAIClient(baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL + "/v1"
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// TestOpenAIChat_ReportsUsage verifies buffered completion with token usage.
func TestOpenAIChat_ReportsUsage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{
			"choices":[{"message":{"role":"assistant","content":"Buffered reply"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}
		}`)
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL, "gpt-4o-mini")

	result, err := client.Chat(context.Background(), []datatypes.Message{
		{Role: "user", Content: "Hi"},
	}, GenerationParams{})

	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if result.Content != "Buffered reply" {
		t.Errorf("Expected 'Buffered reply', got '%s'", result.Content)
	}
	if result.Usage == nil {
		t.Fatal("Expected usage to be reported")
	}
	if result.Usage.TotalTokens != 20 {
		t.Errorf("Expected total tokens 20, got %d", result.Usage.TotalTokens)
	}
}

// TestOpenAIChat_NoChoices verifies the error when no choices come back.
func TestOpenAIChat_NoChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"choices":[],"usage":{}}`)
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL, "gpt-4o-mini")

	_, err := client.Chat(context.Background(), []datatypes.Message{
		{Role: "user", Content: "Hi"},
	}, GenerationParams{})

	if err == nil {
		t.Fatal("Chat should return error when no choices are returned")
	}
}

// TestOpenAIChatStream_ForwardsDeltas verifies the SSE deltas are
// forwarded as token events followed by a done event.
func TestOpenAIChatStream_ForwardsDeltas(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL, "gpt-4o-mini")

	var response strings.Builder
	var doneReceived bool
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: "user", Content: "Hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventToken:
			response.WriteString(event.Content)
		case StreamEventDone:
			doneReceived = true
		}
		return nil
	})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if response.String() != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", response.String())
	}
	if !doneReceived {
		t.Error("Expected a done event at end of stream")
	}
}
