// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// dialTestSocket upgrades against the test router over a real listener.
func dialTestSocket(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(env.router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/messages/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return ws
}

func TestHandleChatWebSocket_StreamsTurn(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"Wind ", "power"}}, nil)
	ws := dialTestSocket(t, env)

	require.NoError(t, ws.WriteJSON(datatypes.SendMessageRequest{
		Message: "Tell me about wind power",
	}))

	var text strings.Builder
	for {
		var chunk datatypes.StreamResponse
		require.NoError(t, ws.ReadJSON(&chunk))
		text.WriteString(chunk.Delta)
		if chunk.IsFinal {
			assert.Contains(t, chunk.Metadata, "tools_used")
			break
		}
	}

	assert.Equal(t, "Wind power", text.String())
}

func TestHandleChatWebSocket_MultipleTurnsOneConnection(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"ok"}}, nil)
	ws := dialTestSocket(t, env)

	for i := 0; i < 2; i++ {
		require.NoError(t, ws.WriteJSON(datatypes.SendMessageRequest{Message: "hello again"}))

		for {
			var chunk datatypes.StreamResponse
			require.NoError(t, ws.ReadJSON(&chunk))
			if chunk.IsFinal {
				break
			}
		}
	}
}

func TestHandleChatWebSocket_UnknownConversationErrorFrame(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"ok"}}, nil)
	ws := dialTestSocket(t, env)

	require.NoError(t, ws.WriteJSON(datatypes.SendMessageRequest{
		ConversationID: "0b42e7c4-9c8b-4a51-bb1b-07a3f0e6d931",
		Message:        "hello",
	}))

	// A turn that fails before streaming still gets a terminal frame.
	var frame wsErrorFrame
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, "conversation not found", frame.Error)

	// Connection stays usable for the next turn.
	require.NoError(t, ws.WriteJSON(datatypes.SendMessageRequest{Message: "fresh start"}))
	var chunk datatypes.StreamResponse
	require.NoError(t, ws.ReadJSON(&chunk))
	assert.NotEmpty(t, chunk.ConversationID)
}

func TestHandleChatWebSocket_ValidationErrorFrame(t *testing.T) {
	env := newTestEnv(t, &stubLLM{streamTokens: []string{"ok"}}, nil)
	ws := dialTestSocket(t, env)

	require.NoError(t, ws.WriteJSON(datatypes.SendMessageRequest{Message: "   "}))

	var frame wsErrorFrame
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, "message must not be empty", frame.Error)

	// Connection stays usable after a rejected frame.
	require.NoError(t, ws.WriteJSON(datatypes.SendMessageRequest{Message: "real question"}))
	var chunk datatypes.StreamResponse
	require.NoError(t, ws.ReadJSON(&chunk))
	assert.NotEmpty(t, chunk.ConversationID)
}
