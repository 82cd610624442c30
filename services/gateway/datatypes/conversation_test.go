// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleFromMessage_ShortMessageUnchanged(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "What is our deforestation exposure?", TitleFromMessage("What is our deforestation exposure?"))
}

func TestTitleFromMessage_LongMessageTruncated(t *testing.T) {
	t.Parallel()

	msg := strings.Repeat("a", 80)
	title := TitleFromMessage(msg)

	assert.Equal(t, strings.Repeat("a", 50)+"...", title)
}

func TestTitleFromMessage_ExactBoundary(t *testing.T) {
	t.Parallel()

	msg := strings.Repeat("b", 50)
	assert.Equal(t, msg, TitleFromMessage(msg))
}

func TestExcerptFromContent_Truncation(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("x", 300)
	excerpt := ExcerptFromContent(content)

	assert.Equal(t, strings.Repeat("x", 200)+"...", excerpt)
	assert.Equal(t, strings.Repeat("x", 200), ExcerptFromContent(strings.Repeat("x", 200)))
}

func TestNewConversation_PopulatesIdentity(t *testing.T) {
	t.Parallel()

	conv := NewConversation("user-1", "ESG portfolio review")

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "user-1", conv.UserID)
	assert.Equal(t, "ESG portfolio review", conv.Title)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
}

func TestSendMessageRequest_Validate(t *testing.T) {
	t.Parallel()

	valid := SendMessageRequest{Message: "hello"}
	require.NoError(t, valid.Validate())

	withConv := SendMessageRequest{
		ConversationID: "550e8400-e29b-41d4-a716-446655440000",
		Message:        "hello",
	}
	require.NoError(t, withConv.Validate())
}

func TestSendMessageRequest_Validate_EmptyMessage(t *testing.T) {
	t.Parallel()

	for _, msg := range []string{"", "   ", "\n\t"} {
		req := SendMessageRequest{Message: msg}
		err := req.Validate()
		require.Error(t, err)

		var emptyErr *EmptyMessageError
		assert.ErrorAs(t, err, &emptyErr, "message %q should produce EmptyMessageError", msg)
	}
}

func TestSendMessageRequest_Validate_BadConversationID(t *testing.T) {
	t.Parallel()

	req := SendMessageRequest{ConversationID: "not-a-uuid", Message: "hello"}
	assert.Error(t, req.Validate())
}

func TestSendMessageRequest_Validate_OversizedContent(t *testing.T) {
	t.Parallel()

	req := SendMessageRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)}
	assert.Error(t, req.Validate())
}
