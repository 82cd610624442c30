// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent orchestrates chat turns: conversation resolution, document
// retrieval, prompt assembly, model completion, and message persistence.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
	"github.com/greenguardian-ai/gateway/services/llm"
	"github.com/greenguardian-ai/gateway/services/search"
)

var tracer = otel.Tracer("greenguardian.gateway.agent")

const (
	// historyLimit is how many prior user/assistant messages are included
	// in the prompt.
	historyLimit = 10

	// retrievalLimit is how many passages are retrieved per turn.
	retrievalLimit = 5

	// defaultTitle is used for conversations created without a title.
	defaultTitle = "New Conversation"
)

// Agent runs retrieval-grounded chat turns against a conversation store,
// a search backend, and a completion backend.
//
// # Thread Safety
//
// Safe for concurrent use; all per-turn state is local.
type Agent struct {
	store  store.ConversationStore
	search search.SearchClient
	llm    llm.LLMClient
}

// NewAgent creates an agent. The search client may be nil, in which case
// every turn runs ungrounded.
func NewAgent(convStore store.ConversationStore, searchClient search.SearchClient, llmClient llm.LLMClient) *Agent {
	return &Agent{
		store:  convStore,
		search: searchClient,
		llm:    llmClient,
	}
}

// turnContext carries the per-turn state shared by the buffered and
// streaming paths.
type turnContext struct {
	conv      *datatypes.Conversation
	userMsg   *datatypes.ConversationMessage
	messages  []datatypes.Message
	citations []datatypes.Citation
	toolsUsed []datatypes.ToolInvocation
	startedAt time.Time
}

// CreateConversation creates an empty conversation for the user.
func (a *Agent) CreateConversation(ctx context.Context, userID, title string) (*datatypes.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = defaultTitle
	}
	conv := datatypes.NewConversation(userID, title)
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ProcessMessage runs a buffered chat turn and returns the persisted
// assistant message.
//
// # Description
//
//	Resolves or creates the conversation, persists the user message,
//	retrieves grounding passages, runs a buffered completion, and
//	persists the assistant reply with citations and tool records.
//	Retrieval failure degrades to an ungrounded reply; completion
//	failure returns a ModelError with the user message already saved.
func (a *Agent) ProcessMessage(ctx context.Context, userID string, req *datatypes.SendMessageRequest) (*datatypes.ConversationMessage, error) {
	ctx, span := tracer.Start(ctx, "agent.ProcessMessage")
	defer span.End()

	turn, err := a.prepareTurn(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", turn.conv.ID))

	completionStart := time.Now()
	result, err := a.llm.Chat(ctx, turn.messages, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ModelError{Provider: "llm", Err: err}
	}
	turn.toolsUsed = append(turn.toolsUsed, datatypes.ToolInvocation{
		ToolName:        "chat_completion",
		ExecutionTimeMs: time.Since(completionStart).Milliseconds(),
	})

	assistantMsg := a.buildAssistantMessage(turn, result.Content)
	if result.Usage != nil {
		assistantMsg.Metadata["token_usage"] = result.Usage
	}

	if err := a.store.AppendMessage(ctx, userID, assistantMsg); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	return assistantMsg, nil
}

// ProcessMessageStream runs a streaming chat turn, delivering chunks
// through callback.
//
// # Description
//
//	Runs the same turn as ProcessMessage but streams content deltas as
//	they arrive. Exactly one chunk has IsFinal set: on success it is an
//	empty delta carrying citations, tool records, and the turn metadata
//	of the persisted assistant message, on model failure
//	it carries Metadata["error"]. A callback failure (client gone)
//	aborts the turn without persisting the partial reply.
func (a *Agent) ProcessMessageStream(ctx context.Context, userID string, req *datatypes.SendMessageRequest,
	callback func(datatypes.StreamResponse) error) error {

	ctx, span := tracer.Start(ctx, "agent.ProcessMessageStream")
	defer span.End()

	turn, err := a.prepareTurn(ctx, userID, req)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("conversation.id", turn.conv.ID))

	messageID := uuid.New().String()

	acc, err := NewTokenAccumulator()
	if err != nil {
		return fmt.Errorf("allocate token accumulator: %w", err)
	}
	defer acc.Destroy()

	var callbackErr error
	errorChunkSent := false
	completionStart := time.Now()

	streamErr := a.llm.ChatStream(ctx, turn.messages, llm.GenerationParams{}, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if err := acc.Write(event.Content); err != nil {
				return err
			}
			chunk := datatypes.StreamResponse{
				Delta:          event.Content,
				ConversationID: turn.conv.ID,
				MessageID:      messageID,
			}
			if err := callback(chunk); err != nil {
				callbackErr = err
				return err
			}
		case llm.StreamEventError:
			errorChunkSent = true
			chunk := datatypes.StreamResponse{
				ConversationID: turn.conv.ID,
				MessageID:      messageID,
				IsFinal:        true,
				Metadata:       map[string]any{"error": event.Error},
			}
			if err := callback(chunk); err != nil {
				callbackErr = err
				return err
			}
		case llm.StreamEventDone:
			// Final chunk is sent after persistence below.
		}
		return nil
	})

	if streamErr != nil {
		// Client gone: nothing to deliver, nothing to persist.
		if callbackErr != nil {
			return fmt.Errorf("stream delivery failed: %w", callbackErr)
		}
		if !errorChunkSent {
			chunk := datatypes.StreamResponse{
				ConversationID: turn.conv.ID,
				MessageID:      messageID,
				IsFinal:        true,
				Metadata:       map[string]any{"error": streamErr.Error()},
			}
			if err := callback(chunk); err != nil {
				return fmt.Errorf("stream delivery failed: %w", err)
			}
		}
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		return &ModelError{Provider: "llm", Err: streamErr}
	}

	turn.toolsUsed = append(turn.toolsUsed, datatypes.ToolInvocation{
		ToolName:        "chat_completion",
		ExecutionTimeMs: time.Since(completionStart).Milliseconds(),
	})

	content, contentHash, err := acc.Finalize()
	if err != nil {
		return fmt.Errorf("finalize streamed reply: %w", err)
	}

	assistantMsg := a.buildAssistantMessage(turn, content)
	assistantMsg.ID = messageID

	// The final chunk mirrors the turn metadata and adds the citation
	// and tool records. The content hash stays on the persisted record.
	finalMeta := map[string]any{
		"citations":  assistantMsg.Citations,
		"tools_used": assistantMsg.ToolsUsed,
	}
	for k, v := range assistantMsg.Metadata {
		finalMeta[k] = v
	}

	assistantMsg.Metadata["response_hash"] = contentHash

	if err := a.store.AppendMessage(ctx, userID, assistantMsg); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}

	final := datatypes.StreamResponse{
		ConversationID: turn.conv.ID,
		MessageID:      messageID,
		IsFinal:        true,
		Metadata:       finalMeta,
	}
	if err := callback(final); err != nil {
		return fmt.Errorf("stream delivery failed: %w", err)
	}
	return nil
}

// prepareTurn resolves the conversation, loads history, persists the user
// message, retrieves grounding passages, and assembles the model prompt.
func (a *Agent) prepareTurn(ctx context.Context, userID string, req *datatypes.SendMessageRequest) (*turnContext, error) {
	// Handlers validate too, but the agent enforces its own contract so
	// a blank message can never create a blank-titled conversation.
	if strings.TrimSpace(req.Message) == "" {
		return nil, &datatypes.EmptyMessageError{}
	}

	turn := &turnContext{startedAt: time.Now()}

	conv, history, err := a.resolveConversation(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	turn.conv = conv

	// The user message is persisted before the model call so a failed
	// completion never loses the user's input.
	userMsg := datatypes.NewConversationMessage(conv.ID, datatypes.RoleUser, req.Message)
	if len(req.Context) > 0 {
		userMsg.Metadata = map[string]any{"context": req.Context}
	}
	if err := a.store.AppendMessage(ctx, userID, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	turn.userMsg = userMsg

	passages := a.retrievePassages(ctx, req.Message, turn)

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleSystem,
		Content: buildSystemPrompt(passages),
	})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleUser,
		Content: req.Message,
	})
	turn.messages = messages

	return turn, nil
}

// resolveConversation loads an existing conversation and its prompt
// history, or creates a new one titled from the message.
func (a *Agent) resolveConversation(ctx context.Context, userID string, req *datatypes.SendMessageRequest) (*datatypes.Conversation, []datatypes.Message, error) {
	if req.ConversationID == "" {
		conv := datatypes.NewConversation(userID, datatypes.TitleFromMessage(req.Message))
		if err := a.store.CreateConversation(ctx, conv); err != nil {
			return nil, nil, fmt.Errorf("create conversation: %w", err)
		}
		return conv, nil, nil
	}

	conv, err := a.store.GetConversation(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	stored, err := a.store.ListMessages(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversation history: %w", err)
	}

	// Only user and assistant turns go into the prompt, newest last.
	history := make([]datatypes.Message, 0, len(stored))
	for _, m := range stored {
		if m.Role != datatypes.RoleUser && m.Role != datatypes.RoleAssistant {
			continue
		}
		history = append(history, datatypes.Message{Role: m.Role, Content: m.Content})
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return conv, history, nil
}

// retrievePassages fetches grounding passages and records the retrieval
// tool invocation. Retrieval failure degrades to an ungrounded turn.
func (a *Agent) retrievePassages(ctx context.Context, query string, turn *turnContext) []search.SearchResult {
	if a.search == nil {
		return nil
	}

	retrievalStart := time.Now()
	passages, err := a.search.Search(ctx, query, retrievalLimit)
	if err != nil {
		slog.Warn("Document retrieval failed, continuing ungrounded",
			"conversation_id", turn.conv.ID, "error", err)
		return nil
	}

	turn.toolsUsed = append(turn.toolsUsed, datatypes.ToolInvocation{
		ToolName: "document_retrieval",
		Parameters: map[string]any{
			"query":   query,
			"limit":   retrievalLimit,
			"results": len(passages),
		},
		ExecutionTimeMs: time.Since(retrievalStart).Milliseconds(),
	})

	turn.citations = make([]datatypes.Citation, 0, len(passages))
	for _, p := range passages {
		turn.citations = append(turn.citations, datatypes.Citation{
			ID:             p.ID,
			Title:          p.Title,
			Source:         p.Source,
			Excerpt:        datatypes.ExcerptFromContent(p.Content),
			RelevanceScore: p.Score,
			DocumentType:   p.DocumentType,
		})
	}
	return passages
}

// buildAssistantMessage assembles the persisted assistant reply from the
// turn state and completion content.
func (a *Agent) buildAssistantMessage(turn *turnContext, content string) *datatypes.ConversationMessage {
	msg := datatypes.NewConversationMessage(turn.conv.ID, datatypes.RoleAssistant, content)
	msg.Citations = turn.citations
	msg.ToolsUsed = turn.toolsUsed
	msg.Metadata = map[string]any{
		"intent":             "sustainability_analysis",
		"confidence":         0.9,
		"processing_time_ms": time.Since(turn.startedAt).Milliseconds(),
	}
	return msg
}
