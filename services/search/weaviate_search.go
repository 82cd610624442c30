// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const documentClassName = "Document"

var tracer = otel.Tracer("greenguardian.services.search")

// WeaviateSearch is a SearchClient backed by Weaviate semantic search
// over the Document class.
type WeaviateSearch struct {
	client *weaviate.Client
}

// Compile-time check that WeaviateSearch implements SearchClient.
var _ SearchClient = (*WeaviateSearch)(nil)

// NewWeaviateSearch creates a search client using the given Weaviate
// connection.
func NewWeaviateSearch(client *weaviate.Client) *WeaviateSearch {
	return &WeaviateSearch{client: client}
}

// Search runs a nearText query against the Document class.
//
// # Description
//
//	Retrieves up to limit passages semantically close to the query.
//	Weaviate's certainty score is used as the relevance score, clamped
//	to [0, 1]. Results missing a certainty fall back to 0.5.
//
// # Outputs
//
//	[]SearchResult - Passages ordered by descending relevance.
//	error - *RetrievalError when the backend call or query fails.
func (s *WeaviateSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "search.weaviate",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int("search.limit", limit))

	if limit <= 0 {
		limit = 5
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "source"},
		{Name: "document_type"},
		{Name: "_additional { id certainty }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(documentClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, newRetrievalError(err)
	}
	if len(result.Errors) > 0 {
		return nil, &RetrievalError{Message: result.Errors[0].Message, Retryable: false}
	}

	results := parseSearchResponse(result)
	slog.Debug("Retrieved document passages", "count", len(results), "limit", limit)
	return results, nil
}

// newRetrievalError maps a Weaviate client failure to a RetrievalError.
// Unexpected HTTP statuses carry the status code; transport failures have
// no status and are treated as retryable.
func newRetrievalError(err error) *RetrievalError {
	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) && clientErr.StatusCode > 0 {
		return &RetrievalError{
			StatusCode: clientErr.StatusCode,
			Message:    err.Error(),
			Retryable:  isRetryableStatusCode(clientErr.StatusCode),
		}
	}
	return &RetrievalError{Message: err.Error(), Retryable: true}
}

// parseSearchResponse converts a Weaviate GraphQL response into search
// results. Malformed objects are skipped rather than failing the query.
func parseSearchResponse(result *models.GraphQLResponse) []SearchResult {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []SearchResult{}
	}

	objects, ok := data[documentClassName].([]interface{})
	if !ok {
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		res := SearchResult{
			Title:        getString(m, "title"),
			Content:      getString(m, "content"),
			Source:       getString(m, "source"),
			DocumentType: getString(m, "document_type"),
			Score:        0.5,
		}

		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				res.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				res.Score = clampScore(certainty)
			}
		}

		results = append(results, res)
	}
	return results
}

// clampScore bounds a backend relevance score to [0, 1].
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
