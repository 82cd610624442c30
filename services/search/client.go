// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package search provides semantic document retrieval for chat grounding.
package search

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SearchClient Interface
// =============================================================================

// SearchClient retrieves document passages relevant to a query.
//
// # Description
//
// The chat agent uses this interface to ground replies in ingested
// documents. Implementations must return results ordered by descending
// relevance and must clamp Score to [0, 1].
//
// # Limitations
//
// Retrieval is best-effort from the caller's perspective: the agent
// degrades to an ungrounded reply when Search fails.
type SearchClient interface {
	// Search returns up to limit passages relevant to the query.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearchResult is a single retrieved document passage.
type SearchResult struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Source       string  `json:"source"`
	Score        float64 `json:"score"`
	DocumentType string  `json:"document_type"`
}

// =============================================================================
// Errors
// =============================================================================

// RetrievalError indicates a failure in the retrieval backend.
type RetrievalError struct {
	// StatusCode is the HTTP-equivalent status of the failure, when known.
	StatusCode int

	// Message describes the failure.
	Message string

	// Retryable indicates whether the caller may retry.
	Retryable bool
}

func (e *RetrievalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("retrieval failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("retrieval failed: %s", e.Message)
}

// IsRetrievalError checks if an error is a RetrievalError.
func IsRetrievalError(err error) bool {
	var retrievalErr *RetrievalError
	return errors.As(err, &retrievalErr)
}

// isRetryableStatusCode reports whether an HTTP status from the retrieval
// backend is worth retrying.
func isRetryableStatusCode(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}
