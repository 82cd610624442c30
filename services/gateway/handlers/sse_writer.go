// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter defines the contract for writing chat stream chunks over
// Server-Sent Events.
//
// # Description
//
// StreamWriter abstracts the SSE wire format so handlers can be tested
// without HTTP response mechanics. Each chunk is written as:
//
//	data: {json}
//
// followed by a blank line, and the stream terminates with:
//
//	data: [DONE]
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the heartbeat
// goroutine writes concurrently with the chunk stream.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before writing
type StreamWriter interface {
	// WriteChunk serializes the chunk to JSON and writes it as an SSE
	// data frame, flushing immediately.
	WriteChunk(chunk datatypes.StreamResponse) error

	// WriteDone writes the "[DONE]" terminator frame.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the
	// connection alive through load balancer idle timeouts.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseStreamWriter implements StreamWriter for HTTP SSE responses.
type sseStreamWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// Compile-time interface check.
var _ StreamWriter = (*sseStreamWriter)(nil)

// NewStreamWriter creates a StreamWriter for the given ResponseWriter.
//
// # Outputs
//
//	StreamWriter - Ready to write chunks.
//	error - Non-nil if the ResponseWriter does not support http.Flusher.
func NewStreamWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseStreamWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

func (w *sseStreamWriter) WriteChunk(chunk datatypes.StreamResponse) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseStreamWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseStreamWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Sets Content-Type: text/event-stream, Cache-Control: no-cache,
// Connection: keep-alive, and X-Accel-Buffering: no (disables nginx
// buffering). Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
