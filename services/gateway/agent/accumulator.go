// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file implements secure token accumulation for streaming replies.
// Tokens are stored in mlocked memory so partial model output is not
// swapped to disk, and are incrementally hashed for integrity checking.

package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// AccumulatorBufferSize is the capacity of the reply buffer. 512 KB holds
// roughly 131k tokens at 4 bytes per token, ample for a single reply.
const AccumulatorBufferSize = 512 * 1024

// TokenAccumulator collects streamed reply tokens.
//
// # Description
//
// Abstracts token storage during streaming so the secure (mlocked) and
// plain implementations are interchangeable. Tokens are hashed as they
// arrive.
//
// # Limitations
//
//   - Capacity is fixed; overflow fails the accumulation.
//   - An accumulator cannot be reused after Finalize or Destroy.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type TokenAccumulator interface {
	// Write appends a token. Returns an error on overflow or after the
	// accumulator has been finalized or destroyed.
	Write(token string) error

	// Finalize returns the accumulated reply and its SHA-256 hash (hex),
	// then wipes the buffer.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes the buffer without returning data. Idempotent.
	Destroy()

	// ID returns a unique identifier for logging.
	ID() string
}

// NewTokenAccumulator creates an accumulator for one streamed reply.
//
// Uses mlocked memory by default. Set GATEWAY_INSECURE_MEMORY=true to
// use plain memory on systems with restrictive mlock limits.
func NewTokenAccumulator() (TokenAccumulator, error) {
	if os.Getenv("GATEWAY_INSECURE_MEMORY") == "true" {
		return newPlainAccumulator(), nil
	}

	buf := memguard.NewBuffer(AccumulatorBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", AccumulatorBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()
	slog.Debug("Created secure token accumulator", "accumulator_id", accID)

	return &secureAccumulator{
		id:     accID,
		buffer: buf,
		hasher: sha256.New(),
	}, nil
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator stores tokens in a memguard LockedBuffer. The buffer
// is mlocked, guarded against overflow, and explicitly zeroed on wipe.
type secureAccumulator struct {
	id        string
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow: reply too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), AccumulatorBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer))
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *secureAccumulator) ID() string {
	return a.id
}

// wipe destroys the locked buffer. Caller must hold the mutex.
func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// Plain Fallback Implementation
// =============================================================================

// plainAccumulator uses ordinary Go memory. Data may be swapped to disk;
// wiping is best-effort because the GC may hold copies.
type plainAccumulator struct {
	id        string
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newPlainAccumulator() *plainAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE token accumulator - data may be swapped to disk",
		"accumulator_id", accID)
	return &plainAccumulator{
		id:     accID,
		data:   make([]byte, 0, AccumulatorBufferSize),
		hasher: sha256.New(),
	}
}

func (a *plainAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow: reply too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), AccumulatorBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *plainAccumulator) ID() string {
	return a.id
}

func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}
