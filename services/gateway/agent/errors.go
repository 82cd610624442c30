// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"errors"
	"fmt"
)

// ModelError indicates a completion backend failure. Unlike retrieval
// failures, a model failure is fatal for the chat turn.
type ModelError struct {
	// Provider names the backend that failed (e.g. "ollama", "openai").
	Provider string

	// Err is the underlying failure.
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model completion failed (%s): %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// IsModelError checks if an error is a ModelError.
func IsModelError(err error) bool {
	var modelErr *ModelError
	return errors.As(err, &modelErr)
}
