// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable contracts of the gateway.
//
// The gateway core depends only on the interfaces in this package. Deployments
// swap in their own implementations (identity providers, audit sinks) without
// modifying gateway code. The package deliberately has no dependencies beyond
// the standard library so forks can implement providers without pulling the
// gateway's stack.
package extensions

import "os"

// ServiceOptions carries pluggable implementations into the gateway service.
//
// All fields are optional. Nil fields are replaced by the no-op defaults from
// DefaultOptions() during service construction.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on /v1 routes.
	// Default: NopAuthProvider (all requests become "local-user").
	AuthProvider AuthProvider
}

// DefaultOptions returns the no-op option set used when no custom
// implementations are supplied.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
	}
}

// OptionsFromEnv builds ServiceOptions from the environment.
//
// When GATEWAY_API_TOKENS is set, a StaticTokenAuthProvider is configured
// from it; otherwise the no-op provider is used. The error is non-nil only
// when GATEWAY_API_TOKENS is present but malformed.
func OptionsFromEnv() (ServiceOptions, error) {
	opts := DefaultOptions()
	if spec := os.Getenv("GATEWAY_API_TOKENS"); spec != "" {
		provider, err := NewStaticTokenAuthProvider(spec)
		if err != nil {
			return opts, err
		}
		opts.AuthProvider = provider
	}
	return opts, nil
}
