// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds gateway configuration options.
//
// Values can come from a YAML file (LoadConfig), environment variables
// (ApplyEnvOverrides), or be set programmatically for testing. Zero
// values get defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int `yaml:"port"`

	// LLMBackend specifies the completion provider.
	// Valid values: "ollama", "openai". Default: "ollama"
	LLMBackend string `yaml:"llm_backend"`

	// WeaviateURL is the vector database URL. If empty, retrieval is
	// disabled and chat turns run ungrounded.
	// Example: "http://localhost:8080"
	WeaviateURL string `yaml:"weaviate_url"`

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "greenguardian-otel-collector:4317"
	OTelEndpoint string `yaml:"otel_endpoint"`

	// DataDir is where the conversation store keeps its files.
	// Default: "./data/conversations"
	DataDir string `yaml:"data_dir"`

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string `yaml:"gin_mode"`

	// ShutdownTimeout is the drain window for in-flight requests on
	// SIGINT/SIGTERM. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "greenguardian-otel-collector:4317"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/conversations"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return cfg
}

// LoadConfig reads a YAML config file. A missing file is not an error;
// the zero Config is returned so defaults and env overrides apply.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnvOverrides layers environment variables over the config.
// Environment always wins over file values.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("LLM_BACKEND"); v != "" {
		cfg.LLMBackend = v
	}
	if v := os.Getenv("WEAVIATE_URL"); v != "" {
		cfg.WeaviateURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("GATEWAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.GinMode = v
	}
	return cfg
}
