// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gateway starts the Green Guardian backend HTTP server.
//
// Configuration is layered: built-in defaults, then an optional YAML
// file, then environment variables.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 8080)
//   - LLM_BACKEND: Completion provider - ollama, openai (default: ollama)
//   - WEAVIATE_URL: Weaviate vector DB URL (optional; no retrieval without it)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: greenguardian-otel-collector:4317)
//   - GATEWAY_DATA_DIR: Conversation store directory (default: ./data/conversations)
//   - GATEWAY_API_TOKENS: Static bearer tokens, "token:user" pairs separated by commas
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway serve --config gateway.yaml
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/greenguardian-ai/gateway/pkg/extensions"
	"github.com/greenguardian-ai/gateway/services/gateway"
)

// Set via -ldflags at build time.
var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Green Guardian backend gateway",
		Long: `The gateway serves the Green Guardian conversational API:
conversation management, retrieval-augmented chat with buffered and
streaming delivery, and document ingestion into the knowledge base.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "gateway.yaml", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = gateway.ApplyEnvOverrides(cfg)

	opts, err := extensions.OptionsFromEnv()
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}

	slog.Info("Starting gateway",
		"version", version,
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := gateway.New(cfg, &opts)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	return svc.Run()
}
