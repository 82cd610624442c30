// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway provides the core backend service for Green Guardian.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, conversation storage, the RAG agent, LLM
// clients, vector database, and observability infrastructure.
//
// # Extension Integration
//
// The gateway supports dependency injection via extensions.ServiceOptions,
// enabling deployments to provide custom implementations of:
//   - AuthProvider: Custom authentication (JWT, API keys)
//
// # Usage
//
// Local development (no-op auth, everything on defaults):
//
//	cfg := gateway.Config{Port: 8080}
//	svc, err := gateway.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/greenguardian-ai/gateway/pkg/extensions"
	"github.com/greenguardian-ai/gateway/services/gateway/agent"
	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
	"github.com/greenguardian-ai/gateway/services/gateway/observability"
	"github.com/greenguardian-ai/gateway/services/gateway/routes"
	"github.com/greenguardian-ai/gateway/services/gateway/store"
	"github.com/greenguardian-ai/gateway/services/llm"
	"github.com/greenguardian-ai/gateway/services/search"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// SIGINT and SIGTERM trigger a graceful drain before return.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// All fields are read-only after New() returns.
type service struct {
	config         Config
	opts           extensions.ServiceOptions
	router         *gin.Engine
	convStore      store.ConversationStore
	agent          *agent.Agent
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	metrics        *observability.ChatMetrics
	tracerCleanup  func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a gateway Service with the given configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the conversation store
//  5. Creates a Weaviate client if a URL is configured
//  6. Creates the LLM client for the configured backend
//  7. Assembles the RAG agent and HTTP routes
//
// If opts is nil, DefaultOptions() is used (no-op auth).
//
// # Limitations
//
//   - Weaviate is optional; without it chat turns run ungrounded
//   - LLM client creation may fail if provider env vars are missing
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = &extensions.NopAuthProvider{}
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.metrics = observability.InitMetrics()
	slog.Info("Initialized Prometheus metrics for chat streaming")

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, chat will run ungrounded",
			"error", err)
		// Not fatal. Retrieval degrades to no citations.
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	var searchClient search.SearchClient
	if s.weaviateClient != nil {
		searchClient = search.NewWeaviateSearch(s.weaviateClient)
	}
	s.agent = agent.NewAgent(s.convStore, searchClient, s.llmClient)

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// On SIGINT or SIGTERM the server stops accepting connections, in-flight
// requests get a drain window, then resources are released.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting gateway server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("greenguardian-gateway")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the Badger-backed conversation store.
func (s *service) initStore() error {
	cfg := store.DefaultDBConfig()
	cfg.Path = s.config.DataDir
	cfg.Logger = slog.Default()

	st, err := store.NewBadgerStore(cfg)
	if err != nil {
		return err
	}

	s.convStore = st
	slog.Info("Conversation store opened", "path", s.config.DataDir)
	return nil
}

// initWeaviate initializes the Weaviate vector database client.
//
// Returns nil without a client when no URL is configured; retrieval is
// an optional dependency.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, running without retrieval")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initLLMClient creates the completion client for the configured backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOllamaClient()
	}

	return err
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("greenguardian-gateway"))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Agent:        s.agent,
		Store:        s.convStore,
		Weaviate:     s.weaviateClient,
		AuthProvider: s.opts.AuthProvider,
		Metrics:      s.metrics,
	})
}

// cleanup releases all resources held by the service.
// Called when Run() exits or on initialization failure.
func (s *service) cleanup() {
	if s.convStore != nil {
		if err := s.convStore.Close(); err != nil {
			slog.Warn("Conversation store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
