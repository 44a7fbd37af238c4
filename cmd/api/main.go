// Package main is the entry point for the demo chat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/config"
	"github.com/capitalize-ai/chat-demo/internal/handler"
	"github.com/capitalize-ai/chat-demo/internal/llm"
	natsclient "github.com/capitalize-ai/chat-demo/internal/nats"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/tracing"
)

const janitorInterval = time.Minute

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting demo chat server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-demo", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Load the script catalog
	catalog, err := script.Load(cfg.ScriptsPath)
	if err != nil {
		log.Fatal("failed to load script catalog", zap.String("path", cfg.ScriptsPath), zap.Error(err))
	}
	log.Info("script catalog loaded", zap.Int("scripts", catalog.Len()))

	// Connect to NATS when the event log is enabled
	var natsClient *natsclient.Client
	var events service.EventLog = service.NopEventLog{}
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		events = streamManager
	} else {
		log.Info("NATS disabled, demo history will not be recorded")
	}

	// Initialize LLM client
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		log.Warn("failed to create LLM client, script generation disabled", zap.Error(err))
		llmClient = nil
	}
	if llmClient == nil {
		log.Info("no LLM provider configured, script generation disabled")
	} else {
		log.Info("LLM provider configured", zap.String("provider", llmClient.Name()))
	}

	// Initialize services
	demoSvc := service.NewDemoService(catalog, events, log,
		service.WithMaxSessions(cfg.MaxSessions),
		service.WithSessionTTL(cfg.SessionTTL),
	)
	defer demoSvc.Close()
	generator := service.NewScriptGenerator(llmClient, catalog, log)

	go demoSvc.RunJanitor(ctx, janitorInterval)

	router := handler.NewRouter(handler.RouterConfig{
		Demos:             demoSvc,
		Catalog:           catalog,
		Generator:         generator,
		NATS:              natsClient,
		Logger:            log,
		NATSRequired:      cfg.NATSEnabled,
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Heartbeat:         handler.DefaultHeartbeat,
	})

	// Create HTTP server. WriteTimeout stays 0 by default so event streams
	// and websockets are not cut off.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing sessions first ends open event streams.
	demoSvc.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
