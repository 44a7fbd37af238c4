package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/llm"
	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/metrics"
)

const (
	maxBusinessLength   = 500
	generateTimeout     = 60 * time.Second
	generateMaxTokens   = 1024
	generateTemperature = 0.7
)

const generatePrompt = `Write a short scripted chat for the demo widget on the website of %s.
A visitor (the lead) asks questions and the business's AI assistant answers them, ending with the lead booking, ordering or getting what they came for.

Respond with only a JSON array, no prose. Each element is exactly one of:
{"type":"lead_message","text":"..."}
{"type":"ai_reply","text":"..."}
{"type":"pause","duration_ms":800}

Use between 4 and 10 elements. Start with a lead_message. Keep every text under 160 characters.`

// ScriptGenerator asks an LLM for a new demo script and adds it to the catalog.
type ScriptGenerator struct {
	client  llm.Client
	catalog *script.Catalog
	logger  *logger.Logger
}

// NewScriptGenerator creates a new script generator. client may be nil, in
// which case Generate fails with ErrLLMUnavailable.
func NewScriptGenerator(client llm.Client, catalog *script.Catalog, log *logger.Logger) *ScriptGenerator {
	return &ScriptGenerator{
		client:  client,
		catalog: catalog,
		logger:  log,
	}
}

// Available reports whether a provider is configured.
func (g *ScriptGenerator) Available() bool {
	return g.client != nil
}

// Generate creates, validates and registers a script.
func (g *ScriptGenerator) Generate(ctx context.Context, req *model.GenerateScriptRequest) (*model.Script, error) {
	ctx, span := tracer.Start(ctx, "ScriptGenerator.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("script.id", req.ID))

	if !script.ValidID(req.ID) {
		return nil, fmt.Errorf("%w: invalid script id %q", ErrInvalidRequest, req.ID)
	}
	business := strings.TrimSpace(req.Business)
	if business == "" {
		return nil, fmt.Errorf("%w: business is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(business) > maxBusinessLength {
		return nil, fmt.Errorf("%w: business exceeds %d characters", ErrInvalidRequest, maxBusinessLength)
	}
	if _, exists := g.catalog.Get(req.ID); exists {
		return nil, fmt.Errorf("%w: %s", script.ErrDuplicateScript, req.ID)
	}
	if g.client == nil {
		return nil, ErrLLMUnavailable
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = business
	}

	provider := g.client.Name()
	span.SetAttributes(attribute.String("llm.provider", provider))

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Model: req.Model,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(generatePrompt, business)},
		},
		MaxTokens:   generateMaxTokens,
		Temperature: generateTemperature,
	})
	if err != nil {
		metrics.RecordGenerate(provider, "error", time.Since(start).Seconds())
		span.RecordError(err)
		g.logger.Error("script generation failed", zap.String("provider", provider), zap.Error(err))
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}

	sc, err := script.ParseGenerated(req.ID, title, resp.Content)
	if err == nil {
		err = g.catalog.Add(sc)
	}
	if err != nil {
		status := "duplicate"
		if !errors.Is(err, script.ErrDuplicateScript) {
			status = "invalid"
			err = fmt.Errorf("%w: %w", ErrGeneratedScriptRejected, err)
		}
		metrics.RecordGenerate(provider, status, time.Since(start).Seconds())
		span.RecordError(err)
		g.logger.Warn("generated script rejected",
			zap.String("provider", provider),
			zap.String("script_id", req.ID),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.RecordGenerate(provider, "success", time.Since(start).Seconds())
	g.logger.Info("script generated",
		zap.String("provider", provider),
		zap.String("model", resp.Model),
		zap.String("script_id", sc.ID),
		zap.Int("events", len(sc.Events)),
		zap.Int("tokens_out", resp.TokensOut),
	)

	return &sc, nil
}
