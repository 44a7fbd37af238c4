package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/capitalize-ai/chat-demo/internal/llm"
	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
)

type fakeLLM struct {
	content string
	err     error
	prompts []string
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	for _, m := range req.Messages {
		f.prompts = append(f.prompts, m.Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Model: "fake-1"}, nil
}

const generatedOutput = "Here is your script:\n```json\n" + `[
  {"type": "lead_message", "text": "Do you deliver?"},
  {"type": "pause", "duration_ms": 500},
  {"type": "ai_reply", "text": "Yes, within five miles."}
]` + "\n```"

func newGenerator(t *testing.T, client llm.Client) (*ScriptGenerator, *script.Catalog) {
	t.Helper()
	catalog, err := script.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return NewScriptGenerator(client, catalog, logger.NewNop()), catalog
}

func TestGenerate(t *testing.T) {
	client := &fakeLLM{content: generatedOutput}
	gen, catalog := newGenerator(t, client)

	sc, err := gen.Generate(context.Background(), &model.GenerateScriptRequest{
		ID:       "pizza-delivery",
		Business: "a pizza shop",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(sc.Events) != 3 || sc.Source != script.SourceGenerated {
		t.Errorf("unexpected script %+v", sc)
	}
	if sc.Title != "a pizza shop" {
		t.Errorf("expected title to default to business, got %q", sc.Title)
	}
	if _, ok := catalog.Get("pizza-delivery"); !ok {
		t.Error("expected generated script in catalog")
	}
	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "a pizza shop") {
		t.Errorf("expected prompt to mention the business, got %v", client.prompts)
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		client  llm.Client
		req     model.GenerateScriptRequest
		wantErr error
	}{
		{
			name:    "invalid id",
			client:  &fakeLLM{content: generatedOutput},
			req:     model.GenerateScriptRequest{ID: "Bad ID", Business: "a bakery"},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing business",
			client:  &fakeLLM{content: generatedOutput},
			req:     model.GenerateScriptRequest{ID: "bakery", Business: "  "},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "no provider",
			client:  nil,
			req:     model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"},
			wantErr: ErrLLMUnavailable,
		},
		{
			name:    "unparseable output",
			client:  &fakeLLM{content: "I cannot help with that."},
			req:     model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"},
			wantErr: ErrGeneratedScriptRejected,
		},
		{
			name:    "invalid event",
			client:  &fakeLLM{content: `[{"type":"shout","text":"HI"}]`},
			req:     model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"},
			wantErr: script.ErrInvalidScript,
		},
		{
			name:    "invalid event rejected",
			client:  &fakeLLM{content: `[{"type":"shout","text":"HI"}]`},
			req:     model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"},
			wantErr: ErrGeneratedScriptRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, catalog := newGenerator(t, tt.client)
			_, err := gen.Generate(context.Background(), &tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Generate() error = %v, want %v", err, tt.wantErr)
			}
			if catalog.Len() != 0 {
				t.Errorf("expected empty catalog, got %d scripts", catalog.Len())
			}
		})
	}
}

func TestGenerate_DuplicateSkipsProvider(t *testing.T) {
	client := &fakeLLM{content: generatedOutput}
	gen, catalog := newGenerator(t, client)
	if err := catalog.Add(model.Script{ID: "bakery", Events: []model.ScriptEvent{model.LeadMessage("hi")}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	_, err := gen.Generate(context.Background(), &model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"})
	if !errors.Is(err, script.ErrDuplicateScript) {
		t.Errorf("expected ErrDuplicateScript, got %v", err)
	}
	if len(client.prompts) != 0 {
		t.Error("expected no provider call for a duplicate id")
	}
}

func TestGenerate_ProviderError(t *testing.T) {
	gen, _ := newGenerator(t, &fakeLLM{err: errors.New("rate limited")})

	_, err := gen.Generate(context.Background(), &model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}
