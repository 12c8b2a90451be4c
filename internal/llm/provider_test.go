package llm

import (
	"testing"

	"github.com/samsaffron/codereview-chat/internal/config"
)

func TestParseProviderModel(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"anthropic": {Model: "claude-sonnet-4-5"},
			"openai":    {Model: "gpt-4o-mini"},
			"gemini":    {Model: "gemini-2.5-flash"},
			"cerebras": {
				Type:    config.ProviderTypeOpenAICompat,
				BaseURL: "https://api.cerebras.ai/v1",
				Model:   "llama-4-scout-17b",
			},
		},
	}

	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{name: "provider only", input: "gemini", wantProvider: "gemini"},
		{name: "provider with model", input: "openai:gpt-4o", wantProvider: "openai", wantModel: "gpt-4o"},
		{name: "custom provider", input: "cerebras:llama-4-scout-17b", wantProvider: "cerebras", wantModel: "llama-4-scout-17b"},
		{name: "builtin type not in config", input: "ollama:qwen2.5-coder", wantProvider: "ollama", wantModel: "qwen2.5-coder"},
		{name: "ollama tag kept in model", input: "ollama:llama3.2:1b", wantProvider: "ollama", wantModel: "llama3.2:1b"},
		{name: "invalid provider", input: "unknown:model", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider, model, err := ParseProviderModel(tc.input, cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider != tc.wantProvider {
				t.Fatalf("provider=%q, want %q", provider, tc.wantProvider)
			}
			if model != tc.wantModel {
				t.Fatalf("model=%q, want %q", model, tc.wantModel)
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai":    {APIKey: "sk-test", Model: "gpt-4o-mini"},
			"anthropic": {APIKey: "sk-ant", Model: "claude-sonnet-4-5"},
			"gemini":    {APIKey: "g-key"},
			"nokey":     {Type: config.ProviderTypeOpenAI},
			"lmstudio":  {BaseURL: "http://localhost:1234/v1", Model: "qwen"},
			"ollama":    {Model: "llama3.2"},
			"server":    {Type: config.ProviderTypeRemote, BaseURL: "http://review.internal:8080"},
			"debug":     {Type: config.ProviderTypeDebug, Model: "fast"},
		},
	}

	tests := []struct {
		name     string
		wantErr  bool
		wantMode FragmentMode
		local    bool
	}{
		{name: "openai", wantMode: FragmentDelta},
		{name: "anthropic", wantMode: FragmentDelta},
		{name: "gemini", wantMode: FragmentDelta},
		{name: "nokey", wantErr: true},
		{name: "lmstudio", wantMode: FragmentDelta},
		{name: "ollama", wantMode: FragmentSnapshot, local: true},
		{name: "server", wantMode: FragmentDelta},
		{name: "debug", wantMode: FragmentDelta},
		{name: "missing", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewProvider(cfg, tc.name)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tc.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider(%s): %v", tc.name, err)
			}
			caps := p.Capabilities()
			if caps.FragmentMode != tc.wantMode {
				t.Errorf("mode=%v, want %v", caps.FragmentMode, tc.wantMode)
			}
			if caps.Local != tc.local {
				t.Errorf("local=%v, want %v", caps.Local, tc.local)
			}
			if p.Name() == "" {
				t.Error("expected non-empty name")
			}
		})
	}
}

func TestConversationHelpers(t *testing.T) {
	conv := Conversation{UserText("first"), AssistantText("reply")}
	next := conv.Append(UserText("second"))
	if len(conv) != 2 || len(next) != 3 {
		t.Fatalf("append mutated original: %d/%d", len(conv), len(next))
	}
	next[0].Content = "changed"
	if conv[0].Content != "first" {
		t.Fatal("Append shares backing array with original")
	}
	if got := next.FirstUserText(); got != "changed" {
		t.Errorf("FirstUserText=%q", got)
	}

	msgs := conv.WithSystemPrompt("be terse")
	if len(msgs) != 3 || msgs[0].Role != RoleSystem || msgs[0].Content != "be terse" {
		t.Fatalf("unexpected system prefix: %+v", msgs)
	}
	if got := conv.WithSystemPrompt("  "); len(got) != 2 {
		t.Fatalf("blank prompt should be skipped, got %d messages", len(got))
	}
}
