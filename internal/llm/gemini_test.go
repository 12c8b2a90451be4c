package llm

import (
	"context"
	"testing"
)

func TestGeminiClientRetriesAfterFailure(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	p := NewGeminiProvider("", "")
	if _, err := p.getClient(context.Background()); err == nil {
		t.Fatal("expected error without an api key")
	}

	p.apiKey = "test-key"
	client, err := p.getClient(context.Background())
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	again, err := p.getClient(context.Background())
	if err != nil || again != client {
		t.Errorf("client should be reused once created, err=%v", err)
	}
}

func TestGeminiStreamWithoutKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := NewGeminiProvider("", "").Stream(context.Background(), Request{Messages: []Message{UserText("x")}})
	if KindOf(err) != KindProviderUnavailable {
		t.Fatalf("kind=%v err=%v", KindOf(err), err)
	}
}
