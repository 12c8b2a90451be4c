package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	apiKey      string
	model       string
	temperature float32
	topP        float32

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{
		apiKey: apiKey,
		model:  chooseModel(model, "gemini-2.5-flash"),
	}
}

func (p *GeminiProvider) WithSampling(temperature, topP float32) *GeminiProvider {
	p.temperature = temperature
	p.topP = topP
	return p
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentDelta}
}

// getClient creates the client on first use. Failures are not cached so a
// later turn can retry.
func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, NewError(KindProviderUnavailable, p.Name(), fmt.Errorf("create gemini client: %w", err))
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return NewError(KindInvalidInput, p.Name(), fmt.Errorf("no user content provided"))
		}

		cfg := &genai.GenerateContentConfig{}
		if system != "" {
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
		}
		if t := chooseFloat(req.Temperature, p.temperature); t > 0 {
			cfg.Temperature = genai.Ptr(t)
		}
		if tp := chooseFloat(req.TopP, p.topP); tp > 0 {
			cfg.TopP = genai.Ptr(tp)
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(req.MaxTokens)
		}

		emitted := false
		var usage Usage
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, cfg) {
			if err != nil {
				return classifyStreamErr(p.Name(), fmt.Errorf("gemini streaming error: %w", err), emitted)
			}
			if resp.UsageMetadata != nil {
				usage = Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			if text := resp.Text(); text != "" {
				emitted = true
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
					return err
				}
			}
		}

		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			if err := send(ctx, events, Event{Type: EventUsage, Use: &usage}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}
