package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAICompatProvider talks to any server exposing the OpenAI chat
// completions wire format (vLLM, LM Studio, llama.cpp server, Groq...).
type OpenAICompatProvider struct {
	client      *goopenai.Client
	name        string
	baseURL     string
	model       string
	temperature float32
	topP        float32
}

func NewOpenAICompatProvider(name, baseURL, apiKey, model string) *OpenAICompatProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAICompatProvider{
		client:  goopenai.NewClientWithConfig(cfg),
		name:    name,
		baseURL: cfg.BaseURL,
		model:   model,
	}
}

func (p *OpenAICompatProvider) WithSampling(temperature, topP float32) *OpenAICompatProvider {
	p.temperature = temperature
	p.topP = topP
	return p
}

func (p *OpenAICompatProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *OpenAICompatProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentDelta}
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	model := chooseModel(req.Model, p.model)
	if model == "" {
		return nil, NewError(KindProviderUnavailable, p.Name(), fmt.Errorf("no model configured for %s", p.baseURL))
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		chatReq := goopenai.ChatCompletionRequest{
			Model:       model,
			Messages:    buildCompatMessages(req.Messages),
			Stream:      true,
			Temperature: chooseFloat(req.Temperature, p.temperature),
			TopP:        chooseFloat(req.TopP, p.topP),
			MaxTokens:   req.MaxTokens,
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return classifyStreamErr(p.Name(), fmt.Errorf("create stream: %w", err), false)
		}
		defer stream.Close()

		emitted := false
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return classifyStreamErr(p.Name(), fmt.Errorf("stream recv: %w", err), emitted)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				emitted = true
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
					return err
				}
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildCompatMessages(messages []Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case RoleUser:
			role = goopenai.ChatMessageRoleUser
		case RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		default:
			continue
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
