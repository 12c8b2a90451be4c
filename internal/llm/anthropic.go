package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	temperature float32
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		client: &client,
		model:  chooseModel(model, "claude-sonnet-4-5"),
	}
}

func (p *AnthropicProvider) WithTemperature(t float32) *AnthropicProvider {
	p.temperature = t
	return p
}

func (p *AnthropicProvider) Name() string {
	return fmt.Sprintf("Anthropic (%s)", p.model)
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentDelta}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		system, messages := buildAnthropicMessages(req.Messages)
		if len(messages) == 0 {
			return NewError(KindInvalidInput, p.Name(), fmt.Errorf("no user content provided"))
		}

		maxTokens := int64(anthropicMaxTokens)
		if req.MaxTokens > 0 {
			maxTokens = int64(req.MaxTokens)
		}
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(chooseModel(req.Model, p.model)),
			MaxTokens: maxTokens,
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if t := chooseFloat(req.Temperature, p.temperature); t > 0 {
			params.Temperature = anthropic.Float(float64(t))
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		emitted := false
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					emitted = true
					if err := send(ctx, events, Event{Type: EventTextDelta, Text: delta.Text}); err != nil {
						return err
					}
				}
			case anthropic.MessageDeltaEvent:
				use := Usage{OutputTokens: int(ev.Usage.OutputTokens)}
				if err := send(ctx, events, Event{Type: EventUsage, Use: &use}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return classifyStreamErr(p.Name(), fmt.Errorf("anthropic streaming error: %w", err), emitted)
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

// buildAnthropicMessages splits system text out of the message list since the
// Messages API takes it as a separate parameter.
func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return strings.Join(system, "\n\n"), out
}
