package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider using the OpenAI chat completions API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	topP        float32
}

func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client: &client,
		model:  chooseModel(model, "gpt-4o-mini"),
	}
}

// WithSampling sets default sampling parameters used when a request does not
// carry its own.
func (p *OpenAIProvider) WithSampling(temperature, topP float32) *OpenAIProvider {
	p.temperature = temperature
	p.topP = topP
	return p
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentDelta}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildOpenAIMessages(req.Messages)
		if len(messages) == 0 {
			return NewError(KindInvalidInput, p.Name(), fmt.Errorf("no messages provided"))
		}

		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
			Messages: messages,
		}
		if t := chooseFloat(req.Temperature, p.temperature); t > 0 {
			params.Temperature = openai.Float(float64(t))
		}
		if tp := chooseFloat(req.TopP, p.topP); tp > 0 {
			params.TopP = openai.Float(float64(tp))
		}
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}

		slog.Debug("openai stream", "model", params.Model, "messages", len(messages), "request_id", req.RequestID)

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		emitted := false
		var usage Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				emitted = true
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return classifyStreamErr(p.Name(), fmt.Errorf("openai streaming error: %w", err), emitted)
		}

		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			if err := send(ctx, events, Event{Type: EventUsage, Use: &usage}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		}
	}
	return out
}
