package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samsaffron/codereview-chat/internal/ollama"
)

// LocalRuntime is a model runtime living on this machine. Generate reports
// cumulative output: every call to onSnapshot carries the full text so far.
type LocalRuntime interface {
	Load(ctx context.Context, model string, progress func(LoadProgress)) error
	Generate(ctx context.Context, model string, req Request, onSnapshot func(string) error) error
}

// LocalProvider runs generation on a LocalRuntime. The runtime is loaded
// lazily on the first turn and reused afterwards; a failed load is not
// remembered so the next turn retries.
type LocalProvider struct {
	runtime LocalRuntime
	model   string
	label   string

	mu      sync.Mutex
	loaded  bool
	loading chan struct{} // closed when the in-flight Load returns
}

func NewLocalProvider(label string, runtime LocalRuntime, model string) *LocalProvider {
	return &LocalProvider{runtime: runtime, model: model, label: label}
}

func (p *LocalProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.label, p.model)
}

func (p *LocalProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentSnapshot, Local: true}
}

// Loaded reports whether the runtime finished its one-time initialisation.
func (p *LocalProvider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// ensureLoaded initialises the runtime once. Concurrent callers wait for the
// in-flight load but give up when their own ctx ends.
func (p *LocalProvider) ensureLoaded(ctx context.Context, progress func(LoadProgress)) error {
	for {
		p.mu.Lock()
		if p.loaded {
			p.mu.Unlock()
			return nil
		}
		if wait := p.loading; wait != nil {
			p.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		done := make(chan struct{})
		p.loading = done
		p.mu.Unlock()

		err := p.runtime.Load(ctx, p.model, progress)

		p.mu.Lock()
		p.loading = nil
		p.loaded = err == nil
		p.mu.Unlock()
		close(done)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return NewError(KindModelInitFailed, p.Name(), err)
		}
		slog.Info("local model ready", "provider", p.label, "model", p.model)
		return nil
	}
}

func (p *LocalProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		err := p.ensureLoaded(ctx, func(lp LoadProgress) {
			_ = send(ctx, events, Event{Type: EventLoadProgress, Load: &lp})
		})
		if err != nil {
			return err
		}

		var norm SnapshotNormalizer
		err = p.runtime.Generate(ctx, chooseModel(req.Model, p.model), req, func(snapshot string) error {
			ev, changed := norm.Next(snapshot)
			if !changed {
				return nil
			}
			return send(ctx, events, ev)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return NewError(KindGenerationFailed, p.Name(), err)
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

// OllamaRuntime adapts an Ollama client to LocalRuntime. Load checks that
// the runtime is reachable and pulls the model when it is not installed.
type OllamaRuntime struct {
	client      *ollama.Client
	temperature float32
	topP        float32
}

func NewOllamaRuntime(client *ollama.Client, temperature, topP float32) *OllamaRuntime {
	return &OllamaRuntime{client: client, temperature: temperature, topP: topP}
}

func (r *OllamaRuntime) Load(ctx context.Context, model string, progress func(LoadProgress)) error {
	if model == "" {
		return fmt.Errorf("no local model configured")
	}
	report := func(lp LoadProgress) {
		if progress != nil {
			progress(lp)
		}
	}

	report(LoadProgress{Status: "connecting to " + r.client.BaseURL()})
	if err := r.client.CheckRunning(ctx); err != nil {
		return err
	}

	installed, err := r.client.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if !installed {
		err := r.client.Pull(ctx, model, func(p ollama.PullProgress) {
			report(LoadProgress{Status: p.Status, Completed: p.Completed, Total: p.Total})
		})
		if err != nil {
			return fmt.Errorf("pull %s: %w", model, err)
		}
	}
	report(LoadProgress{Status: "ready", Completed: 1, Total: 1})
	return nil
}

func (r *OllamaRuntime) Generate(ctx context.Context, model string, req Request, onSnapshot func(string) error) error {
	msgs := make([]ollama.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
	}
	opts := &ollama.Options{
		Temperature: chooseFloat(req.Temperature, r.temperature),
		TopP:        chooseFloat(req.TopP, r.topP),
		NumPredict:  req.MaxTokens,
	}
	return r.client.ChatStream(ctx, model, msgs, opts, func(c ollama.Chunk) error {
		return onSnapshot(c.Accumulated)
	})
}
