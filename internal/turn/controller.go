// Package turn runs one streaming chat turn at a time: it publishes the
// user's message, streams the provider's answer while reporting progress,
// and commits the assistant reply (or a failure notice) to the conversation.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// FailureNotice is committed as the assistant reply when a turn fails
// without usable partial text.
const FailureNotice = "Sorry, there was an error processing your request."

// AbortedSuffix is appended to partial text surfaced after a cancel.
const AbortedSuffix = "\n\nGeneration was aborted"

// Callbacks receive controller output. All are optional and are invoked
// from the goroutine running the turn, except the first OnMessagesChanged
// of a turn which runs inside Submit.
type Callbacks struct {
	OnMessagesChanged func(llm.Conversation)
	OnProgress        func(text string)
	OnLoadProgress    func(llm.LoadProgress)
	OnFinish          func(Result)
}

type Options struct {
	// Providers maps a choice ("hosted", "local", or a provider name) to a provider.
	Providers    map[string]llm.Provider
	SystemPrompt string
	// SurfaceAborted makes a cancelled turn report its partial text one last
	// time through OnProgress, suffixed with AbortedSuffix. It is never committed.
	SurfaceAborted bool
	// Request carries per-turn defaults such as model and sampling.
	Request   llm.Request
	Callbacks Callbacks
}

// Controller runs at most one turn at a time.
type Controller struct {
	providers      map[string]llm.Provider
	systemPrompt   string
	surfaceAborted bool
	template       llm.Request
	cb             Callbacks

	mu    sync.Mutex
	busy  bool
	state State
	token *Token
	done  chan struct{}
	last  Result
}

func New(opts Options) *Controller {
	providers := make(map[string]llm.Provider, len(opts.Providers))
	for k, v := range opts.Providers {
		if v != nil {
			providers[k] = v
		}
	}
	return &Controller{
		providers:      providers,
		systemPrompt:   opts.SystemPrompt,
		surfaceAborted: opts.SurfaceAborted,
		template:       opts.Request,
		cb:             opts.Callbacks,
	}
}

// Submit starts a turn for text against conv using the provider registered
// under choice. It returns false without side effects when text is blank or
// a turn is already running. Otherwise the conversation with the new user
// message is published before Submit returns and the rest of the turn runs
// in the background; use Wait to block until it ends.
func (c *Controller) Submit(ctx context.Context, conv llm.Conversation, text, choice string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		slog.Debug("submit ignored, turn in flight")
		return false
	}
	c.busy = true
	c.state = State{Loading: true}
	if c.token != nil {
		c.token.Cancel()
	}
	token := NewToken(ctx)
	c.token = token
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	updated := conv.Append(llm.UserText(trimmed))
	c.publish(updated)

	go c.run(token, updated, choice, done)
	return true
}

// Register adds or replaces the provider used for choice. It applies from
// the next turn.
func (c *Controller) Register(choice string, p llm.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == nil {
		delete(c.providers, choice)
		return
	}
	c.providers[choice] = p
}

// Cancel aborts the in-flight turn, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	t := c.token
	c.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Wait blocks until the current (or most recent) turn has finished and
// returns its result.
func (c *Controller) Wait() Result {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Close cancels any running turn and waits for it to wind down.
func (c *Controller) Close() {
	c.Cancel()
	c.Wait()
}

// Busy reports whether a turn is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// State returns a snapshot of the streaming state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) run(token *Token, conv llm.Conversation, choice string, done chan struct{}) {
	start := time.Now()
	res := c.stream(token, conv, choice)
	res.Duration = time.Since(start)
	token.release()

	if res.Outcome != OutcomeCancelled {
		c.publish(res.Conversation)
	}

	c.mu.Lock()
	c.state = State{}
	c.busy = false
	if c.token == token {
		c.token = nil
	}
	c.last = res
	c.mu.Unlock()

	slog.Debug("turn finished", "provider", res.Provider, "outcome", res.Outcome.String(),
		"kind", res.Kind.String(), "duration", res.Duration)

	if c.cb.OnFinish != nil {
		c.cb.OnFinish(res)
	}
	close(done)
}

func (c *Controller) stream(token *Token, conv llm.Conversation, choice string) Result {
	res := Result{Conversation: conv, Provider: choice}

	c.mu.Lock()
	provider, ok := c.providers[choice]
	c.mu.Unlock()
	if !ok {
		return c.fail(res, token, llm.NewError(llm.KindProviderUnavailable, choice,
			fmt.Errorf("no provider configured for %q", choice)), "")
	}
	res.Provider = provider.Name()

	req := c.template
	req.Messages = conv.WithSystemPrompt(c.systemPrompt)

	stream, err := provider.Stream(token.Context(), req)
	if err != nil {
		return c.fail(res, token, err, "")
	}
	defer stream.Close()

	var acc llm.Accumulator
	for {
		ev, err := stream.Recv()
		if token.IsCancelled() {
			return c.cancelled(res, acc.String())
		}
		if errors.Is(err, io.EOF) {
			// A stream torn down by its context may close without an error event.
			if ctxErr := token.Context().Err(); ctxErr != nil {
				return c.fail(res, token, ctxErr, acc.String())
			}
			break
		}
		if err != nil {
			return c.fail(res, token, err, acc.String())
		}

		switch ev.Type {
		case llm.EventTextDelta, llm.EventTextReplace:
			acc.Apply(ev)
			text := acc.String()
			c.mu.Lock()
			c.state.Loading = false
			c.state.Streaming = true
			c.state.Text = text
			c.mu.Unlock()
			if c.cb.OnProgress != nil {
				c.cb.OnProgress(text)
			}
		case llm.EventLoadProgress:
			if ev.Load != nil && c.cb.OnLoadProgress != nil {
				c.cb.OnLoadProgress(*ev.Load)
			}
		case llm.EventUsage:
			if ev.Use != nil {
				res.Usage.InputTokens += ev.Use.InputTokens
				res.Usage.OutputTokens += ev.Use.OutputTokens
			}
		case llm.EventError:
			return c.fail(res, token, ev.Err, acc.String())
		}
	}

	res.Outcome = OutcomeCompleted
	res.Partial = acc.String()
	res.Conversation = conv.Append(llm.AssistantText(acc.String()))
	return res
}

// fail converts a provider failure into a committed assistant message. A
// generation failure keeps whatever text already arrived.
func (c *Controller) fail(res Result, token *Token, err error, partial string) Result {
	kind := llm.KindOf(err)
	if kind == llm.KindCancelled || token.IsCancelled() {
		return c.cancelled(res, partial)
	}

	c.mu.Lock()
	c.state.Err = kind
	c.mu.Unlock()

	content := FailureNotice
	if kind == llm.KindGenerationFailed && partial != "" {
		content = partial
	}
	slog.Warn("turn failed", "provider", res.Provider, "kind", kind.String(), "error", err)

	res.Outcome = OutcomeFailed
	res.Kind = kind
	res.Err = err
	res.Partial = partial
	res.Conversation = res.Conversation.Append(llm.AssistantText(content))
	return res
}

func (c *Controller) cancelled(res Result, partial string) Result {
	res.Outcome = OutcomeCancelled
	res.Kind = llm.KindCancelled
	res.Partial = partial
	if c.surfaceAborted && partial != "" && c.cb.OnProgress != nil {
		c.cb.OnProgress(partial + AbortedSuffix)
	}
	return res
}

func (c *Controller) publish(conv llm.Conversation) {
	if c.cb.OnMessagesChanged != nil {
		c.cb.OnMessagesChanged(conv.Clone())
	}
}
