package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

// TurnHarness drives a turn.Controller backed by mock providers and records
// everything the controller reports.
type TurnHarness struct {
	Hosted     *llm.MockProvider
	Local      *llm.MockProvider
	Controller *turn.Controller
	Screen     *ScreenCapture

	mu           sync.Mutex
	conversation llm.Conversation
	snapshots    []llm.Conversation
	progress     []string
	loads        []llm.LoadProgress
	results      []turn.Result
	// providerCalledAt records len(snapshots) when the provider saw its request.
	providerCalledAt []int
}

// HarnessOption tweaks the controller options before construction.
type HarnessOption func(*turn.Options)

// WithSystemPrompt sets the system prompt sent with every turn.
func WithSystemPrompt(prompt string) HarnessOption {
	return func(o *turn.Options) { o.SystemPrompt = prompt }
}

// WithSurfaceAborted makes cancelled turns report their partial text.
func WithSurfaceAborted() HarnessOption {
	return func(o *turn.Options) { o.SurfaceAborted = true }
}

// NewTurnHarness creates a harness with a delta-mode hosted mock and a
// snapshot-mode local mock registered under the "hosted" and "local" choices.
func NewTurnHarness(opts ...HarnessOption) *TurnHarness {
	h := &TurnHarness{
		Hosted: llm.NewMockProvider("hosted-mock"),
		Local:  llm.NewMockProvider("local-mock").WithMode(llm.FragmentSnapshot),
		Screen: NewScreenCapture(),
	}
	h.Screen.Enable()

	o := turn.Options{
		Providers: map[string]llm.Provider{
			"hosted": &observedProvider{Provider: h.Hosted, h: h},
			"local":  &observedProvider{Provider: h.Local, h: h},
		},
		Callbacks: turn.Callbacks{
			OnMessagesChanged: h.onMessages,
			OnProgress:        h.onProgress,
			OnLoadProgress:    h.onLoad,
			OnFinish:          h.onFinish,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.Controller = turn.New(o)
	return h
}

// Send submits text on top of the harness conversation and waits for the turn.
func (h *TurnHarness) Send(ctx context.Context, text, choice string) (turn.Result, error) {
	if !h.Controller.Submit(ctx, h.Conversation(), text, choice) {
		return turn.Result{}, fmt.Errorf("submit rejected for %q", text)
	}
	return h.Controller.Wait(), nil
}

// WaitForProgress blocks until at least n progress updates have been seen.
func (h *TurnHarness) WaitForProgress(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		got := len(h.progress)
		h.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// Conversation returns the latest published conversation.
func (h *TurnHarness) Conversation() llm.Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conversation.Clone()
}

// Snapshots returns every conversation passed to OnMessagesChanged.
func (h *TurnHarness) Snapshots() []llm.Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.Conversation(nil), h.snapshots...)
}

// Progress returns every progress text reported so far.
func (h *TurnHarness) Progress() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.progress...)
}

// Loads returns every load progress update reported so far.
func (h *TurnHarness) Loads() []llm.LoadProgress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.LoadProgress(nil), h.loads...)
}

// Results returns the results of finished turns in order.
func (h *TurnHarness) Results() []turn.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]turn.Result(nil), h.results...)
}

// SnapshotsBeforeProviderCall returns how many conversations had been
// published when the i-th provider call started, or -1.
func (h *TurnHarness) SnapshotsBeforeProviderCall(i int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.providerCalledAt) {
		return -1
	}
	return h.providerCalledAt[i]
}

func (h *TurnHarness) onMessages(conv llm.Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conversation = conv
	h.snapshots = append(h.snapshots, conv)
}

func (h *TurnHarness) onProgress(text string) {
	h.mu.Lock()
	h.progress = append(h.progress, text)
	h.mu.Unlock()
	h.Screen.Capture(text, "streaming")
}

func (h *TurnHarness) onLoad(p llm.LoadProgress) {
	h.mu.Lock()
	h.loads = append(h.loads, p)
	h.mu.Unlock()
	h.Screen.Capture(p.Status, "loading")
}

func (h *TurnHarness) onFinish(res turn.Result) {
	h.mu.Lock()
	h.results = append(h.results, res)
	h.mu.Unlock()
	h.Screen.Capture(res.Partial, res.Outcome.String())
}

// observedProvider notes when the controller reaches the provider.
type observedProvider struct {
	llm.Provider
	h *TurnHarness
}

func (p *observedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.h.mu.Lock()
	p.h.providerCalledAt = append(p.h.providerCalledAt, len(p.h.snapshots))
	p.h.mu.Unlock()
	return p.Provider.Stream(ctx, req)
}
