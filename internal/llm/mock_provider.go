package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn is a single scripted response of the mock provider.
type MockTurn struct {
	// Fragments are emitted as-is. When empty, Text is chunked instead.
	Fragments []string
	Text      string
	Usage     Usage
	// Delay is applied before the first fragment; FragmentDelay between fragments.
	Delay         time.Duration
	FragmentDelay time.Duration
	// Error is returned after the fragments have been emitted. With no
	// fragments it is returned from Stream itself when ErrorOnOpen is set.
	Error       error
	ErrorOnOpen bool
	// Block keeps the stream open after the fragments until ctx is done.
	Block bool
}

// MockProvider is a configurable provider for tests and offline use.
// It returns scripted responses and records all requests for verification.
type MockProvider struct {
	name      string
	mode      FragmentMode
	turns     []MockTurn
	turnIndex int
	Requests  []Request
	mu        sync.Mutex
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: m.mode}
}

// WithMode switches fragment semantics. In snapshot mode each scripted
// fragment is the full text so far.
func (m *MockProvider) WithMode(mode FragmentMode) *MockProvider {
	m.mode = mode
	return m
}

func (m *MockProvider) AddTurn(t MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	return m.AddTurn(MockTurn{Text: text})
}

func (m *MockProvider) AddFragments(fragments ...string) *MockProvider {
	return m.AddTurn(MockTurn{Fragments: fragments})
}

func (m *MockProvider) AddError(err error) *MockProvider {
	return m.AddTurn(MockTurn{Error: err, ErrorOnOpen: true})
}

// Reset clears recorded requests and rewinds to the first turn.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnIndex = 0
	m.Requests = nil
}

// RequestCount returns how many times Stream was called.
func (m *MockProvider) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)

	if m.turnIndex >= len(m.turns) {
		m.mu.Unlock()
		return nil, NewError(KindProviderUnavailable, m.name,
			fmt.Errorf("mock provider: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns)))
	}

	turn := m.turns[m.turnIndex]
	m.turnIndex++
	mode := m.mode
	m.mu.Unlock()

	if turn.ErrorOnOpen && turn.Error != nil {
		return nil, turn.Error
	}

	fragments := turn.Fragments
	if len(fragments) == 0 && turn.Text != "" {
		fragments = chunkText(turn.Text, 10)
		if mode == FragmentSnapshot {
			fragments = cumulative(fragments)
		}
	}

	return newEventStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		if turn.Delay > 0 {
			if err := sleepCtx(ctx, turn.Delay); err != nil {
				return err
			}
		}

		var norm SnapshotNormalizer
		for i, frag := range fragments {
			if i > 0 && turn.FragmentDelay > 0 {
				if err := sleepCtx(ctx, turn.FragmentDelay); err != nil {
					return err
				}
			}
			ev := Event{Type: EventTextDelta, Text: frag}
			if mode == FragmentSnapshot {
				var changed bool
				if ev, changed = norm.Next(frag); !changed {
					continue
				}
			}
			if err := send(ctx, ch, ev); err != nil {
				return err
			}
		}

		if turn.Error != nil {
			return turn.Error
		}

		if turn.Block {
			<-ctx.Done()
			return ctx.Err()
		}

		if err := send(ctx, ch, Event{Type: EventUsage, Use: &turn.Usage}); err != nil {
			return err
		}
		return send(ctx, ch, Event{Type: EventDone})
	}), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cumulative(chunks []string) []string {
	out := make([]string, len(chunks))
	acc := ""
	for i, c := range chunks {
		acc += c
		out[i] = acc
	}
	return out
}

// chunkText splits text into chunks of approximately the given size.
// It tries to break at word boundaries when possible.
func chunkText(text string, chunkSize int) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}

		breakPoint := chunkSize
		for i := chunkSize; i > chunkSize/2; i-- {
			if text[i] == ' ' {
				breakPoint = i + 1
				break
			}
		}

		chunks = append(chunks, text[:breakPoint])
		text = text[breakPoint:]
	}
	return chunks
}
