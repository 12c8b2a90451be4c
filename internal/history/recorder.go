package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

// Recorder mirrors a controller's conversation into a Store. The history is
// created from the first published conversation that holds a user message
// and its messages are replaced on every later publish.
type Recorder struct {
	store   Store
	timeout time.Duration

	mu       sync.Mutex
	id       string
	created  bool
	provider string
}

// NewRecorder records into store. A non-empty id continues an existing history.
func NewRecorder(store Store, id string) *Recorder {
	return &Recorder{store: store, id: id, created: id != "", timeout: 5 * time.Second}
}

// ID returns the current history id, or "" before the first message.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Reset starts a new history on the next recorded conversation.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = ""
	r.created = false
	r.provider = ""
}

// Record persists conv. Failures are logged; persistence never interrupts a chat.
func (r *Recorder) Record(conv llm.Conversation) {
	if err := r.record(conv); err != nil {
		slog.Warn("history save failed", "id", r.ID(), "error", err)
	}
}

func (r *Recorder) record(conv llm.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if !r.created {
		first := conv.FirstUserText()
		if first == "" {
			return nil
		}
		h := &History{
			ID:       r.id,
			Title:    DeriveTitle(first),
			Provider: r.provider,
			Messages: conv,
		}
		if err := r.store.Create(ctx, h); err != nil {
			return err
		}
		r.id = h.ID
		r.created = true
		return nil
	}
	return r.store.SaveMessages(ctx, r.id, conv)
}

// Finish notes the provider that answered the turn.
func (r *Recorder) Finish(res turn.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Provider == "" || res.Provider == r.provider {
		return
	}
	r.provider = res.Provider
	if !r.created {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	h, err := r.store.Get(ctx, r.id)
	if err != nil || h == nil {
		return
	}
	h.Provider = res.Provider
	if err := r.store.Update(ctx, h); err != nil {
		slog.Warn("history update failed", "id", r.id, "error", err)
	}
}

// Attach chains the recorder into cb, keeping any callbacks already set.
func (r *Recorder) Attach(cb turn.Callbacks) turn.Callbacks {
	prevMessages, prevFinish := cb.OnMessagesChanged, cb.OnFinish
	cb.OnMessagesChanged = func(conv llm.Conversation) {
		r.Record(conv)
		if prevMessages != nil {
			prevMessages(conv)
		}
	}
	cb.OnFinish = func(res turn.Result) {
		r.Finish(res)
		if prevFinish != nil {
			prevFinish(res)
		}
	}
	return cb
}
