package history

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

func TestRecorderFollowsController(t *testing.T) {
	store := newTestStore(t, config.HistoryConfig{})
	rec := NewRecorder(store, "")

	provider := llm.NewMockProvider("mock").
		AddFragments("Use ", "a mutex.").
		AddTurn(llm.MockTurn{Fragments: []string{"half"}, Block: true})

	var published int
	ctrl := turn.New(turn.Options{
		Providers: map[string]llm.Provider{"hosted": provider},
		Callbacks: rec.Attach(turn.Callbacks{
			OnMessagesChanged: func(llm.Conversation) { published++ },
		}),
	})

	ctrl.Submit(context.Background(), nil, "Is this map access racy? "+strings.Repeat("m[k]++ ", 10), "hosted")
	res := ctrl.Wait()
	if res.Outcome != turn.OutcomeCompleted {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	if published != 2 {
		t.Errorf("chained callback saw %d publishes, want 2", published)
	}

	id := rec.ID()
	h, err := store.Get(context.Background(), id)
	if err != nil || h == nil {
		t.Fatalf("Get(%q): %v %v", id, h, err)
	}
	if h.Title != "Is this map access racy? m[k]+..." {
		t.Errorf("title=%q", h.Title)
	}
	if h.Provider != "mock" {
		t.Errorf("provider=%q", h.Provider)
	}
	if len(h.Messages) != 2 || h.Messages[1].Content != "Use a mutex." {
		t.Fatalf("messages=%+v", h.Messages)
	}

	// A cancelled turn leaves only the user message behind.
	ctrl.Submit(context.Background(), res.Conversation, "and now?", "hosted")
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.State().Text == "" && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	ctrl.Cancel()
	ctrl.Wait()

	msgs, err := store.GetMessages(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[2].Role != llm.RoleUser {
		t.Errorf("after cancel messages=%+v", msgs)
	}
}

func TestRecorderResetStartsNewHistory(t *testing.T) {
	store := newTestStore(t, config.HistoryConfig{})
	rec := NewRecorder(store, "")

	rec.Record(llm.Conversation{llm.UserText("one")})
	first := rec.ID()
	rec.Reset()
	if rec.ID() != "" {
		t.Fatal("Reset should clear the id")
	}
	rec.Record(llm.Conversation{llm.UserText("two")})
	if rec.ID() == "" || rec.ID() == first {
		t.Fatalf("expected a new id, got %q (first %q)", rec.ID(), first)
	}

	list, err := store.List(context.Background(), ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("got %d histories, want 2", len(list))
	}
}

func TestRecorderIgnoresConversationWithoutUser(t *testing.T) {
	rec := NewRecorder(&NoopStore{}, "")
	rec.Record(nil)
	if rec.ID() != "" {
		t.Error("no history should be created without a user message")
	}
}
