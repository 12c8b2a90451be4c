package turn_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/testutil"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

func TestControllerCommitsStreamedReply(t *testing.T) {
	tests := []struct {
		name     string
		choice   string
		setup    func(h *testutil.TurnHarness)
		progress []string
	}{
		{
			name:     "delta fragments",
			choice:   "hosted",
			setup:    func(h *testutil.TurnHarness) { h.Hosted.AddFragments("a", "b", "c") },
			progress: []string{"a", "ab", "abc"},
		},
		{
			name:     "snapshot fragments",
			choice:   "local",
			setup:    func(h *testutil.TurnHarness) { h.Local.AddFragments("a", "ab", "abc") },
			progress: []string{"a", "ab", "abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewTurnHarness()
			tt.setup(h)

			res, err := h.Send(context.Background(), "review this", tt.choice)
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != turn.OutcomeCompleted {
				t.Fatalf("outcome=%v err=%v", res.Outcome, res.Err)
			}
			conv := h.Conversation()
			testutil.AssertRoles(t, conv, llm.RoleUser, llm.RoleAssistant)
			testutil.AssertLastMessage(t, conv, llm.RoleAssistant, "abc")
			if got := strings.Join(h.Progress(), "|"); got != strings.Join(tt.progress, "|") {
				t.Errorf("progress=%q", got)
			}
			if !h.Controller.State().Idle() || h.Controller.Busy() {
				t.Error("controller should be idle after the turn")
			}
		})
	}
}

func TestControllerPublishesUserMessageBeforeProviderCall(t *testing.T) {
	h := testutil.NewTurnHarness()
	h.Hosted.AddTextResponse("fine")

	if _, err := h.Send(context.Background(), "  func main() {}  ", "hosted"); err != nil {
		t.Fatal(err)
	}
	if got := h.SnapshotsBeforeProviderCall(0); got != 1 {
		t.Fatalf("provider called after %d published conversations, want 1", got)
	}
	first := h.Snapshots()[0]
	testutil.AssertRoles(t, first, llm.RoleUser)
	testutil.AssertLastMessage(t, first, llm.RoleUser, "func main() {}")
}

func TestControllerSendsSystemPromptFirst(t *testing.T) {
	h := testutil.NewTurnHarness(testutil.WithSystemPrompt("You are a code reviewer."))
	h.Hosted.AddTextResponse("one").AddTextResponse("two")

	if _, err := h.Send(context.Background(), "first", "hosted"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Send(context.Background(), "second", "hosted"); err != nil {
		t.Fatal(err)
	}

	req := h.Hosted.Requests[1]
	if len(req.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[0].Content != "You are a code reviewer." {
		t.Errorf("first message = %+v", req.Messages[0])
	}
	for _, m := range req.Messages[1:] {
		if m.Role == llm.RoleSystem {
			t.Error("system prompt repeated inside conversation")
		}
	}
	testutil.AssertRoles(t, h.Conversation(), llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant)
}

func TestControllerRejectsBlankInput(t *testing.T) {
	h := testutil.NewTurnHarness()
	for _, text := range []string{"", "   ", "\n\t"} {
		if h.Controller.Submit(context.Background(), nil, text, "hosted") {
			t.Errorf("Submit(%q) accepted", text)
		}
	}
	if len(h.Snapshots()) != 0 {
		t.Error("blank input must not publish messages")
	}
	if h.Hosted.RequestCount() != 0 {
		t.Error("blank input must not reach the provider")
	}
}

func TestControllerIgnoresSubmitWhileBusy(t *testing.T) {
	h := testutil.NewTurnHarness()
	h.Hosted.AddTurn(llm.MockTurn{Fragments: []string{"a"}, Block: true})

	ctx := context.Background()
	if !h.Controller.Submit(ctx, nil, "first", "hosted") {
		t.Fatal("first submit rejected")
	}
	if !h.WaitForProgress(1, 2*time.Second) {
		t.Fatal("no progress")
	}
	if h.Controller.Submit(ctx, h.Conversation(), "second", "hosted") {
		t.Error("second submit accepted while streaming")
	}
	if h.Hosted.RequestCount() != 1 {
		t.Errorf("provider called %d times", h.Hosted.RequestCount())
	}
	h.Controller.Close()
}

func TestControllerCancelDiscardsPartial(t *testing.T) {
	h := testutil.NewTurnHarness()
	h.Hosted.AddTurn(llm.MockTurn{Fragments: []string{"a"}, Block: true})

	if !h.Controller.Submit(context.Background(), nil, "review", "hosted") {
		t.Fatal("submit rejected")
	}
	if !h.WaitForProgress(1, 2*time.Second) {
		t.Fatal("no progress")
	}
	h.Controller.Cancel()
	h.Controller.Cancel()
	res := h.Controller.Wait()

	if res.Outcome != turn.OutcomeCancelled || res.Kind != llm.KindCancelled {
		t.Fatalf("outcome=%v kind=%v", res.Outcome, res.Kind)
	}
	if res.Partial != "a" {
		t.Errorf("partial=%q", res.Partial)
	}
	testutil.AssertRoles(t, h.Conversation(), llm.RoleUser)
	if len(h.Snapshots()) != 1 {
		t.Errorf("cancel must not publish again, got %d snapshots", len(h.Snapshots()))
	}
	if got := h.Progress(); len(got) != 1 {
		t.Errorf("progress after cancel: %q", got)
	}
	if !h.Controller.State().Idle() || h.Controller.Busy() {
		t.Error("controller should be idle after cancel")
	}

	// Cancel with nothing in flight is a no-op.
	h.Controller.Cancel()
}

func TestControllerCancelSurfacesAbortedText(t *testing.T) {
	h := testutil.NewTurnHarness(testutil.WithSurfaceAborted())
	h.Hosted.AddTurn(llm.MockTurn{Fragments: []string{"half a review"}, Block: true})

	h.Controller.Submit(context.Background(), nil, "review", "hosted")
	if !h.WaitForProgress(1, 2*time.Second) {
		t.Fatal("no progress")
	}
	h.Controller.Cancel()
	h.Controller.Wait()

	progress := h.Progress()
	if last := progress[len(progress)-1]; last != "half a review"+turn.AbortedSuffix {
		t.Errorf("last progress=%q", last)
	}
	testutil.AssertRoles(t, h.Conversation(), llm.RoleUser)
}

func TestControllerParentContextCancel(t *testing.T) {
	h := testutil.NewTurnHarness()
	h.Hosted.AddTurn(llm.MockTurn{Fragments: []string{"a"}, Block: true})

	ctx, cancel := context.WithCancel(context.Background())
	h.Controller.Submit(ctx, nil, "review", "hosted")
	if !h.WaitForProgress(1, 2*time.Second) {
		t.Fatal("no progress")
	}
	cancel()
	res := h.Controller.Wait()
	if res.Outcome != turn.OutcomeCancelled {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	testutil.AssertRoles(t, h.Conversation(), llm.RoleUser)
}

func TestControllerFailures(t *testing.T) {
	tests := []struct {
		name    string
		choice  string
		setup   func(h *testutil.TurnHarness)
		kind    llm.ErrorKind
		content string
	}{
		{
			name:   "generation failure keeps partial",
			choice: "hosted",
			setup: func(h *testutil.TurnHarness) {
				h.Hosted.AddTurn(llm.MockTurn{
					Fragments: []string{"par", "tial"},
					Error:     llm.NewError(llm.KindGenerationFailed, "hosted-mock", errors.New("connection reset")),
				})
			},
			kind:    llm.KindGenerationFailed,
			content: "partial",
		},
		{
			name:   "generation failure without text",
			choice: "hosted",
			setup: func(h *testutil.TurnHarness) {
				h.Hosted.AddTurn(llm.MockTurn{Error: llm.NewError(llm.KindGenerationFailed, "hosted-mock", errors.New("empty"))})
			},
			kind:    llm.KindGenerationFailed,
			content: turn.FailureNotice,
		},
		{
			name:   "provider unavailable",
			choice: "hosted",
			setup: func(h *testutil.TurnHarness) {
				h.Hosted.AddError(llm.NewError(llm.KindProviderUnavailable, "hosted-mock", errors.New("401")))
			},
			kind:    llm.KindProviderUnavailable,
			content: turn.FailureNotice,
		},
		{
			name:   "model init failed",
			choice: "local",
			setup: func(h *testutil.TurnHarness) {
				h.Local.AddError(llm.NewError(llm.KindModelInitFailed, "local-mock", errors.New("out of memory")))
			},
			kind:    llm.KindModelInitFailed,
			content: turn.FailureNotice,
		},
		{
			name:    "unknown choice",
			choice:  "nope",
			setup:   func(*testutil.TurnHarness) {},
			kind:    llm.KindProviderUnavailable,
			content: turn.FailureNotice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewTurnHarness()
			tt.setup(h)

			res, err := h.Send(context.Background(), "review", tt.choice)
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != turn.OutcomeFailed || res.Kind != tt.kind {
				t.Fatalf("outcome=%v kind=%v err=%v", res.Outcome, res.Kind, res.Err)
			}
			conv := h.Conversation()
			testutil.AssertRoles(t, conv, llm.RoleUser, llm.RoleAssistant)
			testutil.AssertLastMessage(t, conv, llm.RoleAssistant, tt.content)
			if !h.Controller.State().Idle() {
				t.Error("controller should be idle after failure")
			}
		})
	}
}

func TestControllerRecoversAfterFailure(t *testing.T) {
	h := testutil.NewTurnHarness()
	h.Hosted.AddError(errors.New("dial tcp: refused")).AddTextResponse("second try")

	res, _ := h.Send(context.Background(), "one", "hosted")
	if res.Outcome != turn.OutcomeFailed {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	res, err := h.Send(context.Background(), "two", "hosted")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != turn.OutcomeCompleted {
		t.Fatalf("outcome=%v", res.Outcome)
	}
	testutil.AssertLastMessage(t, h.Conversation(), llm.RoleAssistant, "second try")
	if n := len(h.Results()); n != 2 {
		t.Errorf("OnFinish called %d times", n)
	}
}

type loadingRuntime struct {
	loads int
}

func (r *loadingRuntime) Load(ctx context.Context, model string, progress func(llm.LoadProgress)) error {
	r.loads++
	progress(llm.LoadProgress{Status: "loading weights", Completed: 1, Total: 2})
	progress(llm.LoadProgress{Status: "ready", Completed: 2, Total: 2})
	return nil
}

func (r *loadingRuntime) Generate(ctx context.Context, model string, req llm.Request, onSnapshot func(string) error) error {
	for _, s := range []string{"Lo", "Looks", "Looks good"} {
		if err := onSnapshot(s); err != nil {
			return err
		}
	}
	return nil
}

func TestControllerForwardsLoadProgress(t *testing.T) {
	rt := &loadingRuntime{}
	var loads []llm.LoadProgress
	var conv llm.Conversation
	c := turn.New(turn.Options{
		Providers: map[string]llm.Provider{"local": llm.NewLocalProvider("ollama", rt, "llama3.2")},
		Callbacks: turn.Callbacks{
			OnLoadProgress:    func(p llm.LoadProgress) { loads = append(loads, p) },
			OnMessagesChanged: func(c llm.Conversation) { conv = c },
		},
	})

	c.Submit(context.Background(), nil, "review", "local")
	res := c.Wait()
	if res.Outcome != turn.OutcomeCompleted {
		t.Fatalf("outcome=%v err=%v", res.Outcome, res.Err)
	}
	if len(loads) != 2 || loads[1].Status != "ready" {
		t.Errorf("loads=%+v", loads)
	}
	testutil.AssertLastMessage(t, conv, llm.RoleAssistant, "Looks good")

	loads = nil
	c.Submit(context.Background(), conv, "again", "local")
	c.Wait()
	if len(loads) != 0 || rt.loads != 1 {
		t.Errorf("model reloaded: loads=%d progress=%v", rt.loads, loads)
	}
}

func TestControllerRegister(t *testing.T) {
	h := testutil.NewTurnHarness()
	extra := llm.NewMockProvider("extra")
	extra.AddTextResponse("from extra")

	res, err := h.Send(context.Background(), "hi", "extra")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != turn.OutcomeFailed || res.Kind != llm.KindProviderUnavailable {
		t.Fatalf("unregistered choice: outcome=%v kind=%v", res.Outcome, res.Kind)
	}

	h.Controller.Register("extra", extra)
	res, err = h.Send(context.Background(), "hi again", "extra")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != turn.OutcomeCompleted || res.Provider != "extra" {
		t.Fatalf("outcome=%v provider=%q err=%v", res.Outcome, res.Provider, res.Err)
	}
	testutil.AssertLastMessage(t, h.Conversation(), llm.RoleAssistant, "from extra")

	h.Controller.Register("extra", nil)
	res, _ = h.Send(context.Background(), "gone?", "extra")
	if res.Kind != llm.KindProviderUnavailable {
		t.Errorf("removed choice: kind=%v", res.Kind)
	}
}

func TestControllerFramesEndWithOutcome(t *testing.T) {
	h := testutil.NewTurnHarness()
	h.Hosted.AddFragments("Use ", "a mutex.")
	h.Hosted.AddTurn(llm.MockTurn{Fragments: []string{"Half"}, Error: errors.New("stream reset")})

	if _, err := h.Send(context.Background(), "racy?", "hosted"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Send(context.Background(), "again", "hosted"); err != nil {
		t.Fatal(err)
	}

	want := "streaming|streaming|completed|streaming|failed"
	if got := strings.Join(h.Screen.Phases(), "|"); got != want {
		t.Errorf("phases = %s\n%s", got, h.Screen.Dump())
	}
	if last := h.Screen.LastFrame(); last.Plain != "Half" {
		t.Errorf("last frame = %q", last.Plain)
	}
}
