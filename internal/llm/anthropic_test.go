package llm

import "testing"

func TestBuildAnthropicMessages(t *testing.T) {
	conv := Conversation{
		SystemText("Review carefully."),
		UserText("func a() {}"),
		AssistantText("Looks fine."),
		UserText("And this?"),
	}.WithSystemPrompt("You are a reviewer.")

	system, msgs := buildAnthropicMessages(conv)
	if system != "You are a reviewer.\n\nReview carefully." {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	wantRoles := []string{"user", "assistant", "user"}
	wantText := []string{"func a() {}", "Looks fine.", "And this?"}
	for i, msg := range msgs {
		if string(msg.Role) != wantRoles[i] {
			t.Errorf("msgs[%d].Role = %q, want %q", i, msg.Role, wantRoles[i])
		}
		if len(msg.Content) != 1 || msg.Content[0].OfText == nil {
			t.Fatalf("msgs[%d] content = %+v", i, msg.Content)
		}
		if got := msg.Content[0].OfText.Text; got != wantText[i] {
			t.Errorf("msgs[%d] text = %q, want %q", i, got, wantText[i])
		}
	}
}

func TestBuildAnthropicMessagesWithoutSystem(t *testing.T) {
	system, msgs := buildAnthropicMessages([]Message{UserText("hi")})
	if system != "" || len(msgs) != 1 {
		t.Errorf("system=%q msgs=%d", system, len(msgs))
	}
}

func TestAnthropicProviderDefaults(t *testing.T) {
	p := NewAnthropicProvider("key", "")
	if p.Name() != "Anthropic (claude-sonnet-4-5)" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.Capabilities().FragmentMode != FragmentDelta {
		t.Error("anthropic streams deltas")
	}
}
