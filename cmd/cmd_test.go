package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/codereview-chat/internal/config"
	"github.com/samsaffron/codereview-chat/internal/exitcode"
	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/testutil"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

func TestReadEntries(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"lines", "one\ntwo\n", []string{"one", "two"}},
		{"block", "before\n\"\"\"\nfunc a() {}\n\nfunc b() {}\n\"\"\"\nafter\n", []string{"before", "func a() {}\n\nfunc b() {}", "after"}},
		{"indented delimiter", "  \"\"\"  \nx\n\"\"\"\n", []string{"x"}},
		{"unterminated block", "\"\"\"\nx\ny", []string{"x\ny"}},
		{"empty block", "\"\"\"\n\"\"\"\n", []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			if err := readEntries(strings.NewReader(tt.input), func(s string) { got = append(got, s) }); err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("entries = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveChoice(t *testing.T) {
	tests := []struct {
		name     string
		local    bool
		hosted   bool
		provider string
		def      string
		want     string
		wantErr  bool
	}{
		{name: "local flag", local: true, want: config.ChoiceLocal},
		{name: "hosted flag", hosted: true, want: config.ChoiceHosted},
		{name: "provider flag", provider: "anthropic", want: "anthropic"},
		{name: "provider with model", provider: "gemini:gemini-2.5-pro", want: "gemini"},
		{name: "unknown provider", provider: "nope", wantErr: true},
		{name: "config default", def: config.ChoiceHosted, want: config.ChoiceHosted},
		{name: "fallback", want: config.ChoiceLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.DefaultChoice = tt.def
			got, err := resolveChoice(cfg, tt.local, tt.hosted, tt.provider)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("choice = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveChoiceAppliesModelOverride(t *testing.T) {
	cfg := config.Default()
	if _, err := resolveChoice(cfg, false, false, "anthropic:claude-opus-4"); err != nil {
		t.Fatal(err)
	}
	if cfg.HostedProvider != "anthropic" {
		t.Errorf("hosted provider = %q", cfg.HostedProvider)
	}
	if got := cfg.Providers["anthropic"].Model; got != "claude-opus-4" {
		t.Errorf("model = %q", got)
	}
}

func TestReviewPrompt(t *testing.T) {
	got := reviewPrompt("  is this safe?  ", "main.go", "package main\n")
	want := "is this safe?\n\nFile: main.go\n\n```go\npackage main\n```"
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
	if got := reviewPrompt("", "main.go", "package main\n"); !strings.HasPrefix(got, "File: main.go\n") {
		t.Errorf("prompt without question = %q", got)
	}
}

func TestReadReviewInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("print(1)\n"), 0644); err != nil {
		t.Fatal(err)
	}

	name, content, err := readReviewInput(path, nil)
	if err != nil || name != path || content != "print(1)\n" {
		t.Errorf("file: name=%q content=%q err=%v", name, content, err)
	}

	name, content, err = readReviewInput("-", strings.NewReader("x := 1"))
	if err != nil || name != "" || content != "x := 1" {
		t.Errorf("stdin: name=%q content=%q err=%v", name, content, err)
	}

	_, _, err = readReviewInput("-", strings.NewReader(" \n\t"))
	if exitcode.Code(err) != exitcode.Usage {
		t.Errorf("empty input: code=%d err=%v", exitcode.Code(err), err)
	}

	if _, _, err = readReviewInput(filepath.Join(dir, "missing.go"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SystemPrompt = "You are a reviewer."
	return cfg
}

type replHarness struct {
	repl   *chatREPL
	mock   *llm.MockProvider
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newREPLHarness(t *testing.T, mock *llm.MockProvider) *replHarness {
	t.Helper()
	h := &replHarness{mock: mock, out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	h.repl = newChatREPL(chatREPLOptions{
		Config:    testConfig(),
		Providers: map[string]llm.Provider{"mock": mock},
		Choice:    "mock",
		Store:     &history.NoopStore{},
		Out:       h.out,
		ErrOut:    h.errOut,
	})
	t.Cleanup(h.repl.Close)
	return h
}

func (h *replHarness) run(t *testing.T, entries ...string) {
	t.Helper()
	ch := make(chan string, len(entries))
	for _, e := range entries {
		ch <- e
	}
	close(ch)
	if err := h.repl.Run(context.Background(), ch, nil); err != nil {
		t.Fatal(err)
	}
}

func TestChatREPLStreamsReply(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.AddFragments("Use ", "a mutex.")
	h := newREPLHarness(t, mock)

	h.run(t, "Is this racy?")

	if got := h.out.String(); got != "Use a mutex.\n" {
		t.Errorf("out = %q", got)
	}
	conv := h.repl.conversation()
	if len(conv) != 2 || conv[0].Content != "Is this racy?" || conv[1].Content != "Use a mutex." {
		t.Errorf("conversation = %+v", conv)
	}
	req := mock.Requests[0]
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[0].Content != "You are a reviewer." {
		t.Errorf("request messages = %+v", req.Messages)
	}
}

func TestChatREPLFailurePrintsNotice(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.AddError(llm.NewError(llm.KindProviderUnavailable, "mock", errors.New("connection refused")))
	h := newREPLHarness(t, mock)

	h.run(t, "hello")

	testutil.AssertContains(t, h.out.String(), turn.FailureNotice)
	testutil.AssertContains(t, h.errOut.String(), "connection refused")
	testutil.AssertRoles(t, h.repl.conversation(), llm.RoleUser, llm.RoleAssistant)
	testutil.AssertLastMessage(t, h.repl.conversation(), llm.RoleAssistant, turn.FailureNotice)
}

func TestChatREPLCommands(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.AddTextResponse("Looks fine.")
	mock.AddTextResponse("Second chat.")
	h := newREPLHarness(t, mock)

	h.run(t, "first", "/reset", "second", "/provider nope", "/bogus", "/quit", "never sent")

	if mock.RequestCount() != 2 {
		t.Fatalf("requests = %d", mock.RequestCount())
	}
	if n := len(mock.Requests[1].Messages); n != 2 {
		t.Errorf("second chat should start fresh, sent %d messages", n)
	}
	for _, want := range []string{"Started a new chat.", "unknown provider", "unknown command /bogus"} {
		testutil.AssertContains(t, h.errOut.String(), want)
	}
	testutil.AssertNotContains(t, h.out.String(), "never sent")
}

func TestChatREPLDiff(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.AddTextResponse("Try this:\n\n```go\nx := 2\n```\n")
	h := newREPLHarness(t, mock)

	h.run(t, "```go\nx := 1\n```", "/diff")

	testutil.AssertContainsPlain(t, h.out.String(), "-x := 1")
	testutil.AssertContainsPlain(t, h.out.String(), "+x := 2")
}

func TestReviewOnce(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.AddTextResponse("No bugs found.")
	var out, errOut bytes.Buffer

	res := reviewOnce(context.Background(), reviewRun{
		Config:    testConfig(),
		Providers: map[string]llm.Provider{"mock": mock},
		Choice:    "mock",
		Store:     &history.NoopStore{},
		Prompt:    reviewPrompt("", "a.go", "package a"),
		Out:       &out,
		ErrOut:    &errOut,
	})

	if res.Outcome != turn.OutcomeCompleted {
		t.Fatalf("outcome = %v err = %v", res.Outcome, res.Err)
	}
	testutil.AssertMatchesString(t, out.String(), `^No bugs found\.\n$`)
	if res.Provider != "mock" {
		t.Errorf("provider = %q", res.Provider)
	}
}

func TestReviewOnceFailure(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.AddTurn(llm.MockTurn{Fragments: []string{"partial"}, Error: errors.New("stream reset")})
	var out, errOut bytes.Buffer

	res := reviewOnce(context.Background(), reviewRun{
		Config:    testConfig(),
		Providers: map[string]llm.Provider{"mock": mock},
		Choice:    "mock",
		Store:     &history.NoopStore{},
		Prompt:    "review",
		Out:       &out,
		ErrOut:    &errOut,
	})

	if res.Outcome != turn.OutcomeFailed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if code := exitcode.Code(exitcode.FromKind(res.Kind, "x")); code != exitcode.Provider {
		t.Errorf("exit code = %d", code)
	}
	testutil.AssertContains(t, out.String(), turn.FailureNotice)
}

func TestReviewOnceBlankPrompt(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	var out, errOut bytes.Buffer

	res := reviewOnce(context.Background(), reviewRun{
		Config:    testConfig(),
		Providers: map[string]llm.Provider{"mock": mock},
		Choice:    "mock",
		Store:     &history.NoopStore{},
		Prompt:    "  \n",
		Out:       &out,
		ErrOut:    &errOut,
	})

	if res.Outcome != turn.OutcomeFailed || !errors.Is(res.Err, llm.ErrEmptyInput) {
		t.Fatalf("outcome = %v err = %v", res.Outcome, res.Err)
	}
	if code := exitcode.Code(exitcode.FromKind(res.Kind, "x")); code != exitcode.Usage {
		t.Errorf("exit code = %d", code)
	}
	if mock.RequestCount() != 0 {
		t.Errorf("blank prompt reached the provider")
	}
}

func TestProviderCompletions(t *testing.T) {
	cfg := config.Default()
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{"anthropic", "debug", "gemini", "ollama", "openai"}},
		{"o", []string{"ollama", "openai"}},
		{"openai:", []string{"openai:gpt-4o-mini"}},
		{"debug:", nil},
	}
	for _, tt := range tests {
		got := providerCompletions(cfg, tt.in)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("providerCompletions(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers["openai"] = config.ProviderConfig{APIKey: "sk-1234567890", Model: "gpt-4o"}
	cfg.Serve.Token = "short"

	red := redactConfig(cfg)
	if got := red.Providers["openai"].APIKey; got != "sk-1****" {
		t.Errorf("api key = %q", got)
	}
	if red.Serve.Token != "****" {
		t.Errorf("token = %q", red.Serve.Token)
	}
	if cfg.Providers["openai"].APIKey != "sk-1234567890" {
		t.Error("redaction modified the original config")
	}
}

func TestPrintProviders(t *testing.T) {
	cfg := &config.Config{
		HostedProvider: "openai",
		LocalProvider:  "debug",
		DefaultChoice:  config.ChoiceLocal,
		Providers: map[string]config.ProviderConfig{
			"openai": {Model: "gpt-4o"},
			"debug":  {Type: config.ProviderTypeDebug},
		},
	}
	var out bytes.Buffer
	if err := printProviders(&out, cfg); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", out.String())
	}
	if f := strings.Fields(lines[1]); f[0] != "debug" || f[3] != "delta" || f[4] != "local" {
		t.Errorf("debug row = %q", lines[1])
	}
	if f := strings.Fields(lines[2]); f[0] != "openai" || f[2] != "gpt-4o" || f[3] != "unavailable" || f[4] != "hosted" {
		t.Errorf("openai row = %q", lines[2])
	}
}
