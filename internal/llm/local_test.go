package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samsaffron/codereview-chat/internal/ollama"
)

type fakeRuntime struct {
	mu        sync.Mutex
	loadCalls int
	loadErrs  []error
	snapshots []string
	genErr    error
}

func (f *fakeRuntime) Load(ctx context.Context, model string, progress func(LoadProgress)) error {
	f.mu.Lock()
	f.loadCalls++
	var err error
	if len(f.loadErrs) > 0 {
		err = f.loadErrs[0]
		f.loadErrs = f.loadErrs[1:]
	}
	f.mu.Unlock()
	progress(LoadProgress{Status: "loading", Completed: 1, Total: 2})
	if err != nil {
		return err
	}
	progress(LoadProgress{Status: "ready", Completed: 2, Total: 2})
	return nil
}

func (f *fakeRuntime) Generate(ctx context.Context, model string, req Request, onSnapshot func(string) error) error {
	for _, s := range f.snapshots {
		if err := onSnapshot(s); err != nil {
			return err
		}
	}
	return f.genErr
}

func TestLocalProviderLazyLoadOnce(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{"a", "ab", "abc"}}
	p := NewLocalProvider("ollama", rt, "llama3.2")
	if p.Loaded() {
		t.Fatal("should not be loaded before first use")
	}

	for i := 0; i < 2; i++ {
		s, err := p.Stream(context.Background(), Request{})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		text, events, err := collect(t, s)
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if text != "abc" {
			t.Fatalf("turn %d: text=%q", i, text)
		}
		loads := 0
		for _, ev := range events {
			if ev.Type == EventLoadProgress {
				loads++
			}
		}
		if i == 0 && loads != 2 {
			t.Errorf("first turn: expected 2 load progress events, got %d", loads)
		}
		if i == 1 && loads != 0 {
			t.Errorf("second turn: expected no load progress, got %d", loads)
		}
	}
	if rt.loadCalls != 1 {
		t.Errorf("Load called %d times, want 1", rt.loadCalls)
	}
	if !p.Loaded() {
		t.Error("expected loaded after first turn")
	}
}

func TestLocalProviderInitFailureRetries(t *testing.T) {
	rt := &fakeRuntime{loadErrs: []error{errors.New("out of memory")}, snapshots: []string{"ok"}}
	p := NewLocalProvider("ollama", rt, "llama3.2")

	s, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, _, err := collect(t, s); KindOf(err) != KindModelInitFailed {
		t.Fatalf("kind=%v err=%v", KindOf(err), err)
	}
	if p.Loaded() {
		t.Fatal("failed init must not be cached")
	}

	s, _ = p.Stream(context.Background(), Request{})
	text, _, err := collect(t, s)
	if err != nil || text != "ok" {
		t.Fatalf("retry: text=%q err=%v", text, err)
	}
	if rt.loadCalls != 2 {
		t.Errorf("loadCalls=%d", rt.loadCalls)
	}
}

func TestLocalProviderGenerationFailureKeepsPartial(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{"par", "partial"}, genErr: errors.New("gpu lost")}
	p := NewLocalProvider("ollama", rt, "llama3.2")
	s, _ := p.Stream(context.Background(), Request{})
	text, _, err := collect(t, s)
	if text != "partial" {
		t.Errorf("text=%q", text)
	}
	if KindOf(err) != KindGenerationFailed {
		t.Fatalf("kind=%v err=%v", KindOf(err), err)
	}
}

// newOllamaServer fakes the subset of the Ollama API used by OllamaRuntime.
func newOllamaServer(t *testing.T, installed bool, chat []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "Ollama is running")
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		models := []map[string]any{}
		if installed {
			models = append(models, map[string]any{"name": "llama3.2:latest"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"downloading","digest":"sha256:1","total":100,"completed":50}`)
		fmt.Fprintln(w, `{"status":"downloading","digest":"sha256:1","total":100,"completed":100}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if !req.Stream {
			t.Error("expected streaming chat request")
		}
		for _, part := range chat {
			line, _ := json.Marshal(map[string]any{"message": map[string]string{"role": "assistant", "content": part}, "done": false})
			fmt.Fprintln(w, string(line))
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"eval_count":3}`)
	})
	return httptest.NewServer(mux)
}

func TestOllamaRuntimePullsMissingModel(t *testing.T) {
	srv := newOllamaServer(t, false, []string{"Use ", "errors.Is"})
	defer srv.Close()

	p := NewLocalProvider("ollama", NewOllamaRuntime(ollama.NewClient(srv.URL), 0.7, 0.95), "llama3.2")
	s, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("review")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, events, err := collect(t, s)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "Use errors.Is" {
		t.Errorf("text=%q", text)
	}
	var statuses []string
	for _, ev := range events {
		if ev.Type == EventLoadProgress {
			statuses = append(statuses, ev.Load.Status)
		}
	}
	joined := strings.Join(statuses, ",")
	if !strings.Contains(joined, "downloading") || !strings.HasSuffix(joined, "ready") {
		t.Errorf("load statuses=%v", statuses)
	}
}

func TestOllamaRuntimeNotRunning(t *testing.T) {
	srv := newOllamaServer(t, true, nil)
	url := srv.URL
	srv.Close()

	p := NewLocalProvider("ollama", NewOllamaRuntime(ollama.NewClient(url), 0, 0), "llama3.2")
	s, _ := p.Stream(context.Background(), Request{})
	if _, _, err := collect(t, s); KindOf(err) != KindModelInitFailed {
		t.Fatalf("kind=%v err=%v", KindOf(err), err)
	}
}

type blockingRuntime struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRuntime) Load(ctx context.Context, model string, progress func(LoadProgress)) error {
	close(b.started)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingRuntime) Generate(ctx context.Context, model string, req Request, onSnapshot func(string) error) error {
	return onSnapshot("ok")
}

func TestLocalProviderWaitersHonourContext(t *testing.T) {
	rt := &blockingRuntime{started: make(chan struct{}), release: make(chan struct{})}
	p := NewLocalProvider("ollama", rt, "llama3.2")

	loadDone := make(chan error, 1)
	go func() { loadDone <- p.ensureLoaded(context.Background(), func(LoadProgress) {}) }()
	<-rt.started

	loadedDone := make(chan bool, 1)
	go func() { loadedDone <- p.Loaded() }()
	select {
	case loaded := <-loadedDone:
		if loaded {
			t.Error("Loaded() = true while the load is still running")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loaded() blocked behind an in-flight load")
	}

	ctx, cancel := context.WithCancel(context.Background())
	waitDone := make(chan error, 1)
	go func() { waitDone <- p.ensureLoaded(ctx, func(LoadProgress) {}) }()
	cancel()
	select {
	case err := <-waitDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("waiter err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	close(rt.release)
	if err := <-loadDone; err != nil {
		t.Fatalf("load: %v", err)
	}
	if !p.Loaded() {
		t.Error("Loaded() = false after a successful load")
	}
	if err := p.ensureLoaded(context.Background(), nil); err != nil {
		t.Errorf("after load: %v", err)
	}
}
