// Package serve exposes chat turns over HTTP: a plain-text streaming chat
// endpoint, websocket sessions driven by a turn controller, saved history
// routes and Prometheus metrics.
package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/llm"
)

// Options configures a Server.
type Options struct {
	// Providers are keyed by configured provider name.
	Providers map[string]llm.Provider
	// Choices maps "hosted" and "local" to provider names.
	Choices map[string]string
	// DefaultProvider answers requests that do not name a provider. It may
	// be a choice or a provider name.
	DefaultProvider string
	SystemPrompt    string
	Token           string
	// RateLimit is requests per second across the server; zero disables it.
	RateLimit      float64
	Burst          int
	Store          history.Store
	SurfaceAborted bool
	// MockDelay spaces the chunks of /api/mock-stream.
	MockDelay time.Duration
}

type Server struct {
	opts     Options
	registry map[string]llm.Provider
	limiter  *rate.Limiter
	metrics  *Metrics
	sessions *SessionManager
	handler  http.Handler
}

func New(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = &history.NoopStore{}
	}
	if opts.MockDelay == 0 {
		opts.MockDelay = 500 * time.Millisecond
	}

	s := &Server{
		opts:     opts,
		registry: buildRegistry(opts.Providers, opts.Choices),
		metrics:  NewMetrics(),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.sessions = newSessionManager(s)
	s.handler = s.routes()
	return s
}

// buildRegistry resolves choices to providers so a turn can name either.
func buildRegistry(providers map[string]llm.Provider, choices map[string]string) map[string]llm.Provider {
	reg := make(map[string]llm.Provider, len(providers)+len(choices))
	for name, p := range providers {
		if p != nil {
			reg[name] = p
		}
	}
	for choice, name := range choices {
		if p, ok := providers[name]; ok && p != nil {
			reg[choice] = p
		}
	}
	return reg
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.instrument("chat", s.auth(s.limit(s.handleChat))))
	mux.HandleFunc("GET /api/mock-stream", s.instrument("mock_stream", s.limit(s.handleMockStream)))
	mux.HandleFunc("POST /api/mock-stream", s.instrument("mock_stream", s.limit(s.handleMockStream)))
	mux.HandleFunc("GET /api/providers", s.auth(s.handleProviders))

	mux.HandleFunc("GET /api/histories", s.instrument("histories", s.auth(s.handleListHistories)))
	mux.HandleFunc("GET /api/histories/{id}", s.instrument("history", s.auth(s.handleGetHistory)))
	mux.HandleFunc("DELETE /api/histories/{id}", s.instrument("history", s.auth(s.handleDeleteHistory)))
	mux.HandleFunc("GET /api/histories/{id}/diff", s.instrument("history_diff", s.auth(s.handleHistoryDiff)))
	mux.HandleFunc("GET /api/histories/{id}/export", s.instrument("history_export", s.auth(s.handleExportHistory)))

	mux.HandleFunc("GET /api/sessions", s.auth(s.sessions.handleListSessions))
	mux.HandleFunc("GET /api/chat/ws", s.auth(s.limit(s.sessions.handleNewSession)))
	mux.HandleFunc("GET /api/chat/ws/{id}", s.auth(s.sessions.handleResumeSession))

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return mux
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// StartGC drops idle websocket sessions until ctx ends.
func (s *Server) StartGC(ctx context.Context) {
	s.sessions.StartGC(ctx)
}

// Close cancels in-flight turns and closes websocket connections.
func (s *Server) Close() {
	s.sessions.Close()
}

// provider resolves name (or the default) to a provider.
func (s *Server) provider(name string) (llm.Provider, string, error) {
	if name == "" {
		name = s.opts.DefaultProvider
	}
	p, ok := s.registry[name]
	if !ok {
		return nil, name, fmt.Errorf("unknown provider %q", name)
	}
	return p, name, nil
}

// providerNames lists the names a client may send, sorted.
func (s *Server) providerNames() []string {
	names := make([]string, 0, len(s.registry))
	for name := range s.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	type item struct {
		Name         string `json:"name"`
		Provider     string `json:"provider"`
		FragmentMode string `json:"fragment_mode"`
		Local        bool   `json:"local"`
	}
	items := make([]item, 0, len(s.registry))
	for _, name := range s.providerNames() {
		p := s.registry[name]
		caps := p.Capabilities()
		items = append(items, item{Name: name, Provider: p.Name(), FragmentMode: caps.FragmentMode.String(), Local: caps.Local})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": items, "default": s.opts.DefaultProvider})
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// authorized accepts a bearer token, or a token query parameter for
// browser websockets which cannot set headers.
func (s *Server) authorized(r *http.Request) bool {
	token := strings.TrimSpace(s.opts.Token)
	if token == "" {
		return true
	}
	if q := r.URL.Query().Get("token"); q != "" && strings.HasPrefix(r.URL.Path, "/api/chat/ws") {
		return q == token
	}
	value := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix)) == token
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) allow() bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	s.metrics.RateLimited.Inc()
	return false
}

// statusRecorder captures the status code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}()
		next(rec, r)
	}
}

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write json response", "error", err)
	}
}
