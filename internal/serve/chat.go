package serve

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

const maxChatBodyBytes = 4 << 20

var (
	errNotArray       = errors.New("Messages must be an array")
	errInvalidMessage = errors.New("Each message must have a role and content")
)

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
	Provider string          `json:"provider"`
}

// parseMessages validates the messages field of a chat request: it must be
// an array whose elements carry a known role and non-empty string content.
func parseMessages(raw json.RawMessage) (llm.Conversation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}

	var items []map[string]any
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, errInvalidMessage
	}

	conv := make(llm.Conversation, 0, len(items))
	for _, item := range items {
		role, _ := item["role"].(string)
		content, _ := item["content"].(string)
		if role == "" || content == "" || !llm.Role(role).Valid() {
			return nil, errInvalidMessage
		}
		conv = append(conv, llm.Message{Role: llm.Role(role), Content: content})
	}
	return conv, nil
}

// handleChat streams the reply to a conversation as plain text. Errors that
// happen before the first byte produce a JSON error response; later errors
// abort the connection so clients can tell a broken stream from a finished one.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	conv, err := parseMessages(body.Messages)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	provider, name, err := s.provider(body.Provider)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	reqID := requestID(r)
	w.Header().Set("X-Request-ID", reqID)
	s.streamText(w, r, provider, name, llm.Request{
		Messages:  conv.WithSystemPrompt(s.opts.SystemPrompt),
		RequestID: reqID,
	})
}

// handleMockStream streams the canned review without any backend.
func (s *Server) handleMockStream(w http.ResponseWriter, r *http.Request) {
	p := llm.NewDebugProvider("").WithDelay(s.opts.MockDelay)
	s.streamText(w, r, p, "debug", llm.Request{RequestID: requestID(r)})
}

func (s *Server) streamText(w http.ResponseWriter, r *http.Request, provider llm.Provider, name string, req llm.Request) {
	start := time.Now()
	var usage llm.Usage
	outcome, kind := "completed", llm.KindNone
	defer func() {
		s.metrics.ObserveTurn(name, outcome, kind, time.Since(start), usage)
	}()

	fail := func(err error, started bool) {
		kind = llm.KindOf(err)
		outcome = "failed"
		if kind == llm.KindCancelled {
			outcome = "cancelled"
		}
		slog.Warn("chat stream failed", "provider", name, "request_id", req.RequestID, "kind", kind.String(), "error", err)
		if !started {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		panic(http.ErrAbortHandler)
	}

	stream, err := provider.Stream(r.Context(), req)
	if err != nil {
		fail(err, false)
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	started := false
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(err, started)
			return
		}

		switch ev.Type {
		case llm.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			if !started {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if _, err := io.WriteString(w, ev.Text); err != nil {
				outcome, kind = "cancelled", llm.KindCancelled
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case llm.EventTextReplace:
			// A plain-text body cannot retract bytes already sent.
			slog.Debug("dropping text replace on plain-text stream", "provider", name)
		case llm.EventUsage:
			if ev.Use != nil {
				usage.InputTokens += ev.Use.InputTokens
				usage.OutputTokens += ev.Use.OutputTokens
			}
		case llm.EventError:
			fail(ev.Err, started)
			return
		}
	}

	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}
