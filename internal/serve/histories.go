package serve

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/review"
)

func (s *Server) handleListHistories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	if query := strings.TrimSpace(q.Get("q")); query != "" {
		results, err := s.opts.Store.Search(r.Context(), query, limit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if results == nil {
			results = []history.SearchResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	list, err := s.opts.Store.List(r.Context(), history.ListOptions{
		Provider: q.Get("provider"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if list == nil {
		list = []history.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"histories": list})
}

// loadHistory writes a 404 and returns nil when the id is unknown.
func (s *Server) loadHistory(w http.ResponseWriter, r *http.Request) *history.History {
	h, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return nil
	}
	if h == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "history not found"})
		return nil
	}
	return h
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if h := s.loadHistory(w, r); h != nil {
		writeJSON(w, http.StatusOK, h)
	}
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	err := s.opts.Store.Delete(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "history not found"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleHistoryDiff(w http.ResponseWriter, r *http.Request) {
	h := s.loadHistory(w, r)
	if h == nil {
		return
	}
	sug, ok := review.LatestSuggestion(h.Messages)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no code suggestion in this chat"})
		return
	}
	diff, err := sug.Unified()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"language": sug.Language,
		"original": sug.Original,
		"modified": sug.Modified,
		"diff":     diff,
	})
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	h := s.loadHistory(w, r)
	if h == nil {
		return
	}
	opts := history.ExportOptions{IncludeSystem: r.URL.Query().Get("system") == "1"}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(history.ExportToMarkdown(h, opts)))
	case "html":
		out, err := history.ExportToHTML(h, opts)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(out))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown format " + strconv.Quote(format)})
	}
}
