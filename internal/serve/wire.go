package serve

import (
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

// WireEvent is the JSON envelope sent server->client.
// Every event has a monotonic Seq for catchup replay.
type WireEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// session_ready
	SessionID string   `json:"session_id,omitempty"`
	Providers []string `json:"providers,omitempty"`

	// session_ready / messages / message_done
	HistoryID string `json:"history_id,omitempty"`

	// session_ready / messages; an empty list is sent after a reset.
	Messages []llm.Message `json:"messages,omitempty"`

	// catchup
	Events []WireEvent `json:"events,omitempty"`

	// progress carries the full accumulated reply so far.
	Text string `json:"text,omitempty"`

	// load_progress
	Load *LoadInfo `json:"load,omitempty"`

	// message_done
	Outcome string     `json:"outcome,omitempty"`
	Kind    string     `json:"kind,omitempty"`
	Usage   *UsageInfo `json:"usage,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

type LoadInfo struct {
	Status    string  `json:"status"`
	Completed int64   `json:"completed"`
	Total     int64   `json:"total"`
	Fraction  float64 `json:"fraction"`
}

type UsageInfo struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ClientEvent is the JSON envelope sent client->server.
type ClientEvent struct {
	Type string `json:"type"`

	// message
	Text     string `json:"text,omitempty"`
	Provider string `json:"provider,omitempty"`
}

const (
	eventSessionReady = "session_ready"
	eventCatchup      = "catchup"
	eventMessages     = "messages"
	eventProgress     = "progress"
	eventLoadProgress = "load_progress"
	eventMessageDone  = "message_done"
	eventError        = "error"
)

func loadEvent(p llm.LoadProgress) WireEvent {
	return WireEvent{Type: eventLoadProgress, Load: &LoadInfo{
		Status:    p.Status,
		Completed: p.Completed,
		Total:     p.Total,
		Fraction:  p.Fraction(),
	}}
}

func doneEvent(res turn.Result, historyID string) WireEvent {
	ev := WireEvent{Type: eventMessageDone, Outcome: res.Outcome.String(), HistoryID: historyID}
	if res.Kind != llm.KindNone {
		ev.Kind = res.Kind.String()
	}
	if res.Usage.InputTokens > 0 || res.Usage.OutputTokens > 0 {
		ev.Usage = &UsageInfo{Input: res.Usage.InputTokens, Output: res.Usage.OutputTokens}
	}
	return ev
}
