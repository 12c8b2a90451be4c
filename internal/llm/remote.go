package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// RemoteProvider streams from a codereview server's POST /api/chat endpoint.
// The response body is plain text; every read is forwarded as a delta.
type RemoteProvider struct {
	baseURL  string
	token    string
	provider string
	client   *http.Client
}

// ChatRequestBody is the JSON body accepted by POST /api/chat.
type ChatRequestBody struct {
	Messages []Message `json:"messages"`
	Provider string    `json:"provider,omitempty"`
}

func NewRemoteProvider(baseURL, token, provider string) *RemoteProvider {
	return &RemoteProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		provider: provider,
		client:   &http.Client{},
	}
}

// WithHTTPClient replaces the HTTP client (tests use httptest clients).
func (p *RemoteProvider) WithHTTPClient(c *http.Client) *RemoteProvider {
	p.client = c
	return p
}

func (p *RemoteProvider) Name() string {
	return fmt.Sprintf("Remote (%s)", p.baseURL)
}

func (p *RemoteProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentDelta}
}

func (p *RemoteProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	// The server applies its own system prompt.
	var msgs []Message
	for _, m := range req.Messages {
		if m.Role != RoleSystem {
			msgs = append(msgs, m)
		}
	}
	body, err := json.Marshal(ChatRequestBody{Messages: msgs, Provider: p.provider})
	if err != nil {
		return nil, NewError(KindInvalidInput, p.Name(), err)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return NewError(KindProviderUnavailable, p.Name(), err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.token)
		}
		if req.RequestID != "" {
			httpReq.Header.Set("X-Request-ID", req.RequestID)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return classifyStreamErr(p.Name(), err, false)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return NewError(KindProviderUnavailable, p.Name(),
				fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg))))
		}

		return readTextBody(ctx, p.Name(), resp.Body, events)
	}), nil
}

// readTextBody forwards body reads as deltas, holding back incomplete UTF-8
// sequences until the rest arrives.
func readTextBody(ctx context.Context, name string, body io.Reader, events chan<- Event) error {
	buf := make([]byte, 4096)
	var pending []byte
	emitted := false
	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := len(pending)
			for cut > 0 && !utf8.Valid(pending[:cut]) && len(pending)-cut < utf8.UTFMax {
				cut--
			}
			if cut > 0 {
				emitted = true
				if sendErr := send(ctx, events, Event{Type: EventTextDelta, Text: string(pending[:cut])}); sendErr != nil {
					return sendErr
				}
				pending = append(pending[:0], pending[cut:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classifyStreamErr(name, err, emitted)
		}
	}
	if len(pending) > 0 {
		if err := send(ctx, events, Event{Type: EventTextDelta, Text: string(pending)}); err != nil {
			return err
		}
	}
	return send(ctx, events, Event{Type: EventDone})
}
