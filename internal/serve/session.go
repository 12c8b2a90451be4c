package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samsaffron/codereview-chat/internal/history"
	"github.com/samsaffron/codereview-chat/internal/llm"
	"github.com/samsaffron/codereview-chat/internal/turn"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	gcInterval         = 5 * time.Minute
	maxEventBuf        = 512
	writeTimeout       = 10 * time.Second
)

// RemoteSession is one websocket chat: a conversation, the controller that
// runs its turns and a replay buffer for reconnecting clients.
type RemoteSession struct {
	ID           string
	EventBuf     []WireEvent
	NextSeq      int64
	LastActiveAt time.Time

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	conv     llm.Conversation
	ctrl     *turn.Controller
	recorder *history.Recorder
	ctx      context.Context
	cancel   context.CancelFunc
}

func (sess *RemoteSession) conversation() llm.Conversation {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.conv.Clone()
}

// SessionManager manages active websocket chat sessions.
type SessionManager struct {
	srv      *Server
	sessions map[string]*RemoteSession
	mu       sync.RWMutex
}

func newSessionManager(srv *Server) *SessionManager {
	return &SessionManager{srv: srv, sessions: make(map[string]*RemoteSession)}
}

// StartGC drops idle sessions every few minutes until ctx ends.
func (m *SessionManager) StartGC(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.gcSessions(time.Now().Add(-sessionIdleTimeout))
		case <-ctx.Done():
			return
		}
	}
}

func (m *SessionManager) gcSessions(cutoff time.Time) {
	var stale []*RemoteSession

	m.mu.Lock()
	for id, sess := range m.sessions {
		sess.mu.Lock()
		inactive := sess.LastActiveAt.Before(cutoff)
		connected := sess.conn != nil
		sess.mu.Unlock()
		if inactive && !connected && !sess.ctrl.Busy() {
			delete(m.sessions, id)
			stale = append(stale, sess)
		}
	}
	m.srv.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, sess := range stale {
		sess.ctrl.Close()
		sess.cancel()
	}
}

// Close cancels every session's turn and closes its connection.
func (m *SessionManager) Close() {
	m.mu.Lock()
	all := make([]*RemoteSession, 0, len(m.sessions))
	for id, sess := range m.sessions {
		all = append(all, sess)
		delete(m.sessions, id)
	}
	m.srv.metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	for _, sess := range all {
		sess.ctrl.Close()
		sess.cancel()
		m.detachConn(sess, nil)
	}
}

func (m *SessionManager) handleListSessions(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	items := make([]map[string]any, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		item := map[string]any{
			"id":          sess.ID,
			"history_id":  sess.recorder.ID(),
			"messages":    len(sess.conv),
			"connected":   sess.conn != nil,
			"last_active": sess.LastActiveAt.Format(time.RFC3339Nano),
		}
		sess.mu.Unlock()
		item["busy"] = sess.ctrl.Busy()
		items = append(items, item)
	}
	m.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

// handleNewSession upgrades to a websocket and starts a session. A history
// query parameter continues a saved chat.
func (m *SessionManager) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var saved *history.History
	if id := r.URL.Query().Get("history"); id != "" {
		h, err := m.srv.opts.Store.Get(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if h == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "history not found"})
			return
		}
		saved = h
	}

	conn, err := m.upgrade(w, r)
	if err != nil {
		return
	}

	sess := m.newSession(saved)
	m.attachConn(sess, conn)
	m.sendSessionReady(sess, nil)
	m.runSessionLoop(sess, conn)
}

// handleResumeSession reattaches to a live session, replaying events after
// the since query parameter.
func (m *SessionManager) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m.mu.RLock()
	sess := m.sessions[id]
	m.mu.RUnlock()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}

	conn, err := m.upgrade(w, r)
	if err != nil {
		return
	}
	m.attachConn(sess, conn)

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	m.sendSessionReady(sess, func() *WireEvent {
		if since <= 0 {
			return nil
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
		var events []WireEvent
		for _, evt := range sess.EventBuf {
			if evt.Seq > since {
				events = append(events, evt)
			}
		}
		if len(events) == 0 {
			return nil
		}
		return &WireEvent{Type: eventCatchup, Events: events}
	})

	m.runSessionLoop(sess, conn)
}

func (m *SessionManager) newSession(saved *history.History) *RemoteSession {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &RemoteSession{
		ID:           uuid.NewString(),
		NextSeq:      1,
		LastActiveAt: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}

	historyID := ""
	if saved != nil {
		historyID = saved.ID
		sess.conv = saved.Messages.Clone()
	}
	sess.recorder = history.NewRecorder(m.srv.opts.Store, historyID)

	callbacks := sess.recorder.Attach(turn.Callbacks{
		OnMessagesChanged: func(conv llm.Conversation) {
			sess.mu.Lock()
			sess.conv = conv
			sess.mu.Unlock()
			m.writeStreamEvent(sess, WireEvent{Type: eventMessages, Messages: conv, HistoryID: sess.recorder.ID()})
		},
		OnProgress: func(text string) {
			m.writeStreamEvent(sess, WireEvent{Type: eventProgress, Text: text})
		},
		OnLoadProgress: func(p llm.LoadProgress) {
			m.writeStreamEvent(sess, loadEvent(p))
		},
		OnFinish: func(res turn.Result) {
			m.srv.metrics.ObserveResult(res)
			m.writeStreamEvent(sess, doneEvent(res, sess.recorder.ID()))
		},
	})

	sess.ctrl = turn.New(turn.Options{
		Providers:      m.srv.registry,
		SystemPrompt:   m.srv.opts.SystemPrompt,
		SurfaceAborted: m.srv.opts.SurfaceAborted,
		Callbacks:      callbacks,
	})

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.srv.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	return sess
}

func (m *SessionManager) runSessionLoop(sess *RemoteSession, conn *websocket.Conn) {
	readCh := make(chan ClientEvent)
	go func() {
		defer close(readCh)
		for {
			var ev ClientEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			readCh <- ev
		}
	}()

	for ev := range readCh {
		sess.mu.Lock()
		sess.LastActiveAt = time.Now()
		sess.mu.Unlock()

		switch ev.Type {
		case "message":
			m.handleMessage(sess, ev)
		case "interrupt":
			sess.ctrl.Cancel()
		case "reset":
			m.resetSession(sess)
		default:
			m.writeError(sess, "unknown event type "+strconv.Quote(ev.Type))
		}
	}

	m.detachConn(sess, conn)
}

func (m *SessionManager) handleMessage(sess *RemoteSession, ev ClientEvent) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	if !m.srv.allow() {
		m.writeError(sess, "rate limit exceeded")
		return
	}
	choice := ev.Provider
	if choice == "" {
		choice = m.srv.opts.DefaultProvider
	}
	if !sess.ctrl.Submit(sess.ctx, sess.conversation(), ev.Text, choice) {
		m.writeError(sess, "stream already in progress")
	}
}

// resetSession cancels any turn and starts a fresh chat in the same session.
func (m *SessionManager) resetSession(sess *RemoteSession) {
	sess.ctrl.Cancel()
	sess.ctrl.Wait()

	sess.mu.Lock()
	sess.conv = nil
	sess.EventBuf = nil
	sess.mu.Unlock()
	sess.recorder.Reset()

	m.writeStreamEvent(sess, WireEvent{Type: eventMessages})
}

func (m *SessionManager) attachConn(sess *RemoteSession, conn *websocket.Conn) {
	sess.mu.Lock()
	old := sess.conn
	sess.conn = conn
	sess.LastActiveAt = time.Now()
	sess.mu.Unlock()
	if old != nil && old != conn {
		_ = old.Close()
	}
}

// detachConn closes conn and clears it from the session if it is still the
// active one. A nil conn detaches whatever is attached.
func (m *SessionManager) detachConn(sess *RemoteSession, conn *websocket.Conn) {
	sess.mu.Lock()
	cur := sess.conn
	if conn == nil || cur == conn {
		sess.conn = nil
	}
	sess.mu.Unlock()

	if conn == nil {
		conn = cur
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *SessionManager) sendSessionReady(sess *RemoteSession, catchup func() *WireEvent) {
	sess.mu.Lock()
	msgs := sess.conv.Clone()
	sess.mu.Unlock()

	m.writeDirect(sess, WireEvent{
		Type:      eventSessionReady,
		SessionID: sess.ID,
		HistoryID: sess.recorder.ID(),
		Providers: m.srv.providerNames(),
		Messages:  msgs,
	})
	if catchup != nil {
		if ev := catchup(); ev != nil {
			m.writeDirect(sess, *ev)
		}
	}
}

// writeStreamEvent assigns the next seq, buffers the event for replay and
// sends it if a client is attached. Consecutive progress events collapse in
// the buffer since each carries the full text.
func (m *SessionManager) writeStreamEvent(sess *RemoteSession, ev WireEvent) {
	sess.mu.Lock()
	ev.Seq = sess.NextSeq
	sess.NextSeq++
	if n := len(sess.EventBuf); ev.Type == eventProgress && n > 0 && sess.EventBuf[n-1].Type == eventProgress {
		sess.EventBuf[n-1] = ev
	} else {
		sess.EventBuf = append(sess.EventBuf, ev)
	}
	if len(sess.EventBuf) > maxEventBuf {
		sess.EventBuf = append([]WireEvent(nil), sess.EventBuf[len(sess.EventBuf)-maxEventBuf:]...)
	}
	sess.mu.Unlock()

	m.writeDirect(sess, ev)
}

func (m *SessionManager) writeError(sess *RemoteSession, message string) {
	m.writeStreamEvent(sess, WireEvent{Type: eventError, Message: message})
}

// writeDirect sends ev to the attached client, if any.
func (m *SessionManager) writeDirect(sess *RemoteSession, ev WireEvent) {
	sess.mu.Lock()
	conn := sess.conn
	sess.mu.Unlock()
	if conn == nil {
		return
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = writeEvent(conn, ev)
}

func (m *SessionManager) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return upgrader.Upgrade(w, r, nil)
}

func writeEvent(conn *websocket.Conn, e WireEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
