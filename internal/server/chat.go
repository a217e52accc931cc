package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/logging"
)

var errNoActiveTurn = errors.New("no active turn")

// cancelRegistry tracks the cancel func of each in-flight turn by chat id.
type cancelRegistry struct {
	mu    sync.Mutex
	seq   uint64
	turns map[string]registered
}

type registered struct {
	seq    uint64
	cancel context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{turns: make(map[string]registered)}
}

// add registers cancel under chatID, cancelling any turn already running for
// that chat. The returned func unregisters it.
func (c *cancelRegistry) add(chatID string, cancel context.CancelFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.turns[chatID]; ok {
		prev.cancel()
	}
	c.seq++
	seq := c.seq
	c.turns[chatID] = registered{seq: seq, cancel: cancel}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.turns[chatID]; ok && cur.seq == seq {
			delete(c.turns, chatID)
		}
	}
}

func (c *cancelRegistry) cancel(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.turns[chatID]
	if !ok {
		return false
	}
	r.cancel()
	delete(c.turns, chatID)
	return true
}

func (c *cancelRegistry) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, r := range c.turns {
		r.cancel()
		delete(c.turns, id)
	}
}

func (c *cancelRegistry) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// start runs the turn under a cancellable child of parent registered by
// chat id. release must be called once the events are drained.
func (s *Server) start(parent context.Context, req domain.ChatRequest) (events <-chan domain.StreamEvent, release func(), err error) {
	ctx, cancel := context.WithCancel(parent)
	events, err = s.orch.Run(ctx, req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	unregister := s.cancels.add(req.ChatID, cancel)
	return events, func() {
		unregister()
		cancel()
	}, nil
}

// handleChatStream streams the turn as server-sent events. A client
// disconnect cancels the turn.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid request: "+err.Error()))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming not supported"))
		return
	}

	events, release, err := s.start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// clientMessage is a control frame sent by a websocket client after the
// chat request.
type clientMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
}

// handleChatWS runs one turn per websocket connection. The first frame is
// the chat request; later frames may cancel the turn or answer a
// permission-request event.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if allowAnyOrigin(s.corsOrigins) {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = originHosts(s.corsOrigins)
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("ws_accept", nil, err)
		return
	}
	conn.SetReadLimit(1 << 20)
	defer conn.CloseNow()

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}

	writeEvent := func(ev domain.StreamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}

	var req domain.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeEvent(domain.Failure("invalid request: " + err.Error()))
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	events, release, err := s.start(ctx, req)
	if err != nil {
		writeEvent(domain.Failure(err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "request rejected")
		return
	}
	defer release()

	store := s.classifier.Store()
	logging.SafeGo("server", func() {
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				release()
				return
			}
			var cm clientMessage
			if json.Unmarshal(msg, &cm) != nil {
				continue
			}
			switch cm.Type {
			case "cancel":
				release()
			case "approve":
				if cm.Command != "" {
					store.Approve(req.ChatID, cm.Command)
				}
			case "deny":
				if cm.Command != "" {
					store.Deny(req.ChatID, cm.Command)
				}
			}
		}
	})

	for ev := range events {
		if err := writeEvent(ev); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	if !s.cancels.cancel(chatID) {
		writeError(w, fmt.Errorf("%w for chat %q", errNoActiveTurn, chatID))
		return
	}
	writeJSON(w, http.StatusOK, successResult{Success: true})
}
