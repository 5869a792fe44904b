package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
)

const (
	// Application close codes for refused upgrades.
	closeUnknownSession = 4004
	closeSessionBusy    = 4009

	// A generation with no observable progress for this long is treated as
	// stalled: the client gets a degraded-state error frame and the handler
	// stops waiting. The underlying generation is cancelled, not killed.
	streamStallTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type outboundFrame struct {
	Type       string           `json:"type"`
	SessionID  string           `json:"sessionId,omitempty"`
	Content    string           `json:"content,omitempty"`
	Index      *int             `json:"index,omitempty"`
	ToolCall   *models.ToolCall `json:"toolCall,omitempty"`
	StopReason string           `json:"stopReason,omitempty"`
	Error      string           `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// wsConn wraps a websocket connection with a write lock, since the read loop
// and the generation goroutine both emit frames.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(frame outboundFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(frame)
}

func (w *wsConn) sendError(name, msg string) error {
	return w.send(outboundFrame{Type: "error", Error: name, Message: msg})
}

func (w *wsConn) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = w.conn.Close()
}

// handleStream owns the duplex conversation connection for one session.
// Inbound frames are validated individually; a rejected frame never tears
// down the connection. Generations are serialized per connection, and an
// interrupted generation persists whatever was buffered without emitting
// done.
func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	conn := &wsConn{conn: raw}

	if _, err := s.sessions.Get(c.Request.Context(), id); err != nil {
		conn.close(closeUnknownSession, "unknown session")
		return
	}
	if !s.acquireStream(id) {
		conn.close(closeSessionBusy, "session already streaming")
		return
	}
	defer s.releaseStream(id)
	defer conn.close(websocket.CloseNormalClosure, "")

	if err := conn.send(outboundFrame{Type: "connected", SessionID: id}); err != nil {
		return
	}

	// Cancelled the moment the read loop exits, so an in-flight generation
	// observes disconnect immediately.
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		genMu    sync.Mutex
		inFlight bool
		genWG    sync.WaitGroup
	)

	for {
		_, payload, err := raw.ReadMessage()
		if err != nil {
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			_ = conn.sendError("InvalidJSON", "frame is not valid JSON")
			continue
		}

		switch frame.Type {
		case "ping":
			_ = conn.send(outboundFrame{Type: "pong"})

		case "message":
			if strings.TrimSpace(frame.Content) == "" {
				_ = conn.sendError("InvalidMessage", "message content must not be empty")
				continue
			}
			genMu.Lock()
			if inFlight {
				genMu.Unlock()
				_ = conn.sendError("GenerationInProgress", "a generation is already in flight")
				continue
			}
			inFlight = true
			genMu.Unlock()

			genWG.Add(1)
			go func(content string) {
				defer genWG.Done()
				defer func() {
					genMu.Lock()
					inFlight = false
					genMu.Unlock()
				}()
				s.runGeneration(connCtx, conn, id, content)
			}(frame.Content)

		default:
			_ = conn.sendError("InvalidMessageType", "unknown frame type")
		}
	}

	// Read loop is done: the peer is gone. Cancel any in-flight generation
	// and wait for its partial persistence to finish.
	cancel()
	genWG.Wait()
}

// runGeneration drives one streaming turn: forwards each fragment as a
// content_chunk with a strictly increasing zero-based index, buffers a
// server-side copy, and on interrupt or stall persists the buffered partial
// instead of emitting done.
func (s *Server) runGeneration(ctx context.Context, conn *wsConn, sessionID, content string) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.chat.StreamMessage(genCtx, sessionID, content)
	if err != nil {
		_ = conn.sendError(errorFrameName(err), err.Error())
		return
	}

	var (
		buf   strings.Builder
		calls []models.ToolCall
		index int
	)

	persistPartial := func() {
		if buf.Len() == 0 && len(calls) == 0 {
			return
		}
		// The connection context may already be cancelled; durability of the
		// partial must not depend on it.
		if _, err := s.chat.PersistPartial(context.Background(), sessionID, buf.String(), calls); err != nil {
			slog.Error("failed to persist partial assistant message",
				"session_id", sessionID, "error", err)
		}
	}

	// finish runs when the handler stops forwarding frames: cancel the
	// generation, then drain to the channel close so the producer's
	// unconditional terminal send never blocks. A Done seen while draining
	// means the producer already persisted the complete turn; only its
	// absence leaves the buffered partial to persist here.
	finish := func() {
		cancel()
		completed := false
		for ev := range events {
			if ev.Done {
				completed = true
			}
		}
		if !completed {
			persistPartial()
		}
	}

	stall := time.NewTimer(streamStallTimeout)
	defer stall.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Producer vanished without done or a terminal error.
				persistPartial()
				return
			}
			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(streamStallTimeout)

			switch {
			case ev.Err != nil:
				cancel()
				persistPartial()
				if errors.Is(ev.Err, context.Canceled) || errors.Is(ev.Err, context.DeadlineExceeded) {
					// Interrupted: the peer is gone or stopped us. No done,
					// no error frame; the partial is durable.
					return
				}
				_ = conn.sendError(errorFrameName(ev.Err), ev.Err.Error())
				return

			case ev.Done:
				stop := "end_turn"
				if len(calls) > 0 {
					stop = "tool_use"
				}
				_ = conn.send(outboundFrame{Type: "done", StopReason: stop})
				return

			case ev.ToolCall != nil:
				calls = append(calls, *ev.ToolCall)
				if err := conn.send(outboundFrame{Type: "tool_use", ToolCall: ev.ToolCall}); err != nil {
					finish()
					return
				}

			case ev.Content != "":
				i := index
				index++
				buf.WriteString(ev.Content)
				if err := conn.send(outboundFrame{Type: "content_chunk", Content: ev.Content, Index: &i}); err != nil {
					finish()
					return
				}
			}

		case <-stall.C:
			slog.Warn("generation stalled, clearing stream state",
				"session_id", sessionID, "chunks", index)
			_ = conn.sendError("StreamStalled", "no generation progress within the stall window")
			finish()
			return
		}
	}
}

func errorFrameName(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return "InvalidMessage"
	case errors.Is(err, apperr.ErrNotFound):
		return "SessionNotFound"
	case errors.Is(err, apperr.ErrBackendCapacity):
		return "BackendCapacity"
	case errors.Is(err, apperr.ErrBackendRejected):
		return "BackendRejected"
	case errors.Is(err, apperr.ErrBackendTransport):
		return "BackendTransport"
	default:
		return "OperationalError"
	}
}
