// Package sse implements the streaming gateway: it emits an immediate
// thinking event, runs the orchestrator turn, and streams its
// stream_events to the client as they accrue, deduping against a
// per-request sent-index. One turn per request; the heartbeat ticker
// keeps idle proxies from closing the stream.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"morada/internal/agent/app"
	"morada/internal/agent/domain"
	"morada/internal/agent/ports"
	"morada/internal/logging"
)

// defaultHeartbeatInterval is used when the caller does not override the
// keepalive ticker via NewGatewayWithHeartbeat.
const defaultHeartbeatInterval = 30 * time.Second

// Request is the client protocol body. EndSession lets the client mark
// the last turn of a conversation so post_process can generate the
// conversation-end narrative; there is no server-side session timeout.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	EndSession     bool   `json:"end_session"`
}

// Gateway drives one SSE stream per HTTP request.
type Gateway struct {
	Services          *app.Services
	heartbeatInterval time.Duration
	logger            logging.Logger
}

// NewGateway builds a Gateway bound to svc with the default heartbeat.
func NewGateway(svc *app.Services) *Gateway {
	return NewGatewayWithHeartbeat(svc, defaultHeartbeatInterval)
}

// NewGatewayWithHeartbeat builds a Gateway whose keepalive ticker fires
// every interval.
func NewGatewayWithHeartbeat(svc *app.Services, interval time.Duration) *Gateway {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Gateway{Services: svc, heartbeatInterval: interval, logger: logging.NewComponentLogger("sse-gateway")}
}

// Handle runs one turn and streams its events. Authentication is handled
// by the auth middleware mounted ahead of this handler; userID is read
// from gin's context.
func (g *Gateway) Handle(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid, _ := userID.(string)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated user"})
		return
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	writeEvent(c.Writer, "thinking", map[string]any{"message": "thinking"})
	flusher.Flush()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	done := make(chan struct{})
	sink := make(chan domain.StreamEvent, 64)
	sentEvents := 0
	errorSent := false
	var finalState *domain.State
	var runErr error

	go func() {
		defer close(done)
		st := &domain.State{UserID: uid, ConversationID: req.ConversationID, Messages: []ports.Message{}, EventSink: sink}
		finalState, runErr = app.RunTurn(ctx, g.Services, st, req.Message, req.EndSession)
	}()

	heartbeat := time.NewTicker(g.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			// Client disconnected; cancel the in-flight turn and stop writing.
			return
		case ev := <-sink:
			writeEvent(c.Writer, string(ev.Kind), ev.Payload)
			flusher.Flush()
			sentEvents++
			if ev.Kind == domain.EventError {
				errorSent = true
			}
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case <-done:
			// Drain events the sink delivered but the loop has not read yet,
			// then anything the bounded sink dropped.
			for {
				select {
				case ev := <-sink:
					writeEvent(c.Writer, string(ev.Kind), ev.Payload)
					sentEvents++
					if ev.Kind == domain.EventError {
						errorSent = true
					}
					continue
				default:
				}
				break
			}
			if finalState != nil {
				flushed := flushEvents(c.Writer, flusher, finalState, sentEvents)
				for i := sentEvents; i < len(finalState.StreamEvents); i++ {
					if finalState.StreamEvents[i].Kind == domain.EventError {
						errorSent = true
					}
				}
				sentEvents = flushed
			}
			if runErr != nil {
				// Exactly one error event per failed turn: skip the generic
				// one when a typed error event already went out.
				if !errorSent {
					writeEvent(c.Writer, "error", map[string]any{"message": runErr.Error()})
				}
				flusher.Flush()
				return
			}
			writeEvent(c.Writer, "message", map[string]any{"done": true})
			flusher.Flush()
			return
		}
	}
}

// flushEvents diffs st.StreamEvents against the per-request sent-index and
// writes only entries that never went out live.
func flushEvents(w http.ResponseWriter, flusher http.Flusher, st *domain.State, sentEvents int) int {
	for i := sentEvents; i < len(st.StreamEvents); i++ {
		ev := st.StreamEvents[i]
		writeEvent(w, string(ev.Kind), ev.Payload)
	}
	flusher.Flush()
	return len(st.StreamEvents)
}

func writeEvent(w http.ResponseWriter, eventType string, payload map[string]any) {
	body := map[string]any{"type": eventType}
	for k, v := range payload {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", encoded)
}
