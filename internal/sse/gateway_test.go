package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"morada/internal/agent/app"
	"morada/internal/agent/ports"
	"morada/internal/llm"
	"morada/internal/logging"
	"morada/internal/store"
	"morada/internal/toolregistry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestGateway(responses []ports.CompletionResponse) *Gateway {
	svc := &app.Services{
		Store:       store.NewMemoryStore(),
		LLM:         &llm.MockClient{Responses: responses},
		Tools:       toolregistry.NewBuiltin(),
		Logger:      logging.NewComponentLogger("test"),
		Now:         time.Now,
		CallTimeout: 5 * time.Second,
	}
	return NewGatewayWithHeartbeat(svc, time.Hour)
}

func newAuthorizedContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set("user_id", "u1")
	return c, rec
}

func TestHandleStreamsMessageDoneOnSuccess(t *testing.T) {
	gw := newTestGateway([]ports.CompletionResponse{{Content: "Hello there!"}})
	c, rec := newAuthorizedContext(`{"message":"hi"}`)

	gw.Handle(c)

	body := rec.Body.String()
	require.Contains(t, body, `"type":"thinking"`)
	require.Contains(t, body, `"done":true`)
}

func TestHandleRejectsMissingUser(t *testing.T) {
	gw := newTestGateway(nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	gw.Handle(c)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRejectsEmptyMessage(t *testing.T) {
	gw := newTestGateway(nil)
	c, rec := newAuthorizedContext(`{"message":""}`)

	gw.Handle(c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEmitsErrorEventOnTurnBudgetExceeded(t *testing.T) {
	responses := make([]ports.CompletionResponse, 0, app.MaxCycles+2)
	for i := 0; i < app.MaxCycles+2; i++ {
		responses = append(responses, ports.CompletionResponse{
			ToolCalls: []ports.ToolCall{{ID: "call", Name: "manage_todos", Arguments: map[string]any{"action": "list"}}},
		})
	}
	gw := newTestGateway(responses)
	c, rec := newAuthorizedContext(`{"message":"loop forever"}`)

	gw.Handle(c)

	require.Contains(t, rec.Body.String(), `"type":"error"`)
}
