package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/core/coretest"
	"github.com/dkeye/meshvoice/internal/domain"
)

func newTestRouter(t *testing.T) (*gin.Engine, *orch.Orchestrator, *coretest.Transport) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tr := coretest.NewTransport()
	factory := func(remote domain.UserID) (core.MediaConnection, error) {
		return coretest.NewConn(), nil
	}
	reg := app.NewRegistry("me", tr, coretest.NewSource(), factory, coretest.NewSink())
	o := &orch.Orchestrator{
		Registry:    reg,
		Transport:   tr,
		CurrentUser: domain.User{ID: "me", Login: "me"},
	}
	o.Subscribe(context.Background())

	r := SetupRouter(&config.Config{Mode: "test"}, o)
	return r, o, tr
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJoinValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, body := range []string{"", "{}", `{"room":{}}`, "not-json"} {
		w := do(r, http.MethodPost, "/api/call/join", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestJoinLeaveFlow(t *testing.T) {
	r, o, tr := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/call/join",
		`{"room":{"id":"1","title":"daily","members":[{"id":"me"},{"id":"b","login":"bob"}]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.RoomID{"1"}, tr.JoinedRooms())
	assert.Equal(t, 1, o.Registry.Size())

	w = do(r, http.MethodGet, "/api/call", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"in_call":true`)

	w = do(r, http.MethodGet, "/api/call/peers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"b"`)
	assert.Contains(t, w.Body.String(), `"role":"responder"`)

	w = do(r, http.MethodPost, "/api/call/leave", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, o.Registry.Size())

	w = do(r, http.MethodPost, "/api/call/leave", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMuteToggle(t *testing.T) {
	r, o, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/call/mute", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, o.Registry.Muted())

	w = do(r, http.MethodPost, "/api/call/unmute", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, o.Registry.Muted())
}
