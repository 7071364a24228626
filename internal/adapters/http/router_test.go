package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type api struct {
	t       *testing.T
	router  *gin.Engine
	cookies []*http.Cookie
}

func newAPI(t *testing.T) *api {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", Secret: "secret", StaticPath: t.TempDir()}
	relay := app.NewRelay(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{})
	return &api{t: t, router: SetupRouter(context.Background(), cfg, relay)}
}

func (a *api) do(method, path string, body any) (int, map[string]any) {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	for _, fresh := range w.Result().Cookies() {
		kept := a.cookies[:0]
		for _, c := range a.cookies {
			if c.Name != fresh.Name {
				kept = append(kept, c)
			}
		}
		a.cookies = append(kept, fresh)
	}
	var out map[string]any
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestRoomDirectoryAPI(t *testing.T) {
	a := newAPI(t)

	code, out := a.do(http.MethodPost, "/api/create-room", nil)
	require.Equal(t, http.StatusOK, code)
	room := out["roomId"].(string)
	assert.Len(t, room, 8)

	code, out = a.do(http.MethodPost, "/api/join-room/"+room, nil)
	require.Equal(t, http.StatusOK, code)
	alice := out["userId"].(string)
	assert.Len(t, alice, 8)
	assert.Len(t, out["participants"], 1)

	code, out = a.do(http.MethodPost, "/api/join-room/"+room, map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bob", out["userId"])

	code, _ = a.do(http.MethodPost, "/api/join-room/"+room, map[string]string{"userId": "bob"})
	assert.Equal(t, http.StatusConflict, code)

	code, out = a.do(http.MethodGet, "/api/room-status/"+room, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, out["participants"])

	code, out = a.do(http.MethodPost, "/api/leave-room", map[string]string{"roomId": room, "userId": alice})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])

	// the cookie session remembers bob from the last join
	code, _ = a.do(http.MethodPost, "/api/leave-room", nil)
	require.Equal(t, http.StatusOK, code)

	code, out = a.do(http.MethodGet, "/api/room-status/"+room, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, out["success"])
}

func TestRoomDirectoryErrors(t *testing.T) {
	a := newAPI(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"join unknown room", http.MethodPost, "/api/join-room/nope", nil, http.StatusNotFound},
		{"status unknown room", http.MethodGet, "/api/room-status/nope", nil, http.StatusNotFound},
		{"leave missing fields", http.MethodPost, "/api/leave-room", map[string]string{"roomId": "x"}, http.StatusBadRequest},
		{"leave unknown room", http.MethodPost, "/api/leave-room", map[string]string{"roomId": "x", "userId": "y"}, http.StatusNotFound},
		{"signal missing fields", http.MethodPost, "/api/signal", map[string]string{"roomId": "x"}, http.StatusBadRequest},
		{
			"signal unknown room", http.MethodPost, "/api/signal",
			map[string]any{"roomId": "x", "userId": "a", "targetId": "b", "signal": map[string]string{"kind": "bye"}},
			http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.t = t
			code, out := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, false, out["success"])
		})
	}
}

func TestSignalToOfflineMember(t *testing.T) {
	a := newAPI(t)
	_, out := a.do(http.MethodPost, "/api/create-room", nil)
	room := out["roomId"].(string)
	a.do(http.MethodPost, "/api/join-room/"+room, map[string]string{"userId": "a"})
	a.do(http.MethodPost, "/api/join-room/"+room, map[string]string{"userId": "b"})

	code, out := a.do(http.MethodPost, "/api/signal", map[string]any{
		"roomId":   room,
		"userId":   "a",
		"targetId": "b",
		"signal":   map[string]string{"kind": "bye", "sessionId": "s"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["delivered"], "b reserved an id but has no relay connection")
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	code, out := a.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}
