package http_server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncstart/internal/roomid"
	"syncstart/internal/services/room"
	"syncstart/internal/ws"
)

func newTestServer(t *testing.T, roomsAPI bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rooms := room.NewRoomService(roomid.New(nil), time.Hour)
	wsSrv := ws.NewWsServer(rooms, nil, ws.Options{})
	h := NewHttpServer(context.Background(), 0, wsSrv, rooms, roomsAPI)
	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Equal(t, "ok", body(t, resp))
}

func TestDefaultResponse(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/", "/anything", "/rooms"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, bannerText, body(t, resp), path)
	}

	resp, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, bannerText, body(t, resp))
}

func TestRoomsAPIToggle(t *testing.T) {
	ts := newTestServer(t, true)
	resp, err := http.Get(ts.URL + "/rooms")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Contains(t, body(t, resp), `"total":0`)
}

func TestWebSocketOnAnyPath(t *testing.T) {
	ts := newTestServer(t, false)
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	for _, path := range []string{"/ws", "/", "/some/where"} {
		c, _, err := websocket.DefaultDialer.Dial(base+path, nil)
		require.NoError(t, err, path)

		require.NoError(t, c.WriteJSON(map[string]any{"type": ws.TypeCreateRoom}))
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m map[string]any
		require.NoError(t, c.ReadJSON(&m))
		assert.Equal(t, ws.TypeRoomCreated, m["type"], path)
		c.Close()
	}
}
