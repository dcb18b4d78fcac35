package httpserver

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

// startHTTPServer closes the server in a cleanup so that it runs after the
// response bodies opened later are closed; otherwise Close waits on the open
// streams forever.
func startHTTPServer(t *testing.T, srv *testServer) *httptest.Server {
	t.Helper()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return hs
}

func openSSE(t *testing.T, ctx context.Context, url, authHeader string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// readDataLine returns the payload of the next `data:` line that is not part
// of a heartbeat event.
func readDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	inHeartbeat := false
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "event: heartbeat":
			inHeartbeat = true
		case line == "":
			inHeartbeat = false
		case strings.HasPrefix(line, "data: ") && !inHeartbeat:
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStream_DeliversDispatchedFrames(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	resp := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream", "Bearer "+srv.token(t, testUserID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)
	require.True(t, srv.registry.DispatchLocal(testUserID, []byte(`{"unread":3}`)))

	assert.JSONEq(t, `{"unread":3}`, readDataLine(t, bufio.NewReader(resp.Body)))
}

func TestStream_HeartbeatFrame(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	resp := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream", "Bearer "+srv.token(t, testUserID))
	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)

	require.NoError(t, srv.clock.BlockUntilContext(context.Background(), 2))
	srv.clock.Advance(30 * time.Second)

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: heartbeat\n", line)
}

func TestStream_AcceptsQueryToken(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	resp := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream?access_token="+srv.token(t, testUserID), "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)
}

func TestStream_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	resp := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream", "")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, srv.registry.Count())
}

func TestStream_DisabledAnswers503(t *testing.T) {
	cfg := newTestConfig()
	cfg.StreamEnabled = false
	srv := newTestServerWithConfig(t, cfg, &mockNotificationService{})

	for _, path := range []string{"/api/notifications/stream", "/api/notifications/ws"} {
		rec := srv.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	assert.Equal(t, 0, srv.registry.Count())
}

func TestStream_ClientDisconnectUnregisters(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	openSSE(t, ctx, hs.URL+"/api/notifications/stream", "Bearer "+srv.token(t, testUserID))
	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)

	cancel()

	assert.Eventually(t, func() bool { return !srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)
}

func TestStream_SecondConnectionSupersedesFirst(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	auth := "Bearer " + srv.token(t, testUserID)
	first := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream", auth)
	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)

	second := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream", auth)
	require.Equal(t, http.StatusOK, second.StatusCode)

	// The first response ends once its handler sees the eviction.
	_, err := io.ReadAll(first.Body)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)
	assert.Equal(t, 1, srv.registry.Count())
	require.True(t, srv.registry.DispatchLocal(testUserID, []byte(`{"unread":1}`)))
	assert.JSONEq(t, `{"unread":1}`, readDataLine(t, bufio.NewReader(second.Body)))
}

func TestStream_ShutdownEndsResponse(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	resp := openSSE(t, context.Background(), hs.URL+"/api/notifications/stream", "Bearer "+srv.token(t, testUserID))
	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)

	srv.registry.Shutdown()

	_, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
}

func TestWebSocket_DeliversTextFrames(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/notifications/ws"
	header := http.Header{"Authorization": []string{"Bearer " + srv.token(t, testUserID)}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)
	require.True(t, srv.registry.DispatchLocal(testUserID, []byte(`{"unread":5}`)))

	_ = conn.SetReadDeadline(time.Now().Add(eventually))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"unread":5}`, string(data))
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/notifications/ws"
	header := http.Header{
		"Authorization": []string{"Bearer " + srv.token(t, testUserID)},
		"Origin":        []string{"https://evil.example"},
	}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, srv.registry.Count())
}

func TestWebSocket_PeerCloseUnregisters(t *testing.T) {
	srv := newTestServer(t, &mockNotificationService{})
	hs := startHTTPServer(t, srv)

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/notifications/ws"
	header := http.Header{"Authorization": []string{"Bearer " + srv.token(t, testUserID)}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return !srv.registry.Has(testUserID) }, eventually, 10*time.Millisecond)
}
