package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/config"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/signaling"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func testConfig() config.Config {
	return config.Config{
		RoomTTL:             15 * time.Minute,
		SessionTTL:          15 * time.Minute,
		SweepInterval:       time.Minute,
		ShutdownGracePeriod: time.Second,
		CleanupSecret:       "s3cret",
		RateLimit: config.RateLimitConfig{
			Create:  config.Limit{Limit: 5, Window: time.Hour},
			Message: config.Limit{Limit: 30, Window: time.Minute},
			Poll:    config.Limit{Limit: 60, Window: time.Minute},
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	s := New(cfg, Options{Now: clock.Now})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, clock
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func read(t *testing.T, conn *websocket.Conn) signaling.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg signaling.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readRaw(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestRelayEndToEnd(t *testing.T) {
	s, ts, _ := newTestServer(t, testConfig())
	x, y, z := dial(t, ts), dial(t, ts), dial(t, ts)

	send(t, x, `{"type":"join","roomId":"r1"}`)
	send(t, y, `{"type":"join","roomId":"r1"}`)
	require.Eventually(t, func() bool {
		st, ok := s.Hub().State("r1")
		return ok && st == signaling.KeysPending
	}, 5*time.Second, 10*time.Millisecond)

	send(t, z, `{"type":"join","roomId":"r1"}`)
	rejected := read(t, z)
	assert.Equal(t, signaling.TypeError, rejected.Type)
	assert.Equal(t, signaling.ErrTextRoomFull, rejected.Error)

	assert.Equal(t, signaling.TypeJoined, read(t, x).Type)
	assert.Equal(t, signaling.TypeJoined, read(t, y).Type)

	send(t, x, `{"type":"public-key","key":"k1"}`)
	send(t, y, `{"type":"public-key","key":"k2"}`)
	assert.Equal(t, signaling.Message{Type: signaling.TypePeerKey, Key: "k2"}, read(t, x))
	assert.Equal(t, signaling.Message{Type: signaling.TypePeerKey, Key: "k1"}, read(t, y))

	frame := `{"type":"encrypted-message","ciphertext":"abcd","iv":"0011"}`
	send(t, x, frame)
	assert.JSONEq(t, frame, readRaw(t, y))
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	_, ts, _ := newTestServer(t, testConfig())
	x, y := dial(t, ts), dial(t, ts)

	send(t, x, `not json`)
	send(t, x, `{"no":"type"}`)
	send(t, x, `{"type":"bogus"}`)
	send(t, x, `{"type":"join","roomId":"r2"}`)
	send(t, y, `{"type":"join","roomId":"r2"}`)
	send(t, x, `{"type":"public-key","key":"a"}`)
	send(t, y, `{"type":"public-key","key":"b"}`)

	assert.Equal(t, signaling.TypeJoined, read(t, x).Type)
	assert.Equal(t, signaling.TypeJoined, read(t, y).Type)
	assert.Equal(t, "b", read(t, x).Key)
	assert.Equal(t, "a", read(t, y).Key)
}

func TestDisconnectFreesCapacity(t *testing.T) {
	s, ts, _ := newTestServer(t, testConfig())
	x, y := dial(t, ts), dial(t, ts)
	send(t, x, `{"type":"join","roomId":"r3"}`)
	send(t, y, `{"type":"join","roomId":"r3"}`)
	require.Eventually(t, func() bool {
		st, _ := s.Hub().State("r3")
		return st == signaling.KeysPending
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, signaling.TypeJoined, read(t, x).Type)
	require.NoError(t, y.Close())
	assert.Equal(t, signaling.TypePeerLeft, read(t, x).Type)

	z := dial(t, ts)
	send(t, z, `{"type":"join","roomId":"r3"}`)
	require.Eventually(t, func() bool {
		st, _ := s.Hub().State("r3")
		return st == signaling.KeysPending
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExpiredRoomRejectsJoin(t *testing.T) {
	s, ts, clock := newTestServer(t, testConfig())
	x := dial(t, ts)
	send(t, x, `{"type":"join","roomId":"r4"}`)
	joined := read(t, x)
	require.Equal(t, signaling.TypeJoined, joined.Type)
	deadline, err := time.Parse(time.RFC3339, joined.ExpiresAt)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(clock.Now().Add(15*time.Minute)))

	clock.Advance(16 * time.Minute)
	y := dial(t, ts)
	send(t, y, `{"type":"join","roomId":"r4"}`)
	assert.Equal(t, signaling.TypeRoomExpired, read(t, y).Type)

	// The rejection reaps the room without waiting for a sweep.
	assert.False(t, s.Hub().Exists("r4"))
	assert.Equal(t, signaling.TypeRoomExpired, read(t, x).Type)
}

type apiClient struct {
	t  *testing.T
	ts *httptest.Server
}

func (c apiClient) do(method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.ts.URL+path, bytes.NewBufferString(body))
	require.NoError(c.t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := c.ts.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (c apiClient) createSession() string {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/session/create", "", nil)
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(c.t, id)
	key, _ := body["key"].(string)
	require.Len(c.t, key, 16)
	return id
}

func TestSessionTTLAcrossHTTP(t *testing.T) {
	_, ts, clock := newTestServer(t, testConfig())
	c := apiClient{t: t, ts: ts}
	id := c.createSession()

	clock.Advance(14 * time.Minute)
	resp, body := c.do(http.MethodPost, "/session/"+id+"/message", `{"content":"ab12"}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["id"])

	clock.Advance(2 * time.Minute)
	resp, body = c.do(http.MethodPost, "/session/"+id+"/message", `{"content":"cd34"}`, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "Chat session expired", body["error"])
}

func TestSessionStatusMatrix(t *testing.T) {
	_, ts, _ := newTestServer(t, testConfig())
	c := apiClient{t: t, ts: ts}
	id := c.createSession()

	resp, body := c.do(http.MethodPost, "/session/"+id+"/join", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = c.do(http.MethodPost, "/session/nope/join", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, bad := range []string{``, `{}`, `{"content":""}`, `{"content":42}`, `{"content":"` + strings.Repeat("x", 20001) + `"}`, `{"content":"` + strings.Repeat("🔒", 10001) + `"}`} {
		resp, body = c.do(http.MethodPost, "/session/"+id+"/message", bad, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %.20q", bad)
		assert.Equal(t, "Invalid content", body["error"])
	}

	resp, _ = c.do(http.MethodPost, "/session/nope/message", `{"content":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	c.do(http.MethodPost, "/session/"+id+"/message", `{"content":"first"}`, nil)
	c.do(http.MethodPost, "/session/"+id+"/message", `{"content":"second"}`, nil)
	resp, body = c.do(http.MethodGet, "/session/"+id+"/poll", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "second", msgs[1].(map[string]any)["content"])

	resp, _ = c.do(http.MethodGet, "/session/nope/poll", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestCreateRateLimit(t *testing.T) {
	_, ts, _ := newTestServer(t, testConfig())
	c := apiClient{t: t, ts: ts}
	hdr := map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}
	for i := 0; i < 5; i++ {
		resp, _ := c.do(http.MethodPost, "/session/create", "", hdr)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, body := c.do(http.MethodPost, "/session/create", "", hdr)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Rate limit exceeded", body["error"])

	// Another client is unaffected.
	resp, _ = c.do(http.MethodPost, "/session/create", "", map[string]string{"X-Forwarded-For": "198.51.100.7"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRateLimitedPostStoresNothing(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Message = config.Limit{Limit: 1, Window: time.Minute}
	_, ts, _ := newTestServer(t, cfg)
	c := apiClient{t: t, ts: ts}
	id := c.createSession()

	resp, _ := c.do(http.MethodPost, "/session/"+id+"/message", `{"content":"kept"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = c.do(http.MethodPost, "/session/"+id+"/message", `{"content":"dropped"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	_, body := c.do(http.MethodGet, "/session/"+id+"/poll", "", nil)
	msgs, _ := body["messages"].([]any)
	assert.Len(t, msgs, 1)
}

func TestCleanupAuth(t *testing.T) {
	_, ts, clock := newTestServer(t, testConfig())
	c := apiClient{t: t, ts: ts}
	id := c.createSession()

	resp, _ := c.do(http.MethodPost, "/cleanup", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = c.do(http.MethodPost, "/cleanup", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	clock.Advance(20 * time.Minute)
	resp, body := c.do(http.MethodPost, "/cleanup", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["deleted"])

	resp, _ = c.do(http.MethodPost, "/session/"+id+"/join", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCleanupWithoutSecretIsMisconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupSecret = ""
	_, ts, _ := newTestServer(t, cfg)
	resp, body := apiClient{t: t, ts: ts}.do(http.MethodPost, "/cleanup", "", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Server misconfigured", body["error"])
}

func TestCreateRoomReturnsIDAndDeadline(t *testing.T) {
	s, ts, clock := newTestServer(t, testConfig())
	resp, body := apiClient{t: t, ts: ts}.do(http.MethodPost, "/room", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["roomId"].(string)
	require.NotEmpty(t, id)
	assert.True(t, s.Hub().Exists(id))

	raw, _ := body["expiresAt"].(string)
	deadline, err := time.Parse(time.RFC3339, raw)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(clock.Now().Add(15*time.Minute)))
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts, _ := newTestServer(t, testConfig())
	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOriginAllowList(t *testing.T) {
	up := newUpgrader([]string{"https://chat.example.com/"})
	ok := func(origin string) bool {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return up.CheckOrigin(r)
	}
	assert.True(t, ok("https://chat.example.com"))
	assert.True(t, ok(""))
	assert.False(t, ok("https://evil.example.com"))

	open := newUpgrader(nil)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.test")
	assert.True(t, open.CheckOrigin(r))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(r))
}
