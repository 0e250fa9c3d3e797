package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/signaling"
)

func newRelay(t *testing.T) string {
	t.Helper()
	hub := signaling.NewHub(signaling.HubOptions{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := signaling.NewClient(hub, conn)
		go c.WritePump()
		go c.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startSession(t *testing.T, url, room string) *Session {
	t.Helper()
	s, err := New(Options{URL: url, RoomID: room})
	require.NoError(t, err)
	s.Start(context.Background())
	t.Cleanup(func() { s.Close() })
	return s
}

func nextEvent(t *testing.T, s *Session, want EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "events closed while waiting for %s", want)
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestTwoSessionsPairAndChat(t *testing.T) {
	url := newRelay(t)
	alice := startSession(t, url, "amber-fox")
	bob := startSession(t, url, "amber-fox")

	nextEvent(t, alice, EventPaired)
	nextEvent(t, bob, EventPaired)
	assert.True(t, alice.Paired())

	require.NoError(t, alice.Send("hi bob"))
	require.NoError(t, alice.Send("second"))
	assert.Equal(t, "hi bob", nextEvent(t, bob, EventMessage).Text)
	assert.Equal(t, "second", nextEvent(t, bob, EventMessage).Text)

	require.NoError(t, bob.Send("hi alice"))
	assert.Equal(t, "hi alice", nextEvent(t, alice, EventMessage).Text)
}

func TestJoinReportsRoomDeadline(t *testing.T) {
	url := newRelay(t)
	before := time.Now()
	alice := startSession(t, url, "ticking-clock")

	ev := nextEvent(t, alice, EventJoined)
	assert.WithinDuration(t, before.Add(15*time.Minute), ev.ExpiresAt, 5*time.Second)

	deadline, ok := alice.ExpiresAt()
	require.True(t, ok)
	assert.True(t, deadline.Equal(ev.ExpiresAt))
}

func TestThirdSessionIsTurnedAway(t *testing.T) {
	url := newRelay(t)
	alice := startSession(t, url, "crowded")
	bob := startSession(t, url, "crowded")
	nextEvent(t, alice, EventPaired)
	nextEvent(t, bob, EventPaired)

	carol := startSession(t, url, "crowded")

	ev := nextEvent(t, carol, EventRoomFull)
	assert.True(t, errors.Is(ev.Err, ErrRoomFull))
	assert.False(t, carol.Paired())
}

func TestPeerLeavingIsReported(t *testing.T) {
	url := newRelay(t)
	alice := startSession(t, url, "short-lived")
	bob := startSession(t, url, "short-lived")
	nextEvent(t, alice, EventPaired)
	nextEvent(t, bob, EventPaired)

	require.NoError(t, bob.Close())
	nextEvent(t, alice, EventPeerLeft)
}

func TestSendBeforePairingFails(t *testing.T) {
	s, err := New(Options{URL: "ws://127.0.0.1:1/ws", RoomID: "lonely"})
	require.NoError(t, err)
	defer s.Close()

	err = s.Send("anyone?")
	assert.ErrorIs(t, err, ErrNotPaired)

	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, "send", chatErr.Op)

	assert.ErrorIs(t, s.Send("   "), ErrEmptyText)
}

func TestNewRequiresRoom(t *testing.T) {
	_, err := New(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.Error(t, err)
}

func TestCloseEndsEventStream(t *testing.T) {
	url := newRelay(t)
	s := startSession(t, url, "closing")
	require.NoError(t, s.Close())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}
