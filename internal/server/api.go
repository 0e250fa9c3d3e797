package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/metrics"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/ratelimit"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/session"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/signaling"
)

const maxBodyBytes = 128 * 1024

// Limiters holds one limiter per rate-limited action.
type Limiters struct {
	Create  *ratelimit.Limiter
	Message *ratelimit.Limiter
	Poll    *ratelimit.Limiter
}

// Prune drops idle keys from every limiter.
func (l Limiters) Prune(now time.Time) int {
	n := 0
	for _, lim := range []*ratelimit.Limiter{l.Create, l.Message, l.Poll} {
		if lim != nil {
			n += lim.Prune(now)
		}
	}
	return n
}

type api struct {
	hub           *signaling.Hub
	sessions      *session.Service
	limits        Limiters
	cleanupSecret string
	metrics       *metrics.Sessions
	log           *zap.Logger
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /room", a.createRoom)
	mux.HandleFunc("POST /session/create", a.createSession)
	mux.HandleFunc("POST /session/{id}/join", a.joinSession)
	mux.HandleFunc("POST /session/{id}/message", a.postMessage)
	mux.HandleFunc("GET /session/{id}/poll", a.poll)
	mux.HandleFunc("POST /cleanup", a.cleanup)
}

func (a *api) createRoom(w http.ResponseWriter, _ *http.Request) {
	room, err := a.hub.CreateRoom()
	if err != nil {
		a.log.Error("create room", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"roomId":    room.ID,
		"expiresAt": room.ExpiresAt,
	})
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, a.limits.Create, ratelimit.Key(clientIP(r), "create-chat"), "create") {
		return
	}
	sess, err := a.sessions.Create()
	if err != nil {
		a.log.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID, "key": sess.Key})
}

func (a *api) joinSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Join(r.PathValue("id"))
	if err != nil {
		a.sessionError(w, err, "Failed to join chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expiresAt": sess.ExpiresAt})
}

type postRequest struct {
	Content any `json:"content"`
}

func (a *api) postMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.allow(w, a.limits.Message, ratelimit.Key(clientIP(r), "message-"+id), "message") {
		return
	}

	var req postRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	content, isString := req.Content.(string)
	if err != nil || !isString {
		// Unknown and expired sessions still take precedence.
		if _, lookupErr := a.sessions.Join(id); lookupErr != nil {
			a.sessionError(w, lookupErr, "Failed to send message")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid content")
		return
	}

	msg, err := a.sessions.Post(id, content)
	if err != nil {
		a.sessionError(w, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID})
}

func (a *api) poll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.allow(w, a.limits.Poll, ratelimit.Key(clientIP(r), "poll-"+id), "poll") {
		return
	}
	msgs, err := a.sessions.Poll(id)
	if err != nil {
		a.sessionError(w, err, "Failed to poll messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *api) cleanup(w http.ResponseWriter, r *http.Request) {
	if a.cleanupSecret == "" {
		writeError(w, http.StatusInternalServerError, "Server misconfigured")
		return
	}
	want := "Bearer " + a.cleanupSecret
	got := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	n, err := a.sessions.Cleanup()
	if err != nil {
		a.log.Error("cleanup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

// allow applies lim to key and writes a 429 when the budget is spent.
func (a *api) allow(w http.ResponseWriter, lim *ratelimit.Limiter, key, action string) bool {
	if lim == nil || lim.Allow(key) {
		return true
	}
	a.metrics.RateLimited.WithLabelValues(action).Inc()
	writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	return false
}

// sessionError maps session errors onto status codes.
func (a *api) sessionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "Chat session expired")
	case errors.Is(err, session.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, "Invalid content")
	default:
		a.log.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
