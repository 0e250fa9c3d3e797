// Package session is the persisted, polling flavour of a room: a session
// record with a TTL plus an append-only list of opaque messages.
package session

import (
	"crypto/rand"
	"errors"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// MaxContentLength caps a message body, in UTF-16 code units.
	MaxContentLength = 20000

	keyLength   = 16
	keyAlphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrExpired        = errors.New("session expired")
	ErrInvalidContent = errors.New("invalid content")
)

// Session is one persisted chat.
type Session struct {
	ID        string    `msgpack:"id" json:"id"`
	Key       string    `msgpack:"key" json:"key"`
	CreatedAt time.Time `msgpack:"created_at" json:"createdAt"`
	ExpiresAt time.Time `msgpack:"expires_at" json:"expiresAt"`
}

// Expired reports whether the session is past its deadline at now. A
// session is still valid at exactly ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Message is one stored payload. Content is opaque to the server.
type Message struct {
	ID        string    `msgpack:"id" json:"id"`
	SessionID string    `msgpack:"session_id" json:"-"`
	Content   string    `msgpack:"content" json:"content"`
	CreatedAt time.Time `msgpack:"created_at" json:"createdAt"`
}

// ValidContent reports whether content may be stored. Length is counted in
// UTF-16 code units, the way the browser client measures it, so characters
// outside the Basic Multilingual Plane count twice.
func ValidContent(content string) bool {
	if content == "" || !utf8.ValidString(content) {
		return false
	}
	return ContentLength(content) <= MaxContentLength
}

// ContentLength returns the UTF-16 length of content.
func ContentLength(content string) int {
	n := 0
	for _, r := range content {
		n += utf16.RuneLen(r)
	}
	return n
}

// newKey returns a random URL-safe key of keyLength characters.
func newKey() (string, error) {
	buf := make([]byte, keyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[b&63]
	}
	return string(buf), nil
}
