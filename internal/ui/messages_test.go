package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageTableView(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := MessageTableView("Session abc", []MessageRow{
		{ID: "11111111-2222", Content: "first", CreatedAt: at},
		{ID: "33333333-4444", Content: strings.Repeat("x", 100), CreatedAt: at.Add(time.Second)},
	})
	assert.Contains(t, out, "Session abc")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "…")
	assert.Less(t, strings.Index(out, "first"), strings.Index(out, "xxxx"))

	assert.Contains(t, MessageTableView("empty", nil), "No messages yet")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
