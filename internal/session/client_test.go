package session_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/config"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/server"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/session"
)

func TestClientAgainstServer(t *testing.T) {
	cfg := config.Config{
		SessionTTL: 30 * time.Minute,
		RateLimit: config.RateLimitConfig{
			Create: config.Limit{Limit: 1, Window: time.Hour},
		},
	}
	ts := httptest.NewServer(server.New(cfg, server.Options{}).Handler())
	defer ts.Close()

	ctx := context.Background()
	c := session.NewClient(ts.URL+"/", ts.Client())

	sess, err := c.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	expires, err := c.Join(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	id, err := c.Post(ctx, sess.ID, "0a0b0c")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := c.Poll(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0a0b0c", msgs[0].Content)
	assert.Equal(t, id, msgs[0].ID)

	_, err = c.Post(ctx, sess.ID, "")
	assert.ErrorIs(t, err, session.ErrInvalidContent)

	_, err = c.Join(ctx, "does-not-exist")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = c.Create(ctx)
	assert.ErrorIs(t, err, session.ErrRateLimited)
}
