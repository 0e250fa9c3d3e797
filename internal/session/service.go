package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/metrics"
)

// DefaultTTL is how long a session accepts messages.
const DefaultTTL = 30 * time.Minute

// ServiceOptions configure a Service.
type ServiceOptions struct {
	Store   Store
	TTL     time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Sessions
	Now     func() time.Time
}

// Service implements session create, join, post, poll and cleanup on top
// of a Store. Every lookup re-checks expiry, so an expired session is
// refused even before Cleanup removes it.
type Service struct {
	store   Store
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Sessions
	now     func() time.Time
}

func NewService(opts ServiceOptions) *Service {
	s := &Service{
		store:   opts.Store,
		ttl:     opts.TTL,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSessions(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create starts a new session that expires after the configured TTL.
func (s *Service) Create() (*Session, error) {
	key, err := newKey()
	if err != nil {
		return nil, fmt.Errorf("session: generate key: %w", err)
	}
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	s.metrics.Created.Inc()
	s.log.Debug("session created", zap.String("session", sess.ID), zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Join confirms the session exists and is still live.
func (s *Service) Join(id string) (*Session, error) {
	return s.live(id)
}

// Post stores content in the session. Content is never inspected beyond
// its length.
func (s *Service) Post(id, content string) (*Message, error) {
	if _, err := s.live(id); err != nil {
		return nil, err
	}
	if !ValidContent(content) {
		return nil, ErrInvalidContent
	}
	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.store.AddMessage(msg); err != nil {
		return nil, fmt.Errorf("session: store message: %w", err)
	}
	s.metrics.MessagesPosted.Inc()
	return msg, nil
}

// Poll returns every message in the session, oldest first.
func (s *Service) Poll(id string) ([]Message, error) {
	if _, err := s.live(id); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		return nil, fmt.Errorf("session: list messages: %w", err)
	}
	return msgs, nil
}

// Cleanup deletes every session that expired before now, with its
// messages.
func (s *Service) Cleanup() (int, error) {
	n, err := s.store.DeleteExpired(s.now())
	if err != nil {
		return 0, fmt.Errorf("session: cleanup: %w", err)
	}
	if n > 0 {
		s.metrics.Expired.Add(float64(n))
		s.log.Info("expired sessions removed", zap.Int("count", n))
	}
	return n, nil
}

func (s *Service) live(id string) (*Session, error) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// Run calls Cleanup every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				s.log.Warn("session cleanup failed", zap.Error(err))
			}
		}
	}
}
