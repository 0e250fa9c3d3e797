// Package chat runs one end of an encrypted two-party room: it joins
// through the relay, exchanges public keys, and turns relay frames into
// events for the UI.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/e2e"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/signaling"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/transport"
)

const eventBufferSize = 64

// EventKind classifies an Event.
type EventKind int

const (
	EventPaired EventKind = iota
	EventMessage
	EventPeerLeft
	EventRoomFull
	EventRoomExpired
	EventError
	EventReconnected
	EventClosed
	EventJoined
)

func (k EventKind) String() string {
	switch k {
	case EventPaired:
		return "paired"
	case EventMessage:
		return "message"
	case EventPeerLeft:
		return "peer-left"
	case EventRoomFull:
		return "room-full"
	case EventRoomExpired:
		return "room-expired"
	case EventError:
		return "error"
	case EventReconnected:
		return "reconnected"
	case EventJoined:
		return "joined"
	default:
		return "closed"
	}
}

// Event is something the UI should show. ExpiresAt is set on EventJoined.
type Event struct {
	Kind      EventKind
	Text      string
	Err       error
	At        time.Time
	ExpiresAt time.Time
}

// Options configure a Session.
type Options struct {
	URL       string
	RoomID    string
	Reconnect *transport.ReconnectPolicy
	Dialer    transport.Dialer
	Logger    *zap.Logger
}

// Session is one participant in one room.
type Session struct {
	roomID  string
	keys    *e2e.KeyPair
	adapter *transport.Adapter
	log     *zap.Logger

	mu        sync.RWMutex
	key       *e2e.SessionKey
	expiresAt time.Time
	connected bool

	events    chan Event
	quit      chan struct{}
	closeOnce sync.Once
	eventOnce sync.Once
}

// New generates an ephemeral key pair and prepares the relay connection.
// Nothing is dialed until Start.
func New(opts Options) (*Session, error) {
	if opts.RoomID == "" {
		return nil, newError("new session", signalingError(signaling.ErrTextInvalidRoomID))
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	keys, err := e2e.GenerateKeyPair()
	if err != nil {
		return nil, newError("generate keys", err)
	}
	pub, err := keys.PublicKeyHex()
	if err != nil {
		return nil, newError("export public key", err)
	}

	adapter, err := transport.New(transport.Options{
		URL: opts.URL,
		Hello: []any{
			signaling.Message{Type: signaling.TypeJoin, RoomID: opts.RoomID},
			signaling.Message{Type: signaling.TypePublicKey, Key: pub},
		},
		Reconnect: opts.Reconnect,
		Dialer:    opts.Dialer,
		Logger:    log,
	})
	if err != nil {
		return nil, newError("connect", err)
	}

	s := &Session{
		roomID:  opts.RoomID,
		keys:    keys,
		adapter: adapter,
		log:     log.With(zap.String("room", opts.RoomID)),
		events:  make(chan Event, eventBufferSize),
		quit:    make(chan struct{}),
	}
	adapter.OnMessage(s.handle)
	adapter.OnStateChange(s.stateChanged)
	return s, nil
}

// RoomID returns the room this session joins.
func (s *Session) RoomID() string {
	return s.roomID
}

// Events streams what happens in the room. The channel is closed after
// EventClosed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start connects in the background.
func (s *Session) Start(ctx context.Context) {
	s.adapter.Start(ctx)
}

// Paired reports whether the session key has been derived.
func (s *Session) Paired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// ExpiresAt returns the room deadline the relay reported on join.
func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt, !s.expiresAt.IsZero()
}

// Send encrypts text and hands it to the relay.
func (s *Session) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return newError("send", ErrEmptyText)
	}
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil {
		return newError("send", ErrNotPaired)
	}

	ciphertext, iv, err := key.Encrypt(text)
	if err != nil {
		return newError("encrypt", err)
	}
	err = s.adapter.Send(signaling.Message{
		Type:       signaling.TypeEncryptedMessage,
		Ciphertext: ciphertext,
		IV:         iv,
	})
	if err != nil {
		return newError("send", err)
	}
	return nil
}

// Close leaves the room.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return s.adapter.Close()
}

func (s *Session) handle(data []byte) {
	msg, err := signaling.DecodeMessage(data)
	if err != nil {
		s.log.Debug("ignoring malformed frame", zap.Error(err))
		return
	}

	switch msg.Type {
	case signaling.TypeJoined:
		s.handleJoined(msg.ExpiresAt)

	case signaling.TypePeerKey:
		s.handlePeerKey(msg.Key)

	case signaling.TypeEncryptedMessage:
		s.handleEncrypted(msg)

	case signaling.TypePeerLeft:
		s.emit(Event{Kind: EventPeerLeft})

	case signaling.TypeRoomExpired:
		s.emit(Event{Kind: EventRoomExpired, Err: newError("join", ErrRoomExpired)})

	case signaling.TypeError:
		if msg.Error == signaling.ErrTextRoomFull {
			s.emit(Event{Kind: EventRoomFull, Err: newError("join", ErrRoomFull)})
			return
		}
		s.emit(Event{Kind: EventError, Err: signalingError(msg.Error)})

	default:
		s.log.Debug("ignoring frame", zap.String("type", msg.Type))
	}
}

func (s *Session) handleJoined(raw string) {
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.log.Debug("joined frame without a usable deadline", zap.String("expires_at", raw))
		return
	}
	s.mu.Lock()
	s.expiresAt = expiresAt
	s.mu.Unlock()
	s.emit(Event{Kind: EventJoined, ExpiresAt: expiresAt})
}

func (s *Session) handlePeerKey(peerKey string) {
	key, err := s.keys.DeriveSessionKey(peerKey)
	if err != nil {
		s.emit(Event{Kind: EventError, Err: newError("derive key", err)})
		return
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	s.emit(Event{Kind: EventPaired})
}

func (s *Session) handleEncrypted(msg *signaling.Message) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil {
		s.emit(Event{Kind: EventError, Err: newError("receive", ErrNotPaired)})
		return
	}
	text, err := key.Decrypt(msg.Ciphertext, msg.IV)
	if err != nil {
		s.emit(Event{Kind: EventError, Err: newError("decrypt", err)})
		return
	}
	s.emit(Event{Kind: EventMessage, Text: text})
}

func (s *Session) stateChanged(state transport.State) {
	switch state {
	case transport.StateOpen:
		s.mu.Lock()
		again := s.connected
		s.connected = true
		s.mu.Unlock()
		if again {
			s.emit(Event{Kind: EventReconnected})
		}
	case transport.StateClosed:
		s.eventOnce.Do(func() {
			select {
			case s.events <- Event{Kind: EventClosed, At: time.Now()}:
			default:
			}
			close(s.events)
		})
	}
}

// emit blocks until the UI takes the event or the session is closed.
func (s *Session) emit(ev Event) {
	ev.At = time.Now()
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func signalingError(text string) error {
	return wrapError("relay", ErrServer, text)
}
