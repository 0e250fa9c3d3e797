// Package transport wraps one websocket connection to the relay. Frames
// sent before the connection is up are queued and flushed, in order, once
// it is.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: adapter closed")

// State is the adapter's connection state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// ReconnectPolicy opts into redialing after the connection drops.
//
// A reconnect is a brand new connection: the hello frames are sent again
// and the relay admits it as a new member. The relay's peer-key exchange
// fires once per room, so a member rejoining a room that already paired
// will not be sent its peer's key again.
type ReconnectPolicy struct {
	// MaxAttempts caps consecutive failed dials; 0 means unlimited.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectPolicy is what the CLI uses with --reconnect.
var DefaultReconnectPolicy = ReconnectPolicy{
	MaxAttempts:    8,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     15 * time.Second,
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// NewDialer returns a websocket dialer that resolves hosts through
// resolver, falling back to public DNS when the local resolver fails.
func NewDialer(resolver *dns.Resolver) *websocket.Dialer {
	if resolver == nil {
		resolver = dns.NewResolver()
	}
	return &websocket.Dialer{
		NetDialContext:   resolver.DialContext,
		HandshakeTimeout: 15 * time.Second,
		ReadBufferSize:   maxMessageSize,
		WriteBufferSize:  maxMessageSize,
	}
}

// Options configure an Adapter.
type Options struct {
	URL string
	// Hello frames go out first on every (re)connect, ahead of the queue.
	Hello []any
	// Reconnect is nil for the default no-reconnect behaviour.
	Reconnect *ReconnectPolicy
	Dialer    Dialer
	Logger    *zap.Logger
}

// Adapter is the client side of one logical relay connection.
type Adapter struct {
	url       string
	hello     [][]byte
	reconnect *ReconnectPolicy
	dialer    Dialer
	log       *zap.Logger

	// mu guards the connection state and serializes every data write.
	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
	queue  [][]byte

	handlerMu     sync.RWMutex
	onMessage     func([]byte)
	onStateChange func(State)

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds an Adapter. Hello frames are encoded up front.
func New(opts Options) (*Adapter, error) {
	if opts.URL == "" {
		return nil, errors.New("transport: URL is required")
	}
	a := &Adapter{
		url:       opts.URL,
		reconnect: opts.Reconnect,
		dialer:    opts.Dialer,
		log:       opts.Logger,
		done:      make(chan struct{}),
	}
	if a.dialer == nil {
		a.dialer = websocket.DefaultDialer
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	for _, h := range opts.Hello {
		b, err := json.Marshal(h)
		if err != nil {
			return nil, fmt.Errorf("transport: encode hello frame: %w", err)
		}
		a.hello = append(a.hello, b)
	}
	return a, nil
}

// OnMessage registers the inbound frame handler. Frames are delivered one
// at a time, in receipt order.
func (a *Adapter) OnMessage(handler func([]byte)) {
	a.handlerMu.Lock()
	a.onMessage = handler
	a.handlerMu.Unlock()
}

// OnStateChange registers a connection state observer.
func (a *Adapter) OnStateChange(handler func(State)) {
	a.handlerMu.Lock()
	a.onStateChange = handler
	a.handlerMu.Unlock()
}

// Start dials in the background. Only the first call has an effect.
func (a *Adapter) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			cancel()
			return
		}
		a.cancel = cancel
		a.mu.Unlock()
		go a.run(ctx)
	})
}

// Done is closed once the adapter has stopped for good.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Send JSON-encodes v and transmits it if the connection is open, or
// queues it otherwise. Queued frames survive a dropped connection.
func (a *Adapter) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if !a.open {
		a.queue = append(a.queue, b)
		return nil
	}
	if err := a.write(b); err != nil {
		// Keep the frame; the read loop will notice the broken conn.
		a.log.Debug("write failed, queueing frame", zap.Error(err))
		a.queue = append(a.queue, b)
		a.markBrokenLocked()
	}
	return nil
}

// QueueLen reports how many frames are waiting for a connection.
func (a *Adapter) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Close stops the adapter and closes the connection. Further sends fail.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	cancel := a.cancel
	started := cancel != nil
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if !started {
		close(a.done)
		a.setState(StateClosed)
	}
	return nil
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)
	defer a.setState(StateClosed)

	a.setState(StateConnecting)
	attempt := 0
	for {
		conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Debug("dial failed", zap.String("url", a.url), zap.Error(err))
			attempt++
			if !a.wait(ctx, attempt) {
				return
			}
			continue
		}

		attempt = 0
		if !a.ready(conn) {
			conn.Close()
			return
		}
		a.setState(StateOpen)
		a.serve(ctx, conn)

		if a.isClosed() || ctx.Err() != nil {
			return
		}
		if a.reconnect == nil {
			a.log.Debug("connection lost")
			return
		}
		a.setState(StateReconnecting)
		attempt++
		if !a.wait(ctx, attempt) {
			return
		}
	}
}

// ready installs conn, writes the hello frames and flushes the queue
// strictly in order. Holding mu throughout keeps concurrent Sends behind
// the flushed backlog.
func (a *Adapter) ready(conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.conn = conn
	conn.SetReadLimit(maxMessageSize)

	for _, h := range a.hello {
		if err := a.write(h); err != nil {
			a.markBrokenLocked()
			return true
		}
	}
	for i, frame := range a.queue {
		if err := a.write(frame); err != nil {
			a.queue = a.queue[i:]
			a.markBrokenLocked()
			return true
		}
	}
	a.queue = nil
	a.open = true
	return true
}

// serve reads until the connection fails, pinging in the background.
func (a *Adapter) serve(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go a.ping(conn, stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			if a.conn == conn {
				a.open = false
				a.conn = nil
			}
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.handlerMu.RLock()
		handler := a.onMessage
		a.handlerMu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (a *Adapter) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			a.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// wait sleeps for the backoff of attempt. It reports false when the
// adapter should give up.
func (a *Adapter) wait(ctx context.Context, attempt int) bool {
	if a.reconnect == nil {
		return false
	}
	if a.reconnect.MaxAttempts > 0 && attempt > a.reconnect.MaxAttempts {
		a.log.Debug("giving up reconnecting", zap.Int("attempts", attempt-1))
		return false
	}
	timer := time.NewTimer(a.reconnect.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return !a.isClosed()
	}
}

// backoff doubles per attempt up to MaxBackoff, with up to 20% jitter.
func (p ReconnectPolicy) backoff(attempt int) time.Duration {
	base := p.InitialBackoff
	if base <= 0 {
		base = DefaultReconnectPolicy.InitialBackoff
	}
	limit := p.MaxBackoff
	if limit <= 0 {
		limit = DefaultReconnectPolicy.MaxBackoff
	}
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	jitter := time.Duration(rand.Int64N(int64(d)/5 + 1))
	return d - jitter
}

// write must be called with mu held.
func (a *Adapter) write(frame []byte) error {
	a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteMessage(websocket.TextMessage, frame)
}

// markBrokenLocked drops the open flag and closes the conn so the read
// loop exits. mu must be held.
func (a *Adapter) markBrokenLocked() {
	a.open = false
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) setState(s State) {
	a.handlerMu.RLock()
	handler := a.onStateChange
	a.handlerMu.RUnlock()
	if handler != nil {
		handler(s)
	}
}
