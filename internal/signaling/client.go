package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per client before the relay starts dropping.
	sendBufferSize = 256
)

// Client is a wrapper for a single websocket connection (a participant).
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	// send is a buffered channel of outbound frames. The hub writes to it
	// without blocking and WritePump drains it onto the websocket.
	send chan []byte

	mu     sync.Mutex
	room   *Room
	closed bool

	leaveOnce sync.Once
}

// NewClient wraps conn and registers it with the hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := newClient(hub, conn, conn.RemoteAddr().String())
	hub.register(c)
	return c
}

func newClient(hub *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		log:  hub.log.With(zap.String("remote", remote)),
		send: make(chan []byte, sendBufferSize),
	}
}

// Room returns the room this connection is bound to, or nil.
func (c *Client) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// bind associates c with r. The first binding wins for the lifetime of the
// connection.
func (c *Client) bind(r *Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil {
		return false
	}
	c.room = r
	return true
}

// deliver queues frame without blocking. It reports false when the client
// is closed or its buffer is full; the frame is dropped either way.
func (c *Client) deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel once, which makes WritePump send a
// close frame and tear the connection down.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. Frames are
// handled synchronously, so a close can never overtake an in-flight frame.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			c.hub.dropped(c, dropReasonMalformed, "binary frame")
			continue
		}
		c.hub.HandleFrame(c, data)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
