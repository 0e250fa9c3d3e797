package signaling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/metrics"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/roomid"
)

const (
	defaultRoomTTL       = 15 * time.Minute
	defaultSweepInterval = time.Minute
)

// drop reasons reuse the metric label values.
const (
	dropReasonMalformed    = metrics.DropMalformed
	dropReasonUnknownType  = metrics.DropUnknownType
	dropReasonUnbound      = metrics.DropUnbound
	dropReasonNoPeer       = metrics.DropNoPeer
	dropReasonBackpressure = metrics.DropBackpressure
	dropReasonExpired      = metrics.DropExpired
)

// HubOptions tune a Hub. Zero values pick defaults.
type HubOptions struct {
	RoomTTL       time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Relay
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Hub owns the room table. Each room serializes its own mutations, so
// traffic in one room never waits on another beyond the table lookup.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	roomTTL       time.Duration
	sweepInterval time.Duration
	log           *zap.Logger
	metrics       *metrics.Relay
	now           func() time.Time

	runOnce sync.Once
}

// NewHub creates a new Hub instance.
func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		rooms:         make(map[string]*Room),
		roomTTL:       opts.RoomTTL,
		sweepInterval: opts.SweepInterval,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
	if h.roomTTL <= 0 {
		h.roomTTL = defaultRoomTTL
	}
	if h.sweepInterval <= 0 {
		h.sweepInterval = defaultSweepInterval
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.metrics == nil {
		h.metrics = metrics.NewRelay(nil)
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Run sweeps expired rooms every SweepInterval until ctx is done.
// Only the first call starts a loop.
func (h *Hub) Run(ctx context.Context) {
	h.runOnce.Do(func() {
		ticker := time.NewTicker(h.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := h.Sweep(h.now()); n > 0 {
					h.log.Info("reaped expired rooms", zap.Int("count", n))
				}
			}
		}
	})
}

func (h *Hub) register(c *Client) {
	h.metrics.ConnectionsActive.Inc()
	c.log.Debug("client registered")
}

// HandleFrame demultiplexes one inbound frame by its type. Malformed and
// unknown frames are dropped.
func (h *Hub) HandleFrame(c *Client, data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		h.dropped(c, dropReasonMalformed, err.Error())
		return
	}

	switch msg.Type {
	case TypeJoin:
		h.Join(c, msg.RoomID)
	case TypePublicKey:
		h.SetPublicKey(c, msg.Key)
	case TypeEncryptedMessage:
		// Forward the frame exactly as received.
		h.Relay(c, data)
	default:
		h.dropped(c, dropReasonUnknownType, msg.Type)
	}
}

// Join admits c into roomID, creating the room on first use. A connection
// binds to one room for its lifetime; later joins are ignored.
func (h *Hub) Join(c *Client, roomID string) JoinResult {
	res := h.join(c, roomID)
	h.metrics.Joins.WithLabelValues(res.String()).Inc()

	switch res {
	case JoinAdmitted:
		c.log.Info("client joined room", zap.String("room", roomID))
		if room := c.Room(); room != nil {
			c.deliver(joinedFrame(room.ID, room.ExpiresAt))
		}
	case JoinFull:
		c.log.Info("room join failed: room is full", zap.String("room", roomID))
		c.deliver(errorFrame(ErrTextRoomFull))
	case JoinExpired:
		c.log.Info("room join failed: room expired", zap.String("room", roomID))
		c.deliver(roomExpiredFrame(roomID))
	case JoinInvalid:
		c.deliver(errorFrame(ErrTextInvalidRoomID))
	case JoinIgnored:
		c.log.Debug("ignoring join from already bound client", zap.String("room", roomID))
	}
	return res
}

func (h *Hub) join(c *Client, roomID string) JoinResult {
	if c.Room() != nil {
		return JoinIgnored
	}
	if !roomid.Valid(roomID) {
		return JoinInvalid
	}

	for {
		room := h.getOrCreate(roomID)
		res := room.join(c, h.now())
		if res == joinClosed {
			// Lost a race with the last member leaving; the next lookup
			// replaces the dead room.
			continue
		}
		if res == JoinAdmitted && !c.bind(room) {
			// A concurrent join bound c elsewhere first.
			h.leaveRoom(c, room)
			return JoinIgnored
		}
		if res == JoinExpired {
			h.expire(room)
		}
		return res
	}
}

func (h *Hub) getOrCreate(roomID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[roomID]; ok && !room.isClosed() {
		return room
	}
	room := newRoom(roomID, h.now(), h.roomTTL)
	h.rooms[roomID] = room
	h.metrics.RoomsActive.Set(float64(len(h.rooms)))
	h.log.Debug("room created", zap.String("room", roomID), zap.Time("expires_at", room.ExpiresAt))
	return room
}

// SetPublicKey records c's key in its room. When that completes the
// handshake, each member receives the other's key, once per room.
func (h *Hub) SetPublicKey(c *Client, key string) bool {
	room := c.Room()
	if room == nil {
		h.dropped(c, dropReasonUnbound, TypePublicKey)
		return false
	}
	if key == "" {
		h.dropped(c, dropReasonMalformed, "empty key")
		return false
	}
	if room.expired(h.now()) {
		h.dropped(c, dropReasonExpired, TypePublicKey)
		h.expire(room)
		return false
	}

	completed, deliveries := room.setPublicKey(c, key)
	if !completed {
		return false
	}

	h.metrics.KeyExchanges.Inc()
	c.log.Info("handshake complete, exchanging peer keys", zap.String("room", room.ID))
	for _, d := range deliveries {
		if !d.to.deliver(peerKeyFrame(d.key)) {
			h.dropped(d.to, dropReasonBackpressure, TypePeerKey)
		}
	}
	return true
}

// Relay hands frame, unmodified, to every other member of c's room. It is
// fire-and-forget: unreachable peers are skipped silently.
func (h *Hub) Relay(c *Client, frame []byte) int {
	room := c.Room()
	if room == nil {
		h.dropped(c, dropReasonUnbound, TypeEncryptedMessage)
		return 0
	}
	if room.expired(h.now()) {
		h.dropped(c, dropReasonExpired, TypeEncryptedMessage)
		h.expire(room)
		return 0
	}

	peers := room.peersOf(c)
	if len(peers) == 0 {
		h.dropped(c, dropReasonNoPeer, room.ID)
		return 0
	}

	delivered := 0
	for _, p := range peers {
		if p.deliver(frame) {
			delivered++
			h.metrics.FramesRelayed.Inc()
		} else {
			h.dropped(p, dropReasonBackpressure, TypeEncryptedMessage)
		}
	}
	return delivered
}

// Leave removes c from its room and closes its outbound channel. Safe to
// call more than once; only the first call acts.
func (h *Hub) Leave(c *Client) {
	c.leaveOnce.Do(func() {
		if room := c.Room(); room != nil {
			h.leaveRoom(c, room)
		}
		c.shutdown()
		h.metrics.ConnectionsActive.Dec()
		c.log.Debug("client unregistered")
	})
}

func (h *Hub) leaveRoom(c *Client, room *Room) {
	removed, empty, remaining := room.leave(c)
	if !removed {
		return
	}
	if empty {
		h.removeRoom(room)
		c.log.Info("room deleted", zap.String("room", room.ID))
		return
	}
	c.log.Info("peer left room", zap.String("room", room.ID))
	if remaining != nil {
		remaining.deliver(peerLeftFrame)
	}
}

// removeRoom drops room from the table unless the id was already reused.
func (h *Hub) removeRoom(room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[room.ID]; ok && cur == room {
		delete(h.rooms, room.ID)
	}
	h.metrics.RoomsActive.Set(float64(len(h.rooms)))
}

// Sweep removes every room whose deadline has passed, whatever its
// membership, and disconnects the members. Returns how many rooms went.
// Running it again with nothing to do is a no-op.
func (h *Hub) Sweep(now time.Time) int {
	var expired []*Room

	h.mu.Lock()
	for id, room := range h.rooms {
		if room.expired(now) {
			delete(h.rooms, id)
			expired = append(expired, room)
		}
	}
	h.metrics.RoomsActive.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	for _, room := range expired {
		h.closeExpired(room)
	}
	h.metrics.RoomsReaped.Add(float64(len(expired)))
	return len(expired)
}

// expire reaps a single room found past its deadline outside the sweep.
func (h *Hub) expire(room *Room) {
	h.mu.Lock()
	cur, ok := h.rooms[room.ID]
	owned := ok && cur == room
	if owned {
		delete(h.rooms, room.ID)
	}
	h.metrics.RoomsActive.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	if owned {
		h.closeExpired(room)
		h.metrics.RoomsReaped.Inc()
	}
}

// closeExpired tells every member the room is gone and disconnects them.
func (h *Hub) closeExpired(room *Room) {
	for _, c := range room.close() {
		c.deliver(roomExpiredFrame(room.ID))
		c.shutdown()
	}
	h.log.Debug("room expired", zap.String("room", room.ID))
}

// Exists reports whether roomID is live.
func (h *Hub) Exists(roomID string) bool {
	return h.lookup(roomID) != nil
}

// IsEmpty reports whether roomID has no members; unknown rooms are empty.
func (h *Hub) IsEmpty(roomID string) bool {
	room := h.lookup(roomID)
	return room == nil || room.Size() == 0
}

// State returns the derived handshake state of roomID.
func (h *Hub) State(roomID string) (HandshakeState, bool) {
	room := h.lookup(roomID)
	if room == nil {
		return WaitingForPeer, false
	}
	return room.State(), true
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// CreateRoom reserves an empty room under a memorable unused id. Its
// deadline starts now, as if someone had just joined it.
func (h *Hub) CreateRoom() (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := roomid.Generate(func(id string) bool {
		room, ok := h.rooms[id]
		return ok && !room.isClosed()
	})
	if err != nil {
		return nil, err
	}
	room := newRoom(id, h.now(), h.roomTTL)
	h.rooms[id] = room
	h.metrics.RoomsActive.Set(float64(len(h.rooms)))
	h.log.Debug("room reserved", zap.String("room", id), zap.Time("expires_at", room.ExpiresAt))
	return room, nil
}

func (h *Hub) lookup(roomID string) *Room {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok || room.isClosed() {
		return nil
	}
	return room
}

func (h *Hub) dropped(c *Client, reason, detail string) {
	h.metrics.FramesDropped.WithLabelValues(reason).Inc()
	c.log.Debug("frame dropped", zap.String("reason", reason), zap.String("detail", detail))
}
