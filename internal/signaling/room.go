package signaling

import (
	"sync"
	"time"
)

// MaxMembers is the room capacity.
const MaxMembers = 2

// HandshakeState is derived from membership and key-slot facts on demand;
// it is never stored.
type HandshakeState int

const (
	// WaitingForPeer: fewer than two members.
	WaitingForPeer HandshakeState = iota
	// KeysPending: two members, fewer than two keys.
	KeysPending
	// Paired: both keys set, fan-out not yet fired. Only observable inside
	// setPublicKey's critical section.
	Paired
	// Relaying: fan-out fired.
	Relaying
)

func (s HandshakeState) String() string {
	switch s {
	case WaitingForPeer:
		return "waiting_for_peer"
	case KeysPending:
		return "keys_pending"
	case Paired:
		return "paired"
	case Relaying:
		return "relaying"
	default:
		return "unknown"
	}
}

// JoinResult is the outcome of a join attempt.
type JoinResult int

const (
	JoinAdmitted JoinResult = iota
	JoinFull
	JoinExpired
	JoinInvalid
	JoinIgnored
	// joinClosed means the room was abandoned while the caller held a
	// reference to it; the hub retries against a fresh room.
	joinClosed
)

func (r JoinResult) String() string {
	switch r {
	case JoinAdmitted:
		return "admitted"
	case JoinFull:
		return "full"
	case JoinExpired:
		return "expired"
	case JoinInvalid:
		return "invalid"
	case JoinIgnored:
		return "ignored"
	default:
		return "closed"
	}
}

type member struct {
	client *Client
	key    string
}

// keyDelivery is one half of the peer-key fan-out.
type keyDelivery struct {
	to  *Client
	key string
}

// Room represents a single room where at most two peers can connect.
type Room struct {
	// ID is the caller-supplied identifier for the room.
	ID string

	CreatedAt time.Time
	ExpiresAt time.Time

	mu      sync.Mutex
	members []*member
	// paired latches once the peer-key fan-out has fired.
	paired bool
	// closed is set when the room is abandoned or reaped; a closed room
	// admits nobody.
	closed bool
}

func newRoom(id string, now time.Time, ttl time.Duration) *Room {
	return &Room{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		members:   make([]*member, 0, MaxMembers),
	}
}

// expired reports whether the room's deadline has passed. ExpiresAt is
// immutable so no lock is needed.
func (r *Room) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r *Room) join(c *Client, now time.Time) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return joinClosed
	case r.expired(now):
		return JoinExpired
	case r.indexOf(c) >= 0:
		return JoinIgnored
	case len(r.members) >= MaxMembers:
		return JoinFull
	}
	r.members = append(r.members, &member{client: c})
	return JoinAdmitted
}

// setPublicKey records c's key (last write wins) and reports, exactly once
// per room, when both members hold keys. The completion check and the
// latch happen in the same critical section as the key write.
func (r *Room) setPublicKey(c *Client, key string) (bool, []keyDelivery) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(c)
	if i < 0 {
		return false, nil
	}
	r.members[i].key = key

	if r.state() != Paired {
		return false, nil
	}
	r.paired = true

	a, b := r.members[0], r.members[1]
	return true, []keyDelivery{
		{to: a.client, key: b.key},
		{to: b.client, key: a.key},
	}
}

// leave removes c. When the room becomes empty it is closed and empty is
// true; otherwise remaining is the member left behind.
func (r *Room) leave(c *Client) (removed, empty bool, remaining *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(c)
	if i < 0 {
		return false, len(r.members) == 0, nil
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	if len(r.members) == 0 {
		r.closed = true
		return true, true, nil
	}
	return true, false, r.members[0].client
}

// peersOf snapshots every member except c. A sender that is no longer a
// member gets nothing.
func (r *Room) peersOf(c *Client) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(c) < 0 {
		return nil
	}
	peers := make([]*Client, 0, MaxMembers-1)
	for _, m := range r.members {
		if m.client != c {
			peers = append(peers, m.client)
		}
	}
	return peers
}

// close marks the room closed and hands back its former members.
func (r *Room) close() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	out := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.client)
	}
	r.members = r.members[:0]
	return out
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// State returns the derived handshake state.
func (r *Room) State() HandshakeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

// Size returns the current member count.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) state() HandshakeState {
	if len(r.members) < MaxMembers {
		return WaitingForPeer
	}
	for _, m := range r.members {
		if m.key == "" {
			return KeysPending
		}
	}
	if !r.paired {
		return Paired
	}
	return Relaying
}

func (r *Room) indexOf(c *Client) int {
	for i, m := range r.members {
		if m.client == c {
			return i
		}
	}
	return -1
}
