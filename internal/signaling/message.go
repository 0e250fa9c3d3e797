package signaling

import (
	"encoding/json"
	"errors"
	"time"
)

// Message is the tagged record carried by every websocket text frame, in
// both directions. Only the fields relevant to Type are set.
type Message struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId,omitempty"`
	Key        string `json:"key,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	IV         string `json:"iv,omitempty"`
	Error      string `json:"error,omitempty"`
	// ExpiresAt is the room deadline in ISO 8601, set on joined frames.
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Message type constants.
const (
	TypeJoin             = "join"
	TypePublicKey        = "public-key"
	TypeEncryptedMessage = "encrypted-message"

	TypeJoined      = "joined"
	TypePeerKey     = "peer-key"
	TypePeerLeft    = "peer-left"
	TypeRoomExpired = "room-expired"
	TypeError       = "error"
)

// Error texts sent in TypeError frames.
const (
	ErrTextRoomFull      = "room is full"
	ErrTextInvalidRoomID = "invalid room id"
)

// ExpiresAtLayout matches JavaScript's Date.prototype.toISOString.
const ExpiresAtLayout = "2006-01-02T15:04:05.000Z07:00"

var errMissingType = errors.New("frame has no type")

// DecodeMessage parses one inbound frame.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errMissingType
	}
	return &msg, nil
}

// encode marshals a server-originated frame. Message has only string
// fields, so Marshal cannot fail.
func encode(msg Message) []byte {
	b, _ := json.Marshal(msg)
	return b
}

func joinedFrame(roomID string, expiresAt time.Time) []byte {
	return encode(Message{Type: TypeJoined, RoomID: roomID, ExpiresAt: expiresAt.UTC().Format(ExpiresAtLayout)})
}

func peerKeyFrame(key string) []byte {
	return encode(Message{Type: TypePeerKey, Key: key})
}

func errorFrame(text string) []byte {
	return encode(Message{Type: TypeError, Error: text})
}

func roomExpiredFrame(roomID string) []byte {
	return encode(Message{Type: TypeRoomExpired, RoomID: roomID})
}

var peerLeftFrame = encode(Message{Type: TypePeerLeft})
