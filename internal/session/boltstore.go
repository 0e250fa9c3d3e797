package session

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	sessionsBucket = "sessions"
	messagesBucket = "messages"
)

// BoltStore persists sessions in a bbolt file. Each session's messages
// live in their own sub-bucket of messages, keyed by a big-endian
// sequence number so cursor order is insertion order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("session: create store dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("session: open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(messagesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) CreateSession(s *Session) error {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Put([]byte(s.ID), raw)
	})
}

func (b *BoltStore) GetSession(id string) (*Session, error) {
	var s Session
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(sessionsBucket)).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return msgpack.Unmarshal(raw, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BoltStore) AddMessage(m *Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(sessionsBucket)).Get([]byte(m.SessionID)) == nil {
			return ErrNotFound
		}

		mBkt, err := tx.Bucket([]byte(messagesBucket)).CreateBucketIfNotExists([]byte(m.SessionID))
		if err != nil {
			return err
		}
		seq, err := mBkt.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)

		raw, err := msgpack.Marshal(m)
		if err != nil {
			return fmt.Errorf("session: encode message: %w", err)
		}
		return mBkt.Put(key[:], raw)
	})
}

func (b *BoltStore) ListMessages(sessionID string) ([]Message, error) {
	var out []Message
	err := b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(sessionsBucket)).Get([]byte(sessionID)) == nil {
			return ErrNotFound
		}
		mBkt := tx.Bucket([]byte(messagesBucket)).Bucket([]byte(sessionID))
		if mBkt == nil {
			return nil
		}
		return mBkt.ForEach(func(_, v []byte) error {
			var m Message
			if err := msgpack.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (b *BoltStore) DeleteExpired(now time.Time) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		sBkt := tx.Bucket([]byte(sessionsBucket))
		msgs := tx.Bucket([]byte(messagesBucket))

		// Deleting while a cursor walks the bucket skips keys, so collect
		// first.
		var expired [][]byte
		err := sBkt.ForEach(func(k, v []byte) error {
			var s Session
			if err := msgpack.Unmarshal(v, &s); err != nil {
				return err
			}
			if s.ExpiresAt.Before(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := sBkt.Delete(k); err != nil {
				return err
			}
			if msgs.Bucket(k) != nil {
				if err := msgs.DeleteBucket(k); err != nil {
					return err
				}
			}
		}
		deleted = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (b *BoltStore) Close() error {
	b.db.Sync()
	return b.db.Close()
}
