package api

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const sessionCleanupInterval = 5 * time.Minute

var sessionsBucket = []byte("sessions")

// BoltSessionStore stores sessions in a bbolt bucket so they survive
// server restarts. Tokens are random UUIDs and the stored state is an
// identity pointer, not a secret, so records are kept as plain JSON.
type BoltSessionStore struct {
	db          *bbolt.DB
	idleTimeout time.Duration
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ SessionStore = (*BoltSessionStore)(nil)

// NewBoltSessionStore creates a session store backed by the given bbolt
// database. idleTimeout of 0 disables idle timeout checking.
func NewBoltSessionStore(db *bbolt.DB, idleTimeout time.Duration) (*BoltSessionStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	s := &BoltSessionStore{
		db:          db,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine.
func (s *BoltSessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *BoltSessionStore) Get(token string) (AuthSession, bool) {
	var session AuthSession
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(token))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return AuthSession{}, false
	}
	if time.Now().After(session.ExpiresAt) {
		s.Delete(token)
		return AuthSession{}, false
	}
	if s.idleTimeout > 0 && time.Since(session.LastAccessedAt) > s.idleTimeout {
		s.Delete(token)
		return AuthSession{}, false
	}
	return session, true
}

func (s *BoltSessionStore) Put(token string, session AuthSession) {
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(token), raw)
	})
}

func (s *BoltSessionStore) Delete(token string) {
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(token))
	})
}

// cleanupLoop periodically removes expired sessions from storage.
func (s *BoltSessionStore) cleanupLoop() {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *BoltSessionStore) sweepExpired() {
	now := time.Now()
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var session AuthSession
			if err := json.Unmarshal(v, &session); err != nil {
				// Corrupt entry — remove it.
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			expired := now.After(session.ExpiresAt)
			idle := s.idleTimeout > 0 && now.Sub(session.LastAccessedAt) > s.idleTimeout
			if expired || idle {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
