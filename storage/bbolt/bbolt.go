// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/moodmash/authgate/storage"
)

var (
	bucketUsers        = []byte("users")
	bucketUsersByEmail = []byte("users_by_email")
	bucketCredentials  = []byte("credentials")
	bucketCredsByUser  = []byte("credentials_by_user")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketUsersByEmail, bucketCredentials, bucketCredsByUser} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) CreateUser(user storage.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersByEmail)
		emailKey := []byte(normalizeEmail(user.Email))
		if byEmail.Get(emailKey) != nil {
			return storage.ErrEmailTaken
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put([]byte(user.ID), data); err != nil {
			return err
		}
		return byEmail.Put(emailKey, []byte(user.ID))
	})
}

func (s *Store) GetUser(id string) (*storage.User, error) {
	var user storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(email string) (*storage.User, error) {
	var user storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsersByEmail).Get([]byte(normalizeEmail(email)))
		if id == nil {
			return fmt.Errorf("email %s: %w", email, storage.ErrNotFound)
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUser(user storage.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(user.ID)) == nil {
			return fmt.Errorf("user %s: %w", user.ID, storage.ErrNotFound)
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put([]byte(user.ID), data)
	})
}

// credsByUserKey builds the index key {userID}/{credentialID}. Credential
// IDs are base64url and never contain '/'.
func credsByUserKey(userID, credID string) []byte {
	return []byte(userID + "/" + credID)
}

func (s *Store) AddCredential(cred storage.Credential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		creds := tx.Bucket(bucketCredentials)
		if creds.Get([]byte(cred.ID)) != nil {
			return fmt.Errorf("credential %s: %w", cred.ID, storage.ErrCredentialExists)
		}
		data, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		if err := creds.Put([]byte(cred.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketCredsByUser).Put(credsByUserKey(cred.UserID, cred.ID), nil)
	})
}

func (s *Store) GetCredential(id string) (*storage.Credential, error) {
	var cred storage.Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &cred)
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Store) ListCredentials(userID string, limit int) ([]storage.Credential, error) {
	var out []storage.Credential
	prefix := []byte(userID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		creds := tx.Bucket(bucketCredentials)
		c := tx.Bucket(bucketCredsByUser).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			credID := string(k[len(prefix):])
			data := creds.Get([]byte(credID))
			if data == nil {
				continue
			}
			var cred storage.Credential
			if err := json.Unmarshal(data, &cred); err != nil {
				return err
			}
			out = append(out, cred)
		}
		return nil
	})
	return out, err
}

func (s *Store) CountCredentials(userID string) (int, error) {
	count := 0
	prefix := []byte(userID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCredsByUser).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) UpdateCredentialSignCount(id string, newCount uint32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
		}
		var cred storage.Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return err
		}
		// A counter of zero means the authenticator does not implement
		// counters; only enforce monotonicity for non-zero reports.
		if newCount != 0 && newCount < cred.SignCount {
			return fmt.Errorf("credential %s: stored=%d reported=%d: %w",
				id, cred.SignCount, newCount, storage.ErrCounterRegression)
		}
		cred.SignCount = newCount
		cred.LastUsedAt = time.Now().UTC()
		updated, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

func (s *Store) RenameCredential(id, userID, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
		}
		var cred storage.Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return err
		}
		if cred.UserID != userID {
			return fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
		}
		cred.Name = name
		updated, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

func (s *Store) DeleteCredential(id, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
		}
		var cred storage.Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return err
		}
		if cred.UserID != userID {
			return fmt.Errorf("credential %s: %w", id, storage.ErrNotFound)
		}

		// The last-credential guard runs inside the same update
		// transaction as the delete, so a concurrent delete cannot
		// leave the user without a passkey.
		count := 0
		prefix := []byte(userID + "/")
		c := tx.Bucket(bucketCredsByUser).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			count++
		}
		if count <= 1 {
			return storage.ErrLastCredential
		}

		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketCredsByUser).Delete(credsByUserKey(userID, id))
	})
}
