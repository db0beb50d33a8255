// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moodmash/authgate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu          sync.RWMutex
	users       map[string]*storage.User
	emails      map[string]string // normalized email -> user ID
	credentials map[string]*storage.Credential
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		users:       make(map[string]*storage.User),
		emails:      make(map[string]string),
		credentials: make(map[string]*storage.Credential),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u *storage.User) *storage.User {
	cp := *u
	cp.BackupCodes = append([]storage.HashedBackupCode(nil), u.BackupCodes...)
	return &cp
}

func cloneCredential(c *storage.Credential) *storage.Credential {
	cp := *c
	cp.PublicKey = append([]byte(nil), c.PublicKey...)
	cp.Transports = append([]string(nil), c.Transports...)
	return &cp
}

func (r *Repository) CreateUser(user storage.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := normalizeEmail(user.Email)
	if _, ok := r.emails[email]; ok {
		return storage.ErrEmailTaken
	}
	r.users[user.ID] = cloneUser(&user)
	r.emails[email] = user.ID
	return nil
}

func (r *Repository) GetUser(id string) (*storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *Repository) GetUserByEmail(email string) (*storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.emails[normalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	user, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *Repository) UpdateUser(user storage.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	r.users[user.ID] = cloneUser(&user)
	return nil
}

func (r *Repository) AddCredential(cred storage.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.credentials[cred.ID]; ok {
		return storage.ErrCredentialExists
	}
	r.credentials[cred.ID] = cloneCredential(&cred)
	return nil
}

func (r *Repository) GetCredential(id string) (*storage.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.credentials[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneCredential(cred), nil
}

func (r *Repository) ListCredentials(userID string, limit int) ([]storage.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []storage.Credential
	for _, cred := range r.credentials {
		if cred.UserID == userID {
			out = append(out, *cloneCredential(cred))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) CountCredentials(userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(userID), nil
}

func (r *Repository) countLocked(userID string) int {
	count := 0
	for _, cred := range r.credentials {
		if cred.UserID == userID {
			count++
		}
	}
	return count
}

func (r *Repository) UpdateCredentialSignCount(id string, newCount uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.credentials[id]
	if !ok {
		return storage.ErrNotFound
	}
	if newCount != 0 && newCount < cred.SignCount {
		return storage.ErrCounterRegression
	}
	cred.SignCount = newCount
	cred.LastUsedAt = time.Now().UTC()
	return nil
}

func (r *Repository) RenameCredential(id, userID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.credentials[id]
	if !ok || cred.UserID != userID {
		return storage.ErrNotFound
	}
	cred.Name = name
	return nil
}

func (r *Repository) DeleteCredential(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.credentials[id]
	if !ok || cred.UserID != userID {
		return storage.ErrNotFound
	}
	if r.countLocked(userID) <= 1 {
		return storage.ErrLastCredential
	}
	delete(r.credentials, id)
	return nil
}
