package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moodmash/authgate/storage"
)

func seedUser(t *testing.T, r *Repository, id, email string) {
	t.Helper()
	require.NoError(t, r.CreateUser(storage.User{
		ID:        id,
		Email:     email,
		Username:  "user-" + id,
		CreatedAt: time.Now().UTC(),
	}))
}

func seedCredential(t *testing.T, r *Repository, id, userID string, signCount uint32) {
	t.Helper()
	require.NoError(t, r.AddCredential(storage.Credential{
		ID:        id,
		UserID:    userID,
		PublicKey: []byte("pk-" + id),
		SignCount: signCount,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestMemoryRepository_Users(t *testing.T) {
	r := NewRepository()
	seedUser(t, r, "u1", "a@example.com")

	got, err := r.GetUserByEmail("A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	assert.ErrorIs(t, r.CreateUser(storage.User{ID: "u2", Email: "a@example.com"}), storage.ErrEmailTaken)

	_, err = r.GetUser("nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	r := NewRepository()
	seedUser(t, r, "u1", "a@example.com")

	got, err := r.GetUser("u1")
	require.NoError(t, err)
	got.Email = "mutated@example.com"

	again, err := r.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", again.Email, "mutating a returned user must not affect the store")
}

func TestMemoryRepository_SignCount(t *testing.T) {
	r := NewRepository()
	seedUser(t, r, "u1", "a@example.com")
	seedCredential(t, r, "c1", "u1", 5)

	require.NoError(t, r.UpdateCredentialSignCount("c1", 6))
	assert.ErrorIs(t, r.UpdateCredentialSignCount("c1", 4), storage.ErrCounterRegression)

	cred, err := r.GetCredential("c1")
	require.NoError(t, err)
	assert.EqualValues(t, 6, cred.SignCount)
}

func TestMemoryRepository_LastCredentialGuard(t *testing.T) {
	r := NewRepository()
	seedUser(t, r, "u1", "a@example.com")
	seedCredential(t, r, "c1", "u1", 0)
	seedCredential(t, r, "c2", "u1", 0)

	require.NoError(t, r.DeleteCredential("c1", "u1"))
	assert.ErrorIs(t, r.DeleteCredential("c2", "u1"), storage.ErrLastCredential)

	count, err := r.CountCredentials("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryRepository_ListCap(t *testing.T) {
	r := NewRepository()
	seedUser(t, r, "u1", "a@example.com")
	for i := 0; i < 60; i++ {
		require.NoError(t, r.AddCredential(storage.Credential{
			ID:        string(rune('a' + i%26)) + "-" + string(rune('0'+i/26)),
			UserID:    "u1",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	creds, err := r.ListCredentials("u1", 50)
	require.NoError(t, err)
	assert.Len(t, creds, 50)
}
