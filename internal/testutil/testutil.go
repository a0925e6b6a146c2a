// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fedifeed/relay/internal/database"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// OpenDB returns a migrated database in a per-test temp directory.
func OpenDB(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "relay.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// OpenStore returns a Store over a fresh database.
func OpenStore(t testing.TB) *storage.Store {
	t.Helper()
	return storage.NewStore(OpenDB(t))
}

// MustOwner persists an owner with the given username.
func MustOwner(t testing.TB, s *storage.Store, username string) *models.Owner {
	t.Helper()
	o := models.NewOwner(username)
	require.NoError(t, s.UpsertOwner(context.Background(), o))
	return o
}

// MustSource persists an active, auto-delivering source for owner.
func MustSource(t testing.TB, s *storage.Store, owner models.OwnerID, url string) *models.Source {
	t.Helper()
	src := models.NewSource(owner, url)
	require.NoError(t, s.CreateSource(context.Background(), src))
	return src
}

// MustRecipient persists an active recipient for owner.
func MustRecipient(t testing.TB, s *storage.Store, owner models.OwnerID, endpoint string) *models.Recipient {
	t.Helper()
	r := models.NewRecipient(owner, "", endpoint)
	require.NoError(t, s.UpsertRecipient(context.Background(), r))
	return r
}
