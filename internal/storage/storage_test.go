package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the same contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KeyConsent)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, KeyConsent, `{"granted":true}`))
	require.NoError(t, s.Set(ctx, KeyConsent, `{"granted":false}`))
	v, err := s.Get(ctx, KeyConsent)
	require.NoError(t, err)
	assert.Equal(t, `{"granted":false}`, v)

	require.NoError(t, s.Set(ctx, KeyAnonymousID, "abc"))
	require.NoError(t, s.Set(ctx, "other_key", "keep"))
	// underscore must not act as a wildcard
	require.NoError(t, s.Set(ctx, "signupwatchXconsent", "keep"))

	n, err := s.DeletePrefix(ctx, Prefix)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Get(ctx, KeyAnonymousID)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err = s.Get(ctx, "other_key")
	require.NoError(t, err)
	assert.Equal(t, "keep", v)

	v, err = s.Get(ctx, "signupwatchXconsent")
	require.NoError(t, err)
	assert.Equal(t, "keep", v)

	require.NoError(t, s.Delete(ctx, "other_key"))
	_, err = s.Get(ctx, "other_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	exerciseStore(t, db.Origin("https://example.com"))
}

func TestSQLiteStoreIsScopedToOrigin(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	a := db.Origin("https://a.example")
	b := db.Origin("https://b.example")

	require.NoError(t, a.Set(ctx, KeyOptOut, "true"))

	_, err = b.Get(ctx, KeyOptOut)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := b.DeletePrefix(ctx, Prefix)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	v, err := a.Get(ctx, KeyOptOut)
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	local, session := NewMemory(), NewMemory()
	require.NoError(t, local.Set(ctx, KeyConsent, "x"))
	require.NoError(t, session.Set(ctx, KeyActivitySession, "y"))

	require.NoError(t, Purge(ctx, local, nil, session))
	assert.Equal(t, 0, local.Len())
	assert.Equal(t, 0, session.Len())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("SIGNUPWATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping Redis tests: SIGNUPWATCH_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	s, err := NewRedis(ctx, RedisOptions{URL: url, Origin: "https://test.example", TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	_, _ = s.DeletePrefix(ctx, "")
	exerciseStore(t, s)
}

func TestNewRedisRequiresURL(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{})
	assert.Error(t, err)
}
