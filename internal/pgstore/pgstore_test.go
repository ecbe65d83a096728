package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/imgchar/internal/publish"
)

// testStore connects to IMGCHAR_TEST_DATABASE_URL and skips the test when it
// is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("IMGCHAR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("IMGCHAR_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPutGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := publish.DataID{"visit": uuid.NewString()}

	require.NoError(t, s.Put(ctx, []string{"a"}, "icMatch", id))
	require.NoError(t, s.Put(ctx, []string{"a", "b"}, "icMatch", id))

	var got []string
	ok, err := s.Get(ctx, "icMatch", id, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	var got any
	ok, err := s.Get(context.Background(), "psf", publish.DataID{"visit": uuid.NewString()}, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestNewBadDSN(t *testing.T) {
	_, err := New(context.Background(), "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	assert.Error(t, err)
}
