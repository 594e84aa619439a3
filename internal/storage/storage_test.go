package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := NewStorage(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStorageRejectsUnknownDriver(t *testing.T) {
	_, err := NewStorage("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestInsertProfile(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	rec := ProfileRecord{
		ID:            "7sdream",
		Name:          "7sDream",
		Headline:      "headline",
		Gender:        1,
		AnswerCount:   10,
		FollowerCount: 100,
		School:        "school",
		Company:       "company",
		Job:           "job",
	}
	require.NoError(t, store.InsertProfile(ctx, rec))

	got, err := store.GetProfile(ctx, "7sdream")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, *got)

	missing, err := store.GetProfile(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertProfileDuplicateKeepsFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.InsertProfile(ctx, ProfileRecord{ID: "a", Name: "first"}))
	err := store.InsertProfile(ctx, ProfileRecord{ID: "a", Name: "second"})
	require.Error(t, err)

	got, err := store.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	n, err := store.CountProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertStatementPlaceholders(t *testing.T) {
	assert.Contains(t, insertStatement(DriverSQLite3), "(?, ?,")
	pg := insertStatement(DriverPostgres)
	assert.Contains(t, pg, "$1, $2")
	assert.Contains(t, pg, "$16)")
}
