package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcription/internal/domain"
	"transcription/internal/storage"
)

func TestSweeperRemovesOnlyExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for _, loc := range [][2]string{
		{domain.CollectionSubmissions, "old.json"},
		{domain.CollectionSubmissions, "fresh.json"},
		{domain.CollectionTranscripts, "old.vtt"},
	} {
		_, err := store.Put(ctx, loc[0], loc[1], []byte("x"))
		require.NoError(t, err)
	}
	stale := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, domain.CollectionSubmissions, "old.json"), stale, stale))
	require.NoError(t, os.Chtimes(filepath.Join(dir, domain.CollectionTranscripts, "old.vtt"), stale, stale))

	removed, err := NewSweeper(store, 7, zerolog.Nop()).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{domain.CollectionSubmissions: 1, domain.CollectionTranscripts: 1}, removed)

	_, err = store.Get(ctx, domain.CollectionSubmissions+"/fresh.json")
	assert.NoError(t, err)
	_, err = store.Get(ctx, domain.CollectionSubmissions+"/old.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type brokenStore struct {
	domain.ArtifactStore
	failOn string
}

func (b brokenStore) DeleteOlderThan(_ context.Context, collection string, _ int) (int, error) {
	if collection == b.failOn {
		return 0, errors.New("permission denied")
	}
	return 2, nil
}

func TestSweeperContinuesPastFailingCollection(t *testing.T) {
	s := NewSweeper(brokenStore{failOn: domain.CollectionSubmissions}, 7, zerolog.Nop())

	removed, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.CollectionSubmissions)
	assert.Equal(t, 2, removed[domain.CollectionTranscripts])

	assert.NotPanics(t, func() { s.Run(context.Background()) })
	assert.Equal(t, "cleanup", s.Name())
}
