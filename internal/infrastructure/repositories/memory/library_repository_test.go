package memory

import (
	"context"
	"testing"

	"vidswarm/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryRepository_PublishedListing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLibraryRepository()

	require.NoError(t, repo.Add(ctx, &domain.LocalVideo{VideoRecord: domain.VideoRecord{ID: "b", Owner: "alice", Published: true}, Path: "/tmp/b"}))
	require.NoError(t, repo.Add(ctx, &domain.LocalVideo{VideoRecord: domain.VideoRecord{ID: "a", Owner: "alice", Published: true}, Path: "/tmp/a"}))
	require.NoError(t, repo.Add(ctx, &domain.LocalVideo{VideoRecord: domain.VideoRecord{ID: "c", Owner: "alice"}, Path: "/tmp/c"}))

	published, err := repo.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Equal(t, domain.VideoID("a"), published[0].ID)
	assert.Equal(t, domain.VideoID("b"), published[1].ID)

	require.NoError(t, repo.SetPublished(ctx, "a", false))
	published, err = repo.ListPublished(ctx)
	require.NoError(t, err)
	assert.Len(t, published, 1)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.VideoID("a"), all[0].ID)
	assert.False(t, all[0].Published)
	assert.Equal(t, "/tmp/c", all[2].Path)
}

func TestLibraryRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLibraryRepository()

	require.NoError(t, repo.Add(ctx, &domain.LocalVideo{VideoRecord: domain.VideoRecord{ID: "a", Name: "a.mp4"}, Path: "/tmp/a"}))

	v, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	v.Name = "changed"

	again, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", again.Name)
}

func TestLibraryRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLibraryRepository()

	_, err := repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
	assert.ErrorIs(t, repo.SetPublished(ctx, "nope", true), domain.ErrVideoNotFound)
	assert.ErrorIs(t, repo.Remove(ctx, "nope"), domain.ErrVideoNotFound)
}
