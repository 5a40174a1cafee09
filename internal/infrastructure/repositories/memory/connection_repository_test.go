package memory

import (
	"context"
	"testing"
	"time"

	"vidswarm/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRepository_AddAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConnectionRepository()
	now := time.Now()

	require.NoError(t, repo.Add(ctx, &domain.ConnectionRecord{SessionID: "s2", RemotePeerID: "bob", EstablishedAt: now.Add(time.Second), Kind: domain.ConnectionInbound}))
	require.NoError(t, repo.Add(ctx, &domain.ConnectionRecord{SessionID: "s1", RemotePeerID: "bob", EstablishedAt: now, Kind: domain.ConnectionOutbound}))

	err := repo.Add(ctx, &domain.ConnectionRecord{SessionID: "s1", RemotePeerID: "carol"})
	assert.ErrorIs(t, err, domain.ErrSessionExists)

	out, err := repo.GetByPeer(ctx, "bob", domain.ConnectionOutbound)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s1"), out.SessionID)

	in, err := repo.GetByPeer(ctx, "bob", domain.ConnectionInbound)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s2"), in.SessionID)

	_, err = repo.GetByPeer(ctx, "carol", "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.SessionID("s1"), all[0].SessionID)

	n, err := repo.Count(ctx, domain.ConnectionInbound)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConnectionRepository_Remove(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConnectionRepository()

	require.NoError(t, repo.Add(ctx, &domain.ConnectionRecord{SessionID: "s1", RemotePeerID: "bob", Kind: domain.ConnectionOutbound}))
	require.NoError(t, repo.Remove(ctx, "s1"))
	assert.ErrorIs(t, repo.Remove(ctx, "s1"), domain.ErrSessionNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
