package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vidswarm/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock) *MemoryRegistryStore {
	return NewMemoryRegistryStore(time.Minute, WithClock(clock.Now)).(*MemoryRegistryStore)
}

func peer(id string, port int) domain.PeerRecord {
	return domain.PeerRecord{ID: domain.PeerID(id), Host: "127.0.0.1", Port: port}
}

func video(id, name string, size int64) domain.VideoRecord {
	return domain.VideoRecord{ID: domain.VideoID(id), Name: name, SizeBytes: size}
}

func TestRegistryStore_UpsertIsIdempotentAndKeepsCatalog(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	created, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1024)))

	clock.Advance(10 * time.Second)
	created, err = store.UpsertPeer(ctx, domain.PeerRecord{ID: "alice", Host: "10.0.0.9", Port: 5050})
	require.NoError(t, err)
	assert.False(t, created)

	peers, err := store.SnapshotPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "10.0.0.9", peers[0].Host)
	assert.Equal(t, 5050, peers[0].Port)
	assert.Equal(t, clock.Now(), peers[0].LastSeen)

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, domain.PeerID("alice"), catalog[0].PeerID)
	assert.Equal(t, domain.PeerID("alice"), catalog[0].Video.Owner)
	assert.True(t, catalog[0].Video.Published)
}

func TestRegistryStore_SnapshotsAreStable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := store.UpsertPeer(ctx, peer(id, 5000))
		require.NoError(t, err)
		require.NoError(t, store.PublishVideo(ctx, domain.PeerID(id), video("b", "b.mp4", 1)))
		require.NoError(t, store.PublishVideo(ctx, domain.PeerID(id), video("a", "a.mp4", 1)))
	}

	first, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	second, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 6)
	assert.Equal(t, domain.PeerID("alice"), first[0].PeerID)
	assert.Equal(t, domain.VideoID("a"), first[0].Video.ID)
	assert.Equal(t, domain.PeerID("carol"), first[5].PeerID)
	assert.Equal(t, domain.VideoID("b"), first[5].Video.ID)
}

func TestRegistryStore_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	_, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1024)))

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	catalog[0].Video.Name = "changed"

	again, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", again[0].Video.Name)
}

func TestRegistryStore_RemovePeerCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	_, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1024)))

	removed, err := store.RemovePeer(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	removed, err = store.RemovePeer(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, removed)

	// re-registering does not bring the old catalog back
	_, err = store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	catalog, err = store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestRegistryStore_PublishRequiresRegisteredPeer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	err := store.PublishVideo(ctx, "ghost", video("v1", "clip.mp4", 1))
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	_, err = store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	err = store.UnpublishVideo(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestRegistryStore_Unpublish(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	_, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1024)))
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v2", "other.mp4", 10)))
	require.NoError(t, store.UnpublishVideo(ctx, "alice", "v1"))

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, domain.VideoID("v2"), catalog[0].Video.ID)
}

func TestRegistryStore_MonotonicExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	_, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	_, err = store.UpsertPeer(ctx, peer("bob", 5001))
	require.NoError(t, err)
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1024)))

	clock.Advance(45 * time.Second)
	require.NoError(t, store.TouchPeer(ctx, "bob"))
	clock.Advance(20 * time.Second)

	// alice is past the timeout: invisible to readers before any sweep ran
	peers, err := store.SnapshotPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, domain.PeerID("bob"), peers[0].ID)

	for i := 0; i < 3; i++ {
		catalog, err := store.SnapshotCatalog(ctx)
		require.NoError(t, err)
		assert.Empty(t, catalog)
		clock.Advance(time.Second)
	}

	// a heartbeat cannot resurrect her, and neither can a publish
	assert.ErrorIs(t, store.TouchPeer(ctx, "alice"), domain.ErrPeerNotFound)
	assert.ErrorIs(t, store.PublishVideo(ctx, "alice", video("v2", "x.mp4", 1)), domain.ErrPeerNotFound)

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	// only a fresh registration does, with an empty catalog
	created, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	assert.True(t, created)
	catalog, err = store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestRegistryStore_ReRegisterAfterExpiryDropsOldVideos(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	_, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	require.NoError(t, store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1024)))

	clock.Advance(2 * time.Minute)
	created, err := store.UpsertPeer(ctx, peer("alice", 5000))
	require.NoError(t, err)
	assert.True(t, created)

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestRegistryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(clock)

	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := store.UpsertPeer(ctx, peer(id, 5000))
		require.NoError(t, err)
	}
	clock.Advance(30 * time.Second)
	require.NoError(t, store.TouchPeer(ctx, "bob"))
	clock.Advance(31 * time.Second)

	evicted, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"alice", "carol"}, evicted)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Peers)
	assert.Equal(t, int64(2), stats.ExpiredTotal)
	assert.Equal(t, clock.Now(), stats.LastSweep)

	evicted, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestRegistryStore_FindVideo(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	for _, id := range []string{"bob", "alice"} {
		_, err := store.UpsertPeer(ctx, peer(id, 5000))
		require.NoError(t, err)
		require.NoError(t, store.PublishVideo(ctx, domain.PeerID(id), video("shared", "same.mp4", 7)))
	}

	matches, err := store.FindVideo(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, domain.PeerID("alice"), matches[0].PeerID)
	assert.Equal(t, domain.PeerID("bob"), matches[1].PeerID)

	matches, err = store.FindVideo(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRegistryStore_ConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.PeerID(fmt.Sprintf("peer-%03d", i))
			_, err := store.UpsertPeer(ctx, domain.PeerRecord{ID: id, Host: fmt.Sprintf("10.0.0.%d", i), Port: 5000 + i})
			assert.NoError(t, err)
			assert.NoError(t, store.PublishVideo(ctx, id, video("v", "v.mp4", int64(i))))
			_, _ = store.SnapshotCatalog(ctx)
		}(i)
	}
	wg.Wait()

	peers, err := store.SnapshotPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, n)
	for i, p := range peers {
		assert.Equal(t, domain.PeerID(fmt.Sprintf("peer-%03d", i)), p.ID)
		assert.Equal(t, fmt.Sprintf("10.0.0.%d", i), p.Host)
		assert.Equal(t, 5000+i, p.Port)
	}

	catalog, err := store.SnapshotCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog, n)
}

func TestRegistryStore_ConcurrentRemoveAndPublish(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeClock())

	for round := 0; round < 50; round++ {
		_, err := store.UpsertPeer(ctx, peer("alice", 5000))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.PublishVideo(ctx, "alice", video("v1", "clip.mp4", 1))
		}()
		go func() {
			defer wg.Done()
			_, _ = store.RemovePeer(ctx, "alice")
		}()
		wg.Wait()

		// whichever ran first, the peer is gone and so is every video it published
		catalog, err := store.SnapshotCatalog(ctx)
		require.NoError(t, err)
		assert.Empty(t, catalog)
	}
}
