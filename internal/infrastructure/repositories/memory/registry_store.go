package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
)

const DefaultPeerTimeout = 60 * time.Second

type registryEntry struct {
	record domain.PeerRecord
	videos map[domain.VideoID]domain.VideoRecord
}

// MemoryRegistryStore keeps peers and their published videos behind one lock.
// A peer whose last heartbeat is older than the timeout is invisible to every read
// and is evicted by the next mutation that touches it or by Sweep.
type MemoryRegistryStore struct {
	peers map[domain.PeerID]*registryEntry
	mu    sync.RWMutex

	timeout      time.Duration
	now          func() time.Time
	expiredTotal int64
	lastSweep    time.Time
}

type RegistryOption func(*MemoryRegistryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(s *MemoryRegistryStore) {
		s.now = now
	}
}

func NewMemoryRegistryStore(timeout time.Duration, opts ...RegistryOption) ports.RegistryStore {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	s := &MemoryRegistryStore{
		peers:   make(map[domain.PeerID]*registryEntry),
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryRegistryStore) expired(e *registryEntry, now time.Time) bool {
	return now.Sub(e.record.LastSeen) > s.timeout
}

// live returns the entry for id if it exists and has not expired. An expired entry is
// evicted; callers must hold the write lock.
func (s *MemoryRegistryStore) live(id domain.PeerID, now time.Time) (*registryEntry, bool) {
	e, ok := s.peers[id]
	if !ok {
		return nil, false
	}
	if s.expired(e, now) {
		delete(s.peers, id)
		s.expiredTotal++
		return nil, false
	}
	return e, true
}

// UpsertPeer registers peer or updates its address. A live peer keeps its videos;
// a peer coming back after expiry starts with an empty catalog.
func (s *MemoryRegistryStore) UpsertPeer(ctx context.Context, peer domain.PeerRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	peer.LastSeen = now

	if e, ok := s.live(peer.ID, now); ok {
		e.record = peer
		return false, nil
	}

	s.peers[peer.ID] = &registryEntry{
		record: peer,
		videos: make(map[domain.VideoID]domain.VideoRecord),
	}
	return true, nil
}

func (s *MemoryRegistryStore) TouchPeer(ctx context.Context, id domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(id, now)
	if !ok {
		return domain.ErrPeerNotFound
	}
	e.record.LastSeen = now
	return nil
}

// RemovePeer drops the peer and its catalog. It reports whether a live peer was removed.
func (s *MemoryRegistryStore) RemovePeer(ctx context.Context, id domain.PeerID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(id, s.now())
	delete(s.peers, id)
	return ok, nil
}

func (s *MemoryRegistryStore) PublishVideo(ctx context.Context, owner domain.PeerID, video domain.VideoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(owner, s.now())
	if !ok {
		return domain.ErrPeerNotFound
	}

	video.Owner = owner
	video.Published = true
	e.videos[video.ID] = video
	return nil
}

func (s *MemoryRegistryStore) UnpublishVideo(ctx context.Context, owner domain.PeerID, id domain.VideoID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(owner, s.now())
	if !ok {
		return domain.ErrPeerNotFound
	}
	if _, exists := e.videos[id]; !exists {
		return domain.ErrVideoNotFound
	}

	delete(e.videos, id)
	return nil
}

// SnapshotPeers returns live peers ordered by id.
func (s *MemoryRegistryStore) SnapshotPeers(ctx context.Context) ([]domain.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	peers := make([]domain.PeerRecord, 0, len(s.peers))
	for _, e := range s.peers {
		if !s.expired(e, now) {
			peers = append(peers, e.record)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID < peers[j].ID
	})
	return peers, nil
}

// SnapshotCatalog returns every published video of every live peer, ordered by
// peer id then video id.
func (s *MemoryRegistryStore) SnapshotCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	catalog := make([]domain.CatalogEntry, 0)
	for id, e := range s.peers {
		if s.expired(e, now) {
			continue
		}
		for _, v := range e.videos {
			catalog = append(catalog, domain.CatalogEntry{PeerID: id, Video: v})
		}
	}

	sortCatalog(catalog)
	return catalog, nil
}

// FindVideo returns the live peers publishing a video with the given id.
func (s *MemoryRegistryStore) FindVideo(ctx context.Context, id domain.VideoID) ([]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	matches := make([]domain.CatalogEntry, 0)
	for peerID, e := range s.peers {
		if s.expired(e, now) {
			continue
		}
		if v, ok := e.videos[id]; ok {
			matches = append(matches, domain.CatalogEntry{PeerID: peerID, Video: v})
		}
	}

	sortCatalog(matches)
	return matches, nil
}

// Sweep evicts every expired peer and returns their ids.
func (s *MemoryRegistryStore) Sweep(ctx context.Context) ([]domain.PeerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var evicted []domain.PeerID
	for id, e := range s.peers {
		if s.expired(e, now) {
			delete(s.peers, id)
			evicted = append(evicted, id)
		}
	}
	s.expiredTotal += int64(len(evicted))
	s.lastSweep = now

	sort.Slice(evicted, func(i, j int) bool {
		return evicted[i] < evicted[j]
	})
	return evicted, nil
}

func (s *MemoryRegistryStore) Stats(ctx context.Context) (domain.RegistryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := domain.RegistryStats{
		ExpiredTotal: s.expiredTotal,
		LastSweep:    s.lastSweep,
	}
	for _, e := range s.peers {
		if s.expired(e, now) {
			continue
		}
		stats.Peers++
		stats.PublishedCount += len(e.videos)
	}
	return stats, nil
}

func sortCatalog(entries []domain.CatalogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PeerID != entries[j].PeerID {
			return entries[i].PeerID < entries[j].PeerID
		}
		return entries[i].Video.ID < entries[j].Video.ID
	})
}
