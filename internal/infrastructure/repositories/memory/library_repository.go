package memory

import (
	"context"
	"sort"
	"sync"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
)

// MemoryLibraryRepository holds the files a peer node can serve. Reads return copies.
type MemoryLibraryRepository struct {
	videos map[domain.VideoID]*domain.LocalVideo
	mu     sync.RWMutex
}

func NewMemoryLibraryRepository() ports.LibraryRepository {
	return &MemoryLibraryRepository{
		videos: make(map[domain.VideoID]*domain.LocalVideo),
	}
}

// Add stores video, replacing an entry with the same id.
func (r *MemoryLibraryRepository) Add(ctx context.Context, video *domain.LocalVideo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := *video
	r.videos[v.ID] = &v
	return nil
}

func (r *MemoryLibraryRepository) Get(ctx context.Context, id domain.VideoID) (*domain.LocalVideo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	video, exists := r.videos[id]
	if !exists {
		return nil, domain.ErrVideoNotFound
	}

	v := *video
	return &v, nil
}

func (r *MemoryLibraryRepository) SetPublished(ctx context.Context, id domain.VideoID, published bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	video, exists := r.videos[id]
	if !exists {
		return domain.ErrVideoNotFound
	}

	video.Published = published
	return nil
}

func (r *MemoryLibraryRepository) Remove(ctx context.Context, id domain.VideoID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.videos[id]; !exists {
		return domain.ErrVideoNotFound
	}

	delete(r.videos, id)
	return nil
}

func (r *MemoryLibraryRepository) ListPublished(ctx context.Context) ([]domain.VideoRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.VideoRecord, 0, len(r.videos))
	for _, v := range r.videos {
		if v.Published {
			result = append(result, v.VideoRecord)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// List returns every local video, published or not, ordered by id.
func (r *MemoryLibraryRepository) List(ctx context.Context) ([]*domain.LocalVideo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.LocalVideo, 0, len(r.videos))
	for _, v := range r.videos {
		c := *v
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}
