package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
)

type MemoryConnectionRepository struct {
	connections map[domain.SessionID]*domain.ConnectionRecord
	mu          sync.RWMutex
}

func NewMemoryConnectionRepository() ports.ConnectionRepository {
	return &MemoryConnectionRepository{
		connections: make(map[domain.SessionID]*domain.ConnectionRecord),
	}
}

func (r *MemoryConnectionRepository) Add(ctx context.Context, conn *domain.ConnectionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.SessionID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, conn.SessionID)
	}

	c := *conn
	r.connections[c.SessionID] = &c
	return nil
}

func (r *MemoryConnectionRepository) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.connections, id)
	return nil
}

// GetByPeer finds the session with peerID. An empty kind matches either direction.
func (r *MemoryConnectionRepository) GetByPeer(ctx context.Context, peerID domain.PeerID, kind domain.ConnectionKind) (*domain.ConnectionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.connections {
		if conn.RemotePeerID == peerID && (kind == "" || conn.Kind == kind) {
			c := *conn
			return &c, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

// List returns all sessions, oldest first.
func (r *MemoryConnectionRepository) List(ctx context.Context) ([]*domain.ConnectionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.ConnectionRecord, 0, len(r.connections))
	for _, conn := range r.connections {
		c := *conn
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EstablishedAt.Equal(result[j].EstablishedAt) {
			return result[i].EstablishedAt.Before(result[j].EstablishedAt)
		}
		return result[i].SessionID < result[j].SessionID
	})
	return result, nil
}

func (r *MemoryConnectionRepository) Count(ctx context.Context, kind domain.ConnectionKind) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if kind == "" {
		return len(r.connections), nil
	}
	n := 0
	for _, conn := range r.connections {
		if conn.Kind == kind {
			n++
		}
	}
	return n, nil
}
