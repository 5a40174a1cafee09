package ports

import (
	"context"

	"vidswarm/internal/core/domain"
)

// RegistryStore is the tracker's peer and catalog directory.
type RegistryStore interface {
	UpsertPeer(ctx context.Context, peer domain.PeerRecord) (created bool, err error)
	TouchPeer(ctx context.Context, id domain.PeerID) error
	RemovePeer(ctx context.Context, id domain.PeerID) (bool, error)
	PublishVideo(ctx context.Context, owner domain.PeerID, video domain.VideoRecord) error
	UnpublishVideo(ctx context.Context, owner domain.PeerID, id domain.VideoID) error
	SnapshotPeers(ctx context.Context) ([]domain.PeerRecord, error)
	SnapshotCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
	FindVideo(ctx context.Context, id domain.VideoID) ([]domain.CatalogEntry, error)
	Sweep(ctx context.Context) ([]domain.PeerID, error)
	Stats(ctx context.Context) (domain.RegistryStats, error)
}

// LibraryRepository holds the videos a peer node can serve.
type LibraryRepository interface {
	Add(ctx context.Context, video *domain.LocalVideo) error
	Get(ctx context.Context, id domain.VideoID) (*domain.LocalVideo, error)
	SetPublished(ctx context.Context, id domain.VideoID, published bool) error
	Remove(ctx context.Context, id domain.VideoID) error
	ListPublished(ctx context.Context) ([]domain.VideoRecord, error)
	List(ctx context.Context) ([]*domain.LocalVideo, error)
}

// ConnectionRepository holds manual session records, inbound and outbound.
type ConnectionRepository interface {
	Add(ctx context.Context, conn *domain.ConnectionRecord) error
	Remove(ctx context.Context, id domain.SessionID) error
	GetByPeer(ctx context.Context, peerID domain.PeerID, kind domain.ConnectionKind) (*domain.ConnectionRecord, error)
	List(ctx context.Context) ([]*domain.ConnectionRecord, error)
	Count(ctx context.Context, kind domain.ConnectionKind) (int, error)
}
