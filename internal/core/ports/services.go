package ports

import (
	"context"
	"io"
	"net"
	"time"

	"vidswarm/internal/core/domain"
)

// EventPublisher fans registry events out to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// TrackerClient is the peer node's view of the tracker.
type TrackerClient interface {
	Register(ctx context.Context, peer domain.PeerRecord) error
	Unregister(ctx context.Context, id domain.PeerID) error
	Heartbeat(ctx context.Context, id domain.PeerID) error
	ListPeers(ctx context.Context) ([]domain.PeerRecord, error)
	ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
	Publish(ctx context.Context, owner domain.PeerID, video domain.VideoRecord) error
	Unpublish(ctx context.Context, owner domain.PeerID, id domain.VideoID) error
	FindVideo(ctx context.Context, id domain.VideoID) ([]domain.CatalogEntry, error)
}

// EventSubscriber receives events published by other processes.
type EventSubscriber interface {
	Subscribe(ctx context.Context, handler func(domain.Event)) error
}

// TrackerMetrics records registry state for the tracker.
type TrackerMetrics interface {
	UpdateRegistry(stats domain.RegistryStats)
	RecordExpired(n int)
}

// PeerSession is an open manual session with another peer.
type PeerSession interface {
	RemotePeerID() domain.PeerID
	RemoteAddr() string
	Keepalive(ctx context.Context) error
	Close() error
}

// PeerClient is the client side of the peer-to-peer protocol.
type PeerClient interface {
	ListCatalog(ctx context.Context, addr string) ([]domain.CatalogEntry, error)
	// FetchVideo copies the video's bytes into w and fails on anything short of the declared size.
	FetchVideo(ctx context.Context, addr string, id domain.VideoID, w io.Writer) (int64, error)
	VideoInfo(ctx context.Context, addr string, id domain.VideoID) (domain.VideoRecord, error)
	OpenSession(ctx context.Context, addr string, self domain.PeerID) (PeerSession, error)
}

// TransferServer serves this peer's videos on a listener the node bound itself.
type TransferServer interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
	// Reopen undoes a previous Shutdown so the node can start again.
	Reopen()
	// CloseSessions drops the inbound manual sessions and returns how many there were.
	CloseSessions() int
}

// PeerMetrics records peer node activity.
type PeerMetrics interface {
	RecordDownload(result string, bytes int64, duration time.Duration)
	SetSessions(n int)
	SetPublished(n int)
	RecordHeartbeatFailure()
	SetTrackerAvailable(up bool)
}
