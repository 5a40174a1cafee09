package protocol

import (
	"context"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
)

// TrackerClient talks to a tracker with one connection per operation.
type TrackerClient struct {
	addr string
	cfg  ClientConfig
}

func NewTrackerClient(addr string, cfg ClientConfig) ports.TrackerClient {
	return &TrackerClient{addr: addr, cfg: cfg}
}

func (t *TrackerClient) Register(ctx context.Context, peer domain.PeerRecord) error {
	return t.expectOK(ctx, &Register{PeerID: peer.ID, Host: peer.Host, Port: peer.Port})
}

func (t *TrackerClient) Unregister(ctx context.Context, id domain.PeerID) error {
	return t.expectOK(ctx, &Unregister{PeerID: id})
}

func (t *TrackerClient) Heartbeat(ctx context.Context, id domain.PeerID) error {
	return t.expectOK(ctx, &Heartbeat{PeerID: id})
}

func (t *TrackerClient) Publish(ctx context.Context, owner domain.PeerID, video domain.VideoRecord) error {
	return t.expectOK(ctx, &Publish{PeerID: owner, Video: video})
}

func (t *TrackerClient) Unpublish(ctx context.Context, owner domain.PeerID, id domain.VideoID) error {
	return t.expectOK(ctx, &Unpublish{PeerID: owner, VideoID: id})
}

func (t *TrackerClient) ListPeers(ctx context.Context) ([]domain.PeerRecord, error) {
	resp, err := Exchange(ctx, t.addr, t.cfg, &ListPeers{})
	if err != nil {
		return nil, err
	}
	peers, ok := resp.(*Peers)
	if !ok {
		return nil, unexpected("LIST_PEERS", resp)
	}
	return peers.Peers, nil
}

func (t *TrackerClient) ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	return t.catalog(ctx, &ListCatalog{})
}

func (t *TrackerClient) FindVideo(ctx context.Context, id domain.VideoID) ([]domain.CatalogEntry, error) {
	return t.catalog(ctx, &FindVideo{VideoID: id})
}

func (t *TrackerClient) catalog(ctx context.Context, req Message) ([]domain.CatalogEntry, error) {
	resp, err := Exchange(ctx, t.addr, t.cfg, req)
	if err != nil {
		return nil, err
	}
	catalog, ok := resp.(*Catalog)
	if !ok {
		return nil, unexpected(req.Kind().String(), resp)
	}
	return catalog.Entries, nil
}

func (t *TrackerClient) expectOK(ctx context.Context, req Message) error {
	resp, err := Exchange(ctx, t.addr, t.cfg, req)
	if err != nil {
		return err
	}
	if _, ok := resp.(*OK); !ok {
		return unexpected(req.Kind().String(), resp)
	}
	return nil
}

// ListPeerCatalog asks a peer's transfer server for the videos it publishes.
func ListPeerCatalog(ctx context.Context, addr string, cfg ClientConfig) ([]domain.CatalogEntry, error) {
	resp, err := Exchange(ctx, addr, cfg, &ListCatalog{})
	if err != nil {
		return nil, err
	}
	catalog, ok := resp.(*Catalog)
	if !ok {
		return nil, unexpected("LIST_CATALOG", resp)
	}
	return catalog.Entries, nil
}
