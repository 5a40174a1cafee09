package protocol

import (
	"context"
	"fmt"
	"io"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/optimize"
)

// PeerClient talks to other peers' transfer servers.
type PeerClient struct {
	cfg     ClientConfig
	buffers *optimize.BytePool
}

func NewPeerClient(cfg ClientConfig, chunkSize int) ports.PeerClient {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &PeerClient{cfg: cfg, buffers: optimize.NewBytePool(chunkSize)}
}

func (p *PeerClient) ListCatalog(ctx context.Context, addr string) ([]domain.CatalogEntry, error) {
	return ListPeerCatalog(ctx, addr, p.cfg)
}

// VideoInfo asks the peer at addr for one published video's metadata.
func (p *PeerClient) VideoInfo(ctx context.Context, addr string, id domain.VideoID) (domain.VideoRecord, error) {
	resp, err := Exchange(ctx, addr, p.cfg, &VideoInfo{VideoID: id})
	if err != nil {
		return domain.VideoRecord{}, err
	}
	catalog, ok := resp.(*Catalog)
	if !ok {
		return domain.VideoRecord{}, unexpected("VIDEO_INFO", resp)
	}
	if len(catalog.Entries) != 1 || catalog.Entries[0].Video.ID != id {
		return domain.VideoRecord{}, apperrors.NewProtocolError(fmt.Sprintf("VIDEO_INFO for %s answered with %d entries", id, len(catalog.Entries)))
	}
	return catalog.Entries[0].Video, nil
}

func (p *PeerClient) FetchVideo(ctx context.Context, addr string, id domain.VideoID, w io.Writer) (int64, error) {
	c, err := Dial(ctx, addr, p.cfg)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	resp, err := c.Do(ctx, &GetVideo{VideoID: id})
	if err != nil {
		return 0, err
	}
	video, ok := resp.(*Video)
	if !ok {
		return 0, unexpected("GET_VIDEO", resp)
	}

	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	return c.ReadBody(ctx, w, video.Size, *buf)
}

func (p *PeerClient) OpenSession(ctx context.Context, addr string, self domain.PeerID) (ports.PeerSession, error) {
	c, err := Dial(ctx, addr, p.cfg)
	if err != nil {
		return nil, err
	}

	remote, err := hello(ctx, c, self)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &Session{client: c, self: self, remote: remote}, nil
}

// Session is a persistent connection opened with HELLO.
type Session struct {
	client *Client
	self   domain.PeerID
	remote domain.PeerID
}

func (s *Session) RemotePeerID() domain.PeerID {
	return s.remote
}

func (s *Session) RemoteAddr() string {
	return s.client.RemoteAddr()
}

// Keepalive repeats HELLO and fails if the remote answers as a different peer.
func (s *Session) Keepalive(ctx context.Context) error {
	remote, err := hello(ctx, s.client, s.self)
	if err != nil {
		return err
	}
	if remote != s.remote {
		return apperrors.NewProtocolError(fmt.Sprintf("session peer changed from %s to %s", s.remote, remote))
	}
	return nil
}

func (s *Session) Close() error {
	return s.client.Close()
}

func hello(ctx context.Context, c *Client, self domain.PeerID) (domain.PeerID, error) {
	resp, err := c.Do(ctx, &Hello{PeerID: self})
	if err != nil {
		return "", err
	}
	ack, ok := resp.(*HelloAck)
	if !ok {
		return "", unexpected("HELLO", resp)
	}
	return ack.PeerID, nil
}
