package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/validation"

	"go.uber.org/zap"
)

const eventQueueSize = 1024

// TrackerService applies tracker requests to the registry. Registry events are
// queued and published by Run so a slow event bus never delays a request.
type TrackerService struct {
	store     ports.RegistryStore
	publisher ports.EventPublisher
	metrics   ports.TrackerMetrics
	logger    *zap.SugaredLogger

	sweepInterval time.Duration
	events        chan domain.Event
}

func NewTrackerService(
	store ports.RegistryStore,
	publisher ports.EventPublisher,
	metrics ports.TrackerMetrics,
	sweepInterval time.Duration,
	logger *zap.SugaredLogger,
) *TrackerService {
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Second
	}
	return &TrackerService{
		store:         store,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger,
		sweepInterval: sweepInterval,
		events:        make(chan domain.Event, eventQueueSize),
	}
}

func (s *TrackerService) Register(ctx context.Context, peer domain.PeerRecord) error {
	if err := validation.ValidatePeerID(string(peer.ID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateHost(peer.Host); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidatePort(peer.Port); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	created, err := s.store.UpsertPeer(ctx, peer)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "register peer", http.StatusInternalServerError)
	}

	s.logger.Infow("peer registered",
		"peer_id", peer.ID,
		"address", peer.Address(),
		"new", created,
	)
	s.emit(domain.Event{
		Type:    domain.EventPeerRegistered,
		PeerID:  peer.ID,
		Payload: map[string]interface{}{"host": peer.Host, "port": peer.Port, "new": created},
	})
	s.refreshMetrics(ctx)
	return nil
}

// Unregister removes the peer and its catalog. Unknown peers are not an error.
func (s *TrackerService) Unregister(ctx context.Context, id domain.PeerID) error {
	removed, err := s.store.RemovePeer(ctx, id)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "unregister peer", http.StatusInternalServerError)
	}
	if !removed {
		return nil
	}

	s.logger.Infow("peer unregistered", "peer_id", id)
	s.emit(domain.Event{Type: domain.EventPeerUnregistered, PeerID: id})
	s.refreshMetrics(ctx)
	return nil
}

func (s *TrackerService) Heartbeat(ctx context.Context, id domain.PeerID) error {
	if err := s.store.TouchPeer(ctx, id); err != nil {
		return s.mapStoreError(err, id, "")
	}
	return nil
}

func (s *TrackerService) Publish(ctx context.Context, owner domain.PeerID, video domain.VideoRecord) error {
	if err := validation.ValidateVideoID(string(video.ID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateVideoName(video.Name); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateSize(video.SizeBytes); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if video.Owner != "" && video.Owner != owner {
		return apperrors.NewInvalidInputError(fmt.Sprintf("video owner %s does not match publisher %s", video.Owner, owner))
	}

	if err := s.store.PublishVideo(ctx, owner, video); err != nil {
		return s.mapStoreError(err, owner, video.ID)
	}

	s.logger.Infow("video published",
		"peer_id", owner,
		"video_id", video.ID,
		"name", video.Name,
		"size", video.SizeBytes,
	)
	s.emit(domain.Event{
		Type:    domain.EventVideoPublished,
		PeerID:  owner,
		VideoID: video.ID,
		Payload: map[string]interface{}{"name": video.Name, "size": video.SizeBytes},
	})
	s.refreshMetrics(ctx)
	return nil
}

func (s *TrackerService) Unpublish(ctx context.Context, owner domain.PeerID, id domain.VideoID) error {
	if err := s.store.UnpublishVideo(ctx, owner, id); err != nil {
		return s.mapStoreError(err, owner, id)
	}

	s.logger.Infow("video unpublished", "peer_id", owner, "video_id", id)
	s.emit(domain.Event{Type: domain.EventVideoUnpublished, PeerID: owner, VideoID: id})
	s.refreshMetrics(ctx)
	return nil
}

func (s *TrackerService) ListPeers(ctx context.Context) ([]domain.PeerRecord, error) {
	return s.store.SnapshotPeers(ctx)
}

// ListCatalog returns the full current catalog. Two calls with no mutation in
// between return equal slices.
func (s *TrackerService) ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	return s.store.SnapshotCatalog(ctx)
}

func (s *TrackerService) FindVideo(ctx context.Context, id domain.VideoID) ([]domain.CatalogEntry, error) {
	return s.store.FindVideo(ctx, id)
}

func (s *TrackerService) Stats(ctx context.Context) (domain.RegistryStats, error) {
	return s.store.Stats(ctx)
}

// Sweep evicts expired peers and reports them.
func (s *TrackerService) Sweep(ctx context.Context) ([]domain.PeerID, error) {
	evicted, err := s.store.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	if len(evicted) > 0 {
		s.logger.Infow("expired inactive peers", "count", len(evicted), "peer_ids", evicted)
		s.metrics.RecordExpired(len(evicted))
		for _, id := range evicted {
			s.emit(domain.Event{Type: domain.EventPeerExpired, PeerID: id})
		}
	}
	s.refreshMetrics(ctx)
	return evicted, nil
}

// Run sweeps the registry periodically and publishes queued events until ctx ends.
func (s *TrackerService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drainEvents()
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warnw("registry sweep failed", "error", err)
			}
		case event := <-s.events:
			s.publish(ctx, event)
		}
	}
}

func (s *TrackerService) emit(event domain.Event) {
	event.Timestamp = time.Now()
	select {
	case s.events <- event:
	default:
		s.logger.Warnw("event queue full, dropping event", "type", event.Type, "peer_id", event.PeerID)
	}
}

func (s *TrackerService) publish(ctx context.Context, event domain.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warnw("failed to publish registry event", "type", event.Type, "error", err)
	}
}

func (s *TrackerService) drainEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case event := <-s.events:
			s.publish(ctx, event)
		default:
			return
		}
	}
}

func (s *TrackerService) refreshMetrics(ctx context.Context) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return
	}
	s.metrics.UpdateRegistry(stats)
}

func (s *TrackerService) mapStoreError(err error, peerID domain.PeerID, videoID domain.VideoID) error {
	switch {
	case errors.Is(err, domain.ErrPeerNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("peer %s", peerID))
	case errors.Is(err, domain.ErrVideoNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("video %s of peer %s", videoID, peerID))
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "registry", http.StatusInternalServerError)
	}
}
