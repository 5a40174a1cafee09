package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
	"vidswarm/pkg/circuitbreaker"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/retry"
	"vidswarm/pkg/tracing"
	"vidswarm/pkg/utils"
	"vidswarm/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type PeerConfig struct {
	ID                domain.PeerID
	ListenHost        string
	AdvertiseHost     string
	Port              int
	DownloadDir       string
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	KeepaliveInterval time.Duration
	MaxSessions       int
	Retry             retry.Config
	Breaker           circuitbreaker.Config
}

// PeerDeps are the collaborators a PeerNode is wired with.
type PeerDeps struct {
	Tracker     ports.TrackerClient
	Peers       ports.PeerClient
	Library     ports.LibraryRepository
	Connections ports.ConnectionRepository
	Server      ports.TransferServer
	Events      *EventHub
	Metrics     ports.PeerMetrics

	// Registry, when set, delivers tracker registry events that trigger a refresh.
	Registry ports.EventSubscriber
}

// DownloadResult describes a completed download.
type DownloadResult struct {
	PeerID   domain.PeerID  `json:"peer_id"`
	VideoID  domain.VideoID `json:"video_id"`
	Path     string         `json:"path"`
	Bytes    int64          `json:"bytes"`
	Duration time.Duration  `json:"duration"`
}

// PeerNode is one participant of the network: it registers with the tracker,
// serves its published videos and downloads videos from other peers.
type PeerNode struct {
	cfg     PeerConfig
	deps    PeerDeps
	logger  *zap.SugaredLogger
	breaker *circuitbreaker.CircuitBreaker

	sessions *SessionManager

	// mu serializes Start and Stop; running answers everyone else.
	mu       sync.Mutex
	running  atomic.Bool
	self     domain.PeerRecord
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error

	refreshMu sync.Mutex
	viewMu    sync.RWMutex
	view      domain.NetworkView
}

func NewPeerNode(cfg PeerConfig, deps PeerDeps, logger *zap.SugaredLogger) *PeerNode {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if deps.Events == nil {
		deps.Events = NewEventHub(0)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.FailureThreshold <= 0 {
		breakerCfg = circuitbreaker.DefaultConfig()
	}
	breakerCfg.IsFailure = func(err error) bool {
		// The tracker answered; only its registration is gone.
		return !errors.Is(err, apperrors.ErrNotFound)
	}

	n := &PeerNode{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("peer_id", cfg.ID),
		breaker: circuitbreaker.New(breakerCfg),
		self:    domain.PeerRecord{ID: cfg.ID, Host: cfg.AdvertiseHost, Port: cfg.Port},
	}
	n.sessions = NewSessionManager(SessionConfig{
		Self:              cfg.ID,
		KeepaliveInterval: cfg.KeepaliveInterval,
		RequestTimeout:    cfg.RequestTimeout,
		MaxSessions:       cfg.MaxSessions,
		Resolve:           n.lookupPeer,
	}, deps.Peers, deps.Connections, deps.Events, deps.Metrics, n.logger)
	n.breaker.OnStateChange(n.onTrackerStateChange)
	return n
}

func (n *PeerNode) ID() domain.PeerID {
	return n.cfg.ID
}

// Port is the bound transfer port, known once Start succeeded.
func (n *PeerNode) Port() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.self.Port
}

func (n *PeerNode) Events() *EventHub {
	return n.deps.Events
}

func (n *PeerNode) Started() bool {
	return n.running.Load()
}

// TrackerAvailable reports whether heartbeats currently reach the tracker.
func (n *PeerNode) TrackerAvailable() bool {
	return n.breaker.GetState() != circuitbreaker.StateOpen
}

// Start binds the transfer port, registers with the tracker and then begins
// serving and heartbeating. A failure leaves nothing running.
func (n *PeerNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running.Load() {
		return apperrors.WrapError(domain.ErrNodeAlreadyStarted, apperrors.ErrCodeConflict, "peer already started", http.StatusConflict)
	}
	if err := validation.ValidatePeerID(string(n.cfg.ID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	addr := net.JoinHostPort(n.cfg.ListenHost, strconv.Itoa(n.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperrors.NewRegistrationError(fmt.Sprintf("bind %s", addr), err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	self := domain.PeerRecord{ID: n.cfg.ID, Host: n.cfg.AdvertiseHost, Port: port}
	retryCfg := n.cfg.Retry
	retryCfg.ShouldRetry = isTransient
	err = retry.Retry(ctx, retryCfg, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
		defer cancel()
		return n.deps.Tracker.Register(reqCtx, self)
	})
	if err != nil {
		ln.Close()
		return apperrors.NewRegistrationError("register with tracker", err)
	}

	n.self = self
	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.serveErr = make(chan error, 1)

	// A node started again after Stop serves on the same server.
	n.deps.Server.Reopen()
	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.serveErr <- n.deps.Server.Serve(ln)
	}()
	go func() {
		defer n.wg.Done()
		n.heartbeatLoop(runCtx)
	}()
	if n.deps.Registry != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.followRegistry(runCtx)
		}()
	}

	n.running.Store(true)
	n.republish(ctx)
	n.deps.Metrics.SetTrackerAvailable(true)
	n.deps.Events.Emit(domain.Event{
		Type:    domain.EventNodeStarted,
		PeerID:  n.cfg.ID,
		Payload: map[string]interface{}{"port": port},
	})
	n.logger.Infow("peer started", "listen", ln.Addr().String(), "advertise_host", n.cfg.AdvertiseHost)
	return nil
}

// Stop unregisters (best effort), closes sessions and shuts the transfer server down.
func (n *PeerNode) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running.Load() {
		return nil
	}
	n.running.Store(false)
	n.cancel()

	n.sessions.CloseAll("node stopping", false)

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	if err := n.deps.Tracker.Unregister(reqCtx, n.cfg.ID); err != nil {
		n.logger.Warnw("unregister failed", "error", err)
	}
	cancel()

	shutdownErr := n.deps.Server.Shutdown(ctx)
	n.wg.Wait()
	if err := <-n.serveErr; err != nil {
		n.logger.Warnw("transfer server stopped with error", "error", err)
	}

	n.deps.Events.Emit(domain.Event{Type: domain.EventNodeStopped, PeerID: n.cfg.ID})
	n.logger.Infow("peer stopped")
	return shutdownErr
}

func (n *PeerNode) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.heartbeat(ctx)
		}
	}
}

func (n *PeerNode) heartbeat(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	err := n.breaker.Execute(reqCtx, func() error {
		return n.deps.Tracker.Heartbeat(reqCtx, n.cfg.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		n.logger.Warnw("tracker no longer knows this peer, registering again")
		n.reregister(ctx)
	case errors.Is(err, circuitbreaker.ErrOpen):
	case ctx.Err() != nil:
	default:
		n.deps.Metrics.RecordHeartbeatFailure()
		n.logger.Warnw("heartbeat failed", "error", err)
	}
}

func (n *PeerNode) reregister(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	if err := n.deps.Tracker.Register(reqCtx, n.self); err != nil {
		n.logger.Warnw("re-register failed", "error", err)
		return
	}
	n.republish(ctx)
}

// republish announces every published local video to the tracker again.
func (n *PeerNode) republish(ctx context.Context) {
	videos, err := n.deps.Library.ListPublished(ctx)
	if err != nil {
		return
	}
	for _, v := range videos {
		reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
		err := n.deps.Tracker.Publish(reqCtx, n.cfg.ID, v)
		cancel()
		if err != nil {
			n.logger.Warnw("republish failed", "video_id", v.ID, "error", err)
		}
	}
	n.deps.Metrics.SetPublished(len(videos))
}

func (n *PeerNode) onTrackerStateChange(from, to circuitbreaker.State) {
	switch to {
	case circuitbreaker.StateOpen:
		n.deps.Metrics.SetTrackerAvailable(false)
		n.logger.Errorw("tracker unreachable", "from", from.String())
		n.deps.Events.Emit(domain.Event{Type: domain.EventTrackerLost, PeerID: n.cfg.ID})
		n.sessions.CloseAll("tracker lost", false)
		if dropped := n.deps.Server.CloseSessions(); dropped > 0 {
			n.logger.Infow("inbound sessions closed", "count", dropped, "reason", "tracker lost")
		}
	case circuitbreaker.StateClosed:
		n.deps.Metrics.SetTrackerAvailable(true)
		n.logger.Infow("tracker reachable again", "from", from.String())
		n.deps.Events.Emit(domain.Event{Type: domain.EventTrackerRecovered, PeerID: n.cfg.ID})
	}
}

// followRegistry refreshes the view whenever the tracker announces a change.
// Bursts of events collapse into one refresh.
func (n *PeerNode) followRegistry(ctx context.Context) {
	trigger := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				if _, err := n.RefreshNetwork(ctx); err != nil && ctx.Err() == nil {
					n.logger.Warnw("event driven refresh failed", "error", err)
				}
			}
		}
	}()

	err := n.deps.Registry.Subscribe(ctx, func(event domain.Event) {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	if err != nil && ctx.Err() == nil {
		n.logger.Warnw("registry subscription ended", "error", err)
	}
}

// RefreshNetwork fetches the peer list and catalog concurrently. The result
// replaces the previous view wholesale; on error the old view is kept.
func (n *PeerNode) RefreshNetwork(ctx context.Context) (domain.NetworkView, error) {
	if !n.Started() {
		return domain.NetworkView{}, notStarted()
	}

	n.refreshMu.Lock()
	defer n.refreshMu.Unlock()

	ctx, span := tracing.TracePeerOperation(ctx, "refresh", string(n.cfg.ID))
	defer span.End()

	var view domain.NetworkView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reqCtx, cancel := context.WithTimeout(gctx, n.cfg.RequestTimeout)
		defer cancel()
		peers, err := n.deps.Tracker.ListPeers(reqCtx)
		view.Peers = peers
		return err
	})
	g.Go(func() error {
		reqCtx, cancel := context.WithTimeout(gctx, n.cfg.RequestTimeout)
		defer cancel()
		catalog, err := n.deps.Tracker.ListCatalog(reqCtx)
		view.Catalog = catalog
		return err
	})
	if err := g.Wait(); err != nil {
		tracing.RecordError(ctx, err)
		return domain.NetworkView{}, err
	}

	if view.Peers == nil {
		view.Peers = []domain.PeerRecord{}
	}
	if view.Catalog == nil {
		view.Catalog = []domain.CatalogEntry{}
	}
	view.RefreshedAt = time.Now()

	n.viewMu.Lock()
	changed := !n.view.SameContent(view)
	n.view = view
	n.viewMu.Unlock()

	n.deps.Events.Emit(domain.Event{
		Type:    domain.EventNetworkRefreshed,
		PeerID:  n.cfg.ID,
		Payload: map[string]interface{}{"peers": len(view.Peers), "videos": len(view.Catalog), "changed": changed},
	})
	return copyView(view), nil
}

// NetworkView returns the view from the last successful refresh.
func (n *PeerNode) NetworkView() domain.NetworkView {
	n.viewMu.RLock()
	defer n.viewMu.RUnlock()
	return copyView(n.view)
}

func copyView(v domain.NetworkView) domain.NetworkView {
	out := domain.NetworkView{RefreshedAt: v.RefreshedAt}
	if v.Peers != nil {
		out.Peers = append([]domain.PeerRecord{}, v.Peers...)
	}
	if v.Catalog != nil {
		out.Catalog = append([]domain.CatalogEntry{}, v.Catalog...)
	}
	return out
}

func (n *PeerNode) lookupPeer(id domain.PeerID) (domain.PeerRecord, bool) {
	n.viewMu.RLock()
	defer n.viewMu.RUnlock()
	return n.view.FindPeer(id)
}

// PublishVideo announces a local file. An empty id is derived from the file
// contents, an empty name from the file name, and a negative size from the file.
func (n *PeerNode) PublishVideo(ctx context.Context, id domain.VideoID, name string, size int64, path string) (domain.VideoRecord, error) {
	if !n.Started() {
		return domain.VideoRecord{}, notStarted()
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.VideoRecord{}, apperrors.NewInvalidInputError(fmt.Sprintf("video file %s: %v", path, err))
	}
	if !info.Mode().IsRegular() {
		return domain.VideoRecord{}, apperrors.NewInvalidInputError(fmt.Sprintf("video file %s is not a regular file", path))
	}
	if size < 0 {
		size = info.Size()
	}
	if size != info.Size() {
		return domain.VideoRecord{}, apperrors.NewInvalidInputError(
			fmt.Sprintf("declared size %d does not match file size %d", size, info.Size()))
	}
	if id == "" {
		generated, err := utils.GenerateVideoID(path)
		if err != nil {
			return domain.VideoRecord{}, apperrors.NewInvalidInputError(err.Error())
		}
		id = domain.VideoID(generated)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if err := validation.ValidateVideoID(string(id)); err != nil {
		return domain.VideoRecord{}, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateVideoName(name); err != nil {
		return domain.VideoRecord{}, apperrors.NewInvalidInputError(err.Error())
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	existing, getErr := n.deps.Library.Get(ctx, id)
	local := &domain.LocalVideo{
		VideoRecord: domain.VideoRecord{ID: id, Name: name, SizeBytes: size, Owner: n.cfg.ID},
		Path:        absPath,
	}
	if getErr == nil {
		local.Published = existing.Published
	}
	if err := n.deps.Library.Add(ctx, local); err != nil {
		return domain.VideoRecord{}, err
	}

	record := local.VideoRecord
	record.Published = true

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	err = n.deps.Tracker.Publish(reqCtx, n.cfg.ID, record)
	cancel()
	if err != nil {
		if getErr != nil {
			_ = n.deps.Library.Remove(ctx, id)
		} else {
			_ = n.deps.Library.Add(ctx, existing)
		}
		return domain.VideoRecord{}, err
	}

	if err := n.deps.Library.SetPublished(ctx, id, true); err != nil {
		return domain.VideoRecord{}, err
	}
	n.updatePublished(ctx)

	n.deps.Events.Emit(domain.Event{
		Type:    domain.EventVideoPublished,
		PeerID:  n.cfg.ID,
		VideoID: id,
		Payload: map[string]interface{}{"name": name, "size": size},
	})
	n.logger.Infow("video published", "video_id", id, "name", name, "size", size)
	return record, nil
}

// UnpublishVideo withdraws a video. The file stays in the library.
func (n *PeerNode) UnpublishVideo(ctx context.Context, id domain.VideoID) error {
	if !n.Started() {
		return notStarted()
	}

	if _, err := n.deps.Library.Get(ctx, id); err != nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("video %s", id))
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	err := n.deps.Tracker.Unpublish(reqCtx, n.cfg.ID, id)
	cancel()
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	if err := n.deps.Library.SetPublished(ctx, id, false); err != nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("video %s", id))
	}
	n.updatePublished(ctx)

	n.deps.Events.Emit(domain.Event{Type: domain.EventVideoUnpublished, PeerID: n.cfg.ID, VideoID: id})
	n.logger.Infow("video unpublished", "video_id", id)
	return nil
}

// LocalVideos lists the library, published or not.
func (n *PeerNode) LocalVideos(ctx context.Context) ([]*domain.LocalVideo, error) {
	return n.deps.Library.List(ctx)
}

func (n *PeerNode) updatePublished(ctx context.Context) {
	published, err := n.deps.Library.ListPublished(ctx)
	if err == nil {
		n.deps.Metrics.SetPublished(len(published))
	}
}

// DownloadVideo fetches videoID from peerID into dest. dest may be a file path,
// an existing directory, or empty for the configured download directory. The
// file appears only once every declared byte arrived.
func (n *PeerNode) DownloadVideo(ctx context.Context, peerID domain.PeerID, videoID domain.VideoID, dest string) (*DownloadResult, error) {
	if peerID == n.cfg.ID {
		return nil, apperrors.NewInvalidInputError("cannot download a video from this peer itself")
	}
	if err := validation.ValidateVideoID(string(videoID)); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	ctx, span := tracing.TracePeerOperation(ctx, "download", string(n.cfg.ID),
		tracing.VideoIDKey.String(string(videoID)))
	defer span.End()

	owner, err := n.resolveOwner(ctx, peerID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	target, err := n.downloadTarget(peerID, videoID, dest)
	if err != nil {
		return nil, err
	}

	n.deps.Events.Emit(domain.Event{
		Type:    domain.EventDownloadStarted,
		PeerID:  peerID,
		VideoID: videoID,
		Payload: map[string]interface{}{"path": target},
	})

	start := time.Now()
	written, err := n.fetchInto(ctx, owner.Address(), videoID, target)
	duration := time.Since(start)
	if err != nil {
		tracing.RecordError(ctx, err)
		n.deps.Metrics.RecordDownload(strings.ToLower(string(apperrors.CodeOf(err))), written, duration)
		n.deps.Events.Emit(domain.Event{
			Type:    domain.EventDownloadFailed,
			PeerID:  peerID,
			VideoID: videoID,
			Payload: map[string]interface{}{"error": err.Error(), "bytes": written},
		})
		n.logger.Warnw("download failed",
			"from", peerID,
			"video_id", videoID,
			"received", written,
			"error", err,
		)
		return nil, err
	}

	n.deps.Metrics.RecordDownload("ok", written, duration)
	span.SetAttributes(tracing.BytesKey.Int64(written))
	n.deps.Events.Emit(domain.Event{
		Type:    domain.EventDownloadCompleted,
		PeerID:  peerID,
		VideoID: videoID,
		Payload: map[string]interface{}{"path": target, "bytes": written},
	})
	n.logger.Infow("download completed",
		"from", peerID,
		"video_id", videoID,
		"path", target,
		"bytes", written,
		"duration", duration,
	)
	return &DownloadResult{
		PeerID:   peerID,
		VideoID:  videoID,
		Path:     target,
		Bytes:    written,
		Duration: duration,
	}, nil
}

// VideoInfo asks peerID for the current metadata of one of its published videos.
func (n *PeerNode) VideoInfo(ctx context.Context, peerID domain.PeerID, videoID domain.VideoID) (domain.VideoRecord, error) {
	if !n.Started() {
		return domain.VideoRecord{}, notStarted()
	}
	if err := validation.ValidateVideoID(string(videoID)); err != nil {
		return domain.VideoRecord{}, apperrors.NewInvalidInputError(err.Error())
	}
	if peerID == n.cfg.ID {
		local, err := n.deps.Library.Get(ctx, videoID)
		if err != nil || !local.Published {
			return domain.VideoRecord{}, apperrors.NewNotFoundError(fmt.Sprintf("video %s", videoID))
		}
		return local.VideoRecord, nil
	}

	owner, err := n.resolveOwner(ctx, peerID)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()
	return n.deps.Peers.VideoInfo(reqCtx, owner.Address(), videoID)
}

// resolveOwner prefers the last view and falls back to asking the tracker.
func (n *PeerNode) resolveOwner(ctx context.Context, id domain.PeerID) (domain.PeerRecord, error) {
	if peer, ok := n.lookupPeer(id); ok {
		return peer, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()
	peers, err := n.deps.Tracker.ListPeers(reqCtx)
	if err != nil {
		return domain.PeerRecord{}, err
	}
	for _, p := range peers {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.PeerRecord{}, apperrors.NewNotFoundError(fmt.Sprintf("peer %s", id))
}

func (n *PeerNode) downloadTarget(peerID domain.PeerID, videoID domain.VideoID, dest string) (string, error) {
	if dest == "" {
		dest = n.cfg.DownloadDir
	}
	if dest == "" {
		dest = "."
	}

	info, err := os.Stat(dest)
	if err == nil && info.IsDir() {
		return filepath.Join(dest, n.fileNameFor(peerID, videoID)), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("destination %s: %v", dest, err))
	}
	if _, err := os.Stat(filepath.Dir(dest)); err != nil {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("destination directory %s does not exist", filepath.Dir(dest)))
	}
	return dest, nil
}

// fileNameFor uses the catalog name when the view knows the video.
func (n *PeerNode) fileNameFor(peerID domain.PeerID, videoID domain.VideoID) string {
	n.viewMu.RLock()
	defer n.viewMu.RUnlock()
	for _, e := range n.view.Catalog {
		if e.PeerID == peerID && e.Video.ID == videoID {
			if name := filepath.Base(e.Video.Name); name != "." && name != string(filepath.Separator) {
				return name
			}
		}
	}
	return string(videoID)
}

func (n *PeerNode) fetchInto(ctx context.Context, addr string, id domain.VideoID, target string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".vidswarm-*.part")
	if err != nil {
		return 0, apperrors.NewTransferError("create temporary file", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := n.deps.Peers.FetchVideo(ctx, addr, id, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = apperrors.NewTransferError("write destination", closeErr)
	}
	if err != nil {
		return written, err
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return written, apperrors.NewTransferError("move download into place", err)
	}
	committed = true
	return written, nil
}

// ConnectPeer opens a manual session to host:port.
func (n *PeerNode) ConnectPeer(ctx context.Context, host string, port int) (*domain.ConnectionRecord, error) {
	if !n.Started() {
		return nil, notStarted()
	}
	return n.sessions.Connect(ctx, host, port)
}

// ConnectPeerByID opens a manual session to a peer from the last view.
func (n *PeerNode) ConnectPeerByID(ctx context.Context, id domain.PeerID) (*domain.ConnectionRecord, error) {
	if !n.Started() {
		return nil, notStarted()
	}
	return n.sessions.ConnectPeer(ctx, id)
}

func (n *PeerNode) DisconnectPeer(ctx context.Context, id domain.PeerID) error {
	return n.sessions.Disconnect(ctx, id)
}

func (n *PeerNode) ListConnections(ctx context.Context) ([]*domain.ConnectionRecord, error) {
	return n.sessions.List(ctx)
}

func notStarted() error {
	return apperrors.WrapError(domain.ErrNodeNotStarted, apperrors.ErrCodeServiceUnavailable, "peer node is not running", http.StatusServiceUnavailable)
}

// isTransient reports whether retrying the tracker may help.
func isTransient(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeProtocol, apperrors.ErrCodeConflict:
		return false
	default:
		return true
	}
}
