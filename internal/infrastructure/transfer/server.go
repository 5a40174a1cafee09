package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
	"vidswarm/internal/infrastructure/protocol"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/optimize"
	"vidswarm/pkg/tracing"

	"go.uber.org/zap"
)

// Metrics records uploads and inbound connection lifecycle.
type Metrics interface {
	protocol.ConnMetrics
	RecordUpload(result string, bytes int64)
}

type Config struct {
	PeerID         domain.PeerID
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	ChunkSize      int
}

// Server answers other peers: it lists this peer's published videos, streams
// their bytes and accepts manual sessions.
type Server struct {
	cfg         Config
	library     ports.LibraryRepository
	connections ports.ConnectionRepository
	events      ports.EventPublisher
	metrics     Metrics
	logger      *zap.SugaredLogger
	buffers     *optimize.BytePool
	conns       *protocol.ConnServer

	mu       sync.Mutex
	sessions map[string]inboundSession
}

type inboundSession struct {
	id   domain.SessionID
	conn *protocol.Conn
}

func NewServer(
	cfg Config,
	library ports.LibraryRepository,
	connections ports.ConnectionRepository,
	events ports.EventPublisher,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Server {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	s := &Server{
		cfg:         cfg,
		library:     library,
		connections: connections,
		events:      events,
		metrics:     metrics,
		logger:      logger.With("peer_id", cfg.PeerID),
		buffers:     optimize.NewBytePool(cfg.ChunkSize),
		sessions:    make(map[string]inboundSession),
	}
	s.conns = protocol.NewConnServer(protocol.ServerConfig{
		Name:           "transfer",
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxConnections: cfg.MaxConnections,
		Metrics:        metrics,
	}, protocol.HandlerFunc(s.serveMessage), s.logger)
	return s
}

// Serve blocks on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	err := s.conns.Serve(ln)
	if errors.Is(err, protocol.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Addr() net.Addr {
	return s.conns.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.conns.Shutdown(ctx)
}

// Reopen readies a stopped server for the next Serve.
func (s *Server) Reopen() {
	s.conns.Reopen()
}

func (s *Server) serveMessage(ctx context.Context, conn *protocol.Conn, req protocol.Message) error {
	switch m := req.(type) {
	case *protocol.ListCatalog:
		return s.listCatalog(ctx, conn)
	case *protocol.GetVideo:
		return s.sendVideo(ctx, conn, m.VideoID)
	case *protocol.VideoInfo:
		return s.videoInfo(ctx, conn, m.VideoID)
	case *protocol.Hello:
		return s.hello(ctx, conn, m.PeerID)
	default:
		return s.reply(conn, &protocol.ErrorResponse{
			Code:    string(apperrors.ErrCodeInvalidInput),
			Message: fmt.Sprintf("%s is not served by peers", req.Kind()),
		})
	}
}

func (s *Server) listCatalog(ctx context.Context, conn *protocol.Conn) error {
	videos, err := s.library.ListPublished(ctx)
	if err != nil {
		return s.reply(conn, protocol.ErrorFor(err))
	}
	entries := make([]domain.CatalogEntry, 0, len(videos))
	for _, v := range videos {
		entries = append(entries, domain.CatalogEntry{PeerID: s.cfg.PeerID, Video: v})
	}
	return s.reply(conn, &protocol.Catalog{Entries: entries})
}

func (s *Server) videoInfo(ctx context.Context, conn *protocol.Conn, id domain.VideoID) error {
	video, err := s.library.Get(ctx, id)
	if err != nil || !video.Published {
		return s.reply(conn, &protocol.NotFound{Message: fmt.Sprintf("video %s not found", id)})
	}
	return s.reply(conn, &protocol.Catalog{Entries: []domain.CatalogEntry{{PeerID: s.cfg.PeerID, Video: video.VideoRecord}}})
}

func (s *Server) sendVideo(ctx context.Context, conn *protocol.Conn, id domain.VideoID) error {
	video, err := s.library.Get(ctx, id)
	if err != nil || !video.Published {
		s.metrics.RecordUpload("not_found", 0)
		return s.reply(conn, &protocol.NotFound{Message: fmt.Sprintf("video %s not found", id)})
	}

	f, err := os.Open(video.Path)
	if err != nil {
		s.logger.Warnw("published video is unreadable", "video_id", id, "path", video.Path, "error", err)
		s.metrics.RecordUpload("not_found", 0)
		return s.reply(conn, &protocol.NotFound{Message: fmt.Sprintf("video %s is no longer available", id)})
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.metrics.RecordUpload("not_found", 0)
		return s.reply(conn, &protocol.NotFound{Message: fmt.Sprintf("video %s is no longer available", id)})
	}
	size := info.Size()

	if err := s.reply(conn, &protocol.Video{Size: size}); err != nil {
		s.metrics.RecordUpload("failed", 0)
		return err
	}

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	start := time.Now()
	sent, err := conn.SendBody(ctx, f, size, *buf)
	tracing.RecordError(ctx, err)
	if err != nil {
		s.metrics.RecordUpload("failed", sent)
		s.logger.Warnw("video transfer aborted",
			"video_id", id,
			"remote", conn.RemoteAddr(),
			"sent", sent,
			"size", size,
			"error", err,
		)
		return protocol.ClassifyNetError("send video", err)
	}

	s.metrics.RecordUpload("ok", sent)
	s.logger.Infow("video served",
		"video_id", id,
		"remote", conn.RemoteAddr(),
		"bytes", sent,
		"duration", time.Since(start),
	)
	return nil
}

// hello opens an inbound session on the first HELLO of a connection. Later HELLOs
// on the same connection are keepalives.
func (s *Server) hello(ctx context.Context, conn *protocol.Conn, remote domain.PeerID) error {
	if remote == "" {
		return s.reply(conn, &protocol.ErrorResponse{
			Code:    string(apperrors.ErrCodeInvalidInput),
			Message: "peer id is required",
		})
	}

	s.mu.Lock()
	_, known := s.sessions[conn.ID()]
	s.mu.Unlock()

	if !known {
		record := &domain.ConnectionRecord{
			SessionID:     domain.SessionID(conn.ID()),
			RemotePeerID:  remote,
			Host:          conn.RemoteHost(),
			Port:          conn.RemotePort(),
			EstablishedAt: time.Now(),
			Kind:          domain.ConnectionInbound,
		}
		if err := s.connections.Add(ctx, record); err != nil {
			return s.reply(conn, protocol.ErrorFor(err))
		}

		s.mu.Lock()
		s.sessions[conn.ID()] = inboundSession{id: record.SessionID, conn: conn}
		s.mu.Unlock()

		conn.OnClose(func() { s.closeSession(conn.ID(), remote) })
		s.publish(domain.Event{
			Type:    domain.EventSessionOpened,
			PeerID:  remote,
			Payload: map[string]interface{}{"session_id": record.SessionID, "kind": record.Kind},
		})
		s.logger.Infow("inbound session opened", "remote_peer_id", remote, "remote", conn.RemoteAddr())
	}

	return s.reply(conn, &protocol.HelloAck{PeerID: s.cfg.PeerID})
}

// CloseSessions drops every connection that opened a session with HELLO. Their
// records are removed as the connections close. Plain transfers are untouched.
func (s *Server) CloseSessions() int {
	s.mu.Lock()
	conns := make([]*protocol.Conn, 0, len(s.sessions))
	for _, in := range s.sessions {
		conns = append(conns, in.conn)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

func (s *Server) closeSession(connID string, remote domain.PeerID) {
	s.mu.Lock()
	in, ok := s.sessions[connID]
	delete(s.sessions, connID)
	s.mu.Unlock()
	if !ok {
		return
	}
	id := in.id

	_ = s.connections.Remove(context.Background(), id)
	s.publish(domain.Event{
		Type:    domain.EventSessionClosed,
		PeerID:  remote,
		Payload: map[string]interface{}{"session_id": id, "kind": domain.ConnectionInbound},
	})
	s.logger.Infow("inbound session closed", "remote_peer_id", remote)
}

func (s *Server) publish(event domain.Event) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(context.Background(), event)
}

func (s *Server) reply(conn *protocol.Conn, m protocol.Message) error {
	if err := conn.Send(m); err != nil {
		return protocol.ClassifyNetError("send "+m.Kind().String(), err)
	}
	return nil
}
