package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/services"
	"vidswarm/internal/infrastructure/protocol"
	apperrors "vidswarm/pkg/errors"

	"go.uber.org/zap"
)

// RequestMetrics records the outcome of every tracker request.
type RequestMetrics interface {
	protocol.ConnMetrics
	RecordRequest(kind, result string, duration time.Duration)
}

type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int

	// Admit rejects connections before any request is read.
	Admit func(remote net.Addr) error
}

// Server is the tracker's TCP front end.
type Server struct {
	svc     *services.TrackerService
	metrics RequestMetrics
	logger  *zap.SugaredLogger
	conns   *protocol.ConnServer
}

func NewServer(cfg Config, svc *services.TrackerService, metrics RequestMetrics, logger *zap.SugaredLogger) *Server {
	s := &Server{
		svc:     svc,
		metrics: metrics,
		logger:  logger,
	}
	s.conns = protocol.NewConnServer(protocol.ServerConfig{
		Name:           "tracker",
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxConnections: cfg.MaxConnections,
		Admit:          cfg.Admit,
		Metrics:        metrics,
	}, protocol.HandlerFunc(s.serveMessage), logger)
	return s
}

// Serve blocks accepting on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Infow("tracker listening", "address", ln.Addr().String())
	err := s.conns.Serve(ln)
	if errors.Is(err, protocol.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Addr() net.Addr {
	return s.conns.Addr()
}

func (s *Server) ActiveConnections() int {
	return s.conns.ActiveConnections()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.conns.Shutdown(ctx)
}

func (s *Server) serveMessage(ctx context.Context, conn *protocol.Conn, req protocol.Message) error {
	start := time.Now()
	resp, err := s.dispatch(ctx, conn, req)
	if err != nil {
		resp = protocol.ErrorFor(err)
		if apperrors.CodeOf(err) == apperrors.ErrCodeInternal {
			s.logger.Errorw("tracker request failed",
				"kind", req.Kind().String(),
				"remote", conn.RemoteAddr(),
				"error", err,
			)
		}
	}
	result := resultLabel(resp)
	sendErr := conn.Send(resp)
	if errors.Is(sendErr, protocol.ErrFrameTooLarge) {
		result = strings.ToLower(string(apperrors.ErrCodeInternal))
		s.logger.Errorw("tracker response too large", "kind", req.Kind().String(), "remote", conn.RemoteAddr())
	}
	s.metrics.RecordRequest(req.Kind().String(), result, time.Since(start))

	if sendErr != nil {
		return protocol.ClassifyNetError("send response", sendErr)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, conn *protocol.Conn, req protocol.Message) (protocol.Message, error) {
	switch m := req.(type) {
	case *protocol.Register:
		host := m.Host
		if host == "" {
			host = conn.RemoteHost()
		}
		err := s.svc.Register(ctx, domain.PeerRecord{ID: m.PeerID, Host: host, Port: m.Port})
		return &protocol.OK{}, err
	case *protocol.Unregister:
		return &protocol.OK{}, s.svc.Unregister(ctx, m.PeerID)
	case *protocol.Heartbeat:
		return &protocol.OK{}, s.svc.Heartbeat(ctx, m.PeerID)
	case *protocol.ListPeers:
		peers, err := s.svc.ListPeers(ctx)
		return &protocol.Peers{Peers: peers}, err
	case *protocol.ListCatalog:
		entries, err := s.svc.ListCatalog(ctx)
		return &protocol.Catalog{Entries: entries}, err
	case *protocol.Publish:
		return &protocol.OK{}, s.svc.Publish(ctx, m.PeerID, m.Video)
	case *protocol.Unpublish:
		return &protocol.OK{}, s.svc.Unpublish(ctx, m.PeerID, m.VideoID)
	case *protocol.FindVideo:
		entries, err := s.svc.FindVideo(ctx, m.VideoID)
		return &protocol.Catalog{Entries: entries}, err
	case *protocol.Hello:
		return &protocol.HelloAck{PeerID: "tracker"}, nil
	default:
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%s is not a tracker request", req.Kind()))
	}
}

func resultLabel(resp protocol.Message) string {
	switch r := resp.(type) {
	case *protocol.NotFound:
		return "not_found"
	case *protocol.ProtocolError:
		return "protocol_error"
	case *protocol.ErrorResponse:
		return strings.ToLower(r.Code)
	default:
		return "ok"
	}
}
