package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/utils"
	"vidswarm/pkg/validation"

	"go.uber.org/zap"
)

type SessionConfig struct {
	Self              domain.PeerID
	KeepaliveInterval time.Duration
	RequestTimeout    time.Duration
	MaxSessions       int

	// Resolve looks a peer up in the last network view.
	Resolve func(id domain.PeerID) (domain.PeerRecord, bool)
}

type managedSession struct {
	record  domain.ConnectionRecord
	session ports.PeerSession
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionManager owns this node's outbound manual sessions. Inbound sessions are
// recorded by the transfer server in the same repository.
type SessionManager struct {
	cfg         SessionConfig
	client      ports.PeerClient
	connections ports.ConnectionRepository
	events      ports.EventPublisher
	metrics     ports.PeerMetrics
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.PeerID]*managedSession
	closed   bool
}

func NewSessionManager(
	cfg SessionConfig,
	client ports.PeerClient,
	connections ports.ConnectionRepository,
	events ports.EventPublisher,
	metrics ports.PeerMetrics,
	logger *zap.SugaredLogger,
) *SessionManager {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 15 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &SessionManager{
		cfg:         cfg,
		client:      client,
		connections: connections,
		events:      events,
		metrics:     metrics,
		logger:      logger,
		sessions:    make(map[domain.PeerID]*managedSession),
	}
}

// Connect opens a session to host:port. The remote peer id comes from its HELLO reply.
func (m *SessionManager) Connect(ctx context.Context, host string, port int) (*domain.ConnectionRecord, error) {
	if err := validation.ValidateHost(host); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidatePort(port); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := m.checkCapacity(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	session, err := m.client.OpenSession(ctx, addr, m.cfg.Self)
	if err != nil {
		return nil, err
	}

	remote := session.RemotePeerID()
	if remote == m.cfg.Self {
		session.Close()
		return nil, apperrors.NewInvalidInputError("cannot open a session to this peer itself")
	}

	record := domain.ConnectionRecord{
		SessionID:     domain.SessionID(utils.GenerateSessionID()),
		RemotePeerID:  remote,
		Host:          host,
		Port:          port,
		EstablishedAt: time.Now(),
		Kind:          domain.ConnectionOutbound,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		session.Close()
		return nil, apperrors.WrapError(domain.ErrNodeNotStarted, apperrors.ErrCodeServiceUnavailable, "session manager closed", http.StatusServiceUnavailable)
	}
	if _, exists := m.sessions[remote]; exists {
		m.mu.Unlock()
		session.Close()
		return nil, apperrors.WrapError(domain.ErrSessionExists, apperrors.ErrCodeConflict, fmt.Sprintf("already connected to %s", remote), http.StatusConflict)
	}
	// Another Connect may have filled the last slot while this one dialed.
	if err := m.capacityLocked(); err != nil {
		m.mu.Unlock()
		session.Close()
		return nil, err
	}
	if err := m.connections.Add(ctx, &record); err != nil {
		m.mu.Unlock()
		session.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeConflict, "record session", http.StatusConflict)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	managed := &managedSession{record: record, session: session, cancel: cancel, done: make(chan struct{})}
	m.sessions[remote] = managed
	m.mu.Unlock()

	go m.keepalive(loopCtx, managed)

	m.reportSessions()
	m.emit(domain.EventSessionOpened, record, "")
	m.logger.Infow("session opened",
		"remote_peer_id", remote,
		"address", addr,
		"session_id", record.SessionID,
	)

	result := record
	return &result, nil
}

// ConnectPeer opens a session to a peer known from the last network view.
func (m *SessionManager) ConnectPeer(ctx context.Context, id domain.PeerID) (*domain.ConnectionRecord, error) {
	if m.cfg.Resolve == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("peer %s", id))
	}
	peer, ok := m.cfg.Resolve(id)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("peer %s", id))
	}
	return m.Connect(ctx, peer.Host, peer.Port)
}

// Disconnect closes the outbound session with id. Tracker registration is untouched.
func (m *SessionManager) Disconnect(ctx context.Context, id domain.PeerID) error {
	m.mu.Lock()
	managed, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("session with %s", id))
	}
	m.teardown(managed, "disconnected")
	return nil
}

// List returns inbound and outbound sessions, oldest first.
func (m *SessionManager) List(ctx context.Context) ([]*domain.ConnectionRecord, error) {
	return m.connections.List(ctx)
}

// CloseAll ends every outbound session. When final is set, later Connect calls fail.
func (m *SessionManager) CloseAll(reason string, final bool) {
	m.mu.Lock()
	if final {
		m.closed = true
	}
	sessions := make([]*managedSession, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(s, reason)
	}
}

func (m *SessionManager) checkCapacity() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityLocked()
}

func (m *SessionManager) capacityLocked() error {
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return apperrors.WrapError(domain.ErrSessionLimit, apperrors.ErrCodeConflict,
			fmt.Sprintf("at most %d sessions", m.cfg.MaxSessions), http.StatusConflict)
	}
	return nil
}

func (m *SessionManager) keepalive(ctx context.Context, s *managedSession) {
	defer close(s.done)

	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			err := s.session.Keepalive(reqCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			m.logger.Warnw("session lost",
				"remote_peer_id", s.record.RemotePeerID,
				"error", err,
			)
			if m.forget(s) {
				go m.teardown(s, "keepalive failed")
			}
			return
		}
	}
}

// forget removes s from the live set if it is still there.
func (m *SessionManager) forget(s *managedSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[s.record.RemotePeerID]; ok && current == s {
		delete(m.sessions, s.record.RemotePeerID)
		return true
	}
	return false
}

func (m *SessionManager) teardown(s *managedSession, reason string) {
	s.cancel()
	_ = s.session.Close()
	<-s.done

	if err := m.connections.Remove(context.Background(), s.record.SessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		m.logger.Warnw("failed to remove session record", "session_id", s.record.SessionID, "error", err)
	}

	m.reportSessions()
	m.emit(domain.EventSessionClosed, s.record, reason)
	m.logger.Infow("session closed",
		"remote_peer_id", s.record.RemotePeerID,
		"session_id", s.record.SessionID,
		"reason", reason,
	)
}

func (m *SessionManager) reportSessions() {
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessions(n)
}

func (m *SessionManager) emit(t domain.EventType, record domain.ConnectionRecord, reason string) {
	payload := map[string]interface{}{
		"session_id": record.SessionID,
		"kind":       record.Kind,
		"host":       record.Host,
		"port":       record.Port,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	_ = m.events.Publish(context.Background(), domain.Event{Type: t, PeerID: record.RemotePeerID, Payload: payload})
}
