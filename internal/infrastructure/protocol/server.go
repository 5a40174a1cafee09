package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"vidswarm/pkg/tracing"

	"go.uber.org/zap"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("protocol: server closed")

// Handler serves one request. It writes exactly one response (GET_VIDEO may follow
// it with the body) and returns an error only when the connection must be dropped.
type Handler interface {
	ServeMessage(ctx context.Context, conn *Conn, req Message) error
}

type HandlerFunc func(ctx context.Context, conn *Conn, req Message) error

func (f HandlerFunc) ServeMessage(ctx context.Context, conn *Conn, req Message) error {
	return f(ctx, conn, req)
}

// ConnMetrics receives connection lifecycle events.
type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectionRejected(reason string)
	ProtocolViolation()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened()         {}
func (nopMetrics) ConnectionClosed()         {}
func (nopMetrics) ConnectionRejected(string) {}
func (nopMetrics) ProtocolViolation()        {}

// ServerConfig tunes a ConnServer.
type ServerConfig struct {
	Name           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int

	// Admit is consulted for every accepted connection; a non-nil error rejects it.
	Admit   func(remote net.Addr) error
	Metrics ConnMetrics
}

// ConnServer accepts connections and serves each one in its own goroutine,
// reading requests in order until the client closes or misbehaves.
type ConnServer struct {
	cfg     ServerConfig
	handler Handler
	logger  *zap.SugaredLogger

	sem chan struct{}
	wg  sync.WaitGroup

	mu           sync.Mutex
	listener     net.Listener
	conns        map[*Conn]struct{}
	shuttingDown bool
	baseCtx      context.Context
	cancel       context.CancelFunc
}

func NewConnServer(cfg ServerConfig, handler Handler, logger *zap.SugaredLogger) *ConnServer {
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Name == "" {
		cfg.Name = "protocol"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &ConnServer{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("server", cfg.Name),
		conns:   make(map[*Conn]struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
	if cfg.MaxConnections > 0 {
		s.sem = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Serve accepts on ln until Shutdown is called or the listener fails.
func (s *ConnServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infow("serving", "address", ln.Addr().String())

	var backoff time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closing() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warnw("accept error, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if s.cfg.Admit != nil {
			if err := s.cfg.Admit(raw.RemoteAddr()); err != nil {
				s.cfg.Metrics.ConnectionRejected("admission")
				s.logger.Warnw("connection rejected", "remote", raw.RemoteAddr().String(), "error", err)
				go reject(raw, err, s.cfg.WriteTimeout)
				continue
			}
		}

		if !s.acquire() {
			s.cfg.Metrics.ConnectionRejected("capacity")
			s.logger.Warnw("connection limit reached", "remote", raw.RemoteAddr().String(), "max", s.cfg.MaxConnections)
			go reject(raw, errTooManyConnections, s.cfg.WriteTimeout)
			continue
		}

		conn := newConn(raw, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
		if !s.track(conn) {
			s.release()
			conn.Close()
			return ErrServerClosed
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *ConnServer) serveConn(conn *Conn) {
	s.cfg.Metrics.ConnectionOpened()
	defer func() {
		s.untrack(conn)
		conn.Close()
		s.release()
		s.cfg.Metrics.ConnectionClosed()
		s.wg.Done()
	}()

	for {
		req, err := conn.readRequest()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}

		if !req.Kind().IsRequest() {
			s.cfg.Metrics.ProtocolViolation()
			s.logger.Warnw("unexpected message kind", "remote", conn.RemoteAddr(), "kind", req.Kind().String())
			_ = conn.Send(&ProtocolError{Message: fmt.Sprintf("unexpected message %s", req.Kind())})
			return
		}

		ctx, span := tracing.TraceRequest(s.baseCtx, s.cfg.Name, req.Kind().String(), conn.RemoteAddr())
		err = s.handler.ServeMessage(ctx, conn, req)
		tracing.RecordError(ctx, err)
		span.End()

		if err != nil {
			s.logger.Warnw("connection dropped",
				"remote", conn.RemoteAddr(),
				"kind", req.Kind().String(),
				"error", err,
			)
			return
		}

		if s.closing() {
			return
		}
	}
}

func (s *ConnServer) handleReadError(conn *Conn, err error) {
	switch {
	case errors.Is(err, io.EOF):
	case IsMalformed(err):
		s.cfg.Metrics.ProtocolViolation()
		s.logger.Warnw("protocol violation", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Send(&ProtocolError{Message: err.Error()})
	case s.closing():
	default:
		s.logger.Infow("connection read failed",
			"remote", conn.RemoteAddr(),
			"error", ClassifyNetError("read request", err),
		)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *ConnServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *ConnServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, lets in-flight requests finish and closes idle
// connections. When ctx expires first the remaining connections are closed.
func (s *ConnServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	var lnErr error
	if s.listener != nil {
		lnErr = s.listener.Close()
	}
	for c := range s.conns {
		c.interrupt()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
	case <-ctx.Done():
		s.cancel()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}

	if lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
		return lnErr
	}
	return nil
}

// Reopen makes a shut down server accept another Serve. It must not run
// concurrently with Shutdown.
func (s *ConnServer) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shuttingDown {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.shuttingDown = false
	s.listener = nil
}

func (s *ConnServer) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

func (s *ConnServer) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *ConnServer) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *ConnServer) acquire() bool {
	if s.sem == nil {
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *ConnServer) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
