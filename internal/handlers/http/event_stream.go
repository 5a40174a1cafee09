package http

import (
	"net/http"
	"strings"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// The control API listens on a local address for a local UI.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// EventStream pushes node events to WebSocket subscribers as JSON, one event per frame.
// A ?types=a,b query restricts the stream to those event types.
type EventStream struct {
	hub          *services.EventHub
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewEventStream(hub *services.EventHub, logger *zap.SugaredLogger) *EventStream {
	return &EventStream{
		hub:          hub,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets the ping interval; the read timeout follows at twice that.
func (s *EventStream) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
	s.readTimeout = 2 * interval
}

func (s *EventStream) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := parseTypes(c.Query("types"))
	sub := s.hub.Subscribe()
	defer sub.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Infow("event subscriber connected", "remote", remote)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	// Subscribers only listen; reading is needed to see pongs and close frames.
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closed <- err
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				s.writeClose(conn, websocket.CloseGoingAway, "node shutting down")
				return
			}
			if filter != nil && !filter[event.Type] {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Infow("error sending event", "remote", remote, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "remote", remote, "error", err)
				return
			}

		case err := <-closed:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("event subscriber dropped", "remote", remote, "error", err)
			}
			if dropped := sub.Dropped(); dropped > 0 {
				s.logger.Warnw("slow event subscriber lost events", "remote", remote, "dropped", dropped)
			}
			return
		}
	}
}

func (s *EventStream) writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
}

func parseTypes(raw string) map[domain.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[domain.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[domain.EventType(t)] = true
		}
	}
	return filter
}
