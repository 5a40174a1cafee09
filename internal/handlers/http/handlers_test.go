package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/services"
	"vidswarm/internal/infrastructure/distributed"
	"vidswarm/internal/infrastructure/monitoring"
	"vidswarm/internal/infrastructure/protocol"
	"vidswarm/internal/infrastructure/repositories/memory"
	"vidswarm/internal/infrastructure/tracker"
	"vidswarm/internal/infrastructure/transfer"
	"vidswarm/pkg/config"
	"vidswarm/pkg/logger"
	"vidswarm/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func clientConfig() protocol.ClientConfig {
	return protocol.ClientConfig{DialTimeout: time.Second, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}
}

func testRouter(t *testing.T, reg *prometheus.Registry) *gin.Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	log := logger.NewContextLogger(zaptest.NewLogger(t).Sugar())
	return NewRouter(cfg, log, monitoring.NewHealthChecker(), reg)
}

type trackerFixture struct {
	addr   string
	svc    *services.TrackerService
	router *gin.Engine
}

func startTracker(t *testing.T) *trackerFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewTrackerCollector(reg)
	svc := services.NewTrackerService(memory.NewMemoryRegistryStore(time.Minute), distributed.NopPublisher{}, metrics, time.Hour, log)
	srv := tracker.NewServer(tracker.Config{ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second}, svc, metrics, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	router := testRouter(t, reg)
	NewTrackerHandler(svc, srv.ActiveConnections).SetupRoutes(router)
	return &trackerFixture{addr: ln.Addr().String(), svc: svc, router: router}
}

func startNode(t *testing.T, trackerAddr string, id domain.PeerID) *services.PeerNode {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	library := memory.NewMemoryLibraryRepository()
	connections := memory.NewMemoryConnectionRepository()
	hub := services.NewEventHub(64)
	metrics := monitoring.NewPeerCollector(prometheus.NewRegistry())
	server := transfer.NewServer(transfer.Config{PeerID: id, ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second},
		library, connections, hub, metrics, log)

	node := services.NewPeerNode(services.PeerConfig{
		ID:                id,
		ListenHost:        "127.0.0.1",
		AdvertiseHost:     "127.0.0.1",
		HeartbeatInterval: time.Hour,
		RequestTimeout:    2 * time.Second,
		Retry:             retry.Config{Enabled: false},
	}, services.PeerDeps{
		Tracker:     protocol.NewTrackerClient(trackerAddr, clientConfig()),
		Peers:       protocol.NewPeerClient(clientConfig(), 1024),
		Library:     library,
		Connections: connections,
		Server:      server,
		Events:      hub,
		Metrics:     metrics,
	}, log)

	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = node.Stop(ctx)
	})
	return node
}

func peerRouter(t *testing.T, node *services.PeerNode) *gin.Engine {
	t.Helper()
	router := testRouter(t, prometheus.NewRegistry())
	NewPeerHandler(node, NewEventStream(node.Events(), zap.NewNop().Sugar()), time.Second).SetupRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestTrackerHandler(t *testing.T) {
	tr := startTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.svc.Register(ctx, domain.PeerRecord{ID: "alice", Host: "127.0.0.1", Port: 9001}))
	require.NoError(t, tr.svc.Publish(ctx, "alice", domain.VideoRecord{ID: "v1", Name: "intro.mp4", SizeBytes: 10}))

	w := do(t, tr.router, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(1), stats["registry"].(map[string]interface{})["peers"])
	assert.Contains(t, stats, "active_connections")

	w = do(t, tr.router, http.MethodGet, "/api/v1/peers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["peers"], 1)

	w = do(t, tr.router, http.MethodGet, "/api/v1/catalog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["catalog"], 1)

	w = do(t, tr.router, http.MethodGet, "/api/v1/videos/v1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["owners"], 1)

	w = do(t, tr.router, http.MethodGet, "/api/v1/videos/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "NOT_FOUND", body["error"])
	assert.NotEmpty(t, body["request_id"])

	w = do(t, tr.router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, tr.router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "vidswarm_tracker_"))
}

func TestPeerHandler_PublishRefreshDownload(t *testing.T) {
	tr := startTracker(t)
	alice := startNode(t, tr.addr, "alice")
	bob := startNode(t, tr.addr, "bob")
	aliceAPI := peerRouter(t, alice)
	bobAPI := peerRouter(t, bob)

	data := bytes.Repeat([]byte("frame"), 2000)
	path := filepath.Join(t.TempDir(), "intro.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w := do(t, aliceAPI, http.MethodPost, "/api/v1/videos", map[string]interface{}{"video_id": "v1", "path": path})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	video := decode(t, w)["video"].(map[string]interface{})
	assert.Equal(t, "intro.mp4", video["name"])
	assert.Equal(t, float64(len(data)), video["size"])

	w = do(t, aliceAPI, http.MethodGet, "/api/v1/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["videos"], 1)

	w = do(t, bobAPI, http.MethodPost, "/api/v1/network/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view domain.NetworkView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Len(t, view.Peers, 2)
	require.Len(t, view.Catalog, 1)

	w = do(t, bobAPI, http.MethodGet, "/api/v1/network", nil)
	require.Equal(t, http.StatusOK, w.Code)

	dest := t.TempDir()
	w = do(t, bobAPI, http.MethodPost, "/api/v1/downloads", map[string]interface{}{
		"peer_id": "alice", "video_id": "v1", "destination": dest,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := os.ReadFile(filepath.Join(dest, "intro.mp4"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	w = do(t, aliceAPI, http.MethodDelete, "/api/v1/videos/v1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, bobAPI, http.MethodPost, "/api/v1/downloads", map[string]interface{}{"peer_id": "alice", "video_id": "v1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])
}

func TestPeerHandler_InvalidRequests(t *testing.T) {
	tr := startTracker(t)
	alice := startNode(t, tr.addr, "alice")
	api := peerRouter(t, alice)

	w := do(t, api, http.MethodPost, "/api/v1/videos", map[string]interface{}{"name": "no path"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])

	w = do(t, api, http.MethodPost, "/api/v1/downloads", map[string]interface{}{"peer_id": "alice", "video_id": "v1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, api, http.MethodPost, "/api/v1/connections", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, api, http.MethodDelete, "/api/v1/videos/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPeerHandler_ConnectionsAndStop(t *testing.T) {
	tr := startTracker(t)
	alice := startNode(t, tr.addr, "alice")
	bob := startNode(t, tr.addr, "bob")
	api := peerRouter(t, bob)

	w := do(t, api, http.MethodPost, "/api/v1/connections", map[string]interface{}{"host": "127.0.0.1", "port": alice.Port()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conn := decode(t, w)["connection"].(map[string]interface{})
	assert.Equal(t, "alice", conn["remote_peer_id"])

	w = do(t, api, http.MethodPost, "/api/v1/connections", map[string]interface{}{"host": "127.0.0.1", "port": alice.Port()})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, api, http.MethodGet, "/api/v1/connections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["connections"], 1)

	w = do(t, api, http.MethodDelete, "/api/v1/connections/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, api, http.MethodDelete, "/api/v1/connections/alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, api, http.MethodPost, "/api/v1/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, bob.Started())

	w = do(t, api, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["running"])

	w = do(t, api, http.MethodPost, "/api/v1/network/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventStream_DeliversFilteredEvents(t *testing.T) {
	tr := startTracker(t)
	alice := startNode(t, tr.addr, "alice")

	srv := httptest.NewServer(peerRouter(t, alice))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?types=video.published"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return alice.Events().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))

	_, err = alice.RefreshNetwork(context.Background())
	require.NoError(t, err)
	_, err = alice.PublishVideo(context.Background(), "clip", "clip.mp4", 4, path)
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event domain.Event
	require.NoError(t, ws.ReadJSON(&event))
	assert.Equal(t, domain.EventVideoPublished, event.Type)
	assert.Equal(t, domain.VideoID("clip"), event.VideoID)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return alice.Events().Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
