package http

import (
	"context"
	"net/http"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/services"
	apperrors "vidswarm/pkg/errors"

	"github.com/gin-gonic/gin"
)

// PeerHandler is the control API a UI drives a peer node through.
type PeerHandler struct {
	node        *services.PeerNode
	events      *EventStream
	stopTimeout time.Duration
}

func NewPeerHandler(node *services.PeerNode, events *EventStream, stopTimeout time.Duration) *PeerHandler {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &PeerHandler{
		node:        node,
		events:      events,
		stopTimeout: stopTimeout,
	}
}

func (h *PeerHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.GetStatus)
		api.POST("/stop", h.Stop)

		api.GET("/videos", h.ListVideos)
		api.POST("/videos", h.PublishVideo)
		api.DELETE("/videos/:id", h.UnpublishVideo)

		api.GET("/network", h.GetNetwork)
		api.POST("/network/refresh", h.RefreshNetwork)

		api.POST("/downloads", h.DownloadVideo)
		api.GET("/peers/:peer_id/videos/:video_id", h.GetVideoInfo)

		api.GET("/connections", h.ListConnections)
		api.POST("/connections", h.Connect)
		api.DELETE("/connections/:peer_id", h.Disconnect)

		if h.events != nil {
			api.GET("/events", h.events.Handle)
		}
	}
}

func (h *PeerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"peer_id":           h.node.ID(),
		"port":              h.node.Port(),
		"running":           h.node.Started(),
		"tracker_available": h.node.TrackerAvailable(),
	})
}

// Stop runs detached from the request so a client hanging up does not abort it.
func (h *PeerHandler) Stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), h.stopTimeout)
	defer cancel()

	if err := h.node.Stop(ctx); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *PeerHandler) ListVideos(c *gin.Context) {
	videos, err := h.node.LocalVideos(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

func (h *PeerHandler) PublishVideo(c *gin.Context) {
	var req struct {
		VideoID domain.VideoID `json:"video_id"`
		Name    string         `json:"name"`
		Size    *int64         `json:"size"`
		Path    string         `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	size := int64(-1)
	if req.Size != nil {
		size = *req.Size
	}

	video, err := h.node.PublishVideo(c.Request.Context(), req.VideoID, req.Name, size, req.Path)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"video": video})
}

func (h *PeerHandler) UnpublishVideo(c *gin.Context) {
	id := domain.VideoID(c.Param("id"))

	if err := h.node.UnpublishVideo(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id, "status": "unpublished"})
}

func (h *PeerHandler) GetNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.NetworkView())
}

func (h *PeerHandler) RefreshNetwork(c *gin.Context) {
	view, err := h.node.RefreshNetwork(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *PeerHandler) DownloadVideo(c *gin.Context) {
	var req struct {
		PeerID      domain.PeerID  `json:"peer_id" binding:"required"`
		VideoID     domain.VideoID `json:"video_id" binding:"required"`
		Destination string         `json:"destination"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	result, err := h.node.DownloadVideo(c.Request.Context(), req.PeerID, req.VideoID, req.Destination)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"download": result})
}

func (h *PeerHandler) GetVideoInfo(c *gin.Context) {
	peerID := domain.PeerID(c.Param("peer_id"))
	videoID := domain.VideoID(c.Param("video_id"))

	video, err := h.node.VideoInfo(c.Request.Context(), peerID, videoID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_id": peerID, "video": video})
}

func (h *PeerHandler) ListConnections(c *gin.Context) {
	conns, err := h.node.ListConnections(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// Connect accepts either peer_id, resolved through the last network view, or host and port.
func (h *PeerHandler) Connect(c *gin.Context) {
	var req struct {
		PeerID domain.PeerID `json:"peer_id"`
		Host   string        `json:"host"`
		Port   int           `json:"port"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	var (
		record *domain.ConnectionRecord
		err    error
	)
	switch {
	case req.PeerID != "":
		record, err = h.node.ConnectPeerByID(c.Request.Context(), req.PeerID)
	case req.Host != "":
		record, err = h.node.ConnectPeer(c.Request.Context(), req.Host, req.Port)
	default:
		err = apperrors.NewInvalidInputError("peer_id or host and port are required")
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"connection": record})
}

func (h *PeerHandler) Disconnect(c *gin.Context) {
	id := domain.PeerID(c.Param("peer_id"))

	if err := h.node.DisconnectPeer(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_id": id, "status": "disconnected"})
}
