package http

import (
	"fmt"
	"net/http"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/services"
	apperrors "vidswarm/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TrackerHandler exposes a read-only view of the registry to operators.
type TrackerHandler struct {
	tracker *services.TrackerService
	active  func() int
}

// NewTrackerHandler takes active, which reports open protocol connections; it may be nil.
func NewTrackerHandler(tracker *services.TrackerService, active func() int) *TrackerHandler {
	return &TrackerHandler{tracker: tracker, active: active}
}

func (h *TrackerHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/stats", h.GetStats)

	api := router.Group("/api/v1")
	{
		api.GET("/peers", h.ListPeers)
		api.GET("/catalog", h.ListCatalog)
		api.GET("/videos/:id", h.FindVideo)
	}
}

func (h *TrackerHandler) GetStats(c *gin.Context) {
	stats, err := h.tracker.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"registry": stats}
	if h.active != nil {
		resp["active_connections"] = h.active()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TrackerHandler) ListPeers(c *gin.Context) {
	peers, err := h.tracker.ListPeers(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

func (h *TrackerHandler) ListCatalog(c *gin.Context) {
	catalog, err := h.tracker.ListCatalog(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"catalog": catalog})
}

func (h *TrackerHandler) FindVideo(c *gin.Context) {
	id := domain.VideoID(c.Param("id"))

	entries, err := h.tracker.FindVideo(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if len(entries) == 0 {
		c.Error(apperrors.NewNotFoundError(fmt.Sprintf("video %s", id)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id, "owners": entries})
}
