package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/services"
	"github.com/brightensolutions/brightensolutions-sub000/pkg/tracking"

	"github.com/gin-gonic/gin"
)

// IngestVisitor accepts a full visitor snapshot. Storage happens
// asynchronously, so success is 202.
func (h *Handler) IngestVisitor(c *gin.Context) {
	var data tracking.VisitorData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data.Normalize()
	if err := data.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := services.Snapshot{
		Data:       data,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.visitorService.SubmitAsync(snap); err != nil {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingest queue is full"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "visitorId": data.VisitorID})
}

func (h *Handler) GetVisitor(c *gin.Context) {
	visitorID := c.Param("visitor_id")

	v, err := h.visitorService.Get(c.Request.Context(), visitorID)
	if errors.Is(err, services.ErrVisitorNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Visitor not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load visitor", "visitor_id", visitorID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, v)
}
