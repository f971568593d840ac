package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/export"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.statsService.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to aggregate stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ExportParquet(c *gin.Context) {
	var buf bytes.Buffer
	rows, err := export.WritePageVisits(c.Request.Context(), h.db, &buf)
	if err != nil {
		h.logger.Error("Failed to export page visits", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	filename := fmt.Sprintf("page_visits_%s.parquet", time.Now().UTC().Format("20060102T150405Z"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("X-Row-Count", fmt.Sprint(rows))
	c.Data(http.StatusOK, "application/vnd.apache.parquet", buf.Bytes())
}
