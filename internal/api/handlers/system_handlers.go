package handlers

import (
	"context"
	"net/http"
	"time"

	"face-attendance/internal/utils"

	"github.com/gin-gonic/gin"
)

// statusProbeTimeout bounds the provider health checks of one status call.
const statusProbeTimeout = 3 * time.Second

// GetStatus liefert Provider-Verfügbarkeit, ausstehende Operationen und Systemstatistiken.
func (h *APIHandler) GetStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), statusProbeTimeout)
	defer cancel()

	var pending utils.PendingCounter
	if h.Pending != nil {
		pending = h.Pending
	}
	c.JSON(http.StatusOK, utils.CollectStatus(ctx, h.Providers, pending, h.Pool))
}
