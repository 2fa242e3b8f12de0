package api

import (
	"net/http"

	"uploadhook/internal/service"
	v1 "uploadhook/pkg/api/v1"
	"uploadhook/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	worker WorkerProvider
}

func NewAdminHandler(worker WorkerProvider) *AdminHandler {
	return &AdminHandler{worker: worker}
}

// RetryDeadLetters runs the dead-letter manager now. The manager's own
// throttle still applies, so ran may be false.
func (h *AdminHandler) RetryDeadLetters(c *gin.Context) {
	retried, ran := h.worker.RunDeadLetters(c.Request.Context())
	logger.Info("manual dead-letter retry",
		zap.String("operator", service.OperatorName(c.Request.Context())),
		zap.Bool("ran", ran),
		zap.Int("retried", retried))
	c.JSON(http.StatusOK, v1.RetryResponse{Ran: ran, Retried: retried})
}
