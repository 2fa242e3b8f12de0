package api

import (
	"context"
	"net/http"

	"uploadhook/internal/dto/req"
	"uploadhook/internal/dto/resp"
	"uploadhook/internal/service"
	v1 "uploadhook/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

// WorkerProvider is the part of the coordinator the HTTP surface reads.
type WorkerProvider interface {
	HealthCheck(ctx context.Context, opts service.HealthOptions) v1.HealthReport
	Metrics() v1.MetricsSnapshot
	RunDeadLetters(ctx context.Context) (retried int, ran bool)
}

type HealthHandler struct {
	worker WorkerProvider
}

func NewHealthHandler(worker WorkerProvider) *HealthHandler {
	return &HealthHandler{worker: worker}
}

// Health answers 200 for healthy and degraded workers and 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	var q req.HealthQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "invalid params"})
		return
	}

	report := h.worker.HealthCheck(c.Request.Context(), service.HealthOptions{
		Queue:     q.QueueEnabled(),
		Datastore: q.DatastoreEnabled(),
	})
	code := http.StatusOK
	if report.Status == v1.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Metrics())
}
