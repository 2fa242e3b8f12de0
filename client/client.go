package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	v1 "uploadhook/pkg/api/v1"
	"uploadhook/pkg/logger"

	"go.uber.org/zap"
)

// ErrUnhealthy is returned when the worker answers 503.
var ErrUnhealthy = errors.New("worker is unhealthy")

// Client reads the health and metrics surface of a running worker.
type Client struct {
	addr       string
	httpClient *http.Client
}

func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		addr:       strings.TrimRight(addr, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Health fetches GET /health. A 503 returns the decoded report together with
// ErrUnhealthy.
func (c *Client) Health(ctx context.Context) (*v1.HealthReport, error) {
	var report v1.HealthReport
	code, err := c.get(ctx, "/health", &report)
	if err != nil {
		return nil, err
	}
	if code == http.StatusServiceUnavailable {
		return &report, ErrUnhealthy
	}
	return &report, nil
}

func (c *Client) Metrics(ctx context.Context) (*v1.MetricsSnapshot, error) {
	var snap v1.MetricsSnapshot
	if _, err := c.get(ctx, "/metrics", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WaitHealthy polls Health until the worker answers healthy or degraded, or
// ctx expires.
func (c *Client) WaitHealthy(ctx context.Context) (*v1.HealthReport, error) {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second
	for {
		report, err := c.Health(ctx)
		if err == nil {
			return report, nil
		}
		logger.Debug("worker not healthy yet", zap.Error(err), zap.Duration("backoff", backoff))

		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return report, fmt.Errorf("wait healthy: %w (last: %w)", ctx.Err(), err)
		case <-time.After(backoff + jitter):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return resp.StatusCode, fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
