package service

import (
	"context"
	"errors"
	"testing"

	v1 "uploadhook/pkg/api/v1"
)

func TestHealthCheck_Verdict(t *testing.T) {
	down := errors.New("down")

	tests := []struct {
		name      string
		opts      HealthOptions
		queueErr  error
		storeErr  error
		want      v1.HealthStatus
		wantCheck []string
	}{
		{"both healthy", HealthOptions{Queue: true, Datastore: true}, nil, nil, v1.StatusHealthy, []string{"queue", "datastore"}},
		{"queue down", HealthOptions{Queue: true, Datastore: true}, down, nil, v1.StatusDegraded, []string{"queue", "datastore"}},
		{"datastore down", HealthOptions{Queue: true, Datastore: true}, nil, down, v1.StatusUnhealthy, []string{"queue", "datastore"}},
		{"both down", HealthOptions{Queue: true, Datastore: true}, down, down, v1.StatusUnhealthy, []string{"queue", "datastore"}},
		{"queue only, down", HealthOptions{Queue: true}, down, nil, v1.StatusDegraded, []string{"queue"}},
		{"datastore skipped", HealthOptions{Queue: true}, nil, down, v1.StatusHealthy, []string{"queue"}},
		{"nothing checked", HealthOptions{}, down, down, v1.StatusHealthy, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			h.queue.pingErr = tt.queueErr
			h.store.pingErr = tt.storeErr

			report := h.c.HealthCheck(context.Background(), tt.opts)
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.wantCheck) {
				t.Errorf("checks = %v, want %v", report.Checks, tt.wantCheck)
			}
			for _, name := range tt.wantCheck {
				if _, ok := report.Checks[name]; !ok {
					t.Errorf("missing check %q", name)
				}
			}
			if report.Metrics.Hostname != "test-host" {
				t.Error("report should carry the metrics snapshot")
			}
		})
	}
}
