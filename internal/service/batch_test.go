package service

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strconv"
	"syscall"
	"testing"

	"uploadhook/internal/model"
	"uploadhook/internal/queue"
)

func TestRunBatch_RequestsAtMostBatchSize(t *testing.T) {
	h := newHarness(t, nil, nil)

	ids := make([]string, 0, 750)
	for i := 0; i < 750; i++ {
		ids = append(ids, "wh_"+strconv.Itoa(i))
	}
	h.queue.batches = [][]model.JobRef{jobs(ids...)}
	h.queue.total = 750

	if err := h.c.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(h.queue.requested) != 1 || h.queue.requested[0] != 200 {
		t.Errorf("expected a single dequeue of 200, got %v", h.queue.requested)
	}
}

func TestRunBatch_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	before := h.c.Metrics()
	for i := 0; i < 2; i++ {
		if err := h.c.RunBatch(ctx); err != nil {
			t.Fatalf("RunBatch #%d: %v", i+1, err)
		}
	}
	after := h.c.Metrics()

	if h.store.fetchCalls != 0 {
		t.Errorf("empty dequeue must not touch the datastore, got %d fetches", h.store.fetchCalls)
	}
	if h.queue.statsCalls != 0 {
		t.Errorf("empty dequeue must not query queue stats, got %d", h.queue.statsCalls)
	}
	if len(h.processor.batches) != 0 {
		t.Errorf("processor should not be called, got %d calls", len(h.processor.batches))
	}
	if before.WebhooksProcessed != after.WebhooksProcessed ||
		before.WebhooksSucceeded != after.WebhooksSucceeded ||
		before.WebhooksFailed != after.WebhooksFailed ||
		before.Errors != after.Errors ||
		before.LastRunDurationMs != after.LastRunDurationMs ||
		after.LastRunAt != nil ||
		len(after.RecentRuns) != 0 {
		t.Errorf("metrics changed on empty ticks: before=%+v after=%+v", before, after)
	}
}

func TestRunBatch_DeliversOnlyActiveRecords(t *testing.T) {
	store := newFakeStore(
		model.WebhookRecord{ID: "A", Status: model.StatusPending},
		model.WebhookRecord{ID: "B", Status: model.StatusVerifying},
		model.WebhookRecord{ID: "C", Status: model.StatusCompleted},
	)
	h := newHarness(t, store, nil)
	h.queue.batches = [][]model.JobRef{jobs("A", "B", "C", "D")}
	h.processor.result = BatchResult{Successful: 1, Failed: 1}

	if err := h.c.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if len(h.processor.batches) != 1 {
		t.Fatalf("expected exactly one processor call, got %d", len(h.processor.batches))
	}
	if got := recordIDs(h.processor.batches[0]); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("processor received %v, want [A B]", got)
	}

	m := h.c.Metrics()
	if m.WebhooksProcessed != 2 || m.WebhooksSucceeded != 1 || m.WebhooksFailed != 1 {
		t.Errorf("unexpected counters: %+v", m)
	}
	if m.LastRunAt == nil {
		t.Error("LastRunAt should be set after a batch")
	}
	if len(m.RecentRuns) != 1 || m.RecentRuns[0].Dequeued != 4 || m.RecentRuns[0].Delivered != 2 {
		t.Errorf("unexpected run history: %+v", m.RecentRuns)
	}
}

func TestRunBatch_CollapsesDuplicateJobs(t *testing.T) {
	store := newFakeStore(model.WebhookRecord{ID: "A", Status: model.StatusPending})
	h := newHarness(t, store, nil)
	h.queue.batches = [][]model.JobRef{jobs("A", "A", "A")}

	if err := h.c.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if got := recordIDs(h.processor.batches[0]); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("processor received %v, want [A]", got)
	}
}

func TestRunBatch_NoSurvivorsSkipsProcessor(t *testing.T) {
	store := newFakeStore(model.WebhookRecord{ID: "A", Status: model.StatusDelivering})
	h := newHarness(t, store, nil)
	h.queue.batches = [][]model.JobRef{jobs("A", "B")}

	if err := h.c.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(h.processor.batches) != 0 {
		t.Errorf("processor should not be called when no record survives")
	}
	if m := h.c.Metrics(); m.WebhooksProcessed != 0 || m.Errors != 0 {
		t.Errorf("unexpected counters: %+v", m)
	}
}

func TestRunBatch_TransientQueueConditions(t *testing.T) {
	tests := []struct {
		name string
		kind queue.Kind
	}{
		{"quota exceeded", queue.KindQuotaExceeded},
		{"connection reset", queue.KindConnReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			h.queue.dequeueErr = &queue.Error{Op: "dequeue", Kind: tt.kind, Err: errors.New("backend said no")}

			if err := h.c.RunBatch(context.Background()); err != nil {
				t.Errorf("transient condition should end the tick quietly, got %v", err)
			}
			if m := h.c.Metrics(); m.Errors != 0 {
				t.Errorf("transient condition must not count as error, got %d", m.Errors)
			}
			if h.store.fetchCalls != 0 {
				t.Error("tick should end before the datastore lookup")
			}
		})
	}
}

func TestRunBatch_ErrorsAreCountedAndReturned(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"dequeue", func(h *harness) { h.queue.dequeueErr = boom }},
		{"fetch", func(h *harness) {
			h.queue.batches = [][]model.JobRef{jobs("A")}
			h.store.fetchErr = boom
		}},
		{"process", func(h *harness) {
			h.queue.batches = [][]model.JobRef{jobs("A")}
			h.store.records["A"] = model.WebhookRecord{ID: "A", Status: model.StatusPending}
			h.processor.err = boom
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			tt.setup(h)

			err := h.c.RunBatch(context.Background())
			if !errors.Is(err, boom) {
				t.Fatalf("expected wrapped boom, got %v", err)
			}
			m := h.c.Metrics()
			if m.Errors != 1 {
				t.Errorf("Errors = %d, want 1", m.Errors)
			}
			if m.WebhooksProcessed != 0 {
				t.Errorf("failed tick must not count processed webhooks, got %d", m.WebhooksProcessed)
			}
			if len(m.RecentRuns) != 1 || m.RecentRuns[0].Error == "" {
				t.Errorf("failed run should be recorded with its error: %+v", m.RecentRuns)
			}
		})
	}
}

func TestRunBatch_BacklogIsAdvisory(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		statsErr error
	}{
		{"above threshold", 5000, nil},
		{"stats failure", 0, errors.New("stats down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(model.WebhookRecord{ID: "A", Status: model.StatusPending})
			h := newHarness(t, store, nil)
			h.queue.batches = [][]model.JobRef{jobs("A")}
			h.queue.total = tt.total
			h.queue.statsErr = tt.statsErr
			h.processor.result = BatchResult{Successful: 1}

			if err := h.c.RunBatch(context.Background()); err != nil {
				t.Fatalf("backlog check must never fail the tick: %v", err)
			}
			if h.queue.statsCalls != 1 {
				t.Errorf("expected one stats call, got %d", h.queue.statsCalls)
			}
			if m := h.c.Metrics(); m.WebhooksSucceeded != 1 {
				t.Errorf("tick should still deliver, got %+v", m)
			}
		})
	}
}

func TestRunBatch_PartialProcessResultIsRecorded(t *testing.T) {
	store := newFakeStore(
		model.WebhookRecord{ID: "A", Status: model.StatusPending},
		model.WebhookRecord{ID: "B", Status: model.StatusPending},
		model.WebhookRecord{ID: "C", Status: model.StatusPending},
	)
	h := newHarness(t, store, nil)
	h.queue.batches = [][]model.JobRef{jobs("A", "B", "C")}
	boom := errors.New("claim C: db gone")
	h.processor.result = BatchResult{Successful: 2}
	h.processor.err = boom

	err := h.c.RunBatch(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped processor error, got %v", err)
	}

	m := h.c.Metrics()
	if m.WebhooksProcessed != 2 || m.WebhooksSucceeded != 2 {
		t.Errorf("completed deliveries must be counted on a partial batch: %+v", m)
	}
	if m.Errors != 1 {
		t.Errorf("Errors = %d, want 1", m.Errors)
	}
	if m.LastRunAt == nil {
		t.Error("LastRunAt should be set after a partial batch")
	}
	if len(m.RecentRuns) != 1 {
		t.Fatalf("expected one run record, got %+v", m.RecentRuns)
	}
	if run := m.RecentRuns[0]; run.Successful != 2 || run.Delivered != 3 || run.Error == "" {
		t.Errorf("run record = %+v, want 2 successful of 3 with the error", run)
	}
}

func TestRunBatch_TransientKindsOnlyForDequeue(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"datastore connection reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}},
		{"quota wrapped by datastore", &queue.Error{Op: "fetch", Kind: queue.KindQuotaExceeded, Err: errors.New("limit")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, nil)
			h.queue.batches = [][]model.JobRef{jobs("A")}
			h.store.fetchErr = tt.err

			if err := h.c.RunBatch(context.Background()); err == nil {
				t.Fatal("datastore failure must be returned")
			}
			if m := h.c.Metrics(); m.Errors != 1 {
				t.Errorf("Errors = %d, want 1", m.Errors)
			}
		})
	}

	t.Run("dequeue reset stays quiet", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		h.queue.dequeueErr = &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
		if err := h.c.RunBatch(context.Background()); err != nil {
			t.Errorf("dequeue reset should end the tick quietly, got %v", err)
		}
	})
}
