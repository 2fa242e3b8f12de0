package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"uploadhook/internal/model"
	"uploadhook/internal/queue"
	"uploadhook/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeQueue struct {
	mu         sync.Mutex
	batches    [][]model.JobRef
	dequeueErr error
	requested  []int
	total      int64
	statsErr   error
	statsCalls int
	pingErr    error
	enqueued   [][]string
	enqueueErr error
}

func (q *fakeQueue) Dequeue(ctx context.Context, n int) ([]model.JobRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requested = append(q.requested, n)
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	if len(q.batches) == 0 {
		return nil, nil
	}
	b := q.batches[0]
	q.batches = q.batches[1:]
	if len(b) > n {
		b = b[:n]
	}
	return b, nil
}

func (q *fakeQueue) Stats(ctx context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statsCalls++
	return queue.Stats{Total: q.total}, q.statsErr
}

func (q *fakeQueue) Ping(ctx context.Context) error { return q.pingErr }

func (q *fakeQueue) Enqueue(ctx context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, ids)
	return nil
}

func (q *fakeQueue) dequeueCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requested)
}

type fakeStore struct {
	mu           sync.Mutex
	records      map[string]model.WebhookRecord
	fetchCalls   int
	fetchErr     error
	findErr      error
	findPanics   bool
	promoteCalls [][]string
	transitions  []string
	pingErr      error
}

func newFakeStore(records ...model.WebhookRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]model.WebhookRecord)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) FetchActive(ctx context.Context, ids []string) ([]model.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []model.WebhookRecord
	// reverse order so callers cannot rely on store ordering
	for i := len(ids) - 1; i >= 0; i-- {
		if r, ok := s.records[ids[i]]; ok && r.Status.Deliverable() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) FindAutoTriggerCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findPanics {
		panic("store exploded")
	}
	if s.findErr != nil {
		return nil, s.findErr
	}
	var ids []string
	for id, r := range s.records {
		if r.AutoTriggerEligible(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *fakeStore) PromoteToPending(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteCalls = append(s.promoteCalls, append([]string(nil), ids...))
	var n int64
	for _, id := range ids {
		if r, ok := s.records[id]; ok && r.Status == model.StatusVerifying {
			r.Status = model.StatusPending
			s.records[id] = r
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Transition(ctx context.Context, ids []string, from, to model.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, string(from)+"->"+string(to))
	var n int64
	for _, id := range ids {
		if r, ok := s.records[id]; ok && r.Status == from {
			r.Status = to
			s.records[id] = r
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

type fakeProcessor struct {
	mu          sync.Mutex
	batches     [][]model.WebhookRecord
	result      BatchResult
	err         error
	panics      bool
	retryCalls  []int
	deadLetters int
	retryErr    error
	// partial is what a failing RetryDeadLetters still reports as retried.
	partial int
}

func (p *fakeProcessor) ProcessBatch(ctx context.Context, records []model.WebhookRecord) (BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics {
		panic("processor exploded")
	}
	p.batches = append(p.batches, records)
	return p.result, p.err
}

func (p *fakeProcessor) RetryDeadLetters(ctx context.Context, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryCalls = append(p.retryCalls, limit)
	if p.retryErr != nil {
		return p.partial, p.retryErr
	}
	n := min(limit, p.deadLetters)
	p.deadLetters -= n
	return n, nil
}

type fakeCleaner struct {
	mu     sync.Mutex
	calls  int
	purged int64
	err    error
}

func (c *fakeCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.purged, c.err
}

func (c *fakeCleaner) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeReclaimer struct {
	mu    sync.Mutex
	calls int
	n     int
	err   error
}

func (r *fakeReclaimer) ReclaimStale(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.n, r.err
}

type harness struct {
	c         *Coordinator
	clock     *fakeClock
	queue     *fakeQueue
	store     *fakeStore
	processor *fakeProcessor
	cleaner   *fakeCleaner
	reclaimer *fakeReclaimer
}

func newHarness(t *testing.T, store *fakeStore, tweak func(*Options)) *harness {
	t.Helper()
	if store == nil {
		store = newFakeStore()
	}
	h := &harness{
		clock:     newFakeClock(),
		queue:     &fakeQueue{},
		store:     store,
		processor: &fakeProcessor{},
		cleaner:   &fakeCleaner{},
		reclaimer: &fakeReclaimer{},
	}

	opts := DefaultOptions()
	opts.Hostname = "test-host"
	opts.StartupJitter = 0
	opts.ShutdownTimeout = 2 * time.Second
	opts.Now = h.clock.Now
	if tweak != nil {
		tweak(&opts)
	}

	c, err := NewCoordinator(Dependencies{
		Queue:     h.queue,
		Store:     h.store,
		Processor: h.processor,
		Cleaner:   h.cleaner,
		Reclaimer: h.reclaimer,
		Enqueuer:  h.queue,
	}, opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	h.c = c
	return h
}

func jobs(ids ...string) []model.JobRef {
	out := make([]model.JobRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.JobRef{ID: id})
	}
	return out
}

func recordIDs(records []model.WebhookRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
