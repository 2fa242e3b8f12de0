package buffer

import (
	"sync"

	v1 "uploadhook/pkg/api/v1"
)

// RunHistory keeps the most recent batch runs in a fixed ring.
type RunHistory struct {
	mu     sync.RWMutex
	runs   []v1.RunRecord
	size   int
	head   int
	isFull bool
}

func NewRunHistory(size int) *RunHistory {
	if size <= 0 {
		size = 20
	}
	return &RunHistory{
		runs: make([]v1.RunRecord, size),
		size: size,
	}
}

func (b *RunHistory) Add(run v1.RunRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runs[b.head] = run
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// Snapshot returns the retained runs, oldest first.
func (b *RunHistory) Snapshot() []v1.RunRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}

	result := make([]v1.RunRecord, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, b.runs[(start+i)%b.size])
	}
	return result
}

func (b *RunHistory) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isFull {
		return b.size
	}
	return b.head
}
