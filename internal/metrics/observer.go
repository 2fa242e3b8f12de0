package metrics

import "time"

// WorkerObserver receives every counter change the worker records.
type WorkerObserver interface {
	AddProcessed(successful, failed int)
	AddDeadLettersRetried(n int)
	AddAutoTriggered(n int)
	AddPurged(n int64)
	IncErrors()
	ObserveBatchDuration(d time.Duration)
	SetQueueDepth(n int64)
}

type nopObserver struct{}

// Nop discards observations.
func Nop() WorkerObserver { return nopObserver{} }

func (nopObserver) AddProcessed(int, int)              {}
func (nopObserver) AddDeadLettersRetried(int)          {}
func (nopObserver) AddAutoTriggered(int)               {}
func (nopObserver) AddPurged(int64)                    {}
func (nopObserver) IncErrors()                         {}
func (nopObserver) ObserveBatchDuration(time.Duration) {}
func (nopObserver) SetQueueDepth(int64)                {}
