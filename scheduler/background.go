package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/visualYJD/dingo-store/errcode"
)

// BackgroundQueue runs low-priority maintenance work (index build, GC,
// backup — spec 4.8) on its own bounded queue and tracks how many tasks
// are pending so a Scheduler can reject new write RPCs with RequestFull
// once the backlog passes a high-watermark, independent of the write
// pool's own queue depth.
type BackgroundQueue struct {
	worker     *Worker
	ants       *ants.Pool
	pending    int64
	maxPending int64
	wg         sync.WaitGroup
}

// NewBackgroundQueue builds a BackgroundQueue with the given queue
// capacity, concurrency, and high-watermark (spec 4.8's
// max_background_task_count).
func NewBackgroundQueue(capacity, concurrency int, maxPending int64) (*BackgroundQueue, error) {
	antsPool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	q := &BackgroundQueue{ants: antsPool, maxPending: maxPending}
	q.worker = NewWorker("background", capacity, &q.wg)
	q.worker.Start(antsPool)
	return q, nil
}

// Submit enqueues fn as a background task, tracking it against the
// pending counter Exceeded consults.
func (q *BackgroundQueue) Submit(fn func()) *errcode.Error {
	atomic.AddInt64(&q.pending, 1)
	wrapped := func() {
		defer atomic.AddInt64(&q.pending, -1)
		fn()
	}
	if err := q.worker.TryEnqueue(Task{Fn: wrapped}); err != nil {
		atomic.AddInt64(&q.pending, -1)
		return err
	}
	return nil
}

// Pending returns the current count of background tasks either queued
// or running.
func (q *BackgroundQueue) Pending() int64 {
	return atomic.LoadInt64(&q.pending)
}

// Exceeded reports whether the pending count has passed the
// high-watermark, the signal write RPCs check for backpressure (spec
// 4.8: "if pending > max_background_task_count, new write RPCs are
// rejected with RequestFull").
func (q *BackgroundQueue) Exceeded() bool {
	return q.Pending() > q.maxPending
}

// Stop halts the background worker's drain loop.
func (q *BackgroundQueue) Stop() {
	q.worker.Stop()
	q.ants.Release()
}
