package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/visualYJD/dingo-store/errcode"
)

// Pool is one of a service's two worker pools (spec 4.8: "Two worker
// pools per service (read, write)"), a fixed set of Workers sharing one
// bounded concurrency budget via an underlying ants.Pool.
type Pool struct {
	name    string
	workers []*Worker
	ants    *ants.Pool
	rr      uint64 // atomic round-robin cursor for ExecuteRR
	wg      sync.WaitGroup
}

// NewPool builds a Pool of numWorkers Workers, each queueing up to
// workerQueueCapacity tasks, draining into a shared goroutine pool capped
// at maxConcurrency in flight at once.
func NewPool(name string, numWorkers, workerQueueCapacity, maxConcurrency int) (*Pool, error) {
	antsPool, err := ants.NewPool(maxConcurrency)
	if err != nil {
		return nil, err
	}
	p := &Pool{name: name, ants: antsPool}
	for i := 0; i < numWorkers; i++ {
		w := NewWorker(name, workerQueueCapacity, &p.wg)
		w.Start(antsPool)
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// ExecuteRR dispatches fn to the next worker in round-robin order (spec
// 4.8).
func (p *Pool) ExecuteRR(fn func()) *errcode.Error {
	idx := atomic.AddUint64(&p.rr, 1) % uint64(len(p.workers))
	return p.workers[idx].TryEnqueue(Task{Fn: fn})
}

// ExecuteLeastQueue dispatches fn to whichever worker currently has the
// shortest queue (spec 4.8: "used for expensive reads such as index
// search").
func (p *Pool) ExecuteLeastQueue(fn func()) *errcode.Error {
	return pickLeastQueue(p.workers).TryEnqueue(Task{Fn: fn})
}

// pickLeastQueue returns the worker with the shortest queue, ties broken
// by earliest index.
func pickLeastQueue(workers []*Worker) *Worker {
	best := workers[0]
	for _, w := range workers[1:] {
		if w.Len() < best.Len() {
			best = w
		}
	}
	return best
}

// Stop halts every worker's drain loop and waits for them to exit; it
// does not wait for tasks already submitted to the underlying ants pool
// to finish.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
	p.ants.Release()
}
