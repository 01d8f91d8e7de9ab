package scheduler

import "github.com/visualYJD/dingo-store/errcode"

// Scheduler is one service's full dispatch surface: a read pool, a write
// pool, and the background-task queue that gates the write pool (spec
// 4.8).
type Scheduler struct {
	Read       *Pool
	Write      *Pool
	Background *BackgroundQueue
}

// Config bounds every pool and queue a Scheduler builds.
type Config struct {
	ReadWorkers             int
	ReadWorkerQueueCapacity int
	ReadConcurrency         int

	WriteWorkers             int
	WriteWorkerQueueCapacity int
	WriteConcurrency         int

	BackgroundQueueCapacity int
	BackgroundConcurrency   int
	MaxBackgroundTaskCount  int64
}

// New builds a Scheduler from cfg.
func New(cfg Config) (*Scheduler, error) {
	read, err := NewPool("read", cfg.ReadWorkers, cfg.ReadWorkerQueueCapacity, cfg.ReadConcurrency)
	if err != nil {
		return nil, err
	}
	write, err := NewPool("write", cfg.WriteWorkers, cfg.WriteWorkerQueueCapacity, cfg.WriteConcurrency)
	if err != nil {
		return nil, err
	}
	background, err := NewBackgroundQueue(cfg.BackgroundQueueCapacity, cfg.BackgroundConcurrency, cfg.MaxBackgroundTaskCount)
	if err != nil {
		return nil, err
	}
	return &Scheduler{Read: read, Write: write, Background: background}, nil
}

// ExecuteRead dispatches a read RPC to the read pool via
// ExecuteLeastQueue, the policy spec 4.8 calls for on "expensive reads
// such as index search".
func (s *Scheduler) ExecuteRead(fn func()) *errcode.Error {
	return s.Read.ExecuteLeastQueue(fn)
}

// ExecuteWrite dispatches a write RPC to the write pool via ExecuteRR,
// first rejecting it with RequestFull if the background queue's backlog
// has passed its high-watermark (spec 4.8).
func (s *Scheduler) ExecuteWrite(fn func()) *errcode.Error {
	if s.Background.Exceeded() {
		return errcode.New(errcode.RequestFull)
	}
	return s.Write.ExecuteRR(fn)
}

// SubmitBackground enqueues a background task (index build, GC, backup).
func (s *Scheduler) SubmitBackground(fn func()) *errcode.Error {
	return s.Background.Submit(fn)
}

// Stop halts every pool and the background queue.
func (s *Scheduler) Stop() {
	s.Read.Stop()
	s.Write.Stop()
	s.Background.Stop()
}
