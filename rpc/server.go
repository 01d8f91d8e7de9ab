package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/visualYJD/dingo-store/codec"
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/gc"
	"github.com/visualYJD/dingo-store/region"
	"github.com/visualYJD/dingo-store/scheduler"
	"github.com/visualYJD/dingo-store/stream"
)

// Server is one store's full RPC surface: a routing table of Regions, the
// two-pool Scheduler every call dispatches through, and the stream
// registry chunked scans register against.
type Server struct {
	mu      sync.RWMutex
	table   *region.Table
	regions map[uint64]*Region

	Scheduler *scheduler.Scheduler
	Streams   *stream.Registry

	// StreamMessageMaxLimitSize is spec 4.9's threshold: a Scan whose
	// Limit exceeds it is forced to stream instead of returning in one
	// response.
	StreamMessageMaxLimitSize int
}

// NewServer builds an empty Server over sched.
func NewServer(sched *scheduler.Scheduler, streamMessageMaxLimitSize int) *Server {
	return &Server{
		table:                     region.NewTable(),
		regions:                   make(map[uint64]*Region),
		Scheduler:                 sched,
		Streams:                   stream.NewRegistry(),
		StreamMessageMaxLimitSize: streamMessageMaxLimitSize,
	}
}

// AddRegion registers r for routing, keyed by its current [StartKey,
// EndKey).
func (s *Server) AddRegion(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Insert(r.Meta)
	s.regions[r.Meta.Snapshot().ID] = r
}

// RemoveRegion drops r from routing, e.g. once it reaches StateDeleted.
func (s *Server) RemoveRegion(r *Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Remove(r.Meta)
	delete(s.regions, r.Meta.Snapshot().ID)
}

// encodeBoundaryKey converts a raw user key into the encoded form region
// boundary checks operate on, per DESIGN.md's decision that region-range
// comparisons never see a raw key directly. EncodeLock's one-byte
// sentinel suffix is used as the canonical per-key representative since
// it needs no timestamp to compute.
func encodeBoundaryKey(userKey []byte) []byte {
	return codec.EncodeLock(userKey)
}

// StartGC runs one gc.RunLoop over every currently-registered region's
// store, submitting each pass through s.Scheduler.SubmitBackground so a
// GC cycle counts against spec 4.8's background-task high-watermark
// alongside index builds and backups, instead of driving its own
// standalone ticker. Blocks until ctx is cancelled; callers run it in
// its own goroutine.
func (s *Server) StartGC(ctx context.Context, interval time.Duration) {
	s.mu.RLock()
	collectors := make([]*gc.Collector, 0, len(s.regions))
	for _, r := range s.regions {
		collectors = append(collectors, gc.NewCollector(r.Store, r.SafePoint, 512))
	}
	s.mu.RUnlock()
	gc.RunLoop(ctx, interval, s.Scheduler.SubmitBackground, collectors...)
}

// route locates the Region owning userKey, or RegionNotFound if none
// does.
func (s *Server) route(userKey []byte) (*Region, *errcode.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.table.Locate(encodeBoundaryKey(userKey))
	if !ok {
		return nil, errcode.New(errcode.RegionNotFound)
	}
	r, ok := s.regions[meta.Snapshot().ID]
	if !ok {
		return nil, errcode.New(errcode.RegionNotFound)
	}
	return r, nil
}

// dispatchRead runs fn on the read pool via ExecuteLeastQueue and blocks
// for its result, giving RPC handlers a synchronous call shape over the
// scheduler's asynchronous dispatch.
func dispatchRead[T any](s *Server, fn func() (T, *errcode.Error)) (T, *errcode.Error) {
	var zero T
	done := make(chan struct {
		val  T
		cErr *errcode.Error
	}, 1)
	cErr := s.Scheduler.ExecuteRead(func() {
		val, err := fn()
		done <- struct {
			val  T
			cErr *errcode.Error
		}{val, err}
	})
	if cErr != nil {
		return zero, cErr
	}
	result := <-done
	return result.val, result.cErr
}

// dispatchWrite runs fn on the write pool via ExecuteRR and blocks for
// its result.
func dispatchWrite[T any](s *Server, fn func() (T, *errcode.Error)) (T, *errcode.Error) {
	var zero T
	done := make(chan struct {
		val  T
		cErr *errcode.Error
	}, 1)
	cErr := s.Scheduler.ExecuteWrite(func() {
		val, err := fn()
		done <- struct {
			val  T
			cErr *errcode.Error
		}{val, err}
	})
	if cErr != nil {
		return zero, cErr
	}
	result := <-done
	return result.val, result.cErr
}
