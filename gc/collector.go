package gc

import (
	"bytes"
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/visualYJD/dingo-store/codec"
	"github.com/visualYJD/dingo-store/engine"
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/mvcc"
)

// BackgroundSubmitter enqueues fn onto a store's background-task queue
// (scheduler.Scheduler.SubmitBackground), rejecting it with RequestFull
// once the queue's high-watermark is passed (spec 4.8). Expressed as a
// function type rather than an import of the scheduler package so gc
// stays ignorant of the scheduler/rpc layers above it, the same
// decoupling index.Source uses for RebuildFromRange.
type BackgroundSubmitter func(fn func()) *errcode.Error

// Collector physically removes obsolete Write/Data records below one
// region's safe point (spec 4.10). BatchYield bounds how many Write-CF
// records it visits before flushing its pending deletes and cooperatively
// yielding, so a large GC pass never blocks the write path for long.
type Collector struct {
	Store      engine.Adapter
	SafePoint  *SafePoint
	BatchYield int
}

// NewCollector builds a Collector for one region's store and safe point.
func NewCollector(store engine.Adapter, safePoint *SafePoint, batchYield int) *Collector {
	if batchYield <= 0 {
		batchYield = 512
	}
	return &Collector{Store: store, SafePoint: safePoint, BatchYield: batchYield}
}

// Run executes one full GC pass at the collector's current safe point.
// For every user key it keeps the newest Write record with commit_ts at
// or below the safe point (the version any read at the safe point would
// see) and deletes every older Write record for that key, along with the
// Data-CF record an obsolete Put write referenced (spec 4.10).
func (c *Collector) Run(ctx context.Context) error {
	safePoint := c.SafePoint.Get()
	if safePoint == 0 {
		return nil
	}

	iter := c.Store.IterCF(engine.CFWrite)
	defer iter.Close()

	var curKey []byte
	keptCurrent := false
	var batch []engine.Modify
	visited := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.Store.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for iter.Seek(nil); iter.Valid(); iter.Next() {
		select {
		case <-ctx.Done():
			return flush()
		default:
		}

		ik, iv := iter.Item()
		userKey, commitTS, err := codec.DecodeTimestampedKey(ik)
		if err != nil {
			return err
		}
		if curKey == nil || !bytes.Equal(userKey, curKey) {
			curKey = append([]byte(nil), userKey...)
			keptCurrent = false
		}
		if commitTS > safePoint {
			continue // above the safe point: still visible to reads at or above it
		}
		if !keptCurrent {
			keptCurrent = true // the newest version at or below the safe point: keep it
			continue
		}

		write, err := mvcc.ParseWrite(iv)
		if err != nil {
			return err
		}
		batch = append(batch, engine.Del(engine.CFWrite, append([]byte(nil), ik...)))
		if write.Kind == mvcc.KindPut && write.ShortValue == nil {
			batch = append(batch, engine.Del(engine.CFData, codec.EncodeData(userKey, write.StartTS)))
		}

		visited++
		if visited%c.BatchYield == 0 {
			if err := flush(); err != nil {
				return err
			}
			runtime.Gosched()
		}
	}
	return flush()
}

// RunLoop ticks every interval until ctx is cancelled, submitting one
// Run per collector through submit rather than driving its own worker
// pool: this is what makes a GC pass count against spec 4.8's
// background-task high-watermark, the same queue index builds and
// backups share. A submission rejected with RequestFull is logged and
// retried on the next tick rather than treated as fatal, since the
// backlog it's signaling will itself drain the queue over time.
func RunLoop(ctx context.Context, interval time.Duration, submit BackgroundSubmitter, collectors ...*Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range collectors {
				c := c
				if cErr := submit(func() {
					if err := c.Run(ctx); err != nil {
						logrus.WithError(err).Warn("gc: collector pass failed")
					}
				}); cErr != nil {
					logrus.WithError(cErr).Debug("gc: background queue full, will retry next tick")
				}
			}
		}
	}
}
