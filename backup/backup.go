// Package backup implements the Backup/Restore Adapter from spec.md
// section 4.11-area: producing SST-like files of a region's range at a
// fixed snapshot and consuming them again on restore. Grounded on
// kv/tikv/raftstore/snap/snap_builder.go's snapBuilder for the overall
// shape (iterate each CF over [startKey, endKey), write one file per CF,
// track per-file count/size) generalized from a Raft-snapshot-specific
// format to a region backup/restore one; the on-disk byte layout itself
// is not the real SST format (spec.md's Non-goals exclude "backup file
// formats"), just a record stream sufficient to round-trip through
// Export/Import.
package backup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/visualYJD/dingo-store/engine"
)

// CFFile mirrors snap_builder.go's CFFile bookkeeping: which CF a file
// belongs to and how many records/bytes it holds.
type CFFile struct {
	CF      string
	Path    string
	KVCount int
	Size    int64
}

// Manifest is the result of one Export call: one CFFile per column
// family plus the backup timestamp the range was read at.
type Manifest struct {
	BackupTS uint64
	Files    []CFFile
}

// Exporter produces per-CF backup files for a range of one region's
// store, reading every CF from the same Snapshot so the whole backup is
// consistent as of one instant (spec's "at a given backup-ts").
type Exporter struct {
	Store engine.Adapter
	CFs   []string
	Dir   string
}

// NewExporter builds an Exporter over store's CFs, writing files to dir.
func NewExporter(store engine.Adapter, cfs []string, dir string) *Exporter {
	return &Exporter{Store: store, CFs: cfs, Dir: dir}
}

// Export walks [startKey, endKey) in every configured CF and writes one
// file per CF under e.Dir, running the per-CF exports concurrently via
// an errgroup the way snap_builder.go's build loop walks its cfFiles,
// generalized from sequential to parallel since each CF's iterator is
// independent. backupTS is recorded in the Manifest but is not itself
// used to filter records: the Snapshot passed in already fixes the read
// timestamp.
func (e *Exporter) Export(ctx context.Context, backupTS uint64, snapshot engine.Snapshot, startKey, endKey []byte) (*Manifest, error) {
	files := make([]CFFile, len(e.CFs))
	g, ctx := errgroup.WithContext(ctx)
	for i, cf := range e.CFs {
		i, cf := i, cf
		g.Go(func() error {
			f, err := exportCF(ctx, snapshot, cf, startKey, endKey, filepath.Join(e.Dir, cf+".backup"))
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Manifest{BackupTS: backupTS, Files: files}, nil
}

func exportCF(ctx context.Context, snapshot engine.Snapshot, cf string, startKey, endKey []byte, path string) (CFFile, error) {
	out, err := os.Create(path)
	if err != nil {
		return CFFile{}, err
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	file := CFFile{CF: cf, Path: path}
	iter := snapshot.IterCF(cf)
	defer iter.Close()
	for iter.Seek(startKey); iter.Valid(); iter.Next() {
		if ctx.Err() != nil {
			return CFFile{}, ctx.Err()
		}
		key, value := iter.Item()
		if len(endKey) > 0 && bytes.Compare(key, endKey) >= 0 {
			break
		}
		if err := writeRecord(w, key, value); err != nil {
			return CFFile{}, err
		}
		file.KVCount++
		file.Size += int64(len(key) + len(value))
	}
	if err := w.Flush(); err != nil {
		return CFFile{}, err
	}
	return file, nil
}

// Importer consumes the files a Manifest describes and applies them to
// a region's store in bounded batches.
type Importer struct {
	Store     engine.Adapter
	BatchSize int
}

// NewImporter builds an Importer writing into store, batching at most
// batchSize Modifys per Write call.
func NewImporter(store engine.Adapter, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = 1024
	}
	return &Importer{Store: store, BatchSize: batchSize}
}

// Import replays every file in m concurrently, one goroutine per CF,
// matching Export's per-CF parallelism.
func (im *Importer) Import(ctx context.Context, m *Manifest) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, file := range m.Files {
		file := file
		g.Go(func() error { return im.importCF(ctx, file) })
	}
	return g.Wait()
}

func (im *Importer) importCF(ctx context.Context, file CFFile) error {
	in, err := os.Open(file.Path)
	if err != nil {
		return err
	}
	defer in.Close()
	r := bufio.NewReader(in)

	var batch []engine.Modify
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.Store.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key, value, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		batch = append(batch, engine.Put(file.CF, key, value))
		if len(batch) >= im.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// writeRecord/readRecord use a length-prefixed (key, value) framing,
// deliberately not the real SST format (out of scope); it exists only
// so Export/Import round-trip.
func writeRecord(w io.Writer, key, value []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint32(lenBuf[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(lenBuf[4:8], uint32(len(value)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	if _, err := w.Write(value); err != nil {
		return err
	}
	return nil
}

func readRecord(r io.Reader) (key, value []byte, err error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, err
	}
	keyLen := binary.BigEndian.Uint32(lenBuf[0:4])
	valLen := binary.BigEndian.Uint32(lenBuf[4:8])
	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, err
	}
	value = make([]byte, valLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, nil, err
	}
	return key, value, nil
}
