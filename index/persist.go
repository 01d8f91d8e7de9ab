package index

import (
	"bufio"
	"encoding/gob"
	"os"
)

// saveGob writes v to path as a gob stream. Flat and HNSW backends use
// this instead of faiss's index_io.h binary format (spec's Non-goals
// leave the on-disk index format unspecified), the way vector_index_flat.cc's
// Save wraps faiss::write_index for the same responsibility.
func saveGob(path string, v interface{}) error {
	if path == "" {
		return errEmptyPath
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return err
	}
	return w.Flush()
}

// loadGob reads v from path as a gob stream.
func loadGob(path string, v interface{}) error {
	if path == "" {
		return errEmptyPath
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(bufio.NewReader(f)).Decode(v)
}
