// Package config holds the tunables recognized by the region storage and
// indexing engine. Values are loaded from a TOML file the same way
// talent-plan-tinykv's config package is loaded from node/main.go.
package config

import "time"

// Config is the full set of knobs for one store process. A store runs many
// Regions, each sharing the same Config.
type Config struct {
	LogLevel string `toml:"log-level"`

	Engine EngineConfig `toml:"engine"`

	// DocumentMaxBatchCount rejects prewrite/document batches larger than
	// this many mutations.
	DocumentMaxBatchCount int `toml:"document-max-batch-count"`
	// DocumentMaxRequestSize rejects requests whose serialized size exceeds
	// this many bytes.
	DocumentMaxRequestSize int64 `toml:"document-max-request-size"`
	// MaxPrewriteCount caps the number of mutations in a single Prewrite.
	MaxPrewriteCount int `toml:"max-prewrite-count"`
	// StreamMessageMaxLimitSize is the largest single-chunk scan limit
	// served inline; larger scans are forced through the Stream Manager.
	StreamMessageMaxLimitSize int64 `toml:"stream-message-max-limit-size"`
	// FlatNeedSaveCount is the dirty-record threshold after which an index
	// wrapper reports NeedToSave.
	FlatNeedSaveCount uint64 `toml:"flat-need-save-count"`
	// DocumentMaxBackgroundTaskCount is the backpressure high-watermark:
	// once pending background tasks (index build, GC, backup) exceed this,
	// new write RPCs are rejected with RequestFull.
	DocumentMaxBackgroundTaskCount int `toml:"document-max-background-task-count"`

	// EnableAsyncDocumentSearch routes KvDocumentSearch through the
	// Scheduler's read pool instead of executing inline on the RPC thread.
	EnableAsyncDocumentSearch bool `toml:"enable-async-document-search"`
	// EnableAsyncDocumentCount routes KvDocumentCount through the Scheduler.
	EnableAsyncDocumentCount bool `toml:"enable-async-document-count"`
	// EnableAsyncDocumentOperation routes document add/delete/build through
	// the Scheduler's write pool.
	EnableAsyncDocumentOperation bool `toml:"enable-async-document-operation"`

	// ReadPoolWorkers / WritePoolWorkers size the Scheduler's two worker
	// pools (spec 4.8).
	ReadPoolWorkers  int `toml:"read-pool-workers"`
	WritePoolWorkers int `toml:"write-pool-workers"`
	// TaskQueueSize bounds each worker's per-queue depth; enqueue beyond
	// this returns RequestFull.
	TaskQueueSize int `toml:"task-queue-size"`

	// StreamTTL is how long an idle stream cursor survives before
	// StreamExpired is returned on resume.
	StreamTTL time.Duration `toml:"stream-ttl"`

	// GCBatchYield is how many records the GC collector processes before
	// cooperatively yielding the write path.
	GCBatchYield int `toml:"gc-batch-yield"`
}

// EngineConfig configures the pebble-backed KV Adapter. Mirrors the shape of
// talent-plan-tinykv's config.Engine, retargeted at pebble's knobs.
type EngineConfig struct {
	DBPath         string `toml:"db-path"`
	BlockCacheSize int64  `toml:"block-cache-size"`
	MemTableSize   int    `toml:"mem-table-size"`
	SyncWrites     bool   `toml:"sync-writes"`
}

const MB = 1024 * 1024

// DefaultConfig mirrors talent-plan-tinykv's DefaultConf package variable:
// a ready-to-run configuration for local development and tests.
var DefaultConfig = Config{
	LogLevel: "info",
	Engine: EngineConfig{
		DBPath:         "/tmp/dingo-store",
		BlockCacheSize: 64 * MB,
		MemTableSize:   16 * MB,
		SyncWrites:     true,
	},
	DocumentMaxBatchCount:          4096,
	DocumentMaxRequestSize:         32 * MB,
	MaxPrewriteCount:               1024,
	StreamMessageMaxLimitSize:      8192,
	FlatNeedSaveCount:              10000,
	DocumentMaxBackgroundTaskCount: 64,
	ReadPoolWorkers:                8,
	WritePoolWorkers:               4,
	TaskQueueSize:                  1024,
	StreamTTL:                      60 * time.Second,
	GCBatchYield:                   512,
}
