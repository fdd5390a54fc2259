// Package config holds the engine's data-directory and durability
// configuration, separated from pkg/engine so the engine package
// itself stays free of filesystem-path and option-defaulting concerns.
package config

import (
	"path/filepath"
	"time"

	"github.com/bobboyms/immux-go/internal/logging"
	"github.com/bobboyms/immux-go/internal/metrics"
	"github.com/bobboyms/immux-go/pkg/walog"
)

// Config bundles the knobs an embedding caller sets once at startup.
type Config struct {
	// DirPath is the data directory the log file lives in.
	DirPath string

	// LogFileName is the log file's name within DirPath.
	LogFileName string

	// MaxKeyLength records the key-size bound. The engine does not read
	// this field: it checks keys against instruction.MaxKeyLength.
	MaxKeyLength int

	// SyncPolicy selects when the write buffer is flushed and fsync'd.
	SyncPolicy walog.SyncPolicy

	// SyncIntervalDuration is the tick period for SyncInterval.
	SyncIntervalDuration time.Duration

	// SyncBatchBytes is the unsynced-byte threshold for SyncBatch.
	SyncBatchBytes int64

	// BufferSize is the bufio buffer size backing the log writer.
	BufferSize int

	// SentryDSN configures the optional corruption-reporting hook in
	// internal/diagnostics. Empty disables reporting entirely.
	SentryDSN string

	// Logger receives the engine's operator-facing messages (recovery
	// summary, corruption reports). Defaults to logging.Default() if nil.
	Logger logging.Logger

	// Metrics, when non-nil, receives per-operation instrumentation
	// from the engine. Nil disables metrics collection entirely; the
	// caller is responsible for registering it on its own registry.
	Metrics *metrics.Collectors
}

// DefaultConfig returns a conservative, always-consistent policy
// rooted at dir, with metrics collection enabled (unregistered) and
// diagnostics reporting disabled.
func DefaultConfig(dir string) Config {
	return Config{
		DirPath:              dir,
		LogFileName:          "store.log",
		MaxKeyLength:         4096,
		SyncPolicy:           walog.SyncEveryWrite,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
		BufferSize:           64 * 1024,
		Logger:               logging.Default(),
		Metrics:              metrics.NewCollectors(),
	}
}

// LogPath returns the full path to the configured log file.
func (c Config) LogPath() string {
	return filepath.Join(c.DirPath, c.LogFileName)
}

// WALOptions projects the durability knobs onto walog.Options.
func (c Config) WALOptions() walog.Options {
	return walog.Options{
		BufferSize:           c.BufferSize,
		SyncPolicy:           c.SyncPolicy,
		SyncIntervalDuration: c.SyncIntervalDuration,
		SyncBatchBytes:       c.SyncBatchBytes,
	}
}
