package rockbind

// options.go defines the option structs accepted by the binding surface.

import (
	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// Options configures a database instance.
type Options struct {
	// Logger receives lifecycle events. Nil falls back to a default
	// WARN-level logger.
	Logger logging.Logger

	// TxLogCodec compresses archived transaction log records.
	TxLogCodec engine.Codec

	// TxLogCapacity bounds the archived transaction log; oldest records are
	// discarded beyond it.
	TxLogCapacity int
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		Logger:        nil,
		TxLogCodec:    engine.SnappyCodec,
		TxLogCapacity: 1024,
	}
}

func (o Options) engineOptions() engine.Options {
	return engine.Options{
		TxLogCodec:    o.TxLogCodec,
		TxLogCapacity: o.TxLogCapacity,
	}
}

// WriteOptions selects the target of a write operation.
type WriteOptions struct {
	// ColumnFamily is the column family token; 0 targets the default
	// column family.
	ColumnFamily Token
}

// ReadOptions selects the source and read view of a read operation.
type ReadOptions struct {
	// ColumnFamily is the column family token; 0 targets the default
	// column family.
	ColumnFamily Token

	// Snapshot is the snapshot token; 0 reads the latest state.
	Snapshot Token
}

// IteratorOptions configures a new iterator.
type IteratorOptions struct {
	// ColumnFamily is the column family token; 0 targets the default
	// column family.
	ColumnFamily Token

	// Snapshot is the snapshot token; 0 iterates the latest state.
	Snapshot Token

	// LowerBound is the inclusive lower iteration bound; nil means
	// unbounded. Set once at creation; the iterator owns its copy.
	LowerBound []byte

	// UpperBound is the exclusive upper iteration bound; nil means
	// unbounded. Set once at creation; the iterator owns its copy.
	UpperBound []byte
}

// BackupOptions configures a backup engine.
type BackupOptions struct {
	// Codec compresses backup payloads.
	Codec engine.Codec
}

// DefaultBackupOptions returns the default backup engine options.
func DefaultBackupOptions() BackupOptions {
	return BackupOptions{Codec: engine.ZstdCodec}
}
