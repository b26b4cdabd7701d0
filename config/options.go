// Package config collects the engine-wide options a caller sets at
// database-open time. It mirrors the teacher's own wal.Options pattern —
// a plain struct with a constructor that fills in sensible defaults —
// rather than reaching for a config-file library nothing else in this
// codebase's lineage uses.
package config

import "github.com/vela-db/vela/internal/crypt"

// DeltaVariant selects the Tier-1 Delta representation for the lifetime
// of a database instance (spec.md §4.3/§4.4 — a global, not per-statement,
// choice).
type DeltaVariant int

const (
	DeltaRow DeltaVariant = iota
	DeltaColumnar
)

// Durability is the WAL's fsync policy (spec.md §4.9).
type Durability int

const (
	DurabilityFull Durability = iota
	DurabilityLazy
	DurabilityNone
)

// Compression selects the ROS (Tier-5) column-file codec (spec.md §4.5).
type Compression int

const (
	CompressionSnappy Compression = iota
	CompressionNone
	CompressionLZ4
	CompressionZSTD
	CompressionBrotli
)

// PoolSizePolicy selects how the parallel engine (C15) sizes its worker
// pool.
type PoolSizePolicy int

const (
	PoolAuto PoolSizePolicy = iota
	PoolFixed
	PoolAdaptive
)

// Options configures every tunable knob across the engine's components.
// The zero value is not meant to be used directly — call Default() and
// override fields, matching the teacher's own wal.Options idiom.
type Options struct {
	// StoragePath is the root directory for a file-backed database.
	// Ignored for in-memory databases.
	StoragePath string

	// InMemory, when true, skips WOS/ROS/WAL persistence entirely —
	// everything lives in Tier-1 Delta and Tier-2 cache for the process
	// lifetime.
	InMemory bool

	DeltaVariant DeltaVariant

	// DeltaFlushThreshold is the Tier-1 entry count at which a write
	// runs DB.Flush inline before returning (spec.md §4.3 default 10000).
	DeltaFlushThreshold int

	WALDurability  Durability
	WALSyncBatch   int // max pending appends per group-commit
	WALPartitions  int // number of sub-log partitions
	WALSyncInterval_ms int

	ROSCompression      Compression
	ROSCompressionLevel int // clamped per-codec at use site

	CacheCapacity int // Tier-2 LRU capacity, in batches

	PlanCacheL1Capacity int
	PlanCacheL2Dir      string // empty disables L2

	PoolSize       PoolSizePolicy
	PoolFixedSize  int // only consulted when PoolSize == PoolFixed

	// GCMinVersionsPerKey is the floor below which GC will never prune a
	// key's version history (spec.md §4.8 default 1).
	GCMinVersionsPerKey int

	// Encryption, when non-nil, turns on AEAD wrapping for WAL records
	// and WOS values.
	Encryption *crypt.Config
}

// Default returns the Options a plain open()/open_in_memory() call uses.
func Default() Options {
	return Options{
		DeltaVariant:        DeltaRow,
		DeltaFlushThreshold: 10_000,
		WALDurability:       DurabilityFull,
		WALSyncBatch:        64,
		WALPartitions:       1,
		WALSyncInterval_ms:  5,
		ROSCompression:      CompressionSnappy,
		ROSCompressionLevel: 0,
		CacheCapacity:       256,
		PlanCacheL1Capacity: 512,
		PoolSize:            PoolAuto,
		GCMinVersionsPerKey: 1,
	}
}
