// Package kv defines the embedded key-value engine contract (spec §4,
// component A) this module writes through: a single-writer, multi-reader
// B-tree store with explicit transactions. The contract mirrors
// erigon-lib's kv.Getter/Putter/RwTx split (see
// other_examples/.../fenghaojiang-erigon-lib__kv-kv_interface.go in the
// example pack), backed concretely by go.etcd.io/bbolt, a real embedded
// B-tree engine with the same single-writer/multi-reader transaction
// model the spec describes.
package kv

import "context"

// Getter reads from an open transaction. Table names follow the bit-exact
// naming scheme in spec §6 (e.g. "BLOCK_HEIGHT", "BLOCK_HASH_INDEX").
type Getter interface {
	// Get returns the value for key in table, or (nil, false) if absent.
	Get(table string, key []byte) ([]byte, bool, error)
	// Has reports whether key exists in table.
	Has(table string, key []byte) (bool, error)
	// ForEach iterates entries with key >= from (or from the start of the
	// table if from is nil), in key order, until walker returns an error
	// or false to stop.
	ForEach(table string, from []byte, walker func(k, v []byte) (bool, error)) error
	// Range collects entries with from <= key < until into pairs, in key
	// order. until == nil means "to the end of the table".
	Range(table string, from, until []byte) ([]KV, error)
}

// KV is a materialized key/value pair, used by Range and writer
// Range/QueryAndWrite replies.
type KV struct {
	Key   []byte
	Value []byte
}

// Putter writes to an open read-write transaction.
type Putter interface {
	Put(table string, k, v []byte) error
	Delete(table string, k []byte) (existed bool, err error)
	// EnsureTable creates table if it does not already exist. Idempotent.
	EnsureTable(table string) error
}

// Tx is a read-only transaction.
type Tx interface {
	Getter
	// Rollback releases the transaction. Safe to call after Commit on an
	// RwTx (no-op in that case).
	Rollback() error
}

// RwTx is a read-write transaction. Exactly one RwTx may be open per
// shard at a time (single-writer), enforced by the shard's table writer
// actor owning the only handle that calls Begin(true).
type RwTx interface {
	Tx
	Putter
	// Commit durably applies the transaction per the requested Durability
	// and releases it.
	Commit() error
}

// Durability controls how aggressively a write transaction syncs to
// disk. Immediate commits synchronously (fsync before Commit returns);
// Eventual and None allow the engine to batch/delay the fsync - the
// distinction between them is a hint consumed by the concrete engine
// (boltDB treats both as a deferred-sync commit, matching bbolt's own
// NoSync knob, since bbolt has no finer-grained durability dial).
type Durability int

const (
	DurabilityImmediate Durability = iota
	DurabilityEventual
	DurabilityNone
)

// DB is one shard file of one logical table (or, for an unsharded table,
// the table's only file).
type DB interface {
	// View opens a read-only transaction, runs fn, and always rolls back.
	View(ctx context.Context, fn func(Tx) error) error
	// Begin opens a write transaction with the given durability. The
	// caller must Commit or Rollback it.
	Begin(durability Durability) (RwTx, error)
	// Path is the on-disk file backing this shard.
	Path() string
	// Close releases the engine handle and any advisory lock on Path.
	Close() error
}

// Opener constructs a DB for a given shard file path. Exists so
// shard.Router and storage tests can substitute an in-memory or temp-dir
// engine without importing the bbolt-specific constructor directly.
type Opener func(path string) (DB, error)
