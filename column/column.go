// Package column implements the per-column adapters that decompose an
// entity into its backing tables (spec §4.6, component E): Plain, Index,
// Dict, Relationship, OneToOne/OneToOption/OneToMany cascades, and
// WriteFrom. Each adapter is generic over the entity type E it belongs
// to and operates on already-encoded primary keys (entity.PKBinding owns
// the typed-PK <-> []byte conversion so this package never needs to know
// an entity's PK type).
package column

import (
	"fmt"

	"github.com/chainindex/core/kv"
	"github.com/chainindex/core/shard"
)

// Kind names a column's storage shape, mirroring the classification in
// spec §3.
type Kind string

const (
	KindPlain        Kind = "plain"
	KindIndex        Kind = "index"
	KindDict         Kind = "dict"
	KindRelationship Kind = "relationship"
	KindCascadeOne   Kind = "cascade_one"
	KindCascadeMany  Kind = "cascade_many"
	KindWriteFrom    Kind = "write_from"
	KindTransient    Kind = "transient"
)

// DbDef describes one backing database this column needs opened: its
// table name (bit-exact per spec §6), shard count, routing mode, and
// cache sizing hints consumed by the storage owner when it opens
// shard.Router/LRU. Mode defaults to shard.ByKey (its zero value), the
// right choice for every column except a multimap table that needs rows
// for the same indexed value to land on one shard regardless of which
// PK wrote them (spec §4.5's ByValue mode).
type DbDef struct {
	Name        string
	Shards      int
	Mode        shard.Mode
	CacheWeight int
	LRUSize     int
}

// LoadOutcome is the three-way result of a column's Load, per spec
// §4.6: Value (apply the setter), Skip (leave the entity untouched),
// Reject (the whole compose fails - PK doesn't fully exist).
type LoadOutcome int

const (
	LoadValue LoadOutcome = iota
	LoadSkip
	LoadReject
)

// Routers is the set of opened shard routers this column's Store/Load
// needs, keyed by DbDef.Name. The entity runtime opens one shard.Router
// per DbDef (per DbDefs()) before calling Store/StoreMany/Load.
type Routers map[string]*shard.Router

// Runtime is implemented by every column kind for entity type E. PKs are
// passed pre-encoded; the PK's own type lives in entity.PKBinding, never
// here.
type Runtime[E any] interface {
	Name() string
	Kind() Kind
	DbDefs() []DbDef

	// Store persists one entity's column data at pk inside an already
	// open transaction (Routers' writers have already Begin'd).
	Store(routers Routers, pk []byte, e E) error
	// StoreMany persists a batch, in the same open transaction, letting
	// implementations use AppendSortedInserts/MergeUnsortedInserts instead
	// of per-row WriteInsertNow where that is safe for the column kind.
	StoreMany(routers Routers, pks [][]byte, es []E) error
	// Load resolves this column's contribution to the entity at pk,
	// mutating *e in place when the outcome is LoadValue.
	Load(routers Routers, pk []byte, e *E) (LoadOutcome, error)
}

// OpenRouters opens one shard.Router per def, routed per its own Mode,
// at the file paths shardPaths returns for that def's name and shard
// count.
func OpenRouters(defs []DbDef, shardPaths func(dbName string, shards int) []string, open kv.Opener) (Routers, error) {
	routers := make(Routers, len(defs))
	for _, d := range defs {
		r, err := shard.NewRouter(d.Name, d.Mode, shardPaths(d.Name, d.Shards), open)
		if err != nil {
			return nil, err
		}
		routers[d.Name] = r
	}
	return routers, nil
}

// Begin opens a write transaction with durability on every router in rs.
func (rs Routers) Begin(durability kv.Durability) error {
	for _, r := range rs {
		if err := r.Begin(durability); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes every router in rs, returning the first error
// encountered across any shard of any table.
func (rs Routers) Flush() error {
	for _, r := range rs {
		for _, t := range r.Flush() {
			if t.Err != nil {
				return t.Err
			}
		}
	}
	return nil
}

// Lookup returns the router for a DbDef name, erroring if the entity
// runtime never opened it - a ValidationError-shaped programmer error
// (a column referencing a table it never declared in DbDefs()).
func (rs Routers) Lookup(name string) (*shard.Router, error) {
	r, ok := rs[name]
	if !ok {
		return nil, fmt.Errorf("column: table %s not opened (missing from DbDefs)", name)
	}
	return r, nil
}

// Abort rolls back every router's open transaction without committing.
func (rs Routers) Abort() {
	for _, r := range rs {
		r.Abort()
	}
}

// Shutdown tears down every router in rs.
func (rs Routers) Shutdown() error {
	var first error
	for _, r := range rs {
		if err := r.Shutdown(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
