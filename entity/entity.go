// Package entity composes a primary-key binding with a list of column
// runtimes into a schema-driven object that knows how to open its
// backing tables, store individual records and batches, and compose a
// record back out of storage (spec §4.7, component F).
package entity

import (
	"fmt"

	"github.com/chainindex/core/chainerrors"
	"github.com/chainindex/core/column"
	"github.com/chainindex/core/kv"
	"github.com/chainindex/core/shard"
)

// PKBinding ties an entity's typed primary key to its PK table and the
// byte encoding every column runtime operates on. Root entities (spec
// §3) use a scalar PK; child ("pointer") entities use kv.EncodePointer
// composites - either way PKBinding is the only place that distinction
// is visible, column runtimes only ever see encoded bytes.
type PKBinding[E any, PK any] struct {
	EntityName  string
	PKName      string
	Shards      int
	CacheWeight int
	LRUSize     int

	Encode    func(PK) []byte
	Decode    func([]byte) (PK, error)
	ExtractPK func(E) PK
	// Seed builds a zero-value entity carrying only its PK, so a
	// column's Reject can short-circuit compose before any other field
	// is touched (redbit's manual_entity.rs seed_with_key, supplemented
	// here since the distilled spec only alludes to it).
	Seed func(PK) E
}

func (b PKBinding[E, PK]) tableName() string {
	return fmt.Sprintf("%s_%s", upper(b.EntityName), upper(b.PKName))
}

func upper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func (b PKBinding[E, PK]) dbDef() column.DbDef {
	return column.DbDef{Name: b.tableName(), Shards: b.Shards, CacheWeight: b.CacheWeight, LRUSize: b.LRUSize}
}

// Runtime composes a PKBinding with an ordered list of column runtimes
// into one entity's storage surface.
type Runtime[E any, PK any] struct {
	PK      PKBinding[E, PK]
	Columns []column.Runtime[E]

	routers column.Routers
}

// NewRuntime validates the schema (supplemented feature: unique column
// names, see Validate) and returns a Runtime ready for Open.
func NewRuntime[E any, PK any](pk PKBinding[E, PK], columns []column.Runtime[E]) (*Runtime[E, PK], error) {
	r := &Runtime[E, PK]{PK: pk, Columns: columns}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks, at wiring time rather than at first write, that
// every column name is unique within the entity (redbit/src/schema.rs's
// validation pass, supplemented here since spec.md alludes to schema
// composition without spelling this check out as its own operation).
func (r *Runtime[E, PK]) Validate() error {
	seen := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		if seen[c.Name()] {
			return chainerrors.New(fmt.Sprintf("entity.%s.Validate", r.PK.EntityName), chainerrors.KindValidationError,
				fmt.Errorf("duplicate column name %q", c.Name()))
		}
		seen[c.Name()] = true
	}
	return nil
}

// DbDefs enumerates every backing database this entity needs opened:
// the PK table plus every column's own DbDefs, deduplicated by name
// (WriteFrom columns deliberately share an Index column's table).
func (r *Runtime[E, PK]) DbDefs() []column.DbDef {
	seen := map[string]column.DbDef{}
	order := []string{r.PK.tableName()}
	seen[r.PK.tableName()] = r.PK.dbDef()
	for _, c := range r.Columns {
		for _, d := range c.DbDefs() {
			if _, ok := seen[d.Name]; !ok {
				seen[d.Name] = d
				order = append(order, d.Name)
			}
		}
	}
	out := make([]column.DbDef, len(order))
	for i, name := range order {
		out[i] = seen[name]
	}
	return out
}

// Open opens a shard.Router per DbDef and keeps them for the lifetime
// of the Runtime.
func (r *Runtime[E, PK]) Open(shardPaths func(dbName string, shards int) []string, opener kv.Opener) error {
	routers, err := column.OpenRouters(r.DbDefs(), shardPaths, opener)
	if err != nil {
		return err
	}
	r.routers = routers
	return nil
}

// Close tears down every opened router.
func (r *Runtime[E, PK]) Close() error {
	if r.routers == nil {
		return nil
	}
	return r.routers.Shutdown()
}

// Store persists one entity as a batch of one via StoreBatch: begins a
// transaction on the already-open routers at DurabilityNone, inserts the
// PK row, delegates to every column's StoreMany, then flushes.
func (r *Runtime[E, PK]) Store(e E) error {
	return r.StoreBatch([]E{e})
}

// StoreBatch persists a batch via each column's StoreMany (spec §4.7
// store_batch).
func (r *Runtime[E, PK]) StoreBatch(es []E) error {
	if len(es) == 0 {
		return nil
	}
	if err := r.routers.Begin(kv.DurabilityNone); err != nil {
		return err
	}
	if err := r.storeBatchNoBeginFlush(es); err != nil {
		r.routers.Abort()
		return err
	}
	return r.routers.Flush()
}

func (r *Runtime[E, PK]) storeBatchNoBeginFlush(es []E) error {
	pks := make([][]byte, len(es))
	for i, e := range es {
		pks[i] = r.PK.Encode(r.PK.ExtractPK(e))
	}
	pkRouter, err := r.routers.Lookup(r.PK.tableName())
	if err != nil {
		return err
	}
	if err := pkRouter.MergeUnsortedInserts(pairsOfEmptyValues(pks)); err != nil {
		return err
	}
	for _, c := range r.Columns {
		if err := c.StoreMany(r.routers, pks, es); err != nil {
			return err
		}
	}
	return nil
}

func pairsOfEmptyValues(pks [][]byte) []shard.Pair {
	out := make([]shard.Pair, len(pks))
	for i, pk := range pks {
		out[i] = shard.Pair{Key: pk, Value: []byte{1}}
	}
	return out
}

// StoreAt stores e at an explicitly supplied pk rather than one derived
// from e via PK.ExtractPK - the write path a cascade column uses, since
// it derives the child's pointer PK from the parent rather than reading
// it back out of the child value (column.ChildRuntime).
func (r *Runtime[E, PK]) StoreAt(pk []byte, e E) error {
	return r.StoreManyAt([][]byte{pk}, []E{e})
}

// StoreManyAt is the batch form of StoreAt.
func (r *Runtime[E, PK]) StoreManyAt(pks [][]byte, es []E) error {
	if len(es) == 0 {
		return nil
	}
	if err := r.routers.Begin(kv.DurabilityNone); err != nil {
		return err
	}
	pkRouter, err := r.routers.Lookup(r.PK.tableName())
	if err != nil {
		r.routers.Abort()
		return err
	}
	if err := pkRouter.MergeUnsortedInserts(pairsOfEmptyValues(pks)); err != nil {
		r.routers.Abort()
		return err
	}
	for _, c := range r.Columns {
		if err := c.StoreMany(r.routers, pks, es); err != nil {
			r.routers.Abort()
			return err
		}
	}
	return r.routers.Flush()
}

// BeginWriters begins a transaction at the requested durability on the
// routers Open already opened (it opens nothing itself), for callers that
// want to batch several StoreBatch-shaped calls under one flush (spec
// §4.7 begin_writers).
func (r *Runtime[E, PK]) BeginWriters(durability kv.Durability) error {
	return r.routers.Begin(durability)
}

// StoreBatchWithWriterTree feeds PK rows and delegates to every
// column's StoreMany within an already-open transaction (begun via
// BeginWriters), leaving Flush to the caller so several entities can
// share one cross-table two-phase flush (spec §4.7
// store_batch_with_writer_tree).
func (r *Runtime[E, PK]) StoreBatchWithWriterTree(es []E) error {
	return r.storeBatchNoBeginFlush(es)
}

// Flush flushes every router opened for this entity.
func (r *Runtime[E, PK]) Flush() error { return r.routers.Flush() }

// Compose reconstructs one entity at pk: checks the PK exists, seeds a
// PK-only entity, then applies each column's Load in order. Any Reject
// yields (zero, false, nil) - spec §4.7 compose.
func (r *Runtime[E, PK]) Compose(pk []byte) (E, bool, error) {
	var zero E
	pkRouter, err := r.routers.Lookup(r.PK.tableName())
	if err != nil {
		return zero, false, err
	}
	_, ok, err := pkRouter.Get(pk)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	decodedPK, err := r.PK.Decode(pk)
	if err != nil {
		return zero, false, err
	}
	e := r.PK.Seed(decodedPK)
	for _, c := range r.Columns {
		outcome, err := c.Load(r.routers, pk, &e)
		if err != nil {
			return zero, false, err
		}
		if outcome == column.LoadReject {
			return zero, false, nil
		}
	}
	return e, true, nil
}

// ComposeByParentPrefix composes every child entity whose pointer PK
// (spec §3: parent bytes ∥ index bytes) starts with parentPK - the read
// side of a OneToMany cascade. Requires the PK table to be a single
// shard, since spec §4.5 only defines Range for single-shard tables.
func (r *Runtime[E, PK]) ComposeByParentPrefix(parentPK []byte) ([]E, error) {
	pkRouter, err := r.routers.Lookup(r.PK.tableName())
	if err != nil {
		return nil, err
	}
	kvs, err := pkRouter.Range(parentPK, nextPrefixEnd(parentPK))
	if err != nil {
		return nil, err
	}
	out := make([]E, 0, len(kvs))
	for _, row := range kvs {
		e, ok, err := r.Compose(row.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// AsChild adapts a Runtime to column.ChildRuntime[E] for use as a
// cascade's child - a thin renaming wrapper, since Runtime's own
// top-level Store/StoreBatch names are already taken by the spec's own
// store(entity)/store_batch(entities) operations and a cascade's child
// writes always carry an externally derived PK instead.
type AsChild[E any, PK any] struct{ *Runtime[E, PK] }

func (a AsChild[E, PK]) Store(pk []byte, e E) error               { return a.Runtime.StoreAt(pk, e) }
func (a AsChild[E, PK]) StoreMany(pks [][]byte, es []E) error     { return a.Runtime.StoreManyAt(pks, es) }
func (a AsChild[E, PK]) Compose(pk []byte) (E, bool, error)       { return a.Runtime.Compose(pk) }
func (a AsChild[E, PK]) ComposeByParentPrefix(pp []byte) ([]E, error) {
	return a.Runtime.ComposeByParentPrefix(pp)
}

// PKOf extracts e's own PK, encoded the same way Store/Compose encode
// it - the child-side half of a cascade's PK-match validation
// (column.ChildRuntime.PKOf).
func (a AsChild[E, PK]) PKOf(e E) []byte {
	return a.Runtime.PK.Encode(a.Runtime.PK.ExtractPK(e))
}

func nextPrefixEnd(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
