package column

import (
	"github.com/chainindex/core/chainerrors"
	"github.com/chainindex/core/shard"
)

// WriteFrom is the declarative hook column: instead of storing its own
// parent-side value, it derives and persists child records from another
// column of the same parent (the "from" value), enforcing that the from
// value is unique across every parent written in the same batch (spec
// §4.6). A duplicate is a double-spend: two parents in one batch
// claiming the same prior output.
//
// SeenTable shares its table with an Index column already declared on
// this entity for the "from" field - WriteFrom doesn't own a table of
// its own, it reuses that index's reverse-lookup table as the
// uniqueness ledger, consistent with the spec's "consumes a previously
// opened IndexBatch... of an index column on the parent".
type WriteFrom[E any, V any, C any] struct {
	ColumnName    string
	SeenTable     string
	EncodeFrom    func(V) []byte
	From          func(E) V
	DeriveChildPK func(parentPK []byte, from V) []byte
	BuildChild    func(parentPK []byte, from V) C
	Child         ChildRuntime[C]
}

func (wf *WriteFrom[E, V, C]) Name() string   { return wf.ColumnName }
func (wf *WriteFrom[E, V, C]) Kind() Kind     { return KindWriteFrom }
func (wf *WriteFrom[E, V, C]) DbDefs() []DbDef { return nil }

// checkAndMark resolves whether from has already been claimed by going
// through the same shard.Router.QueryAndWrite command the index column
// sharing SeenTable uses for its own value->{PKs} reads: a single
// round-trip per batch entry that fans out to whichever shard
// IndexTable's ByValue routing placed this value's rows on, instead of a
// plain Get keyed by the raw from-value (which would miss every row,
// since SeenTable is keyed value‖pk, not value alone).
func (wf *WriteFrom[E, V, C]) checkAndMark(routers Routers, parentPK []byte, from V) error {
	seen, err := routers.Lookup(wf.SeenTable)
	if err != nil {
		return err
	}
	encoded := wf.EncodeFrom(from)
	var found bool
	seen.QueryAndWrite([]shard.ValueQuery{{Pos: 0, Value: encoded}}, true, func(_ int, results []shard.QueryResult) {
		for _, r := range results {
			if r.Ok {
				found = true
			}
		}
	})
	if found {
		return chainerrors.New("column.WriteFrom.Store", chainerrors.KindDoubleSpend, nil)
	}
	return seen.WriteInsertNowPair(shard.Pair{Key: indexKey(encoded, parentPK), Value: parentPK, PartitionOn: encoded})
}

func (wf *WriteFrom[E, V, C]) Store(routers Routers, parentPK []byte, e E) error {
	from := wf.From(e)
	if err := wf.checkAndMark(routers, parentPK, from); err != nil {
		return err
	}
	child := wf.BuildChild(parentPK, from)
	return wf.Child.Store(wf.DeriveChildPK(parentPK, from), child)
}

func (wf *WriteFrom[E, V, C]) StoreMany(routers Routers, parentPKs [][]byte, es []E) error {
	var childPKs [][]byte
	var children []C
	for i, e := range es {
		from := wf.From(e)
		if err := wf.checkAndMark(routers, parentPKs[i], from); err != nil {
			return err
		}
		childPKs = append(childPKs, wf.DeriveChildPK(parentPKs[i], from))
		children = append(children, wf.BuildChild(parentPKs[i], from))
	}
	if len(children) == 0 {
		return nil
	}
	return wf.Child.StoreMany(childPKs, children)
}

// Load has nothing of its own to contribute - a WriteFrom column derives
// writes, it does not read back a parent-side value. Compose calls it like
// every other column's Load, and it always returns LoadSkip, leaving *e
// untouched.
func (wf *WriteFrom[E, V, C]) Load(routers Routers, parentPK []byte, e *E) (LoadOutcome, error) {
	return LoadSkip, nil
}
