package column

import "github.com/chainindex/core/shard"

// Plain is the simplest column kind: one table keyed by PK, storing an
// encoded value with no secondary structure (spec §3/§4.6).
type Plain[E any, V any] struct {
	ColumnName  string
	TableName   string // "<ENTITY>_<COL>_BY_<PK>", computed by the entity runtime
	Shards      int
	CacheWeight int
	LRUSize     int

	Get    func(E) V
	Set    func(E, V) E
	Encode func(V) []byte
	Decode func([]byte) (V, error)
}

func (p *Plain[E, V]) Name() string { return p.ColumnName }
func (p *Plain[E, V]) Kind() Kind   { return KindPlain }

func (p *Plain[E, V]) DbDefs() []DbDef {
	return []DbDef{{Name: p.TableName, Shards: p.Shards, CacheWeight: p.CacheWeight, LRUSize: p.LRUSize}}
}

func (p *Plain[E, V]) Store(routers Routers, pk []byte, e E) error {
	r, err := routers.Lookup(p.TableName)
	if err != nil {
		return err
	}
	return r.WriteInsertNow(pk, p.Encode(p.Get(e)))
}

func (p *Plain[E, V]) StoreMany(routers Routers, pks [][]byte, es []E) error {
	r, err := routers.Lookup(p.TableName)
	if err != nil {
		return err
	}
	pairs := make([]shard.Pair, len(pks))
	for i, pk := range pks {
		pairs[i] = shard.Pair{Key: pk, Value: p.Encode(p.Get(es[i]))}
	}
	return r.MergeUnsortedInserts(pairs)
}

func (p *Plain[E, V]) Load(routers Routers, pk []byte, e *E) (LoadOutcome, error) {
	r, err := routers.Lookup(p.TableName)
	if err != nil {
		return LoadReject, err
	}
	v, ok, err := r.Get(pk)
	if err != nil {
		return LoadReject, err
	}
	if !ok {
		return LoadReject, nil
	}
	decoded, err := p.Decode(v)
	if err != nil {
		return LoadReject, err
	}
	*e = p.Set(*e, decoded)
	return LoadValue, nil
}
