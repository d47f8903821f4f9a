package column

import (
	"sync"

	"github.com/chainindex/core/shard"
)

// Index is a column with a reverse lookup: one table maps PK -> value
// (like Plain), the other maps value -> {PKs} as a multimap, encoded as
// individual rows keyed by value‖pk (spec §3/§4.6/§6).
//
// Used marks a column peers may query within the same transaction that
// wrote it (e.g. a WriteFrom hook resolving a sibling's index before its
// own flush); such columns must go through WriteInsertNow so the write
// is visible immediately, instead of the deferred merge-buffer path
// every other Index column uses.
type Index[E any, V any] struct {
	ColumnName  string
	ByPKTable   string // "<ENTITY>_<COL>_BY_<PK>"
	IndexTable  string // "<ENTITY>_<COL>_INDEX"
	Shards      int
	CacheWeight int
	LRUSize     int
	Used        bool

	Get    func(E) V
	Set    func(E, V) E
	Encode func(V) []byte
	Decode func([]byte) (V, error)

	cacheOnce sync.Once
	cache     *readCache
}

func (ix *Index[E, V]) readCache() *readCache {
	ix.cacheOnce.Do(func() { ix.cache = newReadCache(ix.LRUSize) })
	return ix.cache
}

func (ix *Index[E, V]) Name() string { return ix.ColumnName }
func (ix *Index[E, V]) Kind() Kind   { return KindIndex }

func (ix *Index[E, V]) DbDefs() []DbDef {
	return []DbDef{
		{Name: ix.ByPKTable, Shards: ix.Shards, Mode: shard.ByKey, CacheWeight: ix.CacheWeight, LRUSize: ix.LRUSize},
		// IndexTable is a value->{PKs} multimap keyed value‖pk: every row
		// for the same value must land on one shard so a later lookup by
		// value doesn't have to fan out to all of them, hence ByValue.
		{Name: ix.IndexTable, Shards: ix.Shards, Mode: shard.ByValue, CacheWeight: ix.CacheWeight, LRUSize: ix.LRUSize},
	}
}

func indexKey(value, pk []byte) []byte {
	out := make([]byte, 0, len(value)+len(pk))
	out = append(out, value...)
	out = append(out, pk...)
	return out
}

func (ix *Index[E, V]) Store(routers Routers, pk []byte, e E) error {
	byPK, err := routers.Lookup(ix.ByPKTable)
	if err != nil {
		return err
	}
	idx, err := routers.Lookup(ix.IndexTable)
	if err != nil {
		return err
	}
	encoded := ix.Encode(ix.Get(e))
	ikey := indexKey(encoded, pk)
	if ix.Used {
		if err := byPK.WriteInsertNow(pk, encoded); err != nil {
			return err
		}
		return idx.WriteInsertNowPair(shard.Pair{Key: ikey, Value: pk, PartitionOn: encoded})
	}
	if err := byPK.AppendSortedInserts([]shard.Pair{{Key: pk, Value: encoded}}); err != nil {
		return err
	}
	return idx.MergeUnsortedInserts([]shard.Pair{{Key: ikey, Value: pk, PartitionOn: encoded}})
}

func (ix *Index[E, V]) StoreMany(routers Routers, pks [][]byte, es []E) error {
	byPK, err := routers.Lookup(ix.ByPKTable)
	if err != nil {
		return err
	}
	idx, err := routers.Lookup(ix.IndexTable)
	if err != nil {
		return err
	}
	byPKPairs := make([]shard.Pair, len(pks))
	idxPairs := make([]shard.Pair, len(pks))
	for i, pk := range pks {
		encoded := ix.Encode(ix.Get(es[i]))
		byPKPairs[i] = shard.Pair{Key: pk, Value: encoded}
		idxPairs[i] = shard.Pair{Key: indexKey(encoded, pk), Value: pk, PartitionOn: encoded}
	}
	if ix.Used {
		for _, p := range byPKPairs {
			if err := byPK.WriteInsertNow(p.Key, p.Value); err != nil {
				return err
			}
		}
		for _, p := range idxPairs {
			if err := idx.WriteInsertNowPair(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := byPK.MergeUnsortedInserts(byPKPairs); err != nil {
		return err
	}
	return idx.MergeUnsortedInserts(idxPairs)
}

func (ix *Index[E, V]) Load(routers Routers, pk []byte, e *E) (LoadOutcome, error) {
	cache := ix.readCache()
	if v, ok := cache.get(pk); ok {
		decoded, err := ix.Decode(v)
		if err != nil {
			return LoadReject, err
		}
		*e = ix.Set(*e, decoded)
		return LoadValue, nil
	}

	byPK, err := routers.Lookup(ix.ByPKTable)
	if err != nil {
		return LoadReject, err
	}
	v, ok, err := byPK.Get(pk)
	if err != nil {
		return LoadReject, err
	}
	if !ok {
		return LoadReject, nil
	}
	cache.put(pk, v)
	decoded, err := ix.Decode(v)
	if err != nil {
		return LoadReject, err
	}
	*e = ix.Set(*e, decoded)
	return LoadValue, nil
}

// PKsForValue enumerates every PK that wrote value, by prefix-scanning
// the index table (spec §3: "value->{PKs} contains PK iff PK->value
// maps PK to that value"). IndexTable is routed ByValue keyed on the
// same encoded value, so every matching row is guaranteed to live on
// exactly one shard - the one PartitionBytes picks for value - letting
// this go straight to that shard's writer instead of Router.Range, which
// only supports single-shard tables.
func (ix *Index[E, V]) PKsForValue(routers Routers, value V) ([][]byte, error) {
	idx, err := routers.Lookup(ix.IndexTable)
	if err != nil {
		return nil, err
	}
	encoded := ix.Encode(value)
	shardNo := shard.PartitionBytes(encoded, idx.ShardCount())
	kvs, err := idx.Writer(shardNo).Range(encoded, nextPrefixEnd(encoded))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(kvs))
	for i, kv := range kvs {
		out[i] = kv.Value
	}
	return out, nil
}

// nextPrefixEnd returns the smallest byte string greater than every
// string with prefix p, or nil if p has no successor (all 0xff).
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
