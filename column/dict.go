package column

import (
	"sync"

	"github.com/chainindex/core/shard"
)

// Dict is a value-interning column: repeated values share one dict_pk,
// chosen as the PK of whichever entity instance first wrote that value.
// Four tables back it (spec §3/§6):
//
//	value -> dict_pk   ("<ENTITY>_<COL>_TO_DICT_PK", injective)
//	dict_pk -> value   ("<ENTITY>_<COL>_BY_DICT_PK", its inverse)
//	dict_pk -> {PKs}   ("<ENTITY>_<COL>_DICT_INDEX", multimap, every PK that wrote that value)
//	PK -> dict_pk       ("<ENTITY>_<COL>_DICT_PK_BY_<PK>")
type Dict[E any, V any] struct {
	ColumnName    string
	ToDictPKTable string
	ByDictPKTable string
	DictIndex     string
	PKToDictTable string
	Shards        int
	CacheWeight   int
	LRUSize       int

	Get    func(E) V
	Set    func(E, V) E
	Encode func(V) []byte
	Decode func([]byte) (V, error)

	cacheOnce sync.Once
	cache     *readCache
}

// readCache caches by dict_pk rather than by PK: many PKs can share one
// dict_pk, so caching there gives the dedup column's whole point (fewer
// distinct values than entities) a proportionally bigger hit rate.
func (d *Dict[E, V]) readCache() *readCache {
	d.cacheOnce.Do(func() { d.cache = newReadCache(d.LRUSize) })
	return d.cache
}

func (d *Dict[E, V]) Name() string { return d.ColumnName }
func (d *Dict[E, V]) Kind() Kind   { return KindDict }

func (d *Dict[E, V]) DbDefs() []DbDef {
	return []DbDef{
		{Name: d.ToDictPKTable, Shards: d.Shards, Mode: shard.ByKey, CacheWeight: d.CacheWeight, LRUSize: d.LRUSize},
		{Name: d.ByDictPKTable, Shards: d.Shards, Mode: shard.ByKey, CacheWeight: d.CacheWeight, LRUSize: d.LRUSize},
		// DictIndex is a dict_pk->{PKs} multimap keyed dict_pk‖pk; every PK
		// sharing one dict_pk must land on the same shard, hence ByValue
		// partitioned on the dict_pk rather than the full composite key.
		{Name: d.DictIndex, Shards: d.Shards, Mode: shard.ByValue, CacheWeight: d.CacheWeight, LRUSize: d.LRUSize},
		{Name: d.PKToDictTable, Shards: d.Shards, Mode: shard.ByKey, CacheWeight: d.CacheWeight, LRUSize: d.LRUSize},
	}
}

// storeOne runs dict interning for one (pk, value): look up value's
// dict_pk; if absent, this pk becomes the dict_pk and value/dict_pk are
// recorded both ways; either way, dict_pk->pk and pk->dict_pk are
// recorded. All writes go through WriteInsertNow: a later row in the
// same batch that maps to the same new value must see this one's
// just-assigned dict_pk, which only an immediately-visible write
// guarantees.
func (d *Dict[E, V]) storeOne(toDict, byDict, dictIdx, pkToDict *shard.Router, pk, encoded []byte) error {
	dictPK, ok, err := toDict.Get(encoded)
	if err != nil {
		return err
	}
	if !ok {
		dictPK = pk
		if err := toDict.WriteInsertNow(encoded, dictPK); err != nil {
			return err
		}
		if err := byDict.WriteInsertNow(dictPK, encoded); err != nil {
			return err
		}
	}
	if err := dictIdx.WriteInsertNowPair(shard.Pair{Key: indexKey(dictPK, pk), Value: pk, PartitionOn: dictPK}); err != nil {
		return err
	}
	return pkToDict.WriteInsertNow(pk, dictPK)
}

// PKsForDictPK enumerates every PK that shares dictPK's interned value,
// by going straight to the one shard DictIndex's ByValue routing
// guarantees holds every row for dictPK (mirrors Index.PKsForValue).
func (d *Dict[E, V]) PKsForDictPK(routers Routers, dictPK []byte) ([][]byte, error) {
	dictIdx, err := routers.Lookup(d.DictIndex)
	if err != nil {
		return nil, err
	}
	shardNo := shard.PartitionBytes(dictPK, dictIdx.ShardCount())
	kvs, err := dictIdx.Writer(shardNo).Range(dictPK, nextPrefixEnd(dictPK))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(kvs))
	for i, kv := range kvs {
		out[i] = kv.Value
	}
	return out, nil
}

func (d *Dict[E, V]) Store(routers Routers, pk []byte, e E) error {
	toDict, err := routers.Lookup(d.ToDictPKTable)
	if err != nil {
		return err
	}
	byDict, err := routers.Lookup(d.ByDictPKTable)
	if err != nil {
		return err
	}
	dictIdx, err := routers.Lookup(d.DictIndex)
	if err != nil {
		return err
	}
	pkToDict, err := routers.Lookup(d.PKToDictTable)
	if err != nil {
		return err
	}
	return d.storeOne(toDict, byDict, dictIdx, pkToDict, pk, d.Encode(d.Get(e)))
}

func (d *Dict[E, V]) StoreMany(routers Routers, pks [][]byte, es []E) error {
	toDict, err := routers.Lookup(d.ToDictPKTable)
	if err != nil {
		return err
	}
	byDict, err := routers.Lookup(d.ByDictPKTable)
	if err != nil {
		return err
	}
	dictIdx, err := routers.Lookup(d.DictIndex)
	if err != nil {
		return err
	}
	pkToDict, err := routers.Lookup(d.PKToDictTable)
	if err != nil {
		return err
	}
	for i, pk := range pks {
		if err := d.storeOne(toDict, byDict, dictIdx, pkToDict, pk, d.Encode(d.Get(es[i]))); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dict[E, V]) Load(routers Routers, pk []byte, e *E) (LoadOutcome, error) {
	pkToDict, err := routers.Lookup(d.PKToDictTable)
	if err != nil {
		return LoadReject, err
	}
	byDict, err := routers.Lookup(d.ByDictPKTable)
	if err != nil {
		return LoadReject, err
	}
	dictPK, ok, err := pkToDict.Get(pk)
	if err != nil {
		return LoadReject, err
	}
	if !ok {
		return LoadReject, nil
	}
	cache := d.readCache()
	encoded, ok := cache.get(dictPK)
	if !ok {
		encoded, ok, err = byDict.Get(dictPK)
		if err != nil {
			return LoadReject, err
		}
		if !ok {
			return LoadReject, nil
		}
		cache.put(dictPK, encoded)
	}
	decoded, err := d.Decode(encoded)
	if err != nil {
		return LoadReject, err
	}
	*e = d.Set(*e, decoded)
	return LoadValue, nil
}
