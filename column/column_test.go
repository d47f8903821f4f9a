package column

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindex/core/kv"
)

type widget struct {
	ID   uint64
	Name string
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
func decodeU64(b []byte) (uint64, error) { return binary.BigEndian.Uint64(b), nil }

func encodeStr(v string) []byte            { return []byte(v) }
func decodeStr(b []byte) (string, error)   { return string(b), nil }

func openOneShardRouters(t *testing.T, defs []DbDef) Routers {
	t.Helper()
	dir := t.TempDir()
	routers, err := OpenRouters(defs, func(name string, shards int) []string {
		return []string{filepath.Join(dir, name+"-0.db")}
	}, kv.Open)
	require.NoError(t, err)
	t.Cleanup(func() { _ = routers.Shutdown() })
	return routers
}

func TestPlainColumnStoreAndLoad(t *testing.T) {
	col := &Plain[widget, string]{
		ColumnName: "name",
		TableName:  "WIDGET_NAME_BY_ID",
		Shards:     1,
		Get:        func(w widget) string { return w.Name },
		Set:        func(w widget, v string) widget { w.Name = v; return w },
		Encode:     encodeStr,
		Decode:     decodeStr,
	}
	routers := openOneShardRouters(t, col.DbDefs())
	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	require.NoError(t, col.Store(routers, encodeU64(1), widget{ID: 1, Name: "alpha"}))
	require.NoError(t, routers.Flush())

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	var out widget
	outcome, err := col.Load(routers, encodeU64(1), &out)
	require.NoError(t, err)
	require.Equal(t, LoadValue, outcome)
	require.Equal(t, "alpha", out.Name)

	var missing widget
	outcome, err = col.Load(routers, encodeU64(2), &missing)
	require.NoError(t, err)
	require.Equal(t, LoadReject, outcome)
	routers.Flush()
}

func TestIndexColumnReverseLookup(t *testing.T) {
	col := &Index[widget, string]{
		ColumnName: "name",
		ByPKTable:  "WIDGET_NAME_BY_ID",
		IndexTable: "WIDGET_NAME_INDEX",
		Shards:     1,
		Get:        func(w widget) string { return w.Name },
		Set:        func(w widget, v string) widget { w.Name = v; return w },
		Encode:     encodeStr,
		Decode:     decodeStr,
	}
	routers := openOneShardRouters(t, col.DbDefs())
	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	require.NoError(t, col.StoreMany(routers, [][]byte{encodeU64(1), encodeU64(2), encodeU64(3)}, []widget{
		{ID: 1, Name: "shared"}, {ID: 2, Name: "shared"}, {ID: 3, Name: "unique"},
	}))
	require.NoError(t, routers.Flush())

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	pks, err := col.PKsForValue(routers, "shared")
	require.NoError(t, err)
	require.Len(t, pks, 2)

	var out widget
	outcome, err := col.Load(routers, encodeU64(3), &out)
	require.NoError(t, err)
	require.Equal(t, LoadValue, outcome)
	require.Equal(t, "unique", out.Name)
	routers.Flush()
}

func TestDictColumnDedupesRepeatedValues(t *testing.T) {
	col := &Dict[widget, string]{
		ColumnName:    "category",
		ToDictPKTable: "WIDGET_CATEGORY_TO_DICT_PK",
		ByDictPKTable: "WIDGET_CATEGORY_BY_DICT_PK",
		DictIndex:     "WIDGET_CATEGORY_DICT_INDEX",
		PKToDictTable: "WIDGET_CATEGORY_DICT_PK_BY_ID",
		Shards:        1,
		Get:           func(w widget) string { return w.Name },
		Set:           func(w widget, v string) widget { w.Name = v; return w },
		Encode:        encodeStr,
		Decode:        decodeStr,
	}
	routers := openOneShardRouters(t, col.DbDefs())
	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	require.NoError(t, col.Store(routers, encodeU64(1), widget{ID: 1, Name: "electronics"}))
	require.NoError(t, col.Store(routers, encodeU64(2), widget{ID: 2, Name: "electronics"}))
	require.NoError(t, col.Store(routers, encodeU64(3), widget{ID: 3, Name: "furniture"}))
	require.NoError(t, routers.Flush())

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	toDict, err := routers.Lookup(col.ToDictPKTable)
	require.NoError(t, err)
	dictPK1, ok, err := toDict.Get(encodeStr("electronics"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, encodeU64(1), dictPK1) // first writer's PK becomes the dict_pk

	var out1, out2, out3 widget
	_, err = col.Load(routers, encodeU64(1), &out1)
	require.NoError(t, err)
	_, err = col.Load(routers, encodeU64(2), &out2)
	require.NoError(t, err)
	_, err = col.Load(routers, encodeU64(3), &out3)
	require.NoError(t, err)
	require.Equal(t, "electronics", out1.Name)
	require.Equal(t, "electronics", out2.Name)
	require.Equal(t, "furniture", out3.Name)

	pks, err := col.PKsForDictPK(routers, dictPK1)
	require.NoError(t, err)
	require.Len(t, pks, 2) // widgets 1 and 2 both wrote "electronics"
	routers.Flush()
}
