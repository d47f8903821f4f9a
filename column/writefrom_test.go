package column

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindex/core/chainerrors"
	"github.com/chainindex/core/kv"
)

type spend struct {
	ID   uint64
	From string
}

type spentOutput struct {
	Amount uint64
}

func newWriteFrom(child ChildRuntime[spentOutput]) *WriteFrom[spend, string, spentOutput] {
	return &WriteFrom[spend, string, spentOutput]{
		ColumnName: "spend",
		SeenTable:  "SPEND_FROM_SEEN",
		EncodeFrom: encodeStr,
		From:       func(s spend) string { return s.From },
		DeriveChildPK: func(parentPK []byte, from string) []byte {
			return append(append([]byte{}, parentPK...), []byte(from)...)
		},
		BuildChild: func(parentPK []byte, from string) spentOutput { return spentOutput{Amount: 1} },
		Child:      child,
	}
}

func TestWriteFromMarksAndDelegatesToChild(t *testing.T) {
	routers := openOneShardRouters(t, []DbDef{{Name: "SPEND_FROM_SEEN", Shards: 1}})
	child := newFakeChildRuntime[spentOutput](nil)
	wf := newWriteFrom(child)

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	require.NoError(t, wf.Store(routers, encodeU64(1), spend{ID: 1, From: "utxo-1"}))
	require.NoError(t, routers.Flush())

	require.Len(t, child.byPK, 1)
}

func TestWriteFromDuplicateFromIsDoubleSpend(t *testing.T) {
	routers := openOneShardRouters(t, []DbDef{{Name: "SPEND_FROM_SEEN", Shards: 1}})
	child := newFakeChildRuntime[spentOutput](nil)
	wf := newWriteFrom(child)

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	require.NoError(t, wf.Store(routers, encodeU64(1), spend{ID: 1, From: "utxo-1"}))
	require.NoError(t, routers.Flush())

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	err := wf.Store(routers, encodeU64(2), spend{ID: 2, From: "utxo-1"})
	require.Error(t, err)
	require.True(t, chainerrors.Is(err, chainerrors.KindDoubleSpend))
	routers.Abort()
}

func TestWriteFromStoreManyRejectsDuplicateWithinBatch(t *testing.T) {
	routers := openOneShardRouters(t, []DbDef{{Name: "SPEND_FROM_SEEN", Shards: 1}})
	child := newFakeChildRuntime[spentOutput](nil)
	wf := newWriteFrom(child)

	require.NoError(t, routers.Begin(kv.DurabilityImmediate))
	err := wf.StoreMany(routers, [][]byte{encodeU64(1), encodeU64(2)}, []spend{
		{ID: 1, From: "utxo-1"},
		{ID: 2, From: "utxo-1"},
	})
	require.Error(t, err)
	routers.Abort()
}
