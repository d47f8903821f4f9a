package syncer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindex/core/chain"
)

type fakeChain struct {
	headersByHash map[[32]byte][]chain.Header
	stored        []chain.Block
	updated       []chain.Block
}

func newFakeChain() *fakeChain { return &fakeChain{headersByHash: map[[32]byte][]chain.Header{}} }

func (f *fakeChain) GetLastHeader() (*chain.Header, error) { return nil, nil }

func (f *fakeChain) GetHeaderByHash(hash [32]byte) ([]chain.Header, error) {
	return f.headersByHash[hash], nil
}

func (f *fakeChain) NewIndexingCtx() (chain.Ctx, error) { return fakeCtx{}, nil }

func (f *fakeChain) StoreBlocks(ctx chain.Ctx, blocks []chain.Block) error {
	f.stored = append(f.stored, blocks...)
	for _, b := range blocks {
		f.headersByHash[b.Header.Hash] = []chain.Header{b.Header}
	}
	return nil
}

func (f *fakeChain) UpdateBlocks(ctx chain.Ctx, blocks []chain.Block) error {
	f.updated = append(f.updated, blocks...)
	for _, b := range blocks {
		f.headersByHash[b.Header.Hash] = []chain.Header{b.Header}
	}
	return nil
}

type fakeCtx struct{}

func (fakeCtx) Stop() error { return nil }

type fakeProvider struct {
	processedByHash map[[32]byte]*chain.Block
}

func (f *fakeProvider) GetChainTip() (chain.Header, error) { return chain.Header{}, nil }
func (f *fakeProvider) BlockProcessor() func(chain.RawBlock) (chain.Block, error) {
	return func(rb chain.RawBlock) (chain.Block, error) {
		return chain.Block{Header: chain.Header{Height: rb.Height}}, nil
	}
}
func (f *fakeProvider) GetProcessedBlock(hash [32]byte) (*chain.Block, error) {
	return f.processedByHash[hash], nil
}
func (f *fakeProvider) Stream(tip chain.Header, lastPersisted *chain.Header, mode chain.Mode) (<-chan chain.RawBlock, error) {
	ch := make(chan chain.RawBlock)
	close(ch)
	return ch, nil
}

func hashOf(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestChainLinkGenesisReturnsItself(t *testing.T) {
	bc := newFakeChain()
	provider := &fakeProvider{}
	block := chain.Block{Header: chain.Header{Height: 1, Hash: hashOf(1)}}

	linked, err := chainLink(block, provider, bc)
	require.NoError(t, err)
	require.Equal(t, []chain.Block{block}, linked)
}

func TestChainLinkDirectParentPresent(t *testing.T) {
	bc := newFakeChain()
	provider := &fakeProvider{}
	parentHash := hashOf(100)
	bc.headersByHash[parentHash] = []chain.Header{{Height: 100, Hash: parentHash}}

	block := chain.Block{Header: chain.Header{Height: 101, Hash: hashOf(101), PrevHash: parentHash}}
	linked, err := chainLink(block, provider, bc)
	require.NoError(t, err)
	require.Equal(t, []chain.Block{block}, linked)
}

func TestChainLinkForkRecoversOrphanedParent(t *testing.T) {
	bc := newFakeChain()
	grandparentHash := hashOf(100)
	bc.headersByHash[grandparentHash] = []chain.Header{{Height: 100, Hash: grandparentHash}}

	parentHash := hashOf(201) // orphan: not yet known to bc
	parent := chain.Block{Header: chain.Header{Height: 101, Hash: parentHash, PrevHash: grandparentHash}}
	provider := &fakeProvider{processedByHash: map[[32]byte]*chain.Block{parentHash: &parent}}

	block := chain.Block{Header: chain.Header{Height: 102, Hash: hashOf(102), PrevHash: parentHash}}
	linked, err := chainLink(block, provider, bc)
	require.NoError(t, err)
	require.Equal(t, []chain.Block{parent, block}, linked)
}

func TestChainLinkUnrecoverableOrphanReturnsEmpty(t *testing.T) {
	bc := newFakeChain()
	provider := &fakeProvider{}
	block := chain.Block{Header: chain.Header{Height: 50, Hash: hashOf(50), PrevHash: hashOf(49)}}

	linked, err := chainLink(block, provider, bc)
	require.NoError(t, err)
	require.Empty(t, linked)
}

func TestChainLinkConflictingHeightPanics(t *testing.T) {
	bc := newFakeChain()
	provider := &fakeProvider{}
	parentHash := hashOf(5)
	bc.headersByHash[parentHash] = []chain.Header{{Height: 3, Hash: parentHash}} // should be height-1 == 9

	block := chain.Block{Header: chain.Header{Height: 10, Hash: hashOf(10), PrevHash: parentHash}}
	require.Panics(t, func() {
		_, _ = chainLink(block, provider, bc)
	})
}

func TestPersistOrLinkBulkStoresBelowForkDetectionHeight(t *testing.T) {
	bc := newFakeChain()
	provider := &fakeProvider{}
	blocks := []chain.Block{
		{Header: chain.Header{Height: 10, Hash: hashOf(10)}},
		{Header: chain.Header{Height: 11, Hash: hashOf(11)}},
	}
	require.NoError(t, persistOrLink(fakeCtx{}, blocks, 50, provider, bc))
	require.Len(t, bc.stored, 2)
	require.Empty(t, bc.updated)
}

func TestPersistOrLinkUpdatesOnFork(t *testing.T) {
	bc := newFakeChain()
	grandparentHash := hashOf(100)
	bc.headersByHash[grandparentHash] = []chain.Header{{Height: 100, Hash: grandparentHash}}

	parentHash := hashOf(201)
	parent := chain.Block{Header: chain.Header{Height: 101, Hash: parentHash, PrevHash: grandparentHash}}
	provider := &fakeProvider{processedByHash: map[[32]byte]*chain.Block{parentHash: &parent}}

	block := chain.Block{Header: chain.Header{Height: 102, Hash: hashOf(102), PrevHash: parentHash}}
	require.NoError(t, persistOrLink(fakeCtx{}, []chain.Block{block}, 0, provider, bc))

	require.Len(t, bc.updated, 2)
	require.Empty(t, bc.stored)
}
