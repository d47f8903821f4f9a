package syncer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/chainindex/core/chain"
	"github.com/chainindex/core/chainerrors"
)

var linkLog = log.New("component", "chain-linker")

// persistOrLink is the persist stage's per-batch decision (spec §4.8): a
// batch entirely at or below forkDetectionHeight is trusted history and
// bulk-stored without any linkage check; any batch reaching above it is
// chain-linked block by block, singletons going through StoreBlocks and
// multi-block forks replacing their full overlapping height range via
// UpdateBlocks.
func persistOrLink(ctx chain.Ctx, blocks []chain.Block, forkDetectionHeight uint64, provider chain.BlockProvider, bc chain.BlockChain) error {
	highest := highestHeight(blocks)
	if highest <= forkDetectionHeight {
		return bc.StoreBlocks(ctx, blocks)
	}

	for _, b := range blocks {
		linked, err := chainLink(b, provider, bc)
		if err != nil {
			return err
		}
		if len(linked) == 1 {
			if err := bc.StoreBlocks(ctx, linked); err != nil {
				return err
			}
			continue
		}
		if len(linked) > 1 {
			if err := bc.UpdateBlocks(ctx, linked); err != nil {
				return err
			}
		}
		// len(linked) == 0: unrecoverable orphan, chainLink already warned.
	}
	return nil
}

func highestHeight(blocks []chain.Block) uint64 {
	var h uint64
	for _, b := range blocks {
		if b.Height() > h {
			h = b.Height()
		}
	}
	return h
}

// chainLink resolves block against already-persisted chain state,
// recursively walking back through orphaned parents fetched from the
// provider until a known parent is found (spec §4.8):
//
//   - height 1 is genesis: returned as-is.
//   - if the chain already has a header at height-1 with hash == block's
//     prev_hash, the direct parent is present: returned as-is.
//   - if the chain has no header with that hash at all, the parent is an
//     orphan; fetch it from the provider and recurse, prepending the
//     resolved ancestry.
//   - if the chain has a header with that hash but at a different
//     height, chain state is corrupted: that is an invariant violation,
//     not a recoverable case.
func chainLink(block chain.Block, provider chain.BlockProvider, bc chain.BlockChain) ([]chain.Block, error) {
	h := block.Height()
	if h == 1 {
		return []chain.Block{block}, nil
	}

	headers, err := bc.GetHeaderByHash(block.Header.PrevHash)
	if err != nil {
		return nil, chainerrors.New("syncer.chainLink", chainerrors.KindProviderError, err)
	}
	if len(headers) > 1 {
		panic(fmt.Sprintf("syncer: chain_link: multiple headers for hash %x at conflicting heights", block.Header.PrevHash))
	}
	if len(headers) == 1 {
		if headers[0].Height == h-1 {
			return []chain.Block{block}, nil
		}
		panic(fmt.Sprintf("syncer: chain_link: header %x present at height %d, expected %d", block.Header.PrevHash, headers[0].Height, h-1))
	}

	parent, err := provider.GetProcessedBlock(block.Header.PrevHash)
	if err != nil {
		return nil, chainerrors.New("syncer.chainLink", chainerrors.KindProviderError, err)
	}
	if parent == nil {
		// unrecoverable orphan: the provider can't produce the parent
		// either. Nothing this batch can do but drop the block.
		linkLog.Warn("orphan block: parent unavailable from provider",
			"height", h, "prev_hash", fmt.Sprintf("%x", block.Header.PrevHash))
		return nil, nil
	}

	ancestry, err := chainLink(*parent, provider, bc)
	if err != nil {
		return nil, err
	}
	return append(ancestry, block), nil
}
