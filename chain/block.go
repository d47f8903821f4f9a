// Package chain defines the pipeline's value types (RawBlock, Block,
// Header) and the external collaborator interfaces (BlockProvider,
// BlockChain) the sync pipeline and chain-linker consume. Chain-specific
// decoding, node RPC clients and address/script codecs are external
// collaborators per spec §1 and are never implemented here.
package chain

import "time"

// RawBlock is the opaque, not-yet-decoded unit the fetch stage pulls from
// a BlockProvider. Bytes are whatever wire format the external provider
// produced; this module never interprets them.
type RawBlock struct {
	Height uint64
	Bytes  []byte
}

// Size returns the serialized size in bytes. The process stage does not
// consult it: every block, whatever its size, is decoded in the same
// bounded worker pool.
func (r RawBlock) Size() int { return len(r.Bytes) }

// Header is the per-block metadata the chain-linker and reorder buffer
// operate on. Headers are copied by value (Clone) wherever a reference
// could otherwise be held across a transaction boundary.
type Header struct {
	Height     uint64
	Timestamp  time.Time
	Hash       [32]byte
	PrevHash   [32]byte
	MerkleRoot *[32]byte // optional
	Weight     uint64
}

// Clone returns a value copy of h. Headers are small and fixed-size, so
// this is a plain struct copy; MerkleRoot is deep-copied because it is a
// pointer.
func (h Header) Clone() Header {
	c := h
	if h.MerkleRoot != nil {
		root := *h.MerkleRoot
		c.MerkleRoot = &root
	}
	return c
}

// Block is a processed block: a header plus its decoded transactions
// (opaque to this module - it only needs their count/bytes for weight and
// persistence, not their semantics).
type Block struct {
	Header       Header
	Transactions [][]byte
}

// Height is a convenience accessor used throughout the sync pipeline.
func (b Block) Height() uint64 { return b.Header.Height }

// Weight is the unit the weight batcher accumulates against min_weight.
func (b Block) Weight() uint64 { return b.Header.Weight }

// Mode selects how a BlockProvider streams blocks, mirroring whether the
// syncer is catching up (Batching) or tailing the tip (Continuous). See
// spec §4.8 "Sync mode".
type Mode int

const (
	// Batching favors throughput: non-durable writes, large batches.
	Batching Mode = iota
	// Continuous favors low latency and immediate durability: singleton
	// batches, used once the syncer is within fork_detection_heights of
	// the chain tip.
	Continuous
)

func (m Mode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "batching"
}

// BlockProvider is the external collaborator that streams raw blocks and
// decodes them. Implementations (BTC/LTC/BCH/Cardano/Ergo decoders, node
// RPC clients) are out of scope for this module; only this interface is
// consumed.
type BlockProvider interface {
	// GetChainTip returns the external node's current best header.
	GetChainTip() (Header, error)

	// BlockProcessor returns a pure, Send/Sync-safe function turning a
	// RawBlock into a Block. It may be expensive (full script/tx decode)
	// and is invoked by the process stage from its bounded worker pool for
	// every block; there is no inline path for small blocks.
	BlockProcessor() func(RawBlock) (Block, error)

	// GetProcessedBlock looks up an already-decoded block by hash,
	// synchronously. Used by chain-linking to reconstruct an orphaned
	// parent chain.
	GetProcessedBlock(hash [32]byte) (*Block, error)

	// Stream yields raw blocks starting after lastPersisted (or from
	// genesis if nil) up to tip, in the given Mode. The returned channel is
	// closed when the provider has nothing further to send or ctx/done is
	// observed; implementations must stop promptly once the fetch stage
	// stops receiving.
	Stream(tip Header, lastPersisted *Header, mode Mode) (<-chan RawBlock, error)
}

// BlockChain is the external collaborator holding already-persisted chain
// state the linker reconciles new blocks against, plus the bulk write
// operations the persist stage uses. Its concrete implementation lives
// outside this module's scope boundary in a full deployment, but the
// in-module storage runtime (entity/ + shard/) satisfies it directly.
type BlockChain interface {
	// GetLastHeader returns the most recently persisted header, or nil if
	// the chain is empty.
	GetLastHeader() (*Header, error)

	// GetHeaderByHash returns 0 or 1 headers matching hash. More than one
	// match is an InvariantViolation (corrupted state) per spec §4.8.
	GetHeaderByHash(hash [32]byte) ([]Header, error)

	// NewIndexingCtx opens whatever pooled writer/transaction state the
	// persist stage needs for a batch of StoreBlocks/UpdateBlocks calls.
	NewIndexingCtx() (Ctx, error)

	// StoreBlocks appends blocks without any linkage check (used below
	// fork_detection_height, and for the happy-path singleton extension).
	StoreBlocks(ctx Ctx, blocks []Block) error

	// UpdateBlocks atomically replaces any already-persisted blocks whose
	// height overlaps blocks' height range - the fork/reorg write path.
	UpdateBlocks(ctx Ctx, blocks []Block) error
}

// Ctx is the opaque per-batch indexing context returned by
// BlockChain.NewIndexingCtx; its lifecycle (open writers, stop) is owned
// by the BlockChain implementation.
type Ctx interface {
	Stop() error
}
