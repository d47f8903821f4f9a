package shard

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/chainindex/core/chainerrors"
	"github.com/chainindex/core/kv"
)

// Mode selects which side of a (key, value) pair a Router hashes to pick
// a shard (spec §4.5).
type Mode int

const (
	// ByKey hashes the key's canonical byte encoding.
	ByKey Mode = iota
	// ByValue hashes the value's bytes (arbitrary length), using xxh3
	// (cespare/xxhash/v2 here) so non-key, variable-length values hash
	// well - the library xxh3's author recommends for exactly that case
	// and the one the spec calls out by name.
	ByValue
)

// Router fans a logical table's reads/writes across n shards. n == 1
// always routes to shard 0 (no partitioning); n >= 2 is required when
// sharding is enabled.
type Router struct {
	table   string
	mode    Mode
	writers []*Writer
}

// NewRouter opens n shard files (via open) for table, routed by mode.
func NewRouter(table string, mode Mode, shardPaths []string, open kv.Opener) (*Router, error) {
	if len(shardPaths) == 0 {
		return nil, chainerrors.New("shard.NewRouter", chainerrors.KindValidationError,
			fmt.Errorf("table %s needs at least 1 shard path", table))
	}
	if len(shardPaths) == 1 && mode != ByKey {
		// a single shard never needs value-hash routing; ByKey with n=1
		// degenerates to "always shard 0" identically, so normalize.
		mode = ByKey
	}
	writers := make([]*Writer, len(shardPaths))
	for i, p := range shardPaths {
		db, err := open(p)
		if err != nil {
			for _, w := range writers[:i] {
				if w != nil {
					_ = w.Shutdown()
				}
			}
			return nil, fmt.Errorf("shard: open %s shard %d: %w", table, i, err)
		}
		writers[i] = NewWriter(table, i, db)
	}
	return &Router{table: table, mode: mode, writers: writers}, nil
}

// ShardCount reports how many shards back this table.
func (r *Router) ShardCount() int { return len(r.writers) }

// Writer returns the writer actor for shard i, for callers (the entity
// runtime) that need direct access during two-phase flush.
func (r *Router) Writer(i int) *Writer { return r.writers[i] }

// shardFor picks the destination shard for a (key, value) pair according
// to Mode.
func (r *Router) shardFor(key, value []byte) int {
	n := len(r.writers)
	if n == 1 {
		return 0
	}
	switch r.mode {
	case ByValue:
		return PartitionBytes(value, n)
	default:
		return PartitionBytes(key, n)
	}
}

// PartitionBytes hashes b and reduces modulo n via a stable little-endian
// mod-fold: for n a power of two, the result depends only on the low
// log2(n) bytes of the hash, per spec §4.5/§8.
func PartitionBytes(b []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := xxhash.Sum64(b)
	if isPowerOfTwo(n) {
		mask := uint64(n - 1)
		return int(h & mask)
	}
	return int(h % uint64(n))
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// Begin opens a write transaction with durability on every shard and
// waits for all of them to acknowledge readiness, matching the entity
// runtime's two-phase flush precondition (spec §4.7/§5: "all writers
// Begin (await all Start acks)").
func (r *Router) Begin(durability kv.Durability) error {
	errs := make(chan error, len(r.writers))
	for _, w := range r.writers {
		w := w
		go func() { errs <- w.Begin(durability) }()
	}
	var first error
	for range r.writers {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// shardForPair is shardFor generalized to a Pair: when the pair carries
// an explicit PartitionOn (Index/Dict's multimap tables), that overrides
// Mode's usual key/value choice, since those tables store a PK as Value
// but must shard on the indexed value, not on whichever PK happens to
// write a given row.
func (r *Router) shardForPair(p Pair) int {
	if len(r.writers) > 1 && r.mode == ByValue && len(p.PartitionOn) > 0 {
		return PartitionBytes(p.PartitionOn, len(r.writers))
	}
	return r.shardFor(p.Key, p.Value)
}

func (r *Router) bucketByShard(pairs []Pair) [][]Pair {
	n := len(r.writers)
	buckets := make([][]Pair, n)
	cap0 := len(pairs)/n + 1
	for i := range buckets {
		buckets[i] = make([]Pair, 0, cap0)
	}
	for _, p := range pairs {
		s := r.shardForPair(p)
		buckets[s] = append(buckets[s], p)
	}
	return buckets
}

// AppendSortedInserts buckets pairs by shard and forwards each bucket to
// its writer's AppendSortedInserts.
func (r *Router) AppendSortedInserts(pairs []Pair) error {
	return r.fanOut(pairs, (*Writer).AppendSortedInserts)
}

// MergeUnsortedInserts buckets pairs by shard and forwards each bucket.
func (r *Router) MergeUnsortedInserts(pairs []Pair) error {
	return r.fanOut(pairs, (*Writer).MergeUnsortedInserts)
}

// WriteSortedInsertsOnFlush buckets pairs by shard; each bucket must
// already be sorted within itself, which holds automatically when pairs
// as a whole was sorted by key and the partitioning is ByKey (stable
// sub-sequence of a sorted sequence is sorted). For ByValue partitioning,
// callers should use MergeUnsortedInserts instead.
func (r *Router) WriteSortedInsertsOnFlush(pairs []Pair) error {
	return r.fanOut(pairs, (*Writer).WriteSortedInsertsOnFlush)
}

func (r *Router) fanOut(pairs []Pair, call func(*Writer, []Pair) error) error {
	buckets := r.bucketByShard(pairs)
	errs := make(chan error, len(buckets))
	for i, b := range buckets {
		if len(b) == 0 {
			errs <- nil
			continue
		}
		w := r.writers[i]
		b := b
		go func() { errs <- call(w, b) }()
	}
	var first error
	for range buckets {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WriteInsertNow routes a single pair and writes it immediately,
// returning once that shard's writer has applied it.
func (r *Router) WriteInsertNow(key, value []byte) error {
	s := r.shardFor(key, value)
	return r.writers[s].WriteInsertNow(Pair{Key: key, Value: value})
}

// WriteInsertNowPair is WriteInsertNow for a Pair that needs explicit
// PartitionOn routing (a ByValue-mode multimap table) instead of the
// plain key/value hash WriteInsertNow uses.
func (r *Router) WriteInsertNowPair(p Pair) error {
	s := r.shardForPair(p)
	return r.writers[s].WriteInsertNow(p)
}

// Get routes key to its owning shard (ByKey routing - value-partitioned
// tables are read through QueryAndWrite instead, since a key-only lookup
// cannot know which shard holds it when rows are value-hashed) and reads
// it there.
func (r *Router) Get(key []byte) ([]byte, bool, error) {
	s := PartitionBytes(key, len(r.writers))
	return r.writers[s].Get(key)
}

// DeleteKV routes by key (deletes are always key-addressed) and removes
// the entry from its owning shard.
func (r *Router) DeleteKV(key []byte) bool {
	// Deletes must reach the same shard the key's Put used. ByValue tables
	// route writes by the value's hash, so a key-only delete cannot be
	// routed that way; callers of a ByValue-routed table must instead
	// delete through the composite multimap key (value‖pk), which is
	// itself key-addressed. For ByKey tables this is exact.
	s := PartitionBytes(key, len(r.writers))
	return r.writers[s].Remove(key)
}

// Range is only valid for single-shard tables; sharded tables cannot
// return a single ordered range without a merge the spec does not
// require (§4.5: "range (single-shard only)").
func (r *Router) Range(from, until []byte) ([]kv.KV, error) {
	if len(r.writers) != 1 {
		return nil, fmt.Errorf("shard: Range is only valid on a single-shard table (table %s has %d shards)", r.table, len(r.writers))
	}
	return r.writers[0].Range(from, until)
}

// QueryAndWrite enumerates values, fans each to the shard PartitionBytes
// picks for the value itself (whatever the Router's Mode), and invokes sink
// once per shard touched with that shard's resolved (pos, key) results.
// When isLast is true, sink additionally receives the total shard count
// so it can detect the final fan-out arriving.
func (r *Router) QueryAndWrite(values []ValueQuery, isLast bool, sink func(lastShards int, results []QueryResult)) {
	n := len(r.writers)
	perShard := make([][]ValueQuery, n)
	for _, vq := range values {
		s := PartitionBytes(vq.Value, n)
		perShard[s] = append(perShard[s], vq)
	}

	lastShards := 0
	if isLast {
		lastShards = n
	}

	done := make(chan struct{}, n)
	for i, vqs := range perShard {
		if len(vqs) == 0 {
			done <- struct{}{}
			continue
		}
		w := r.writers[i]
		vqs := vqs
		go func() {
			w.QueryAndWrite(vqs, func(results []QueryResult) {
				sink(lastShards, results)
			})
			done <- struct{}{}
		}()
	}
	for range perShard {
		<-done
	}
}

// ReadyForFlush signals every shard's writer that one more participant in
// the cross-table two-phase flush has finished sending (spec §4.4/§4.7).
func (r *Router) ReadyForFlush(total int) {
	for _, w := range r.writers {
		w.ReadyForFlush(total)
	}
}

// FlushWhenReady parks every shard's Flush ack until its ReadyForFlush
// counter reaches total, then collects all FlushTimings.
func (r *Router) FlushWhenReady(total int) []FlushTimings {
	out := make(chan FlushTimings, len(r.writers))
	for _, w := range r.writers {
		w := w
		go func() { out <- w.FlushWhenReady(total) }()
	}
	timings := make([]FlushTimings, 0, len(r.writers))
	for range r.writers {
		timings = append(timings, <-out)
	}
	return timings
}

// Abort rolls back the open transaction on every shard without
// committing.
func (r *Router) Abort() {
	done := make(chan struct{}, len(r.writers))
	for _, w := range r.writers {
		w := w
		go func() { w.Abort(); done <- struct{}{} }()
	}
	for range r.writers {
		<-done
	}
}

// Flush flushes every shard unconditionally (no two-phase wait).
func (r *Router) Flush() []FlushTimings {
	out := make(chan FlushTimings, len(r.writers))
	for _, w := range r.writers {
		w := w
		go func() { out <- w.Flush() }()
	}
	timings := make([]FlushTimings, 0, len(r.writers))
	for range r.writers {
		timings = append(timings, <-out)
	}
	return timings
}

// Shutdown stops every shard's writer.
func (r *Router) Shutdown() error {
	var first error
	for _, w := range r.writers {
		if err := w.Shutdown(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
