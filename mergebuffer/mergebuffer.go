// Package mergebuffer implements the binary-counter sort-run carrier
// (spec §4.3, component D) used by table writer actors to accumulate an
// in-transaction sort buffer with amortized O(log N) per item.
//
// Grounded on the galloping-merge strategy of the original redbit source
// (redbit/src/storage/sort_buffer.rs, see SPEC_FULL.md item 2): once one
// side of a merge has "won" several comparisons in a row, the merge
// switches to an exponential search for the crossover point instead of
// comparing one element at a time.
package mergebuffer

// gallopThreshold is how many consecutive wins from the same side trigger
// galloping search for the crossover point.
const gallopThreshold = 8

type elem[T any] struct {
	v   T
	seq uint64
}

// Buffer carries sorted runs of T, keyed by a caller-supplied Less. Less
// need only define the table's key ordering; equal keys are broken by
// insertion sequence so that stability (spec §4.3, §8) holds regardless
// of which operations produced the runs.
type Buffer[T any] struct {
	less   func(a, b T) bool
	levels [][]elem[T] // binary counter: levels[i] is nil or a run
	clock  uint64
}

// New constructs an empty Buffer ordered by less.
func New[T any](less func(a, b T) bool) *Buffer[T] {
	return &Buffer[T]{less: less}
}

func (b *Buffer[T]) nextSeq() uint64 {
	b.clock++
	return b.clock
}

func (b *Buffer[T]) wrap(run []T) []elem[T] {
	out := make([]elem[T], len(run))
	for i, v := range run {
		out[i] = elem[T]{v: v, seq: b.nextSeq()}
	}
	return out
}

// lessElem orders by key first, insertion sequence second.
func (b *Buffer[T]) lessElem(x, y elem[T]) bool {
	if b.less(x.v, y.v) {
		return true
	}
	if b.less(y.v, x.v) {
		return false
	}
	return x.seq < y.seq
}

// leKey reports whether x's key is <= y's key, ignoring sequence - used
// only for the disjoint-append fast-path tests.
func (b *Buffer[T]) leKey(x, y elem[T]) bool {
	return !b.less(y.v, x.v)
}

// Runs reports how many non-empty levels are currently held.
func (b *Buffer[T]) Runs() int {
	n := 0
	for _, r := range b.levels {
		if r != nil {
			n++
		}
	}
	return n
}

// AppendSorted appends an already-sorted run, taking the fast path when
// possible: if the buffer is empty it is installed directly; if there is
// exactly one run and its tail <= the new run's head, the new run extends
// it in place; with multiple runs, the run owning the current global-max
// tail is extended if possible. Otherwise it falls back to MergeSorted.
func (b *Buffer[T]) AppendSorted(run []T) {
	if len(run) == 0 {
		return
	}
	wrapped := b.wrap(run)

	if b.Runs() == 0 {
		b.levels = [][]elem[T]{wrapped}
		return
	}

	if idx, ok := b.soleRunIndex(); ok {
		existing := b.levels[idx]
		if b.leKey(existing[len(existing)-1], wrapped[0]) {
			b.levels[idx] = append(existing, wrapped...)
			return
		}
		b.mergeSortedElems(wrapped)
		return
	}

	if idx, ok := b.maxTailRunIndex(); ok {
		existing := b.levels[idx]
		if b.leKey(existing[len(existing)-1], wrapped[0]) {
			b.levels[idx] = append(existing, wrapped...)
			return
		}
	}
	b.mergeSortedElems(wrapped)
}

func (b *Buffer[T]) soleRunIndex() (int, bool) {
	idx, count := -1, 0
	for i, r := range b.levels {
		if r != nil {
			idx = i
			count++
		}
	}
	return idx, count == 1
}

func (b *Buffer[T]) maxTailRunIndex() (int, bool) {
	idx := -1
	for i, r := range b.levels {
		if r == nil {
			continue
		}
		if idx == -1 || b.lessElem(b.levels[idx][len(b.levels[idx])-1], r[len(r)-1]) {
			idx = i
		}
	}
	return idx, idx != -1
}

// MergeSorted merges an already-sorted run into the buffer via the
// binary-counter carry: place at the lowest empty level; if occupied,
// concatenate when disjoint, otherwise galloping-merge and carry upward.
func (b *Buffer[T]) MergeSorted(run []T) {
	if len(run) == 0 {
		return
	}
	b.mergeSortedElems(b.wrap(run))
}

func (b *Buffer[T]) mergeSortedElems(run []elem[T]) {
	cur := run
	i := 0
	for {
		if i >= len(b.levels) {
			b.levels = append(b.levels, cur)
			return
		}
		if b.levels[i] == nil {
			b.levels[i] = cur
			return
		}
		cur = b.mergeTwo(b.levels[i], cur)
		b.levels[i] = nil
		i++
	}
}

// MergeUnsorted stably sorts run by key (ties preserve input order) and
// then merges it as a sorted run.
func (b *Buffer[T]) MergeUnsorted(run []T) {
	if len(run) == 0 {
		return
	}
	wrapped := b.wrap(run)
	stableSort(wrapped, b.lessElem)
	b.mergeSortedElems(wrapped)
}

// TakeSorted drains the buffer and returns every item in a single
// globally sorted, stable slice. After TakeSorted, Runs() == 0.
func (b *Buffer[T]) TakeSorted() []T {
	var runs [][]elem[T]
	for _, r := range b.levels {
		if r != nil {
			runs = append(runs, r)
		}
	}
	b.levels = nil

	if len(runs) == 0 {
		return nil
	}

	// Sort runs by first key. Run order beyond that is not semantically
	// meaningful once drained - mergeAll is order-insensitive and stable
	// by seq regardless of input run order.
	sortRunsByFirst(runs, b.lessElem)

	if disjointChain(runs, b.leKey) {
		total := 0
		for _, r := range runs {
			total += len(r)
		}
		out := make([]elem[T], 0, total)
		for _, r := range runs {
			out = append(out, r...)
		}
		return unwrap(out)
	}

	merged := b.mergeAll(runs)
	return unwrap(merged)
}

func unwrap[T any](es []elem[T]) []T {
	out := make([]T, len(es))
	for i, e := range es {
		out[i] = e.v
	}
	return out
}

func sortRunsByFirst[T any](runs [][]elem[T], less func(a, b elem[T]) bool) {
	insertionSortSlices(runs, func(a, b []elem[T]) bool {
		return less(a[0], b[0])
	})
}

func disjointChain[T any](runs [][]elem[T], leKey func(a, b elem[T]) bool) bool {
	for i := 1; i < len(runs); i++ {
		prev := runs[i-1]
		if !leKey(prev[len(prev)-1], runs[i][0]) {
			return false
		}
	}
	return true
}

// mergeAll reduces runs to one sorted slice with a min-heap keyed by
// (length, run) so the shortest runs combine first, each reduction a
// galloping two-way merge.
func (b *Buffer[T]) mergeAll(runs [][]elem[T]) []elem[T] {
	h := &runHeap[T]{}
	for _, r := range runs {
		h.push(r)
	}
	for h.len() > 1 {
		a := h.pop()
		c := h.pop()
		h.push(b.mergeTwo(a, c))
	}
	if h.len() == 0 {
		return nil
	}
	return h.pop()
}

// mergeTwo performs a stable two-way merge of a and c, galloping once one
// side has won gallopThreshold comparisons in a row.
func (b *Buffer[T]) mergeTwo(a, c []elem[T]) []elem[T] {
	out := make([]elem[T], 0, len(a)+len(c))
	i, j := 0, 0
	winStreak, winSide := 0, 0 // 1 = a, 2 = c

	for i < len(a) && j < len(c) {
		if winStreak >= gallopThreshold {
			if winSide == 1 {
				k := gallopUpperBound(a, i, c[j], b.lessElem)
				out = append(out, a[i:k]...)
				i = k
			} else {
				k := gallopUpperBound(c, j, a[i], b.lessElem)
				out = append(out, c[j:k]...)
				j = k
			}
			winStreak, winSide = 0, 0
			continue
		}

		if b.lessElem(c[j], a[i]) {
			out = append(out, c[j])
			j++
			if winSide == 2 {
				winStreak++
			} else {
				winSide, winStreak = 2, 1
			}
		} else {
			out = append(out, a[i])
			i++
			if winSide == 1 {
				winStreak++
			} else {
				winSide, winStreak = 1, 1
			}
		}
	}
	out = append(out, a[i:]...)
	out = append(out, c[j:]...)
	return out
}

// gallopUpperBound finds, starting at a[from], the first index k such
// that a[k] is NOT < pivot (i.e. the run of elements from a that all
// sort before pivot), using exponential then binary search.
func gallopUpperBound[T any](a []elem[T], from int, pivot elem[T], less func(x, y elem[T]) bool) int {
	n := len(a)
	lo := from
	step := 1
	hi := from
	for hi < n && less(a[hi], pivot) {
		lo = hi
		hi += step
		step *= 2
	}
	if hi > n {
		hi = n
	}
	// binary search in (lo, hi] for first index where a[idx] is not < pivot
	for lo < hi {
		mid := (lo + hi) / 2
		if less(a[mid], pivot) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// runHeap is a trivial min-heap over run length, avoiding a container
// import for a handful of elements at a time.
type runHeap[T any] struct {
	runs [][]elem[T]
}

func (h *runHeap[T]) len() int { return len(h.runs) }

func (h *runHeap[T]) push(r []elem[T]) {
	h.runs = append(h.runs, r)
}

func (h *runHeap[T]) pop() []elem[T] {
	if len(h.runs) == 0 {
		return nil
	}
	minIdx := 0
	for i := 1; i < len(h.runs); i++ {
		if len(h.runs[i]) < len(h.runs[minIdx]) {
			minIdx = i
		}
	}
	r := h.runs[minIdx]
	h.runs = append(h.runs[:minIdx], h.runs[minIdx+1:]...)
	return r
}

// stableSort is a small stable insertion-adjacent merge sort over
// elem[T], used for MergeUnsorted. Input sizes here are bounded by a
// single writer command's batch, so an O(n log n) merge sort is fine.
func stableSort[T any](a []elem[T], less func(x, y elem[T]) bool) {
	if len(a) < 2 {
		return
	}
	buf := make([]elem[T], len(a))
	mergeSortRange(a, buf, 0, len(a), less)
}

func mergeSortRange[T any](a, buf []elem[T], lo, hi int, less func(x, y elem[T]) bool) {
	if hi-lo < 2 {
		return
	}
	mid := (lo + hi) / 2
	mergeSortRange(a, buf, lo, mid, less)
	mergeSortRange(a, buf, mid, hi, less)
	i, j, k := lo, mid, lo
	for i < mid && j < hi {
		if less(a[j], a[i]) {
			buf[k] = a[j]
			j++
		} else {
			buf[k] = a[i]
			i++
		}
		k++
	}
	for i < mid {
		buf[k] = a[i]
		i++
		k++
	}
	for j < hi {
		buf[k] = a[j]
		j++
		k++
	}
	copy(a[lo:hi], buf[lo:hi])
}

// insertionSortSlices sorts a slice of slices by less; runs-per-table
// counts are small (bounded by log2 of total items), so insertion sort is
// sufficient and keeps this package free of a sort.Interface shim.
func insertionSortSlices[T any](a [][]elem[T], less func(x, y []elem[T]) bool) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && less(a[j], a[j-1]); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

