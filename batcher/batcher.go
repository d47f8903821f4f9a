// Package batcher implements the weight-driven batcher (spec §4.2,
// component H) that converts an in-order stream of singletons into
// weighted batches, or passes every item through as a singleton batch
// under "immediate" durability.
package batcher

// Durability selects how the batcher groups pushed items.
type Durability int

const (
	// Deferred accumulates items until the weight/count threshold is met.
	Deferred Durability = iota
	// Immediate emits every pushed item as its own singleton batch.
	Immediate
)

// Batcher[T] accumulates items of type T under a caller-supplied weight
// function until accumulated weight reaches MinWeight or the buffer
// reaches Cap, at which point Push returns the accumulated batch and
// resets.
type Batcher[T any] struct {
	minWeight  uint64
	cap        int
	durability Durability

	buf    []T
	weight uint64
}

// New constructs a Batcher with the given minimum batch weight, item-count
// cap, and durability mode.
func New[T any](minWeight uint64, cap int, durability Durability) *Batcher[T] {
	return &Batcher[T]{
		minWeight:  minWeight,
		cap:        cap,
		durability: durability,
		buf:        make([]T, 0, cap),
	}
}

// PushWith pushes item, using weightOf(item) as its weight contribution.
// In Immediate mode it always returns a singleton batch. In Deferred mode
// it returns a batch (and resets the internal buffer) once the threshold
// is met, or nil if the item was merely buffered.
func (b *Batcher[T]) PushWith(item T, weightOf func(T) uint64) []T {
	if b.durability == Immediate {
		return []T{item}
	}

	b.buf = append(b.buf, item)
	b.weight = saturatingAdd(b.weight, weightOf(item))

	if b.weight >= b.minWeight || len(b.buf) >= b.cap {
		out := b.buf
		b.buf = make([]T, 0, b.cap)
		b.weight = 0
		return out
	}
	return nil
}

// Flush returns whatever remains buffered (possibly empty) and resets the
// batcher; in Immediate mode it returns nil, since every push has already
// been emitted.
func (b *Batcher[T]) Flush() []T {
	if b.durability == Immediate {
		return nil
	}
	out := b.buf
	b.buf = make([]T, 0, b.cap)
	b.weight = 0
	return out
}

// Len is the number of items currently buffered (always 0 in Immediate
// mode).
func (b *Batcher[T]) Len() int { return len(b.buf) }

// IsEmpty reports whether the internal buffer currently holds no items.
func (b *Batcher[T]) IsEmpty() bool { return len(b.buf) == 0 }

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}
