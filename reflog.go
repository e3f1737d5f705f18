// Reflog: an append-only, lock-free sequence of offsets, the posting
// list held at each radix tree leaf (spec §3). Built directly on
// Exp2Log[int64] with base=24, i.e. bucket i has capacity 2^(i+24), as
// specified.
package confluo

const reflogBase = 24
const reflogMaxBuckets = 16 // 2^(24+16) elements of headroom, far beyond any practical posting list

// Reflog is an append-only array of record offsets. New offsets may be
// appended concurrently by any number of indexers; Size is observable
// via a monotonic counter.
type Reflog struct {
	log *Exp2Log[int64]
}

// NewReflog returns an empty Reflog.
func NewReflog() *Reflog {
	return &Reflog{log: NewExp2Log[int64](reflogBase, reflogMaxBuckets)}
}

// Append adds offset o to the reflog and returns its position within
// the reflog (not meaningful to callers beyond being unique and dense).
func (r *Reflog) Append(o int64) int64 {
	return r.log.Append(o)
}

// Size returns the number of offsets appended so far.
func (r *Reflog) Size() int64 {
	return r.log.Size()
}

// At returns the offset at a given position, which must be < Size().
func (r *Reflog) At(i int64) int64 {
	return r.log.Get(i)
}

// Offsets returns a snapshot slice of every offset currently in the
// reflog, in append order. Concurrent appends that race with a call to
// Offsets may or may not be included — callers needing a stable view
// should snapshot Size() first and read up to that bound.
func (r *Reflog) Offsets() []int64 {
	n := r.Size()
	out := make([]int64, n)
	for i := int64(0); i < n; i++ {
		out[i] = r.log.Get(i)
	}
	return out
}
