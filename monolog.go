// Monolog: lock-free append-only containers over a storage Mode (spec
// §2, §4.1). Two layouts:
//
//   - LinearLog: fixed-stride byte log. This IS the data log (spec
//     §4.1): Reserve advances the write cursor with a compare-and-swap
//     loop, and the
//     reserved extent never straddles a bucket boundary — a
//     reservation that would cross one rounds up to the next bucket
//     first, leaving a short gap that no offset will ever be issued
//     into.
//   - Exp2Log[T]: exponentially-bucketed array of fixed-size T,
//     bucket i sized 2^(i+base) elements. Appends are lock-free:
//     losers of a bucket-allocation race spin until the winner's
//     bucket is visible, then proceed. Reflog (reflog.go) is an
//     Exp2Log[int64] with base=24, per spec §3.
package confluo

import (
	"errors"
	"sync/atomic"
)

// LinearLog is the byte-addressed data log: a monotonically
// increasing write cursor over a storage Mode, partitioned into
// BucketStride-sized buckets.
type LinearLog struct {
	mode   Mode
	cursor atomic.Int64
}

// NewLinearLog returns a LinearLog with an empty write cursor.
func NewLinearLog(mode Mode) *LinearLog {
	return &LinearLog{mode: mode}
}

// Reserve atomically reserves a contiguous extent of n bytes and
// returns its starting offset. If the extent would straddle a bucket
// boundary, the cursor first jumps to the next boundary so every
// reserved extent lies within a single bucket (spec §3, §4.1). A
// zero-length request returns ErrZeroLength; a request larger than
// BucketStride fits in no bucket and is rejected with *Invariant.
func (l *LinearLog) Reserve(n int64) (int64, error) {
	if n <= 0 {
		return 0, ErrZeroLength
	}
	if n > BucketStride {
		return 0, &Invariant{What: "reservation larger than a bucket"}
	}
	for {
		cur := l.cursor.Load()
		within := cur % BucketStride
		start := cur
		if within+n > BucketStride {
			start = cur + (BucketStride - within)
		}
		next := start + n
		if next > MaxLogCapacity {
			return 0, &IOError{Op: "reserve", Err: errors.New("log capacity exhausted")}
		}
		if l.cursor.CompareAndSwap(cur, next) {
			if err := l.mode.Allocate(start, n); err != nil {
				return 0, err
			}
			return start, nil
		}
	}
}

// WriteAt copies data into the log at offset. The caller must already
// own this extent via Reserve.
func (l *LinearLog) WriteAt(offset int64, data []byte) error {
	return l.mode.Write(offset, data)
}

// Flush is a durability barrier for the extent [offset, offset+n).
func (l *LinearLog) Flush(offset, n int64) error {
	return l.mode.Flush(offset, n)
}

// Read copies n bytes starting at offset into dst. Callers must have
// observed a tail ≥ offset+n.
func (l *LinearLog) Read(offset int64, dst []byte, n int64) error {
	return l.mode.Read(offset, dst, n)
}

// Size returns the current write cursor, i.e. the number of bytes
// reserved so far (which may be ahead of the published read tail).
func (l *LinearLog) Size() int64 {
	return l.cursor.Load()
}

// --- Exp2Log ---

type exp2Bucket[T any] struct {
	data []T
}

// Exp2Log is a lock-free, append-only array of T where bucket i holds
// 2^(i+base) elements. The bucket array itself is fixed-length at
// construction (maxBuckets slots); each slot is an atomic.Pointer
// published exactly once via compare-and-swap, so a reader that
// observes a non-nil pointer also observes a fully-initialized
// backing slice (the slice is allocated with make before the CAS, so
// there is no partially-built bucket a racing appender could see).
type Exp2Log[T any] struct {
	base    uint
	buckets []atomic.Pointer[exp2Bucket[T]]
	size    atomic.Int64 // next unused logical index
}

// NewExp2Log returns an Exp2Log with bucket 0 sized 2^base elements.
// maxBuckets bounds how many buckets may ever be created (each
// subsequent bucket doubles capacity), which bounds total capacity at
// 2^(base+maxBuckets) - 2^base elements.
func NewExp2Log[T any](base uint, maxBuckets int) *Exp2Log[T] {
	return &Exp2Log[T]{
		base:    base,
		buckets: make([]atomic.Pointer[exp2Bucket[T]], maxBuckets),
	}
}

// bucketFor returns (bucket index, offset within bucket, bucket
// capacity) for a logical index, per the exponential sizing rule.
func (e *Exp2Log[T]) bucketFor(index int64) (bucketIdx int, within int64, capacity int64) {
	// Logical index space: bucket i spans
	// [2^(base+i) - 2^base, 2^(base+i+1) - 2^base).
	bucketIdx = 0
	cap := int64(1) << e.base
	lo := int64(0)
	for index >= lo+cap {
		lo += cap
		cap *= 2
		bucketIdx++
	}
	return bucketIdx, index - lo, cap
}

// ensureBucket returns the bucket at idx, creating it via
// compare-and-swap on first touch. Losers of the race spin-wait for
// the winner's pointer to become visible — bucket creation happens at
// most once per bucket, the only suspension point in the structure
// besides storage-mode growth (spec §5).
func (e *Exp2Log[T]) ensureBucket(idx int, capacity int64) *exp2Bucket[T] {
	if b := e.buckets[idx].Load(); b != nil {
		return b
	}
	fresh := &exp2Bucket[T]{data: make([]T, capacity)}
	if e.buckets[idx].CompareAndSwap(nil, fresh) {
		return fresh
	}
	for {
		if b := e.buckets[idx].Load(); b != nil {
			return b
		}
	}
}

// Append adds v at the next logical index and returns that index.
func (e *Exp2Log[T]) Append(v T) int64 {
	index := e.size.Add(1) - 1
	bucketIdx, within, capacity := e.bucketFor(index)
	b := e.ensureBucket(bucketIdx, capacity)
	b.data[within] = v
	return index
}

// Get returns the element at a logical index, which must be < Size().
func (e *Exp2Log[T]) Get(index int64) T {
	bucketIdx, within, capacity := e.bucketFor(index)
	b := e.ensureBucket(bucketIdx, capacity)
	return b.data[within]
}

// Size returns the number of elements appended so far (monotonic).
func (e *Exp2Log[T]) Size() int64 {
	return e.size.Load()
}
