// Read-tail cursor (spec §4.2): the published monotonic byte offset
// that is the only boundary readers consult.
package confluo

import (
	"runtime"
	"sync/atomic"
)

// Tail publishes a monotonically increasing byte offset with
// release-store semantics and is observed with acquire-load. It is
// the synchronizes-with edge between an appending writer and any
// reader: every side effect of the corresponding append (bytes
// written, filters updated, indexes inserted) happens-before a
// reader's observation of a tail covering that record.
type Tail struct {
	value atomic.Int64
}

// Get returns the current published tail (acquire-load).
func (t *Tail) Get() int64 {
	return t.value.Load()
}

// Advance publishes offset+n as the new tail, but only once the tail
// already sits at exactly offset (strict, reservation-order
// publication — spec §9 open question, resolved here in favor of
// STRICT). LinearLog.Reserve hands out offsets by an atomic
// compare-and-swap on its cursor, which
// orders reservations but not completions: a goroutine holding a later
// offset can finish writing, indexing, and filtering before an earlier
// one does. Advance is therefore a turnstile, not a plain store — a
// caller whose offset is still ahead of the tail spins until every
// earlier append has published, so the tail only ever exposes a
// contiguous, fully-visible prefix of the log.
func (t *Tail) Advance(offset, n int64) {
	next := offset + n
	for {
		prev := t.value.Load()
		if prev > offset {
			panic(&Invariant{What: "tail advance would move the tail backward"})
		}
		if prev == offset {
			if t.value.CompareAndSwap(prev, next) {
				return
			}
			continue
		}
		runtime.Gosched()
	}
}
