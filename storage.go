// Storage mode abstraction (spec §6): the capability governing how log
// bytes are allocated, flushed, and read. Re-architected per spec §9
// from the source's dynamically-dispatched storage type parameter into
// a small interface passed at construction, monomorphized away on the
// hot append/read paths by keeping the Mode lookup outside the loop
// that touches bytes.
package confluo

import (
	"os"
	"path/filepath"
	"sync"
)

// Mode abstracts a byte region that grows: allocate fixed-size
// buckets on demand, flush a durability barrier, and read back bytes
// that are known (by the caller, via the tail) to be in range.
type Mode interface {
	// Allocate ensures the bucket covering [offset, offset+size) exists
	// and is addressable, growing the region if this is the bucket's
	// first touch. Concurrent callers allocating the same bucket must
	// not corrupt each other; losers of the race simply observe the
	// winner's bucket.
	Allocate(offset, size int64) error

	// Write stores bytes at offset. The caller has already reserved
	// this extent via a monolog write cursor; Write never touches
	// bytes outside [offset, offset+len(data)).
	Write(offset int64, data []byte) error

	// Flush is a no-op for in-memory mode and a durability barrier for
	// file-backed mode. Called once per reserved extent, after Write,
	// before the read tail advances past it.
	Flush(offset, size int64) error

	// Read copies n bytes starting at offset into dst. The caller must
	// already have observed a tail ≥ offset+n; Read never faults for
	// an in-range offset.
	Read(offset int64, dst []byte, n int64) error

	// Close releases any OS resources held by the mode.
	Close() error
}

// BucketStride is the fixed size of a data-log bucket (spec §3):
// 1,048,576 bytes. Offsets never straddle a bucket boundary — a
// reservation that would cross one rounds up to the next boundary
// instead.
const BucketStride = 1 << 20

// MaxLogCapacity bounds total log size in the reference sizing (spec
// §3): 1,073,741,824 bytes, i.e. 1024 buckets.
const MaxLogCapacity = 1 << 30

func bucketIndex(offset int64) int64 { return offset / BucketStride }

// MemoryMode is the in-memory storage mode. Buckets are plain byte
// slices allocated lazily and published with release semantics so
// that a concurrent Write/Read never observes a half-initialized
// bucket slice header.
type MemoryMode struct {
	mu      sync.Mutex
	buckets []*[]byte // index i is lazily populated; grows under mu
}

// NewMemoryMode returns a Mode with no buckets allocated yet.
func NewMemoryMode() *MemoryMode {
	return &MemoryMode{}
}

func (m *MemoryMode) ensureSlot(idx int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for int64(len(m.buckets)) <= idx {
		m.buckets = append(m.buckets, nil)
	}
}

func (m *MemoryMode) bucket(idx int64) *[]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[idx]
	if b == nil {
		fresh := make([]byte, BucketStride)
		b = &fresh
		m.buckets[idx] = b
	}
	return b
}

func (m *MemoryMode) Allocate(offset, size int64) error {
	first := bucketIndex(offset)
	last := bucketIndex(offset + size - 1)
	m.ensureSlot(last)
	for i := first; i <= last; i++ {
		m.bucket(i)
	}
	return nil
}

func (m *MemoryMode) Write(offset int64, data []byte) error {
	idx := bucketIndex(offset)
	within := offset % BucketStride
	if within+int64(len(data)) > BucketStride {
		return &Invariant{What: "write straddles bucket boundary"}
	}
	b := m.bucket(idx)
	copy((*b)[within:], data)
	return nil
}

func (m *MemoryMode) Flush(offset, size int64) error { return nil }

func (m *MemoryMode) Read(offset int64, dst []byte, n int64) error {
	idx := bucketIndex(offset)
	within := offset % BucketStride
	if within+n > BucketStride {
		return &Invariant{What: "read straddles bucket boundary"}
	}
	b := m.bucket(idx)
	copy(dst[:n], (*b)[within:within+n])
	return nil
}

func (m *MemoryMode) Close() error { return nil }

// FileMode is the file-backed storage mode. Buckets live as fixed
// extents of a single sparse region file; Flush is a real durability
// barrier (fsync) when SyncWrites is set, optionally followed by a
// best-effort zstd archive of the flushed extent to a sibling file. A fileLock guards bucket allocation
// (file truncation/extension) the same way the teacher guards its
// writer handle during repair — never around the hot Write/Read path.
type FileMode struct {
	dir     string
	region  *os.File
	archive *os.File
	lock    *fileLock
	sync    bool

	mu  sync.Mutex
	cap int64 // bytes currently allocated in region
}

// FileModeOptions configures FileMode.
type FileModeOptions struct {
	Dir        string // directory holding region and archive files
	Name       string // base filename, e.g. "data"
	SyncWrites bool   // fsync on every Flush
	Archive    bool   // mirror flushed buckets, zstd-compressed, to Name+".archive"
}

// OpenFileMode opens or creates the region file (and, if configured,
// the archive file) under Dir.
func OpenFileMode(opts FileModeOptions) (*FileMode, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Err: err}
	}
	regionPath := filepath.Join(opts.Dir, opts.Name+".log")
	region, err := os.OpenFile(regionPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &IOError{Op: "open-region", Err: err}
	}
	info, err := region.Stat()
	if err != nil {
		region.Close()
		return nil, &IOError{Op: "stat-region", Err: err}
	}

	fm := &FileMode{
		dir:    opts.Dir,
		region: region,
		lock:   &fileLock{f: region},
		sync:   opts.SyncWrites,
		cap:    info.Size(),
	}

	if opts.Archive {
		archivePath := filepath.Join(opts.Dir, opts.Name+".archive")
		archive, err := os.OpenFile(archivePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			region.Close()
			return nil, &IOError{Op: "open-archive", Err: err}
		}
		fm.archive = archive
	}

	return fm, nil
}

func (f *FileMode) Allocate(offset, size int64) error {
	needed := offset + size
	f.mu.Lock()
	defer f.mu.Unlock()
	if needed <= f.cap {
		return nil
	}
	// Round the grow target up to a bucket boundary so every bucket
	// is fully addressable once any byte in it has been allocated.
	target := ((needed + BucketStride - 1) / BucketStride) * BucketStride
	if err := f.lock.Lock(LockExclusive); err != nil {
		return &IOError{Op: "allocate-lock", Err: err}
	}
	defer f.lock.Unlock()
	if err := f.region.Truncate(target); err != nil {
		return &IOError{Op: "truncate", Err: err}
	}
	f.cap = target
	return nil
}

func (f *FileMode) Write(offset int64, data []byte) error {
	if _, err := f.region.WriteAt(data, offset); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Flush syncs the region file when SyncWrites is set and, if archiving
// is enabled, appends the extent [offset, offset+size) to the archive
// file, zstd-compressed with a length prefix and a blake2b footer.
func (f *FileMode) Flush(offset, size int64) error {
	if f.sync {
		if err := f.region.Sync(); err != nil {
			return &IOError{Op: "sync", Err: err}
		}
	}
	if f.archive == nil {
		return nil
	}
	raw := make([]byte, size)
	if err := f.Read(offset, raw, size); err != nil {
		return nil // archiving is best-effort; never fail the caller's flush
	}
	compressed := compressBucket(raw)
	digest := bucketDigest(raw)
	frame := make([]byte, 8+len(compressed)+8)
	putUint64(frame[0:8], uint64(len(compressed)))
	copy(frame[8:8+len(compressed)], compressed)
	copy(frame[8+len(compressed):], digest[:])
	_, _ = f.archive.Write(frame)
	return nil
}

func (f *FileMode) Read(offset int64, dst []byte, n int64) error {
	if _, err := f.region.ReadAt(dst[:n], offset); err != nil {
		return &IOError{Op: "read", Err: err}
	}
	return nil
}

func (f *FileMode) Close() error {
	f.lock.setFile(nil)
	var errs []error
	if err := f.region.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.archive != nil {
		if err := f.archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &IOError{Op: "close", Err: errs[0]}
	}
	return nil
}
