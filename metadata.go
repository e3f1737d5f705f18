// Metadata writer: a durable, append-only record of index, filter,
// and trigger registrations (spec §6). Each descriptor record is
// prefixed by a 1-byte kind tag and a 4-byte payload length, exactly
// as specified; this module appends an 8-byte xxh3 checksum after
// each frame as an ambient-stack enrichment (SPEC_FULL.md "Domain
// stack"), so Reader.Replay can detect a truncated or corrupted tail
// without guessing at payload boundaries.
package confluo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/natefinch/atomic"
)

// Descriptor kind tags (spec §6).
const (
	KindIndex   byte = 0x01
	KindFilter  byte = 0x02
	KindTrigger byte = 0x03
)

// IndexDescriptor mirrors an AddIndex call: u16 id, field name, f64
// bucket size.
type IndexDescriptor struct {
	ID         uint16
	Field      string
	BucketSize float64
}

// FilterDescriptor mirrors an AddFilter call: u32 id, expression text.
type FilterDescriptor struct {
	ID         uint32
	Expression string
}

// TriggerDescriptor mirrors an AddTrigger call.
type TriggerDescriptor struct {
	ID        uint32
	FilterID  uint32
	Kind      AggregateKind
	Field     string
	Op        RelOp
	Threshold float64
}

func encodeIndex(d IndexDescriptor) []byte {
	name := []byte(d.Field)
	buf := make([]byte, 2+2+len(name)+8)
	binary.BigEndian.PutUint16(buf[0:2], d.ID)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(name)))
	copy(buf[4:4+len(name)], name)
	binary.BigEndian.PutUint64(buf[4+len(name):], math.Float64bits(d.BucketSize))
	return buf
}

func decodeIndex(b []byte) (IndexDescriptor, error) {
	if len(b) < 4 {
		return IndexDescriptor{}, fmt.Errorf("short index descriptor")
	}
	id := binary.BigEndian.Uint16(b[0:2])
	nameLen := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) < 4+nameLen+8 {
		return IndexDescriptor{}, fmt.Errorf("short index descriptor body")
	}
	name := string(b[4 : 4+nameLen])
	bucket := math.Float64frombits(binary.BigEndian.Uint64(b[4+nameLen:]))
	return IndexDescriptor{ID: id, Field: name, BucketSize: bucket}, nil
}

func encodeFilter(d FilterDescriptor) []byte {
	expr := []byte(d.Expression)
	buf := make([]byte, 4+4+len(expr))
	binary.BigEndian.PutUint32(buf[0:4], d.ID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(expr)))
	copy(buf[8:], expr)
	return buf
}

func decodeFilter(b []byte) (FilterDescriptor, error) {
	if len(b) < 8 {
		return FilterDescriptor{}, fmt.Errorf("short filter descriptor")
	}
	id := binary.BigEndian.Uint32(b[0:4])
	exprLen := int(binary.BigEndian.Uint32(b[4:8]))
	if len(b) < 8+exprLen {
		return FilterDescriptor{}, fmt.Errorf("short filter descriptor body")
	}
	return FilterDescriptor{ID: id, Expression: string(b[8 : 8+exprLen])}, nil
}

func encodeTrigger(d TriggerDescriptor) []byte {
	name := []byte(d.Field)
	buf := make([]byte, 4+4+1+2+len(name)+1+16)
	pos := 0
	binary.BigEndian.PutUint32(buf[pos:], d.ID)
	pos += 4
	binary.BigEndian.PutUint32(buf[pos:], d.FilterID)
	pos += 4
	buf[pos] = byte(d.Kind)
	pos++
	binary.BigEndian.PutUint16(buf[pos:], uint16(len(name)))
	pos += 2
	copy(buf[pos:], name)
	pos += len(name)
	buf[pos] = byte(d.Op)
	pos++
	buf[pos] = 1 // tag: float64
	binary.BigEndian.PutUint64(buf[pos+1:], math.Float64bits(d.Threshold))
	return buf
}

func decodeTrigger(b []byte) (TriggerDescriptor, error) {
	if len(b) < 11 {
		return TriggerDescriptor{}, fmt.Errorf("short trigger descriptor")
	}
	pos := 0
	id := binary.BigEndian.Uint32(b[pos:])
	pos += 4
	filterID := binary.BigEndian.Uint32(b[pos:])
	pos += 4
	kind := AggregateKind(b[pos])
	pos++
	nameLen := int(binary.BigEndian.Uint16(b[pos:]))
	pos += 2
	if len(b) < pos+nameLen+1+16 {
		return TriggerDescriptor{}, fmt.Errorf("short trigger descriptor body")
	}
	name := string(b[pos : pos+nameLen])
	pos += nameLen
	op := RelOp(b[pos])
	pos++
	pos++ // tag byte, only float64 supported
	threshold := math.Float64frombits(binary.BigEndian.Uint64(b[pos:]))
	return TriggerDescriptor{ID: id, FilterID: filterID, Kind: kind, Field: name, Op: op, Threshold: threshold}, nil
}

// Writer appends descriptor records to a durable, append-only file.
// Normal appends are fsync'd individually; Checkpoint rewrites the
// entire file atomically via natefinch/atomic, the same rename-into-
// place discipline the teacher's own `.tmp`-file-plus-rename repair
// path (folio's repair.go) uses by hand for its compaction output.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewWriter opens (creating if necessary) the metadata file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &IOError{Op: "metadata-open", Err: err}
	}
	return &Writer{path: path, f: f}, nil
}

func (w *Writer) appendFrame(kind byte, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := make([]byte, 1+4+len(payload))
	frame[0] = kind
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)

	checksum := checksumDescriptor(frame)
	out := make([]byte, len(frame)+8)
	copy(out, frame)
	putUint64(out[len(frame):], checksum)

	if _, err := w.f.Write(out); err != nil {
		return &IOError{Op: "metadata-write", Err: err}
	}
	return w.f.Sync()
}

// WriteIndex persists an index registration.
func (w *Writer) WriteIndex(d IndexDescriptor) error {
	return w.appendFrame(KindIndex, encodeIndex(d))
}

// WriteFilter persists a filter registration.
func (w *Writer) WriteFilter(d FilterDescriptor) error {
	return w.appendFrame(KindFilter, encodeFilter(d))
}

// WriteTrigger persists a trigger registration.
func (w *Writer) WriteTrigger(d TriggerDescriptor) error {
	return w.appendFrame(KindTrigger, encodeTrigger(d))
}

// Checkpoint rewrites the metadata file to contain exactly the given
// already-written bytes (typically the result of a Reader replay,
// re-encoded), atomically: a crash mid-checkpoint leaves either the
// old file or the new one, never a half-written one.
func (w *Writer) Checkpoint(contents []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := atomic.WriteFile(w.path, bytes.NewReader(contents)); err != nil {
		return &IOError{Op: "metadata-checkpoint", Err: err}
	}
	if err := w.f.Close(); err != nil {
		return &IOError{Op: "metadata-checkpoint-reopen", Err: err}
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return &IOError{Op: "metadata-checkpoint-reopen", Err: err}
	}
	w.f = f
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return &IOError{Op: "metadata-close", Err: err}
	}
	return nil
}

// Dump renders every descriptor in the metadata file as JSON, for
// debugging/introspection only — never on a hot path and never the
// wire format itself (SPEC_FULL.md "Domain stack").
func (w *Writer) Dump() ([]byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, &IOError{Op: "metadata-dump", Err: err}
	}
	defer f.Close()

	var out []any
	err = Replay(f, ReplayHandlers{
		Index:   func(d IndexDescriptor) error { out = append(out, d); return nil },
		Filter:  func(d FilterDescriptor) error { out = append(out, d); return nil },
		Trigger: func(d TriggerDescriptor) error { out = append(out, d); return nil },
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// ReplayHandlers receives each descriptor kind found during Replay.
type ReplayHandlers struct {
	Index   func(IndexDescriptor) error
	Filter  func(FilterDescriptor) error
	Trigger func(TriggerDescriptor) error
}

// Reader replays a metadata stream. It is a thin wrapper over Replay
// so callers that hold an open file (rather than an io.Reader they
// construct inline) have a named type to store alongside Writer,
// mirroring the teacher's own writer/reader pairing for its document
// log.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for replay.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Replay drives h over every well-formed descriptor in the stream.
func (rd *Reader) Replay(h ReplayHandlers) error { return Replay(rd.r, h) }

// Replay reads a metadata stream front to back, invoking the matching
// handler for each well-formed descriptor it finds. A frame whose
// trailing checksum does not match its bytes, or that is truncated,
// ends replay at that point without error — the remainder of a
// partially-written final frame is exactly what a crash mid-append
// would leave behind, and spec §7 requires readers to be able to skip
// such records deterministically rather than fail the whole replay.
func Replay(r io.Reader, h ReplayHandlers) error {
	br := &byteCounter{r: r}
	for {
		var head [5]byte
		n, err := io.ReadFull(br, head[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			return nil
		}
		if err != nil {
			return nil // truncated frame header: stop cleanly
		}
		kind := head[0]
		length := binary.BigEndian.Uint32(head[1:5])

		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil
		}
		var checksumBuf [8]byte
		if _, err := io.ReadFull(br, checksumBuf[:]); err != nil {
			return nil
		}

		frame := make([]byte, 5+length)
		copy(frame, head[:])
		copy(frame[5:], payload)
		want := binary.BigEndian.Uint64(checksumBuf[:])
		if checksumDescriptor(frame) != want {
			return nil // corrupt tail, stop cleanly
		}

		switch kind {
		case KindIndex:
			d, err := decodeIndex(payload)
			if err != nil {
				return nil
			}
			if h.Index != nil {
				if err := h.Index(d); err != nil {
					return err
				}
			}
		case KindFilter:
			d, err := decodeFilter(payload)
			if err != nil {
				return nil
			}
			if h.Filter != nil {
				if err := h.Filter(d); err != nil {
					return err
				}
			}
		case KindTrigger:
			d, err := decodeTrigger(payload)
			if err != nil {
				return nil
			}
			if h.Trigger != nil {
				if err := h.Trigger(d); err != nil {
					return err
				}
			}
		default:
			return nil
		}
	}
}

// byteCounter is a trivial io.Reader passthrough; kept as a seam for
// future offset-reporting without changing Replay's signature.
type byteCounter struct {
	r io.Reader
	n int64
}

func (b *byteCounter) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.n += int64(n)
	return n, err
}
