// Schema: column metadata, name lookup, and tuple decoding into
// iterable typed fields (spec §3, §4.3).
package confluo

import (
	"encoding/binary"
	"math"
	"strings"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// ColumnType enumerates the supported column extents.
type ColumnType int

const (
	TypeBoolean ColumnType = iota
	TypeChar
	TypeShort
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeString // fixed-width, configured per column
)

// width returns the on-disk size in bytes for fixed-size types. String
// columns carry their own configured width instead.
func (t ColumnType) width() int64 {
	switch t {
	case TypeBoolean, TypeChar:
		return 1
	case TypeShort:
		return 2
	case TypeInt, TypeFloat:
		return 4
	case TypeLong, TypeDouble:
		return 8
	default:
		return 0
	}
}

// Indexable reports whether a type may be indexed. Every fixed-width
// scalar type plus String is supported (spec §4.4 tiered variants
// idx1_t..idx8_t, idx_bool_t); nothing here is excluded, but Table's
// AddIndex call site is where a real deployment would narrow this.
func (t ColumnType) Indexable() bool { return true }

// indexState values for Column.state.
const (
	stateUnindexed int32 = iota
	stateIndexing
	stateIndexed
)

// Column describes one schema field: its name, ordinal, type, and
// (once indexed) its index id and bucket size. Indexing state
// transitions are atomic and independent of the otherwise-immutable
// Schema (spec §3 "Immutable after construction except for each
// column's indexing state").
type Column struct {
	name    string
	ordinal int
	typ     ColumnType
	width   int64 // resolved width (type width, or configured width for String)

	state      atomic.Int32
	indexID    atomic.Int64   // valid once state == stateIndexed
	bucketBits atomic.Uint64  // math.Float64bits(bucketSize), valid once indexed
}

// Name, Ordinal, Type, Width are read-only accessors; Schema is
// immutable apart from indexing state so these need no locking.
func (c *Column) Name() string      { return c.name }
func (c *Column) Ordinal() int      { return c.ordinal }
func (c *Column) Type() ColumnType  { return c.typ }
func (c *Column) Width() int64      { return c.width }

// Indexed reports whether the column currently carries a live index.
func (c *Column) Indexed() bool { return c.state.Load() == stateIndexed }

// IndexID returns the column's index id. Valid only when Indexed().
func (c *Column) IndexID() int64 { return c.indexID.Load() }

// BucketSize returns the configured bucket size. Valid only when Indexed().
func (c *Column) BucketSize() float64 {
	return math.Float64frombits(c.bucketBits.Load())
}

// setIndexing transitions unindexed -> indexing. Returns false
// (idempotent rejection) if the column is already indexing or indexed.
func (c *Column) setIndexing() bool {
	return c.state.CompareAndSwap(stateUnindexed, stateIndexing)
}

// setIndexed transitions indexing -> indexed, recording the index id
// and bucket size used to coarsen keys before insertion.
func (c *Column) setIndexed(indexID int64, bucketSize float64) bool {
	if !c.state.CompareAndSwap(stateIndexing, stateIndexed) {
		return false
	}
	c.indexID.Store(indexID)
	c.bucketBits.Store(math.Float64bits(bucketSize))
	return true
}

// disableIndexing transitions indexed -> unindexed. The underlying
// radix tree is retained by the caller (Table); this only flips the
// column's visible state (spec §3 "Lifecycles").
func (c *Column) disableIndexing() bool {
	return c.state.CompareAndSwap(stateIndexed, stateUnindexed)
}

// ColumnSpec is the user-facing description used to build a Schema.
type ColumnSpec struct {
	Name  string
	Type  ColumnType
	Width int64 // only meaningful (and required) for TypeString
}

// Schema is an ordered sequence of columns plus a case-insensitive
// name lookup and a fixed record stride. Immutable after construction
// except for each column's indexing state.
type Schema struct {
	columns []*Column
	byName  map[string]int // upper(name) -> ordinal, read-only after construction
	stride  int64           // 8 (timestamp) + 8 (offset) + sum(column widths)
}

// NewSchema builds a Schema from ordered column specs.
func NewSchema(specs []ColumnSpec) (*Schema, error) {
	s := &Schema{
		byName: make(map[string]int, len(specs)),
	}
	stride := int64(16) // timestamp + original offset
	for i, spec := range specs {
		width := spec.Type.width()
		if spec.Type == TypeString {
			if spec.Width <= 0 {
				return nil, &ManagementError{Op: "new_schema", Text: spec.Name, Err: &Invariant{What: "string column requires a positive width"}}
			}
			width = spec.Width
		}
		name := strings.ToUpper(spec.Name)
		if _, dup := s.byName[name]; dup {
			return nil, &ManagementError{Op: "new_schema", Text: spec.Name, Err: &Invariant{What: "duplicate column name"}}
		}
		col := &Column{name: spec.Name, ordinal: i, typ: spec.Type, width: width}
		s.columns = append(s.columns, col)
		s.byName[name] = i
		stride += width
	}
	s.stride = stride
	return s, nil
}

// Stride returns the fixed on-disk record size: 8-byte timestamp +
// 8-byte original offset + the sum of column widths.
func (s *Schema) Stride() int64 { return s.stride }

// Columns returns the schema's columns in order. The slice itself must
// not be mutated; individual Column indexing state is safe to read.
func (s *Schema) Columns() []*Column { return s.columns }

// Column returns the column at ordinal, or nil if out of range.
func (s *Schema) Column(ordinal int) *Column {
	if ordinal < 0 || ordinal >= len(s.columns) {
		return nil
	}
	return s.columns[ordinal]
}

// Lookup resolves a case-insensitive column name to its ordinal.
func (s *Schema) Lookup(name string) (int, bool) {
	ord, ok := s.byName[strings.ToUpper(name)]
	return ord, ok
}

// Encode packs values (one per column, in schema order, native Go
// types matching each column's ColumnType) into the little-endian
// column payload described by spec §6. The caller (Table.Append)
// prepends the 16-byte timestamp+offset header separately.
func (s *Schema) Encode(values []any) ([]byte, error) {
	if len(values) != len(s.columns) {
		return nil, &Invariant{What: "value count does not match schema column count"}
	}
	out := make([]byte, s.stride-16)
	pos := int64(0)
	for i, col := range s.columns {
		n, err := encodeValue(out[pos:pos+col.width], col, values[i])
		if err != nil {
			return nil, err
		}
		_ = n
		pos += col.width
	}
	return out, nil
}

func encodeValue(dst []byte, col *Column, v any) error {
	switch col.typ {
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return &Invariant{What: "value is not a bool for boolean column " + col.name}
		}
		if b {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case TypeChar:
		c, ok := v.(int8)
		if !ok {
			return &Invariant{What: "value is not an int8 for char column " + col.name}
		}
		dst[0] = byte(c)
	case TypeShort:
		c, ok := v.(int16)
		if !ok {
			return &Invariant{What: "value is not an int16 for short column " + col.name}
		}
		binary.LittleEndian.PutUint16(dst, uint16(c))
	case TypeInt:
		c, ok := v.(int32)
		if !ok {
			return &Invariant{What: "value is not an int32 for int column " + col.name}
		}
		binary.LittleEndian.PutUint32(dst, uint32(c))
	case TypeLong:
		c, ok := v.(int64)
		if !ok {
			return &Invariant{What: "value is not an int64 for long column " + col.name}
		}
		binary.LittleEndian.PutUint64(dst, uint64(c))
	case TypeFloat:
		c, ok := v.(float32)
		if !ok {
			return &Invariant{What: "value is not a float32 for float column " + col.name}
		}
		binary.LittleEndian.PutUint32(dst, math.Float32bits(c))
	case TypeDouble:
		c, ok := v.(float64)
		if !ok {
			return &Invariant{What: "value is not a float64 for double column " + col.name}
		}
		binary.LittleEndian.PutUint64(dst, math.Float64bits(c))
	case TypeString:
		c, ok := v.(string)
		if !ok {
			return &Invariant{What: "value is not a string for string column " + col.name}
		}
		b := []byte(c)
		if int64(len(b)) > col.width {
			b = b[:col.width]
		}
		copy(dst, b)
	}
	return nil
}

// RecordView is a lightweight decoding over a record's byte extent
// plus its offset and timestamp. Iteration yields FieldViews in
// column order.
type RecordView struct {
	schema    *Schema
	offset    int64
	endOffset int64
	timestamp int64
	payload   []byte // column-packed bytes, excludes the 16-byte header
}

// Apply constructs a RecordView over an extent: the caller supplies
// the column payload bytes, the record's reserved offset range, and
// its timestamp (spec §4.3 "apply").
func (s *Schema) Apply(offset int64, payload []byte, endOffset int64, ts int64) *RecordView {
	return &RecordView{schema: s, offset: offset, endOffset: endOffset, timestamp: ts, payload: payload}
}

func (r *RecordView) Offset() int64    { return r.offset }
func (r *RecordView) EndOffset() int64 { return r.endOffset }
func (r *RecordView) Timestamp() int64 { return r.timestamp }

// Fields returns every field view in column order.
func (r *RecordView) Fields() []FieldView {
	out := make([]FieldView, len(r.schema.columns))
	pos := int64(0)
	for i, col := range r.schema.columns {
		out[i] = FieldView{col: col, raw: r.payload[pos : pos+col.width]}
		pos += col.width
	}
	return out
}

// Field returns the field view for a single ordinal.
func (r *RecordView) Field(ordinal int) FieldView {
	col := r.schema.columns[ordinal]
	pos := int64(0)
	for i := 0; i < ordinal; i++ {
		pos += r.schema.columns[i].width
	}
	return FieldView{col: col, raw: r.payload[pos : pos+col.width]}
}

// FieldView exposes one decoded column value: its ordinal, type,
// indexing state, index id, and the encoded key bytes used for radix
// tree insertion.
type FieldView struct {
	col *Column
	raw []byte
}

func (f FieldView) Ordinal() int       { return f.col.ordinal }
func (f FieldView) Type() ColumnType   { return f.col.typ }
func (f FieldView) Indexed() bool      { return f.col.Indexed() }
func (f FieldView) IndexID() int64     { return f.col.IndexID() }

// Bool decodes the field as a boolean.
func (f FieldView) Bool() bool { return f.raw[0] != 0 }

// Int8 decodes the field as a signed byte (char column).
func (f FieldView) Int8() int8 { return int8(f.raw[0]) }

// Int16 decodes the field as a short.
func (f FieldView) Int16() int16 { return int16(binary.LittleEndian.Uint16(f.raw)) }

// Int32 decodes the field as an int.
func (f FieldView) Int32() int32 { return int32(binary.LittleEndian.Uint32(f.raw)) }

// Int64 decodes the field as a long.
func (f FieldView) Int64() int64 { return int64(binary.LittleEndian.Uint64(f.raw)) }

// Float32 decodes the field as a float.
func (f FieldView) Float32() float32 { return math.Float32frombits(binary.LittleEndian.Uint32(f.raw)) }

// Float64 decodes the field as a double.
func (f FieldView) Float64() float64 { return math.Float64frombits(binary.LittleEndian.Uint64(f.raw)) }

// String decodes the field as a fixed-width, zero-padded string,
// trimming trailing NUL bytes.
func (f FieldView) String() string {
	end := len(f.raw)
	for end > 0 && f.raw[end-1] == 0 {
		end--
	}
	return string(f.raw[:end])
}

// EncodeKey returns the big-endian, order-preserving key bytes for
// this field, coarsened by the column's bucket size when the column
// is indexed and the type is float or double (spec §4.3); integer keys
// are never coarsened. The returned slice
// is always the tiered index's fixed key width for the type.
func (f FieldView) EncodeKey() []byte {
	bucketSize := 0.0
	if f.col.Indexed() {
		bucketSize = f.col.BucketSize()
	}
	switch f.col.typ {
	case TypeBoolean:
		if f.Bool() {
			return []byte{1}
		}
		return []byte{0}
	case TypeChar:
		return encodeSignedKey(1, int64(f.Int8()))
	case TypeShort:
		return encodeSignedKey(2, int64(f.Int16()))
	case TypeInt:
		return encodeSignedKey(4, int64(f.Int32()))
	case TypeLong:
		return encodeSignedKey(8, f.Int64())
	case TypeFloat:
		return encodeFloatKey(float64(f.Float32()), bucketSize)
	case TypeDouble:
		return encodeFloatKey(f.Float64(), bucketSize)
	case TypeString:
		return encodeStringKey(f.raw)
	}
	return nil
}

// encodeSignedKey produces a big-endian, order-preserving key for a
// two's-complement integer of the given byte width: the sign bit is
// flipped so that lexicographic byte order matches numeric order.
func encodeSignedKey(width int, v int64) []byte {
	out := make([]byte, width)
	switch width {
	case 1:
		out[0] = byte(uint8(v) ^ 0x80)
	case 2:
		binary.BigEndian.PutUint16(out, uint16(v)^0x8000)
	case 4:
		binary.BigEndian.PutUint32(out, uint32(v)^0x80000000)
	case 8:
		binary.BigEndian.PutUint64(out, uint64(v)^0x8000000000000000)
	}
	return out
}

// encodeFloatKey resolves the tension in spec §4.3 between "IEEE-754
// bits with sign-flip" and "quantized by dividing by bucket_size and
// rounding toward negative infinity" in favor of the worked example in
// spec §8 scenario 2 (bucket_size=1.0 over {3.14, 3.9, 4.1} yields
// exactly the integer buckets 3 and 4): when a positive bucket size is
// configured, the raw value is quantized by floor(v / bucketSize) into
// an integer bucket id, then that integer is encoded with the same
// order-preserving two's-complement scheme as the integer types, at a
// fixed 8-byte width. With no bucket size (bucketSize <= 0, i.e. the
// column carries an unindexed or about-to-be-indexed numeric key), the
// literal IEEE-754 sign-flip encoding from the first half of §4.3 is
// used directly, preserving full numeric precision in the key.
func encodeFloatKey(v float64, bucketSize float64) []byte {
	if bucketSize > 0 {
		bucket := int64(math.Floor(v / bucketSize))
		return encodeSignedKey(8, bucket)
	}
	bits := math.Float64bits(v)
	if bits>>63 == 1 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, bits)
	return out
}

// stringKeyInlineBytes bounds how many leading bytes of a string
// column go into its tiered index key verbatim. A column configured
// wider than this quantizes: the index key becomes the first
// stringKeyInlineBytes bytes plus an 8-byte xxh3 hash of the full
// field, keeping idx*_t tree depth bounded regardless of how wide a
// deployment configures a string column (spec §4.4's idx1_t..idx8_t
// tiers only go up to 8 bytes of radix depth; a literal full-width key
// for a 256-byte column would mean a 256-level tree).
const stringKeyInlineBytes = 8

// encodeStringKey returns the tiered-index key for a string field. For
// columns no wider than stringKeyInlineBytes, this is the raw,
// zero-padded bytes unchanged: byte-lexicographic order over
// right-padded ASCII/UTF-8 already matches the intended ordering. For
// wider columns the key is quantized to a fixed width: the leading
// stringKeyInlineBytes bytes (still order-preserving on their own)
// followed by an 8-byte xxh3 hash of the complete field, trading exact
// ordering beyond the shared prefix for a bounded tree depth.
func encodeStringKey(raw []byte) []byte {
	if len(raw) <= stringKeyInlineBytes {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	out := make([]byte, stringKeyInlineBytes+8)
	copy(out, raw[:stringKeyInlineBytes])
	binary.BigEndian.PutUint64(out[stringKeyInlineBytes:], xxh3.Hash(raw))
	return out
}
