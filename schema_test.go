package confluo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSchema(t *testing.T, specs []ColumnSpec) *Schema {
	t.Helper()
	s, err := NewSchema(specs)
	require.NoError(t, err)
	return s
}

func TestSchemaStride(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{
		{Name: "id", Type: TypeLong},
		{Name: "flag", Type: TypeBoolean},
		{Name: "name", Type: TypeString, Width: 12},
	})
	// 16-byte header + 8 (long) + 1 (bool) + 12 (string) = 37
	assert.EqualValues(t, 37, s.Stride())
}

func TestSchemaDuplicateNameRejected(t *testing.T) {
	_, err := NewSchema([]ColumnSpec{
		{Name: "val", Type: TypeInt},
		{Name: "VAL", Type: TypeInt},
	})
	require.Error(t, err)
	var mgmt *ManagementError
	require.ErrorAs(t, err, &mgmt)
}

func TestSchemaStringRequiresWidth(t *testing.T) {
	_, err := NewSchema([]ColumnSpec{{Name: "s", Type: TypeString}})
	require.Error(t, err)
}

func TestSchemaLookupCaseInsensitive(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{{Name: "Sensor", Type: TypeInt}})
	ord, ok := s.Lookup("sensor")
	require.True(t, ok)
	assert.Equal(t, 0, ord)
	ord, ok = s.Lookup("SENSOR")
	require.True(t, ok)
	assert.Equal(t, 0, ord)
}

// TestSchemaEncodeDecodeRoundTrip exercises every column type end to
// end: Encode into the fixed-width payload, then Apply + Field to
// decode each value back out, matching spec §8's "Round-trip and
// idempotence" property.
func TestSchemaEncodeDecodeRoundTrip(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{
		{Name: "flag", Type: TypeBoolean},
		{Name: "c", Type: TypeChar},
		{Name: "sh", Type: TypeShort},
		{Name: "i", Type: TypeInt},
		{Name: "l", Type: TypeLong},
		{Name: "f", Type: TypeFloat},
		{Name: "d", Type: TypeDouble},
		{Name: "name", Type: TypeString, Width: 8},
	})
	values := []any{true, int8(-5), int16(-1234), int32(987654), int64(-123456789),
		float32(3.5), 2.71828, "abc"}

	payload, err := s.Encode(values)
	require.NoError(t, err)

	view := s.Apply(0, payload, s.Stride(), 42)
	assert.True(t, view.Field(0).Bool())
	assert.EqualValues(t, -5, view.Field(1).Int8())
	assert.EqualValues(t, -1234, view.Field(2).Int16())
	assert.EqualValues(t, 987654, view.Field(3).Int32())
	assert.EqualValues(t, -123456789, view.Field(4).Int64())
	assert.InDelta(t, 3.5, view.Field(5).Float32(), 1e-6)
	assert.InDelta(t, 2.71828, view.Field(6).Float64(), 1e-9)
	assert.Equal(t, "abc", view.Field(7).String())
	assert.Equal(t, int64(42), view.Timestamp())
}

// TestEncodeKeyPreservesOrder checks that EncodeKey is order-preserving
// for signed integers across the zero boundary, the core property the
// tiered index relies on for range-correct radix placement.
func TestEncodeKeyPreservesOrder(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{{Name: "v", Type: TypeInt}})
	col := s.Column(0)

	values := []int32{-100, -1, 0, 1, 100}
	var keys [][]byte
	for _, v := range values {
		payload, err := s.Encode([]any{v})
		require.NoError(t, err)
		view := s.Apply(0, payload, s.Stride(), 0)
		keys = append(keys, view.Field(0).EncodeKey())
	}
	for i := 1; i < len(keys); i++ {
		assert.True(t, bytesLess(keys[i-1], keys[i]), "key for %d should sort before key for %d", values[i-1], values[i])
	}
	_ = col
}

// TestEncodeFloatKeyBucketing matches spec §8 scenario 2 exactly:
// bucket_size=1.0 over {3.14, 3.9, 4.1} collapses to exactly two
// distinct keys (bucket 3 and bucket 4).
func TestEncodeFloatKeyBucketing(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{{Name: "temp", Type: TypeDouble}})
	col := s.Column(0)
	col.setIndexing()
	col.setIndexed(1, 1.0)

	seen := map[string]bool{}
	for _, v := range []float64{3.14, 3.9, 4.1} {
		payload, err := s.Encode([]any{v})
		require.NoError(t, err)
		view := s.Apply(0, payload, s.Stride(), 0)
		seen[string(view.Field(0).EncodeKey())] = true
	}
	assert.Len(t, seen, 2)
}

// TestEncodeStringKeyQuantizesWideColumns exercises the xxh3-backed
// quantization path for string columns configured wider than
// stringKeyInlineBytes.
func TestEncodeStringKeyQuantizesWideColumns(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{{Name: "name", Type: TypeString, Width: 32}})
	payload, err := s.Encode([]any{"a string longer than the inline prefix"})
	require.NoError(t, err)
	view := s.Apply(0, payload, s.Stride(), 0)
	key := view.Field(0).EncodeKey()
	assert.Len(t, key, stringKeyInlineBytes+8)
}

func TestEncodeStringKeyShortColumnUnquantized(t *testing.T) {
	s := mustSchema(t, []ColumnSpec{{Name: "code", Type: TypeString, Width: 4}})
	payload, err := s.Encode([]any{"ab"})
	require.NoError(t, err)
	view := s.Apply(0, payload, s.Stride(), 0)
	key := view.Field(0).EncodeKey()
	assert.Len(t, key, 4)
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
