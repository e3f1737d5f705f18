// Tiered index: radix tree variants specialized by key width (spec
// §4.4 idx1_t..idx8_t, idx_bool_t). The table selects the correct
// tree shape based on the column's encoded key width, not its raw
// on-disk width — floats and doubles both quantize (or sign-flip
// encode) to an 8-byte key, so both land on the idx8_t shape.
package confluo

// KeyWidth returns the byte length EncodeKey will produce for a
// column, independent of the column's on-disk Width.
func KeyWidth(col *Column) int64 {
	switch col.Type() {
	case TypeBoolean, TypeChar:
		return 1
	case TypeShort:
		return 2
	case TypeInt:
		return 4
	case TypeLong, TypeFloat, TypeDouble:
		return 8
	case TypeString:
		if col.Width() > stringKeyInlineBytes {
			return stringKeyInlineBytes + 8
		}
		return col.Width()
	}
	return 0
}

// NewTieredIndex returns a RadixTree sized for col: idx_bool_t (D=1,
// R=2) for boolean columns, otherwise idxN_t (D=N, R=256) where N is
// the column's key width in bytes.
func NewTieredIndex(col *Column) *RadixTree {
	width := KeyWidth(col)
	if col.Type() == TypeBoolean {
		return NewRadixTree(1, 2)
	}
	return NewRadixTree(int(width), 256)
}
