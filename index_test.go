package confluo

import "testing"

func TestKeyWidth(t *testing.T) {
	s := mustSchemaPlain(t, []ColumnSpec{
		{Name: "b", Type: TypeBoolean},
		{Name: "c", Type: TypeChar},
		{Name: "sh", Type: TypeShort},
		{Name: "i", Type: TypeInt},
		{Name: "l", Type: TypeLong},
		{Name: "f", Type: TypeFloat},
		{Name: "d", Type: TypeDouble},
		{Name: "str", Type: TypeString, Width: 24},
	})
	want := []int64{1, 1, 2, 4, 8, 8, 8, 16} // string column wider than stringKeyInlineBytes quantizes to inline+hash
	for i, w := range want {
		if got := KeyWidth(s.Column(i)); got != w {
			t.Errorf("KeyWidth(%s) = %d, want %d", s.Column(i).Name(), got, w)
		}
	}
}

func TestNewTieredIndexShape(t *testing.T) {
	s := mustSchemaPlain(t, []ColumnSpec{
		{Name: "b", Type: TypeBoolean},
		{Name: "i", Type: TypeInt},
		{Name: "d", Type: TypeDouble},
	})

	boolTree := NewTieredIndex(s.Column(0))
	if boolTree.Depth() != 1 || boolTree.Radix() != 2 {
		t.Errorf("bool tree shape = (%d,%d), want (1,2)", boolTree.Depth(), boolTree.Radix())
	}

	intTree := NewTieredIndex(s.Column(1))
	if intTree.Depth() != 4 || intTree.Radix() != 256 {
		t.Errorf("int tree shape = (%d,%d), want (4,256)", intTree.Depth(), intTree.Radix())
	}

	doubleTree := NewTieredIndex(s.Column(2))
	if doubleTree.Depth() != 8 || doubleTree.Radix() != 256 {
		t.Errorf("double tree shape = (%d,%d), want (8,256)", doubleTree.Depth(), doubleTree.Radix())
	}
}

func mustSchemaPlain(t *testing.T, specs []ColumnSpec) *Schema {
	t.Helper()
	s, err := NewSchema(specs)
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return s
}
