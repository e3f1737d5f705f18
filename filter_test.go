package confluo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func filterSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]ColumnSpec{{Name: "val", Type: TypeDouble}})
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return s
}

// TestFilterWindowedAggregate matches spec §8 scenario 3: records
// within the same window bucket accumulate into one Aggregate.
func TestFilterWindowedAggregate(t *testing.T) {
	s := filterSchema(t)
	pred, err := (Simple{}).Compile("val >= 0", s)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := NewFilter(1, "val >= 0", pred, 1000) // 1-second windows

	record := func(v float64, ts int64) *RecordView {
		payload, err := s.Encode([]any{v})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return s.Apply(0, payload, s.Stride(), ts)
	}

	f.Update(record(1.0, 100))
	f.Update(record(2.0, 500))
	f.Update(record(3.0, 999))
	f.Update(record(100.0, 1500)) // falls into the next window

	key := f.BucketKey(500)
	agg, ok := f.Snapshot(key)
	if !ok {
		t.Fatal("expected an aggregate for the first window")
	}
	if agg.Count != 3 {
		t.Errorf("Count = %d, want 3", agg.Count)
	}
	if agg.Sum != 6.0 {
		t.Errorf("Sum = %v, want 6.0", agg.Sum)
	}
	if agg.Min != 1.0 || agg.Max != 3.0 {
		t.Errorf("Min/Max = %v/%v, want 1.0/3.0", agg.Min, agg.Max)
	}
	if agg.Mean() != 2.0 {
		t.Errorf("Mean() = %v, want 2.0", agg.Mean())
	}

	nextKey := f.BucketKey(1500)
	nextAgg, ok := f.Snapshot(nextKey)
	if !ok || nextAgg.Count != 1 || nextAgg.Sum != 100.0 {
		t.Errorf("second window aggregate wrong: %+v", nextAgg)
	}

	if f.NewestBucket() != nextKey {
		t.Errorf("NewestBucket() = %d, want %d", f.NewestBucket(), nextKey)
	}

	want := Aggregate{Count: 3, Sum: 6.0, Min: 1.0, Max: 3.0}
	if diff := cmp.Diff(want, agg); diff != "" {
		t.Errorf("aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterNonMatchingRecordsIgnored(t *testing.T) {
	s := filterSchema(t)
	pred, err := (Simple{}).Compile("val > 10", s)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := NewFilter(1, "val > 10", pred, 1000)

	payload, _ := s.Encode([]any{5.0})
	f.Update(s.Apply(0, payload, s.Stride(), 0))

	if _, ok := f.Snapshot(f.BucketKey(0)); ok {
		t.Error("expected no aggregate for a non-matching record")
	}
}

func TestFilterEvictsOldBuckets(t *testing.T) {
	s := filterSchema(t)
	pred, err := (Simple{}).Compile("val >= 0", s)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := NewFilter(1, "val >= 0", pred, 1) // 1ms windows for a tight retention test

	payload, _ := s.Encode([]any{1.0})
	f.Update(s.Apply(0, payload, s.Stride(), 0))
	f.Update(s.Apply(0, payload, s.Stride(), (retentionBuckets+10)*1))

	if _, ok := f.Snapshot(f.BucketKey(0)); ok {
		t.Error("expected the oldest bucket to have been evicted")
	}
}
