package confluo

import (
	"context"
	"testing"
	"time"
)

func triggerTestTable(t *testing.T) *Table {
	t.Helper()
	schema, err := NewSchema([]ColumnSpec{{Name: "val", Type: TypeDouble}})
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return NewTable(schema, NewMemoryMode(), TableOptions{Clock: NewFixedClock(0)})
}

func TestSweeperFiresOnThresholdBreach(t *testing.T) {
	table := triggerTestTable(t)
	filterID, err := table.AddFilter("val >= 0", 60000)
	if err != nil {
		t.Fatalf("add filter: %v", err)
	}
	triggerID, err := table.AddTrigger(filterID, "val", AggSum, OpGT, 10.0)
	if err != nil {
		t.Fatalf("add trigger: %v", err)
	}

	if _, err := table.Append([]any{4.0}, 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := table.Append([]any{8.0}, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	sweeper := NewSweeper(table, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	alerts := make(chan TriggerAlert, 4)
	go sweeper.Run(ctx, func(a TriggerAlert) { alerts <- a })

	select {
	case a := <-alerts:
		if a.TriggerID != triggerID || a.FilterID != filterID {
			t.Errorf("alert ids = %d/%d, want %d/%d", a.TriggerID, a.FilterID, triggerID, filterID)
		}
		if a.Value != 12.0 {
			t.Errorf("alert value = %v, want 12.0", a.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper never fired an alert for a breached threshold")
	}
}

func TestSweeperSilentBelowThreshold(t *testing.T) {
	table := triggerTestTable(t)
	filterID, err := table.AddFilter("val >= 0", 60000)
	if err != nil {
		t.Fatalf("add filter: %v", err)
	}
	if _, err := table.AddTrigger(filterID, "val", AggSum, OpGT, 1000.0); err != nil {
		t.Fatalf("add trigger: %v", err)
	}
	if _, err := table.Append([]any{1.0}, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	sweeper := NewSweeper(table, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	alerts := make(chan TriggerAlert, 4)
	go sweeper.Run(ctx, func(a TriggerAlert) { alerts <- a })
	<-ctx.Done()

	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert fired below threshold: %+v", a)
	default:
	}
}
