// Trigger: a threshold alarm over a filter's aggregate (spec §3,
// §4.6). Trigger itself is stateless — the contract this core exposes
// is registration with a dense trigger id and a durable descriptor
// write; evaluation belongs to an external periodic sweeper. Sweeper
// below is exactly that external evaluator, supplied because a
// complete repository needs something driving triggers even though
// the core contract does not require it (spec SPEC_FULL.md
// "Supplemented features").
package confluo

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Trigger is a filter id, a target aggregate over that filter's
// window, a relational operator, and a numeric threshold.
type Trigger struct {
	id        int64
	filterID  int64
	field     string // diagnostic only; the aggregate is over the filter's own projection
	kind      AggregateKind
	op        RelOp
	threshold float64
}

func (t *Trigger) ID() int64             { return t.id }
func (t *Trigger) FilterID() int64       { return t.filterID }
func (t *Trigger) Kind() AggregateKind   { return t.kind }
func (t *Trigger) Op() RelOp             { return t.op }
func (t *Trigger) Threshold() float64    { return t.threshold }

// TriggerAlert reports a single firing of a Trigger against a
// specific filter window bucket.
type TriggerAlert struct {
	TriggerID int64
	FilterID  int64
	BucketKey int64
	Value     float64
	Threshold float64
}

// Sweeper periodically evaluates every registered trigger against its
// filter's newest window bucket and reports alerts. It holds no
// exclusive access to Table state beyond what Table.Triggers/Filter
// already expose for reads, so it never blocks Append.
type Sweeper struct {
	table    *Table
	interval time.Duration
}

// NewSweeper returns a Sweeper that polls table every interval.
func NewSweeper(table *Table, interval time.Duration) *Sweeper {
	return &Sweeper{table: table, interval: interval}
}

// Run blocks, evaluating triggers every interval, until ctx is
// cancelled. Each sweep fans out one evaluation per trigger via an
// errgroup, matching the fan-out/join idiom `solidcoredata/dca` uses
// for its own concurrent coordination.
func (s *Sweeper) Run(ctx context.Context, onAlert func(TriggerAlert)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx, onAlert); err != nil {
				return err
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, onAlert func(TriggerAlert)) error {
	triggers := s.table.Triggers()
	g, _ := errgroup.WithContext(ctx)
	for _, trg := range triggers {
		trg := trg
		g.Go(func() error {
			filter := s.table.Filter(trg.FilterID())
			if filter == nil {
				return nil
			}
			key := filter.NewestBucket()
			agg, ok := filter.Snapshot(key)
			if !ok {
				return nil
			}
			val := agg.Value(trg.Kind())
			if trg.Op().apply(val, trg.Threshold()) {
				onAlert(TriggerAlert{
					TriggerID: trg.ID(),
					FilterID:  trg.FilterID(),
					BucketKey: key,
					Value:     val,
					Threshold: trg.Threshold(),
				})
			}
			return nil
		})
	}
	return g.Wait()
}
