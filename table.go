// Table: the orchestrator tying the data log, read tail, schema,
// tiered indexes, filters, and metadata writer into the single entry
// point described by spec §4.7.
package confluo

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TableOptions configures a Table at construction. Logger and
// Metadata are both nil-safe: a nil Logger disables structured
// logging entirely, and a nil Metadata means registrations are not
// persisted (useful for ephemeral/in-memory tables in tests).
type TableOptions struct {
	Clock    Clock
	Compiler Compiler
	Metadata *Writer
	Logger   *zap.Logger
}

// Table is the single entry point for appending records and managing
// indexes, filters, and triggers over one schema (spec §4.7).
type Table struct {
	schema *Schema
	log    *LinearLog
	tail   Tail
	clock  Clock

	compiler Compiler
	metadata *Writer
	logger   *zap.Logger

	indexMu    sync.RWMutex
	indexes    map[int64]*RadixTree // indexID -> tree
	byColumn   map[int]int64        // ordinal -> indexID, only while indexed
	nextIndex  atomic.Int64

	filterMu   sync.RWMutex
	filters    map[int64]*Filter
	nextFilter atomic.Int64

	triggerMu   sync.RWMutex
	triggers    []*Trigger
	nextTrigger atomic.Int64
}

// NewTable constructs a Table over schema and mode. An empty
// TableOptions is valid: no logger, no metadata persistence, a
// Simple expression compiler, and a SystemClock.
func NewTable(schema *Schema, mode Mode, opts TableOptions) *Table {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Compiler == nil {
		opts.Compiler = Simple{}
	}
	t := &Table{
		schema:   schema,
		log:      NewLinearLog(mode),
		clock:    opts.Clock,
		compiler: opts.Compiler,
		metadata: opts.Metadata,
		logger:   opts.Logger,
		indexes:  make(map[int64]*RadixTree),
		byColumn: make(map[int]int64),
		filters:  make(map[int64]*Filter),
	}
	return t
}

// Schema returns the table's (immutable, except column indexing
// state) schema.
func (t *Table) Schema() *Schema { return t.schema }

// Tail returns the current published read tail.
func (t *Table) Tail() int64 { return t.tail.Get() }

func (t *Table) logInfo(msg string, fields ...zap.Field) {
	if t.logger != nil {
		t.logger.Info(msg, fields...)
	}
}

func (t *Table) logError(msg string, err error, fields ...zap.Field) {
	if t.logger != nil {
		t.logger.Error(msg, append(fields, zap.Error(err))...)
	}
}

// Append encodes values against the schema, reserves and writes the
// record, updates every indexed column and matching filter, flushes
// the extent, and advances the read tail (spec §4.7 "append").
// Indexing and filter updates happen before the tail advances, so any
// reader that observes the new tail also observes the record in every
// index and filter it belongs to.
func (t *Table) Append(values []any, ts int64) (int64, error) {
	payload, err := t.schema.Encode(values)
	if err != nil {
		return 0, err
	}
	return t.append(payload, ts)
}

// AppendNow is Append with the timestamp supplied by the table's
// Clock rather than the caller, for callers that don't track their
// own wall-clock time (and for FixedClock-driven tests that need a
// deterministic, controllable timestamp).
func (t *Table) AppendNow(values []any) (int64, error) {
	return t.Append(values, t.clock.NowMillis())
}

func (t *Table) append(payload []byte, ts int64) (int64, error) {
	n := t.schema.Stride()
	offset, err := t.log.Reserve(n)
	if err != nil {
		t.logError("reserve failed", err)
		return 0, err
	}

	record := make([]byte, n)
	binary.LittleEndian.PutUint64(record[0:8], uint64(ts))
	binary.LittleEndian.PutUint64(record[8:16], uint64(offset))
	copy(record[16:], payload)

	if err := t.log.WriteAt(offset, record); err != nil {
		t.logError("write failed", err, zap.Int64("offset", offset))
		return 0, err
	}

	view := t.schema.Apply(offset, payload, offset+n, ts)
	t.indexRecord(view)
	t.updateFilters(view)

	if err := t.log.Flush(offset, n); err != nil {
		t.logError("flush failed", err, zap.Int64("offset", offset))
		return 0, err
	}
	t.tail.Advance(offset, n)
	return offset, nil
}

func (t *Table) indexRecord(view *RecordView) {
	for _, col := range t.schema.Columns() {
		if !col.Indexed() {
			continue
		}
		t.indexMu.RLock()
		tree := t.indexes[col.IndexID()]
		t.indexMu.RUnlock()
		if tree == nil {
			continue
		}
		field := view.Field(col.Ordinal())
		tree.Insert(field.EncodeKey(), view.Offset())
	}
}

func (t *Table) updateFilters(view *RecordView) {
	t.filterMu.RLock()
	defer t.filterMu.RUnlock()
	for _, f := range t.filters {
		f.Update(view)
	}
}

// Get reads the n bytes of the record at offset into dst. The caller
// must have observed offset+n <= Tail(); a read reaching beyond the
// published tail returns ErrNotFound rather than a short read.
func (t *Table) Get(offset int64, dst []byte, n int64) error {
	if offset+n > t.tail.Get() {
		return ErrNotFound
	}
	return t.log.Read(offset, dst, n)
}

// AddIndex builds a tiered index over the named column and transitions
// it unindexed -> indexing -> indexed (spec §4.4, §4.7). bucketSize
// coarsens float and double keys before insertion; pass 0 for exact
// keys. Other column types ignore it.
func (t *Table) AddIndex(name string, bucketSize float64) (int64, error) {
	ordinal, ok := t.schema.Lookup(name)
	if !ok {
		return 0, &ManagementError{Op: "add_index", Text: name, Err: fmt.Errorf("unknown field")}
	}
	col := t.schema.Column(ordinal)
	if !col.Type().Indexable() {
		return 0, &ManagementError{Op: "add_index", Text: name, Err: fmt.Errorf("type not indexable")}
	}
	if !col.setIndexing() {
		return 0, &ManagementError{Op: "add_index", Text: name, Err: fmt.Errorf("already indexed or indexing")}
	}

	id := t.nextIndex.Add(1) - 1
	tree := NewTieredIndex(col)

	t.indexMu.Lock()
	t.indexes[id] = tree
	t.byColumn[ordinal] = id
	t.indexMu.Unlock()

	col.setIndexed(id, bucketSize)

	if t.metadata != nil {
		if err := t.metadata.WriteIndex(IndexDescriptor{ID: uint16(id), Field: name, BucketSize: bucketSize}); err != nil {
			t.logError("metadata write failed", err, zap.String("index", name))
		}
	}
	t.logInfo("index added", zap.String("field", name), zap.Int64("index_id", id), zap.Float64("bucket_size", bucketSize))
	return id, nil
}

// RemoveIndex disables the named column's index (spec §3 "Lifecycles").
// The backing RadixTree is retained in memory — existing postings
// remain queryable through it directly — but Append stops inserting
// into it and the column reports Indexed() == false.
func (t *Table) RemoveIndex(name string) error {
	ordinal, ok := t.schema.Lookup(name)
	if !ok {
		return &ManagementError{Op: "remove_index", Text: name, Err: fmt.Errorf("unknown field")}
	}
	col := t.schema.Column(ordinal)
	if !col.disableIndexing() {
		return &ManagementError{Op: "remove_index", Text: name, Err: fmt.Errorf("not currently indexed")}
	}
	t.logInfo("index removed", zap.String("field", name))
	return nil
}

// Index returns the RadixTree backing a currently-or-formerly indexed
// column's ordinal, or nil.
func (t *Table) Index(ordinal int) *RadixTree {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	id, ok := t.byColumn[ordinal]
	if !ok {
		return nil
	}
	return t.indexes[id]
}

// AddFilter compiles expression against the schema and registers a new
// Filter with the given window (spec §4.5, §4.7).
func (t *Table) AddFilter(expression string, windowMs int64) (int64, error) {
	predicate, err := t.compiler.Compile(expression, t.schema)
	if err != nil {
		return 0, err
	}
	id := t.nextFilter.Add(1) - 1
	f := NewFilter(id, expression, predicate, windowMs)

	t.filterMu.Lock()
	t.filters[id] = f
	t.filterMu.Unlock()

	if t.metadata != nil {
		if err := t.metadata.WriteFilter(FilterDescriptor{ID: uint32(id), Expression: expression}); err != nil {
			t.logError("metadata write failed", err, zap.String("filter", expression))
		}
	}
	t.logInfo("filter added", zap.Int64("filter_id", id), zap.String("expression", expression), zap.Int64("window_ms", windowMs))
	return id, nil
}

// Filter returns the registered filter with id, or nil.
func (t *Table) Filter(id int64) *Filter {
	t.filterMu.RLock()
	defer t.filterMu.RUnlock()
	return t.filters[id]
}

// AddTrigger registers a threshold alarm over an existing filter's
// aggregate (spec §4.6, §4.7).
func (t *Table) AddTrigger(filterID int64, field string, kind AggregateKind, op RelOp, threshold float64) (int64, error) {
	if t.Filter(filterID) == nil {
		return 0, &ManagementError{Op: "add_trigger", Text: field, Err: fmt.Errorf("unknown filter id %d", filterID)}
	}
	id := t.nextTrigger.Add(1) - 1
	trg := &Trigger{id: id, filterID: filterID, field: field, kind: kind, op: op, threshold: threshold}

	t.triggerMu.Lock()
	t.triggers = append(t.triggers, trg)
	t.triggerMu.Unlock()

	if t.metadata != nil {
		if err := t.metadata.WriteTrigger(TriggerDescriptor{
			ID: uint32(id), FilterID: uint32(filterID), Kind: kind, Field: field, Op: op, Threshold: threshold,
		}); err != nil {
			t.logError("metadata write failed", err, zap.String("trigger_field", field))
		}
	}
	t.logInfo("trigger added", zap.Int64("trigger_id", id), zap.Int64("filter_id", filterID))
	return id, nil
}

// Triggers returns a snapshot of every registered trigger.
func (t *Table) Triggers() []*Trigger {
	t.triggerMu.RLock()
	defer t.triggerMu.RUnlock()
	out := make([]*Trigger, len(t.triggers))
	copy(out, t.triggers)
	return out
}

// Close releases the table's storage mode and metadata writer,
// combining any failures with multierr rather than stopping at the
// first one.
func (t *Table) Close() error {
	var err error
	err = multierr.Append(err, t.log.mode.Close())
	if t.metadata != nil {
		err = multierr.Append(err, t.metadata.Close())
	}
	return err
}
