// Package confluo provides an append-only, schema-aware record store
// with in-line secondary indexing and live filter/trigger evaluation
// over the ingest stream.
//
// Records are packed binary tuples described by a user Schema; each
// Append produces a monotonically increasing byte offset that serves
// as the record's identifier. Readers observe records only after the
// write is durable to the data log and the published read tail has
// advanced past the record's extent.
//
// The core type is Table, which orchestrates the append path: log
// write, schema decode, index insert, filter update, and tail
// publication, in that order with respect to what readers may observe.
package confluo

import "errors"

// Sentinel errors returned by table and storage operations.
var (
	// ErrNotFound is returned when a requested offset is not yet
	// covered by the read tail.
	ErrNotFound = errors.New("confluo: offset not found")

	// ErrClosed is returned when operating on a closed table.
	ErrClosed = errors.New("confluo: table is closed")

	// ErrZeroLength is returned by LinearLog.Reserve for a zero-length
	// reservation.
	ErrZeroLength = errors.New("confluo: zero-length record")
)
