// Package store defines the index store interface used by the scan, backfill
// and search engines, together with its key layout and record codec.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store closed")

// Store is the narrow set of operations the catalog needs from a key-value index.
type Store interface {
	// Lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Reader

	// GetRecord returns nil, nil when no record exists for id.
	GetRecord(ctx context.Context, id string) (*model.CaptureRecord, error)
	// GetRecords fetches all ids in one round trip. Missing records leave a nil slot.
	GetRecords(ctx context.Context, ids []string) ([]*model.CaptureRecord, error)
	// RecordIDs enumerates the identities of all stored records.
	RecordIDs(ctx context.Context) ([]string, error)
	// ProtocolMembers returns the identities indexed under protocol (case-insensitive).
	ProtocolMembers(ctx context.Context, protocol string) ([]string, error)
	// ProtocolNames returns up to limit autocomplete names starting with prefix, in lexicographic order.
	ProtocolNames(ctx context.Context, prefix string, limit int) ([]string, error)

	// Writer

	// Update runs fn and applies every operation it queued as one atomic batch.
	// Nothing is written if fn returns an error.
	Update(ctx context.Context, fn func(b Batch) error) error
}

// Batch queues write operations for Store.Update.
type Batch interface {
	PutRecord(rec *model.CaptureRecord)
	DeleteRecord(id string)
	IndexProtocol(protocol, id string)
	UnindexProtocol(protocol, id string)
	AddProtocolNames(names ...string)
	// SetTotalPacketCount writes only the total_packet_count field of a
	// record, and only while the stored record still has the given
	// indexed_at. A missing or re-indexed record is left untouched.
	SetTotalPacketCount(id string, total int64, indexedAt time.Time)
}
