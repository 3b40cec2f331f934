package store

import (
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// OpKind identifies a queued batch operation.
type OpKind int

const (
	OpPutRecord OpKind = iota
	OpDeleteRecord
	OpIndexProtocol
	OpUnindexProtocol
	OpAddProtocolNames
	OpSetTotalPacketCount
)

// Op is one queued write.
type Op struct {
	Kind     OpKind
	ID       string
	Protocol string // normalized
	Record   *model.CaptureRecord
	Names    []string

	// Total and IndexedAt belong to OpSetTotalPacketCount.
	Total     int64
	IndexedAt time.Time
}

// Ops records batch operations so a backend can execute them in one transaction.
type Ops struct {
	list []Op
}

var _ Batch = (*Ops)(nil)

// PutRecord queues a full record upsert. The record is copied.
func (o *Ops) PutRecord(rec *model.CaptureRecord) {
	o.list = append(o.list, Op{Kind: OpPutRecord, ID: rec.ID, Record: rec.Clone()})
}

// DeleteRecord queues removal of a record.
func (o *Ops) DeleteRecord(id string) {
	o.list = append(o.list, Op{Kind: OpDeleteRecord, ID: id})
}

// IndexProtocol queues adding id to the protocol's membership set.
func (o *Ops) IndexProtocol(protocol, id string) {
	o.list = append(o.list, Op{Kind: OpIndexProtocol, ID: id, Protocol: NormalizeProtocol(protocol)})
}

// UnindexProtocol queues removing id from the protocol's membership set.
func (o *Ops) UnindexProtocol(protocol, id string) {
	o.list = append(o.list, Op{Kind: OpUnindexProtocol, ID: id, Protocol: NormalizeProtocol(protocol)})
}

// AddProtocolNames queues autocomplete entries. Blank names are ignored.
func (o *Ops) AddProtocolNames(names ...string) {
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		if name = NormalizeProtocol(name); name != "" {
			normalized = append(normalized, name)
		}
	}
	if len(normalized) == 0 {
		return
	}
	o.list = append(o.list, Op{Kind: OpAddProtocolNames, Names: normalized})
}

// SetTotalPacketCount queues a guarded write of the total packet count.
func (o *Ops) SetTotalPacketCount(id string, total int64, indexedAt time.Time) {
	o.list = append(o.list, Op{Kind: OpSetTotalPacketCount, ID: id, Total: total, IndexedAt: indexedAt})
}

// List returns the queued operations in order.
func (o *Ops) List() []Op {
	return o.list
}

// Len returns the number of queued operations.
func (o *Ops) Len() int {
	return len(o.list)
}

// Collect runs fn against a fresh Ops.
func Collect(fn func(b Batch) error) (*Ops, error) {
	ops := &Ops{}
	if err := fn(ops); err != nil {
		return nil, err
	}
	return ops, nil
}
