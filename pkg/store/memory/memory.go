// Package memory provides an in-process implementation of store.Store.
// It backs tests and single-run CLI invocations; nothing survives Close.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// Store keeps the catalog in maps guarded by one lock.
type Store struct {
	mu      sync.RWMutex
	closed  bool
	records map[string]*model.CaptureRecord
	members map[string]map[string]struct{} // protocol -> ids
	names   []string                       // sorted, distinct
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*model.CaptureRecord),
		members: make(map[string]map[string]struct{}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*model.CaptureRecord, error) {
	recs, err := s.GetRecords(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (s *Store) GetRecords(ctx context.Context, ids []string) ([]*model.CaptureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	out := make([]*model.CaptureRecord, len(ids))
	for i, id := range ids {
		if rec, ok := s.records[id]; ok {
			out[i] = rec.Clone()
		}
	}
	return out, nil
}

func (s *Store) RecordIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) ProtocolMembers(ctx context.Context, protocol string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	set := s.members[store.NormalizeProtocol(protocol)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) ProtocolNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	var out []string
	for i := sort.SearchStrings(s.names, prefix); i < len(s.names); i++ {
		if !strings.HasPrefix(s.names[i], prefix) || (limit > 0 && len(out) == limit) {
			break
		}
		out = append(out, s.names[i])
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, fn func(b store.Batch) error) error {
	ops, err := store.Collect(fn)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	for _, op := range ops.List() {
		switch op.Kind {
		case store.OpPutRecord:
			s.records[op.ID] = op.Record
		case store.OpDeleteRecord:
			delete(s.records, op.ID)
		case store.OpIndexProtocol:
			set, ok := s.members[op.Protocol]
			if !ok {
				set = make(map[string]struct{})
				s.members[op.Protocol] = set
			}
			set[op.ID] = struct{}{}
		case store.OpUnindexProtocol:
			if set, ok := s.members[op.Protocol]; ok {
				delete(set, op.ID)
				if len(set) == 0 {
					delete(s.members, op.Protocol)
				}
			}
		case store.OpAddProtocolNames:
			for _, name := range op.Names {
				s.addName(name)
			}
		case store.OpSetTotalPacketCount:
			if rec, ok := s.records[op.ID]; ok && rec.IndexedAt.Equal(op.IndexedAt) {
				total := op.Total
				rec.TotalPacketCount = &total
			}
		}
	}
	return nil
}

func (s *Store) addName(name string) {
	i := sort.SearchStrings(s.names, name)
	if i < len(s.names) && s.names[i] == name {
		return
	}
	s.names = append(s.names, "")
	copy(s.names[i+1:], s.names[i:])
	s.names[i] = name
}
