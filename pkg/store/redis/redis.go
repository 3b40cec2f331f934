// Package redis provides the Redis implementation of store.Store.
//
// Records are hashes under pcap:file:<id>, protocol memberships are sets under
// pcap:index:protocol:<name> and autocomplete names live in the zero-score
// sorted set pcap:protocols:autocomplete.
package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// SCAN page size for key enumeration.
const scanCount = 500

// setTotalScript sets one field of an existing record hash when its
// indexed_at still equals ARGV[2].
const setTotalScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local stamp = redis.call('HGET', KEYS[1], ARGV[1]) or ''
if stamp ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[3], ARGV[4])
return 1
`

// Config holds connection settings. URL wins over Addr when both are set.
type Config struct {
	URL      string
	Addr     string
	Password string
	DB       int
}

// RedisStore is the Redis implementation of store.Store.
type RedisStore struct {
	client *goredis.Client
}

var _ store.Store = (*RedisStore)(nil)

// New creates a client. It does not dial; call Ping to check connectivity.
func New(cfg Config) (*RedisStore, error) {
	var opts *goredis.Options
	if cfg.URL != "" {
		var err error
		opts, err = goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	} else {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis: no address configured")
		}
		opts = &goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	return &RedisStore{client: goredis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetRecord(ctx context.Context, id string) (*model.CaptureRecord, error) {
	fields, err := s.client.HGetAll(ctx, store.RecordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", id, err)
	}
	return store.DecodeRecord(id, fields), nil
}

// GetRecords fetches all records in a single pipeline.
func (s *RedisStore) GetRecords(ctx context.Context, ids []string) ([]*model.CaptureRecord, error) {
	out := make([]*model.CaptureRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, store.RecordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline hgetall: %w", err)
	}

	for i, cmd := range cmds {
		out[i] = store.DecodeRecord(ids[i], cmd.Val())
	}
	return out, nil
}

func (s *RedisStore) RecordIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, store.RecordPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		if id, ok := store.IDFromRecordKey(iter.Val()); ok {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan record keys: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) ProtocolMembers(ctx context.Context, protocol string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, store.ProtocolKey(protocol)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", protocol, err)
	}
	return ids, nil
}

func (s *RedisStore) ProtocolNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	by := &goredis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		by.Min = "[" + prefix
		if end := store.PrefixEnd(prefix); end != "" {
			by.Max = "(" + end
		}
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	names, err := s.client.ZRangeByLex(ctx, store.AutocompleteKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebylex %q: %w", prefix, err)
	}
	return names, nil
}

// Update applies the queued operations inside MULTI/EXEC.
func (s *RedisStore) Update(ctx context.Context, fn func(b store.Batch) error) error {
	ops, err := store.Collect(fn)
	if err != nil {
		return err
	}
	if ops.Len() == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, op := range ops.List() {
			switch op.Kind {
			case store.OpPutRecord:
				key := store.RecordKey(op.ID)
				pipe.Del(ctx, key)
				pipe.HSet(ctx, key, hashArgs(store.EncodeRecord(op.Record))...)
			case store.OpDeleteRecord:
				pipe.Del(ctx, store.RecordKey(op.ID))
			case store.OpIndexProtocol:
				pipe.SAdd(ctx, store.ProtocolKey(op.Protocol), op.ID)
			case store.OpUnindexProtocol:
				pipe.SRem(ctx, store.ProtocolKey(op.Protocol), op.ID)
			case store.OpAddProtocolNames:
				members := make([]goredis.Z, len(op.Names))
				for i, name := range op.Names {
					members[i] = goredis.Z{Score: 0, Member: name}
				}
				pipe.ZAdd(ctx, store.AutocompleteKey, members...)
			case store.OpSetTotalPacketCount:
				pipe.Eval(ctx, setTotalScript, []string{store.RecordKey(op.ID)},
					store.FieldIndexedAt, store.EncodeTime(op.IndexedAt),
					store.FieldTotalPacketCount, strconv.FormatInt(op.Total, 10))
			default:
				return fmt.Errorf("unknown batch op %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("exec batch: %w", err)
	}
	return nil
}

func hashArgs(fields map[string]string) []any {
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
