// Package sqlite provides the SQLite implementation of store.Store.
//
// The catalog keeps the key-value layout of the Redis backend: record hashes
// become rows of record_fields, protocol sets become rows of set_members and
// the autocomplete sorted set becomes lex_members. A catalog can therefore be
// copied between backends field for field.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// SQLite schema version for migrations.
const schemaVersion = 1

// Upper bound on ids per IN (...) clause.
const maxBatchIDs = 500

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (and if needed creates) the catalog database.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}

	// Ensure directory exists
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Build DSN
	dsn := "file:" + cfg.DBPath
	params := "?_busy_timeout=5000"
	if cfg.ReadOnly {
		params += "&mode=ro"
	}
	if cfg.WAL {
		params += "&_journal_mode=WAL"
	}
	dsn += params

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:   db,
		path: cfg.DBPath,
		cfg:  cfg,
	}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Meta table for index metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- Record hashes: one row per field
CREATE TABLE IF NOT EXISTS record_fields (
	key   TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, field)
);

-- Unordered sets (protocol membership)
CREATE TABLE IF NOT EXISTS set_members (
	set_key TEXT NOT NULL,
	member  TEXT NOT NULL,
	PRIMARY KEY (set_key, member)
);

-- Lexicographically ordered sets (autocomplete)
CREATE TABLE IF NOT EXISTS lex_members (
	set_key TEXT NOT NULL,
	member  TEXT NOT NULL,
	PRIMARY KEY (set_key, member)
);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", fmt.Sprintf("%d", schemaVersion))
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Read Operations
// ────────────────────────────────────────────────────────────────────────────────

// GetRecord returns the record stored under id, or nil when absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.CaptureRecord, error) {
	recs, err := s.GetRecords(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// GetRecords loads many records with one query per chunk of ids.
func (s *SQLiteStore) GetRecords(ctx context.Context, ids []string) ([]*model.CaptureRecord, error) {
	fields := make(map[string]map[string]string, len(ids))

	for start := 0; start < len(ids); start += maxBatchIDs {
		end := min(start+maxBatchIDs, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = store.RecordKey(id)
		}
		query := `SELECT key, field, value FROM record_fields WHERE key IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		for rows.Next() {
			var key, field, value string
			if err := rows.Scan(&key, &field, &value); err != nil {
				rows.Close()
				return nil, err
			}
			id, _ := store.IDFromRecordKey(key)
			if fields[id] == nil {
				fields[id] = make(map[string]string)
			}
			fields[id][field] = value
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	out := make([]*model.CaptureRecord, len(ids))
	for i, id := range ids {
		out[i] = store.DecodeRecord(id, fields[id])
	}
	return out, nil
}

// RecordIDs lists the identities of all stored records.
func (s *SQLiteStore) RecordIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT key FROM record_fields WHERE key >= ? AND key < ? ORDER BY key`,
		store.RecordPrefix, store.PrefixEnd(store.RecordPrefix))
	if err != nil {
		return nil, fmt.Errorf("query record keys: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if id, ok := store.IDFromRecordKey(key); ok {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// ProtocolMembers lists the identities indexed under protocol.
func (s *SQLiteStore) ProtocolMembers(ctx context.Context, protocol string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM set_members WHERE set_key = ?`, store.ProtocolKey(protocol))
	if err != nil {
		return nil, fmt.Errorf("query protocol members: %w", err)
	}
	return scanStrings(rows)
}

// ProtocolNames returns autocomplete names starting with prefix in byte order.
func (s *SQLiteStore) ProtocolNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}

	query := `SELECT member FROM lex_members WHERE set_key = ? AND member >= ?`
	args := []any{store.AutocompleteKey, prefix}
	if end := store.PrefixEnd(prefix); end != "" {
		query += ` AND member < ?`
		args = append(args, end)
	}
	query += ` ORDER BY member LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query protocol names: %w", err)
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ────────────────────────────────────────────────────────────────────────────────
// Batch Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// Update applies every operation queued by fn inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(b store.Batch) error) error {
	ops, err := store.Collect(fn)
	if err != nil {
		return err
	}
	if ops.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops.List() {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op store.Op) error {
	switch op.Kind {
	case store.OpPutRecord:
		key := store.RecordKey(op.ID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_fields WHERE key = ?`, key); err != nil {
			return fmt.Errorf("replace record %s: %w", op.ID, err)
		}
		for field, value := range store.EncodeRecord(op.Record) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO record_fields (key, field, value) VALUES (?, ?, ?)`,
				key, field, value); err != nil {
				return fmt.Errorf("write record %s: %w", op.ID, err)
			}
		}

	case store.OpDeleteRecord:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM record_fields WHERE key = ?`, store.RecordKey(op.ID)); err != nil {
			return fmt.Errorf("delete record %s: %w", op.ID, err)
		}

	case store.OpIndexProtocol:
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO set_members (set_key, member) VALUES (?, ?)`,
			store.ProtocolKey(op.Protocol), op.ID); err != nil {
			return fmt.Errorf("index %s under %s: %w", op.ID, op.Protocol, err)
		}

	case store.OpUnindexProtocol:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM set_members WHERE set_key = ? AND member = ?`,
			store.ProtocolKey(op.Protocol), op.ID); err != nil {
			return fmt.Errorf("unindex %s from %s: %w", op.ID, op.Protocol, err)
		}

	case store.OpAddProtocolNames:
		for _, name := range op.Names {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO lex_members (set_key, member) VALUES (?, ?)`,
				store.AutocompleteKey, name); err != nil {
				return fmt.Errorf("add protocol name %s: %w", name, err)
			}
		}

	case store.OpSetTotalPacketCount:
		key := store.RecordKey(op.ID)
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO record_fields (key, field, value)
SELECT ?, ?, ?
WHERE EXISTS (SELECT 1 FROM record_fields WHERE key = ?)
  AND COALESCE((SELECT value FROM record_fields WHERE key = ? AND field = ?), '') = ?`,
			key, store.FieldTotalPacketCount, strconv.FormatInt(op.Total, 10),
			key,
			key, store.FieldIndexedAt, store.EncodeTime(op.IndexedAt)); err != nil {
			return fmt.Errorf("set total of %s: %w", op.ID, err)
		}

	default:
		return fmt.Errorf("unknown batch op %d", op.Kind)
	}
	return nil
}
