// Package persist keeps task configs on disk across runs, keyed by the md5 of
// the uploaded file, so reopening the same photo restores its edits.
package persist

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
	"github.com/chaos-io/cutout/taskconfig"
)

// Store wraps the SQLite database holding saved task configs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_configs (
            hash TEXT PRIMARY KEY,
            params_json TEXT NOT NULL,
            mask_png BLOB,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_task_configs_updated_at ON task_configs(updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const upsert = `INSERT INTO task_configs (hash, params_json, mask_png, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
    params_json = excluded.params_json,
    mask_png = excluded.mask_png,
    updated_at = excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func save(ctx context.Context, db execer, hash string, cfg taskconfig.Config) error {
	p, err := json.Marshal(cfg.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var blob []byte
	if cfg.Mask != nil {
		var buf bytes.Buffer
		if err := cfg.Mask.Encode(&buf); err != nil {
			return err
		}
		blob = buf.Bytes()
	}
	if _, err := db.ExecContext(ctx, upsert, hash, string(p), blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("save %s: %w", hash, err)
	}
	return nil
}

// Save writes the config for hash, replacing an older one.
func (s *Store) Save(ctx context.Context, hash string, cfg taskconfig.Config) error {
	return save(ctx, s.db, hash, cfg)
}

// SaveAll writes every config in one transaction.
func (s *Store) SaveAll(ctx context.Context, configs map[string]taskconfig.Config) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for hash, cfg := range configs {
		if err := save(ctx, tx, hash, cfg); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the config saved for hash. It reports false when there is
// none.
func (s *Store) Load(ctx context.Context, hash string) (taskconfig.Config, bool, error) {
	var (
		raw  string
		blob []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT params_json, mask_png FROM task_configs WHERE hash = ?`, hash,
	).Scan(&raw, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return taskconfig.Config{}, false, nil
	}
	if err != nil {
		return taskconfig.Config{}, false, fmt.Errorf("load %s: %w", hash, err)
	}

	// 旧版本缺失的字段沿用默认值
	cfg := taskconfig.Config{Params: params.Default()}
	if err := json.Unmarshal([]byte(raw), &cfg.Params); err != nil {
		return taskconfig.Config{}, false, fmt.Errorf("unmarshal params %s: %w", hash, err)
	}
	cfg.Params = cfg.Params.Clamp()
	if len(blob) > 0 {
		m, err := mask.Decode(bytes.NewReader(blob))
		if err != nil {
			return taskconfig.Config{}, false, err
		}
		cfg.Mask = m
	}
	return cfg, true, nil
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_configs WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("delete %s: %w", hash, err)
	}
	return nil
}

// Prune removes configs not updated since before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_configs WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_configs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
