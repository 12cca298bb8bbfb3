package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "groupcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddTarget(ctx context.Context, t Target) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	t, err := t.normalize()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO targets(id, name, category, added_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Name, t.Category, t.AddedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTargetExists
	}
	return nil
}

func (s *sqliteStore) RemoveTarget(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

func (s *sqliteStore) ListTargets(ctx context.Context, category string) ([]Target, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	category = strings.TrimSpace(category)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, added_at FROM targets
		 WHERE ? = '' OR category = ? COLLATE NOCASE
		 ORDER BY seq`,
		category, category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		var added string
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &added); err != nil {
			return nil, err
		}
		t.AddedAt, _ = time.Parse(time.RFC3339Nano, added)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendBatch(ctx context.Context, b BatchRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches(id, source, message, started_at, finished_at, total, succeeded, failed)
		 VALUES(?,?,?,?,?,?,?,?)`,
		b.ID, b.Source, b.Message,
		b.StartedAt.UTC().Format(time.RFC3339Nano), b.FinishedAt.UTC().Format(time.RFC3339Nano),
		b.Total, b.Succeeded, b.Failed,
	); err != nil {
		return err
	}
	for i, o := range b.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_outcomes(batch_id, position, target_id, status, detail, at)
			 VALUES(?,?,?,?,?,?)`,
			b.ID, i, o.TargetID, o.Status, nullStr(clipDetail(o.Detail)), o.At.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
