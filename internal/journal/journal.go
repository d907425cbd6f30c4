// Package journal persists task lifecycle events to SQLite so task
// outcomes survive restarts. It subscribes to the event bus; nothing in
// the hot path writes to it directly.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"taskbridge/internal/eventbus"
	logx "taskbridge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
	HistorySize int           // rows kept after pruning; 0 means 1000
}

// Entry is one recorded task event.
type Entry struct {
	At       time.Time
	Topic    string
	Label    string
	Origin   string
	Duration time.Duration
	Error    string
}

type Journal struct {
	db  *sql.DB
	log logx.Logger
	cfg Config

	opCount atomic.Uint64
}

func Open(cfg Config, log logx.Logger) (*Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("journal: path is required")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, log: log, cfg: cfg}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs(at, topic, label, origin, duration_ms, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Topic, nullStr(e.Label), nullStr(e.Origin),
		e.Duration.Milliseconds(), nullStr(e.Error),
	)
	if err == nil && j.opCount.Add(1)%200 == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = j.prune(pctx)
		cancel()
	}
	return err
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, topic, COALESCE(label,''), COALESCE(origin,''), duration_ms, COALESCE(err,'')
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		var durMS int64
		if err := rows.Scan(&at, &e.Topic, &e.Label, &e.Origin, &durMS, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT MAX(id) FROM runs) - ?`, j.cfg.HistorySize)
	return err
}

// Run consumes bus events until ctx is done. Intended to be spawned under
// a supervisor.
func (j *Journal) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			te, _ := ev.Data.(eventbus.TaskEvent)
			e := Entry{
				At:       ev.Time,
				Topic:    ev.Topic,
				Label:    te.Label,
				Origin:   te.Origin,
				Duration: te.Duration,
				Error:    te.Error,
			}
			if err := j.Append(ctx, e); err != nil && ctx.Err() == nil {
				j.log.Warn("journal append failed", logx.Err(err))
			}
		}
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
