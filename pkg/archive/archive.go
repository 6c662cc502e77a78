// Package archive stores drained episodes in SQLite. It is a reader-side
// sink: the capture log never reads it back.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/episode"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence         INTEGER NOT NULL,
	cpu              INTEGER NOT NULL,
	start_sec        INTEGER NOT NULL,
	start_nsec       INTEGER NOT NULL,
	duration_ns      INTEGER NOT NULL,
	tick_duration_ns INTEGER NOT NULL,
	drained_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_start ON episodes(start_sec, start_nsec);
CREATE INDEX IF NOT EXISTS idx_episodes_cpu ON episodes(cpu);
`

// Row is one archived episode.
type Row struct {
	Sequence       uint64
	CPU            int
	Start          clock.Timespec
	DurationNs     int64
	TickDurationNs int64
	DrainedAt      int64
}

// Summary aggregates archived episodes per CPU.
type Summary struct {
	CPU           int
	Episodes      int64
	TotalIdleNs   int64
	LongestIdleNs int64
}

// DB is an open archive.
type DB struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open creates or opens the archive at path with WAL journaling.
func Open(path string, logger *logrus.Logger) (*DB, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if path == "" {
		return nil, errors.New("archive path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive not responding: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}

	logger.WithField("path", path).Debug("Archive opened")
	return &DB{db: db, logger: logger}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Store inserts one drained batch in a single transaction. drainedAt is
// the wall-clock second of the drain.
func (d *DB) Store(ctx context.Context, episodes []episode.Episode, drainedAt int64) (err error) {
	if len(episodes) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO episodes
		(sequence, cpu, start_sec, start_nsec, duration_ns, tick_duration_ns, drained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, ep := range episodes {
		if _, err = stmt.ExecContext(ctx,
			int64(ep.Sequence), ep.CPU, ep.StartWall.Sec, ep.StartWall.Nsec,
			ep.DurationNanoseconds(), ep.TickDurationNanoseconds(), drainedAt,
		); err != nil {
			return fmt.Errorf("archive episode %d: %w", ep.Sequence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit archive transaction: %w", err)
	}
	d.logger.WithFields(logrus.Fields{
		"episodes":   len(episodes),
		"drained_at": drainedAt,
	}).Debug("Archived batch")
	return nil
}

// Recent returns up to limit rows, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Row, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT sequence, cpu, start_sec, start_nsec,
		duration_ns, tick_duration_ns, drained_at
		FROM episodes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var seq int64
		if err := rows.Scan(&seq, &r.CPU, &r.Start.Sec, &r.Start.Nsec,
			&r.DurationNs, &r.TickDurationNs, &r.DrainedAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		r.Sequence = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summarize aggregates the archive per CPU.
func (d *DB) Summarize(ctx context.Context) ([]Summary, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT cpu, COUNT(*), SUM(duration_ns), MAX(duration_ns)
		FROM episodes GROUP BY cpu ORDER BY cpu`)
	if err != nil {
		return nil, fmt.Errorf("summarize archive: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.CPU, &s.Episodes, &s.TotalIdleNs, &s.LongestIdleNs); err != nil {
			return nil, fmt.Errorf("scan archive summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
