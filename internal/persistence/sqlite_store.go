package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps job records in a SQLite table ordered by position.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return s.applyMigrations(ctx)
}

type migration struct {
	version int
	name    string
}

// applyMigrations runs embedded migrations newer than the recorded schema
// version, each in its own transaction together with its version row.
func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	pending := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if v := migrationVersion(entry.Name()); v > current {
			pending = append(pending, migration{version: v, name: entry.Name()})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		if err := s.runMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) runMigration(ctx context.Context, m migration) (err error) {
	content, err := migrationFiles.ReadFile(path.Join("migrations", m.name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	return tx.Commit()
}

// migrationVersion returns the numeric prefix of a migration file name, or
// 0 when there is none.
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) Load(ctx context.Context) (tracker.Snapshot, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT company, job_title, location, job_url, salary_range, job_board, status,
			last_updated, additional_info_json, notes_json
		 FROM job_records
		 ORDER BY position ASC`,
	)
	if err != nil {
		return tracker.Snapshot{}, err
	}
	defer rows.Close()

	jobs := make([]tracker.Job, 0)
	for rows.Next() {
		var item tracker.Job
		var status, lastUpdated, infoJSON, notesJSON string
		if err := rows.Scan(
			&item.Company,
			&item.JobTitle,
			&item.Location,
			&item.JobURL,
			&item.SalaryRange,
			&item.JobBoard,
			&status,
			&lastUpdated,
			&infoJSON,
			&notesJSON,
		); err != nil {
			return tracker.Snapshot{}, err
		}
		item.Status = tracker.Status(status)
		if lastUpdated != "" {
			ts, err := time.Parse(time.RFC3339Nano, lastUpdated)
			if err != nil {
				return tracker.Snapshot{}, fmt.Errorf("parse last_updated of row %d: %w", len(jobs), err)
			}
			item.LastUpdated = ts
		}
		if infoJSON != "" {
			if err := json.Unmarshal([]byte(infoJSON), &item.AdditionalInfo); err != nil {
				return tracker.Snapshot{}, err
			}
		}
		if notesJSON != "" {
			if err := json.Unmarshal([]byte(notesJSON), &item.Notes); err != nil {
				return tracker.Snapshot{}, err
			}
		}
		jobs = append(jobs, item)
	}
	if err := rows.Err(); err != nil {
		return tracker.Snapshot{}, err
	}

	format := tracker.FormatArray
	if len(jobs) == 0 {
		format = tracker.FormatMissing
	}
	return tracker.Snapshot{Jobs: jobs, Format: format}, nil
}

// Save rewrites the table with jobs in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, jobs []tracker.Job) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM job_records`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO job_records (
			position, company, job_title, location, job_url, salary_range, job_board, status,
			last_updated, additional_info_json, notes_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, job := range jobs {
		var lastUpdated, infoJSON, notesJSON string
		if !job.LastUpdated.IsZero() {
			lastUpdated = job.LastUpdated.UTC().Format(time.RFC3339Nano)
		}
		if job.AdditionalInfo != nil {
			raw, mErr := json.Marshal(job.AdditionalInfo)
			if mErr != nil {
				return fmt.Errorf("encode additional info of job #%d: %w", i, mErr)
			}
			infoJSON = string(raw)
		}
		if job.Notes != nil {
			raw, mErr := json.Marshal(job.Notes)
			if mErr != nil {
				return fmt.Errorf("encode notes of job #%d: %w", i, mErr)
			}
			notesJSON = string(raw)
		}
		if _, err = stmt.ExecContext(
			ctx,
			i,
			job.Company,
			job.JobTitle,
			job.Location,
			job.JobURL,
			job.SalaryRange,
			job.JobBoard,
			string(job.Status),
			lastUpdated,
			infoJSON,
			notesJSON,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
