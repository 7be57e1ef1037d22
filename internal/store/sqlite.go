package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ce-dot-net/ace/internal/pattern"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for an in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection avoids "database is locked" and keeps :memory: a
	// single database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
		s.logger.Debug("applied migration", zap.Int("version", version))
	}
	return nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Missing counters decode as zero.
const selectColumns = `SELECT id, bullet_id, name, description, domain, kind, language,
	COALESCE(observations, 0), COALESCE(successes, 0), COALESCE(failures, 0), COALESCE(neutrals, 0),
	insights, last_seen, created_at FROM patterns`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(row rowScanner) (*pattern.Record, error) {
	var (
		r                   pattern.Record
		kind, insights      string
		lastSeen, createdAt string
	)
	if err := row.Scan(&r.ID, &r.BulletID, &r.Name, &r.Description, &r.Domain, &kind, &r.Language,
		&r.Observations, &r.Successes, &r.Failures, &r.Neutrals,
		&insights, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	r.Kind = pattern.Kind(kind)

	if insights != "" {
		if err := json.Unmarshal([]byte(insights), &r.Insights); err != nil {
			s.logger.Warn("discarding unreadable insights", zap.String("pattern_id", r.ID), zap.Error(err))
			r.Insights = nil
		}
	}
	r.LastSeen, _ = time.Parse(timeLayout, lastSeen)
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)

	if pattern.ConfidenceAnomaly(r.Observations, r.Successes) {
		s.logger.Warn("pattern has more successes than observations",
			zap.String("pattern_id", r.ID),
			zap.Int("observations", r.Observations),
			zap.Int("successes", r.Successes))
	}
	r.Normalize()
	return &r, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*pattern.Record, error) {
	r, err := s.scan(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting pattern %s: %w", id, err)
	}
	return r, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*pattern.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, filter.Domain)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Record
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	sortRecords(out)
	return out, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, r *pattern.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("storing pattern: %w", err)
	}
	insights, err := json.Marshal(r.Insights)
	if err != nil {
		return fmt.Errorf("encoding insights: %w", err)
	}
	if r.Insights == nil {
		insights = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning put: %w", err)
	}
	defer tx.Rollback()

	bulletID := r.BulletID
	if bulletID == "" {
		bulletID, err = s.bulletIDFor(ctx, tx, r)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patterns (id, bullet_id, name, description, domain, kind, language,
			observations, successes, failures, neutrals, confidence, insights, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bullet_id = excluded.bullet_id,
			name = excluded.name,
			description = excluded.description,
			domain = excluded.domain,
			kind = excluded.kind,
			language = excluded.language,
			observations = excluded.observations,
			successes = excluded.successes,
			failures = excluded.failures,
			neutrals = excluded.neutrals,
			confidence = excluded.confidence,
			insights = excluded.insights,
			last_seen = excluded.last_seen`,
		r.ID, bulletID, r.Name, r.Description, r.Domain, string(r.Kind), r.Language,
		r.Observations, r.Successes, r.Failures, r.Neutrals, r.Confidence, string(insights),
		r.LastSeen.UTC().Format(timeLayout), r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storing pattern %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing pattern %s: %w", r.ID, err)
	}
	r.BulletID = bulletID
	return nil
}

// bulletIDFor keeps an existing row's bullet ID or allocates the next one.
func (s *SQLiteStore) bulletIDFor(ctx context.Context, tx *sql.Tx, r *pattern.Record) (string, error) {
	var existing string
	err := tx.QueryRowContext(ctx, "SELECT bullet_id FROM patterns WHERE id = ?", r.ID).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("looking up bullet id: %w", err)
	}

	prefix := pattern.BulletPrefix(r)
	rows, err := tx.QueryContext(ctx, "SELECT bullet_id FROM patterns WHERE bullet_id LIKE ?", prefix+"-%")
	if err != nil {
		return "", fmt.Errorf("allocating bullet id: %w", err)
	}
	defer rows.Close()

	var used []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("allocating bullet id: %w", err)
		}
		used = append(used, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("allocating bullet id: %w", err)
	}
	return nextBulletID(prefix, used), nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM patterns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting pattern %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting pattern %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
