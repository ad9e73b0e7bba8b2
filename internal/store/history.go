// Package store keeps the history of prepared runs in SQLite so that past
// resolutions can be listed, reloaded and queried again.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ddsim/internal/resolve"
	"ddsim/internal/sd"
	"ddsim/internal/simulation"
)

// ErrRunNotFound is returned when no stored run matches an id.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousRun is returned when an id prefix matches several runs.
var ErrAmbiguousRun = errors.New("run id prefix is ambiguous")

// Store is the run history database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// RunMeta is recorded alongside a plan.
type RunMeta struct {
	SteeringFile string
	Strict       bool
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	ID           string    `json:"id" yaml:"id"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	Geometry     string    `json:"geometry" yaml:"geometry"`
	CompactFile  string    `json:"compactFile" yaml:"compactFile"`
	SteeringFile string    `json:"steeringFile,omitempty" yaml:"steeringFile,omitempty"`
	Bindings     int       `json:"bindings" yaml:"bindings"`
	Unknown      int       `json:"unknown" yaml:"unknown"`
}

// Open opens or creates the history database at path. ":memory:" gives a
// private in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("Failed to set pragma", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("History store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		geometry TEXT NOT NULL DEFAULT '',
		compact_file TEXT NOT NULL DEFAULT '',
		filters TEXT NOT NULL DEFAULT '[]',
		binding_count INTEGER NOT NULL DEFAULT 0,
		unknown_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS bindings (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		detector TEXT NOT NULL,
		sensitive_type TEXT NOT NULL,
		category TEXT NOT NULL,
		action TEXT,
		action_params TEXT,
		action_source TEXT NOT NULL,
		action_pattern TEXT NOT NULL DEFAULT '',
		filters TEXT NOT NULL DEFAULT '[]',
		filter_source TEXT NOT NULL,
		filter_pattern TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_bindings_detector ON bindings(detector);

	CREATE TABLE IF NOT EXISTS diagnostics (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		detector TEXT NOT NULL,
		sensitive_type TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// RecordRun stores plan in one transaction.
func (s *Store) RecordRun(ctx context.Context, plan *simulation.Plan, meta RunMeta) (err error) {
	if plan == nil || plan.RunID == "" {
		return fmt.Errorf("%w: plan has no run id", sd.ErrPrecondition)
	}
	filters, err := json.Marshal(plan.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	result := plan.Result
	if result == nil {
		result = &resolve.Result{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, geometry, compact_file, steering_file, strict, filters, binding_count, unknown_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.RunID, plan.CreatedAt.UTC().Format(time.RFC3339Nano), plan.Geometry, plan.CompactFile,
		meta.SteeringFile, meta.Strict, string(filters), len(result.Bindings), len(result.Diagnostics)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	bstmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bindings (run_id, seq, detector, sensitive_type, category, action, action_params,
		 action_source, action_pattern, filters, filter_source, filter_pattern)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare bindings: %w", err)
	}
	defer bstmt.Close()

	for i, b := range result.Bindings {
		var action, params sql.NullString
		if b.Action != nil {
			action = sql.NullString{String: b.Action.Name, Valid: true}
			raw, merr := json.Marshal(b.Action.Params)
			if merr != nil {
				return fmt.Errorf("encode params of %s: %w", b.Detector, merr)
			}
			params = sql.NullString{String: string(raw), Valid: true}
		}
		ids, merr := json.Marshal(b.Filters)
		if merr != nil {
			return fmt.Errorf("encode filters of %s: %w", b.Detector, merr)
		}
		if _, err = bstmt.ExecContext(ctx, plan.RunID, i, b.Detector, b.SensitiveType, b.Category.String(),
			action, params, string(b.ActionSource), b.ActionPattern,
			string(ids), string(b.FilterSource), b.FilterPattern); err != nil {
			return fmt.Errorf("insert binding %s: %w", b.Detector, err)
		}
	}

	for i, d := range result.Diagnostics {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO diagnostics (run_id, seq, detector, sensitive_type, message) VALUES (?, ?, ?, ?, ?)`,
			plan.RunID, i, d.Detector, d.SensitiveType, d.Message); err != nil {
			return fmt.Errorf("insert diagnostic %s: %w", d.Detector, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("Recorded run",
		zap.String("run", plan.RunID),
		zap.Int("bindings", len(result.Bindings)))
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 lists all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, created_at, geometry, compact_file, steering_file, binding_count, unknown_count
		FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var created string
		if err := rows.Scan(&r.ID, &created, &r.Geometry, &r.CompactFile, &r.SteeringFile, &r.Bindings, &r.Unknown); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadRun rebuilds the plan stored under id. A unique prefix of the id is
// accepted; "latest" loads the most recent run. The kernel call log is not
// stored and comes back empty. Numeric action parameters come back as
// float64.
func (s *Store) LoadRun(ctx context.Context, id string) (*simulation.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	plan := &simulation.Plan{RunID: full, Result: &resolve.Result{}}
	var created, filters string
	if err := s.db.QueryRowContext(ctx,
		`SELECT created_at, geometry, compact_file, filters FROM runs WHERE id = ?`, full).
		Scan(&created, &plan.Geometry, &plan.CompactFile, &filters); err != nil {
		return nil, fmt.Errorf("load run %s: %w", full, err)
	}
	plan.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if err := json.Unmarshal([]byte(filters), &plan.Filters); err != nil {
		return nil, fmt.Errorf("decode filters of %s: %w", full, err)
	}

	if err := s.loadBindings(ctx, plan); err != nil {
		return nil, err
	}
	if err := s.loadDiagnostics(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Store) loadBindings(ctx context.Context, plan *simulation.Plan) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT detector, sensitive_type, category, action, action_params, action_source, action_pattern,
		 filters, filter_source, filter_pattern
		 FROM bindings WHERE run_id = ? ORDER BY seq`, plan.RunID)
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b resolve.Binding
		var category, actionSource, filterSource, ids string
		var action, params sql.NullString
		if err := rows.Scan(&b.Detector, &b.SensitiveType, &category, &action, &params,
			&actionSource, &b.ActionPattern, &ids, &filterSource, &b.FilterPattern); err != nil {
			return fmt.Errorf("scan binding: %w", err)
		}
		if b.Category, err = sd.ParseCategory(category); err != nil {
			return fmt.Errorf("binding %s: %w", b.Detector, err)
		}
		if action.Valid {
			b.Action = &sd.ActionSpec{Name: action.String}
			if params.Valid && params.String != "null" {
				if err := json.Unmarshal([]byte(params.String), &b.Action.Params); err != nil {
					return fmt.Errorf("decode params of %s: %w", b.Detector, err)
				}
			}
		}
		if err := json.Unmarshal([]byte(ids), &b.Filters); err != nil {
			return fmt.Errorf("decode filters of %s: %w", b.Detector, err)
		}
		b.ActionSource = resolve.Source(actionSource)
		b.FilterSource = resolve.Source(filterSource)
		plan.Result.Bindings = append(plan.Result.Bindings, b)
	}
	return rows.Err()
}

func (s *Store) loadDiagnostics(ctx context.Context, plan *simulation.Plan) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT detector, sensitive_type, message FROM diagnostics WHERE run_id = ? ORDER BY seq`, plan.RunID)
	if err != nil {
		return fmt.Errorf("load diagnostics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d resolve.Diagnostic
		if err := rows.Scan(&d.Detector, &d.SensitiveType, &d.Message); err != nil {
			return fmt.Errorf("scan diagnostic: %w", err)
		}
		plan.Result.Diagnostics = append(plan.Result.Diagnostics, d)
	}
	return rows.Err()
}

// resolveID maps "latest" or an id prefix onto a full run id.
func (s *Store) resolveID(ctx context.Context, id string) (string, error) {
	var rows *sql.Rows
	var err error
	if id == "" || id == "latest" {
		rows, err = s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY created_at DESC, id LIMIT 1`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	}
	if err != nil {
		return "", fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		ids = append(ids, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, id)
	}
}

// DeleteRun removes a run and its rows.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, q := range []string{
		`DELETE FROM diagnostics WHERE run_id = ?`,
		`DELETE FROM bindings WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, full); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete run %s: %w", full, err)
		}
	}
	return tx.Commit()
}
