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

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteLedger implements Ledger on a SQLite database.
type SQLiteLedger struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens or creates the ledger at dbPath.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteLedger{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteLedger) Path() string { return s.dbPath }

// Record stores run and returns its ID, assigning one if empty.
func (s *SQLiteLedger) Record(ctx context.Context, run *Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	subtrees, err := json.Marshal(run.Subtrees)
	if err != nil {
		return "", fmt.Errorf("failed to marshal subtrees: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, created_at, cell, input_path, output_path,
			frequency, total_segments, mapping, seed, subtrees,
			synapses_in, synapses_out, merged, clamped, warnings, new_sections
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), run.Cell,
		nullString(run.InputPath), nullString(run.OutputPath),
		run.Frequency, run.TotalSegments, run.Mapping, int64(run.Seed), string(subtrees),
		run.SynapsesIn, run.SynapsesOut, run.Merged, run.Clamped, run.Warnings, run.NewSections,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	mapStmt, err := tx.PrepareContext(ctx, `INSERT INTO segment_map (run_id, original, image) VALUES (?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare segment map insert: %w", err)
	}
	defer mapStmt.Close()
	for _, entry := range run.Map {
		for _, img := range entry.Images {
			if _, err := mapStmt.ExecContext(ctx, run.ID, entry.Original, img); err != nil {
				return "", fmt.Errorf("failed to insert segment map entry %s: %w", entry.Original, err)
			}
		}
	}

	moveStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO synapse_moves (run_id, synapse, subtree, destination, merged_into, clamped)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare synapse move insert: %w", err)
	}
	defer moveStmt.Close()
	for _, mv := range run.Moves {
		var into sql.NullInt64
		if mv.MergedInto != nil {
			into = sql.NullInt64{Int64: int64(*mv.MergedInto), Valid: true}
		}
		if _, err := moveStmt.ExecContext(ctx, run.ID, mv.Synapse, mv.Subtree, mv.Destination, into, boolToInt(mv.Clamped)); err != nil {
			return "", fmt.Errorf("failed to insert move of synapse %d: %w", mv.Synapse, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return run.ID, nil
}

// Get returns one run with its details.
func (s *SQLiteLedger) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT original, image FROM segment_map WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment map: %w", err)
	}
	defer rows.Close()
	index := make(map[string]int)
	for rows.Next() {
		var orig, img string
		if err := rows.Scan(&orig, &img); err != nil {
			return nil, fmt.Errorf("failed to scan segment map: %w", err)
		}
		i, ok := index[orig]
		if !ok {
			i = len(run.Map)
			index[orig] = i
			run.Map = append(run.Map, MapEntry{Original: orig})
		}
		run.Map[i].Images = append(run.Map[i].Images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	moveRows, err := s.db.QueryContext(ctx, `
		SELECT synapse, subtree, destination, merged_into, clamped
		FROM synapse_moves WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query synapse moves: %w", err)
	}
	defer moveRows.Close()
	for moveRows.Next() {
		var (
			mv      SynapseMove
			into    sql.NullInt64
			clamped int
		)
		if err := moveRows.Scan(&mv.Synapse, &mv.Subtree, &mv.Destination, &into, &clamped); err != nil {
			return nil, fmt.Errorf("failed to scan synapse move: %w", err)
		}
		if into.Valid {
			v := int(into.Int64)
			mv.MergedInto = &v
		}
		mv.Clamped = clamped != 0
		run.Moves = append(run.Moves, mv)
	}
	return run, moveRows.Err()
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *SQLiteLedger) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Delete removes a run and its details.
func (s *SQLiteLedger) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `
	id, created_at, cell, input_path, output_path,
	frequency, total_segments, mapping, seed, subtrees,
	synapses_in, synapses_out, merged, clamped, warnings, new_sections`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                   Run
		createdAt, subtrees   string
		inputPath, outputPath sql.NullString
		seed                  int64
	)
	err := row.Scan(
		&run.ID, &createdAt, &run.Cell, &inputPath, &outputPath,
		&run.Frequency, &run.TotalSegments, &run.Mapping, &seed, &subtrees,
		&run.SynapsesIn, &run.SynapsesOut, &run.Merged, &run.Clamped, &run.Warnings, &run.NewSections,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	run.InputPath = inputPath.String
	run.OutputPath = outputPath.String
	run.Seed = uint64(seed)
	if err := json.Unmarshal([]byte(subtrees), &run.Subtrees); err != nil {
		return nil, fmt.Errorf("failed to parse subtrees of run %s: %w", run.ID, err)
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Ledger = (*SQLiteLedger)(nil)
