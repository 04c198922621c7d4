package mesh

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	input       TEXT NOT NULL,
	started_ms  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	resolution  DOUBLE NOT NULL,
	origin_x    DOUBLE NOT NULL,
	origin_y    DOUBLE NOT NULL,
	nx          INTEGER NOT NULL,
	ny          INTEGER NOT NULL,
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	counters    TEXT NOT NULL,
	stats       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cells (
	run_id TEXT NOT NULL,
	ix     INTEGER NOT NULL,
	iy     INTEGER NOT NULL,
	sum    DOUBLE NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (run_id, ix, iy),
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`

// RunRecord describes a stored run.
type RunRecord struct {
	RunID      string        `json:"runId"`
	Input      string        `json:"input"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Resolution float64       `json:"resolution"`
	OriginX    float64       `json:"originX"`
	OriginY    float64       `json:"originY"`
	Nx         int           `json:"nx"`
	Ny         int           `json:"ny"`
	Bounds     orb.Bound     `json:"bounds"`
	Counters   Counters      `json:"counters"`
	Stats      RasterStats   `json:"stats"`
}

// NewRunRecord summarizes a finished run for storage.
func NewRunRecord(input string, res *Result) RunRecord {
	rec := RunRecord{
		RunID:    res.RunID,
		Input:    input,
		Started:  res.Started,
		Duration: res.Duration,
		Counters: res.Counters,
	}
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	if r := res.Raster; r != nil {
		rec.Resolution = r.Resolution
		rec.OriginX, rec.OriginY = r.OriginX, r.OriginY
		rec.Nx, rec.Ny = r.Nx, r.Ny
		rec.Bounds = r.Bounds
		rec.Stats = r.Stats()
	}
	return rec
}

// Store persists finished runs and their covered cells in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores rec and the covered cells of r in one transaction,
// replacing any earlier run with the same id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, r *Raster) error {
	counters, err := json.Marshal(rec.Counters)
	if err != nil {
		return err
	}
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE run_id = ?`, rec.RunID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(run_id, input, started_ms, duration_ms, resolution, origin_x, origin_y, nx, ny,
		 min_x, min_y, max_x, max_y, counters, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Input, rec.Started.UnixMilli(), rec.Duration.Milliseconds(), rec.Resolution,
		rec.OriginX, rec.OriginY, rec.Nx, rec.Ny,
		rec.Bounds.Min[0], rec.Bounds.Min[1], rec.Bounds.Max[0], rec.Bounds.Max[1],
		string(counters), string(stats))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if r != nil {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO cells (run_id, ix, iy, sum, count) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for iy := 0; iy < r.Ny; iy++ {
			for ix := 0; ix < r.Nx; ix++ {
				i := r.Index(ix, iy)
				if r.Count[i] == 0 {
					continue
				}
				if _, err := stmt.ExecContext(ctx, rec.RunID, ix, iy, r.Sum[i], r.Count[i]); err != nil {
					return fmt.Errorf("failed to insert cell (%d,%d): %w", ix, iy, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `run_id, input, started_ms, duration_ms, resolution, origin_x, origin_y, nx, ny,
	min_x, min_y, max_x, max_y, counters, stats`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec                    RunRecord
		startedMS, durationMS  int64
		counters, stats        string
		minX, minY, maxX, maxY float64
	)
	err := row.Scan(&rec.RunID, &rec.Input, &startedMS, &durationMS, &rec.Resolution,
		&rec.OriginX, &rec.OriginY, &rec.Nx, &rec.Ny, &minX, &minY, &maxX, &maxY, &counters, &stats)
	if err != nil {
		return rec, err
	}
	rec.Started = time.UnixMilli(startedMS).UTC()
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.Bounds = orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
	if err := json.Unmarshal([]byte(counters), &rec.Counters); err != nil {
		return rec, fmt.Errorf("failed to decode counters: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
		return rec, fmt.Errorf("failed to decode stats: %w", err)
	}
	return rec, nil
}

// Run returns the record for runID.
func (s *Store) Run(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_ms DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// LoadRaster rebuilds the raster of runID from its stored cells.
func (s *Store) LoadRaster(ctx context.Context, runID string) (*Raster, error) {
	rec, err := s.Run(ctx, runID)
	if err != nil {
		return nil, err
	}

	r := newRaster(rec.OriginX, rec.OriginY, rec.Resolution, rec.Nx, rec.Ny)
	r.Bounds = rec.Bounds
	rows, err := s.db.QueryContext(ctx, `SELECT ix, iy, sum, count FROM cells WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ix, iy, count int
		var sum float64
		if err := rows.Scan(&ix, &iy, &sum, &count); err != nil {
			return nil, err
		}
		if ix < 0 || iy < 0 || ix >= r.Nx || iy >= r.Ny {
			return nil, fmt.Errorf("stored cell (%d,%d) outside %dx%d grid", ix, iy, r.Nx, r.Ny)
		}
		i := r.Index(ix, iy)
		r.Sum[i], r.Count[i] = sum, count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.normalize()
	return r, nil
}

// DeleteRun removes a run and its cells.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
