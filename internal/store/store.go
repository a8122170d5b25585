// Package store persists experiments, their raw scans and analysis results
// in a SQLite database. Source files can additionally be archived in a
// content-addressed blob store keyed by their BLAKE3 hash.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/FocuswithJustin/onexrd/core/cas"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/sqlite"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_name    TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	notes          TEXT NOT NULL DEFAULT '',
	content_blake3 TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS experiments_content ON experiments(content_blake3);
CREATE TABLE IF NOT EXISTS raw_data (
	experiment_id INTEGER NOT NULL REFERENCES experiments(id),
	angles        BLOB NOT NULL,
	intensities   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_results (
	experiment_id         INTEGER UNIQUE REFERENCES experiments(id),
	peaks_json            TEXT,
	background_subtracted BLOB
);
`

// Summary is one row of the experiment list.
type Summary struct {
	ID            int64     `json:"id"`
	SampleName    string    `json:"sample_name"`
	CreatedAt     time.Time `json:"created_at"`
	ContentBLAKE3 string    `json:"content_blake3,omitempty"`
	// Archived reports whether the source file is held in the blob store.
	Archived bool `json:"archived"`
}

// Analysis is the stored result of a processing run.
type Analysis struct {
	Peaks                []xrd.Peak `json:"peaks"`
	BackgroundSubtracted []float64  `json:"background_subtracted"`
}

// Experiment is a stored scan with its metadata and latest analysis.
type Experiment struct {
	Summary
	Notes       string    `json:"notes"`
	Angles      []float64 `json:"angles"`
	Intensities []float64 `json:"intensities"`
	Analysis    *Analysis `json:"analysis,omitempty"`
}

// Series returns the stored scan as a series.
func (e *Experiment) Series() (*xrd.Series, error) {
	return xrd.NewSeries(e.Angles, e.Intensities, e.SampleName)
}

// NewExperiment describes an experiment to add.
type NewExperiment struct {
	SampleName string
	Notes      string
	Series     *xrd.Series
	// SourcePath, when set, is fingerprinted and archived in the blob store.
	SourcePath string
	// Analysis, when set, is stored in the same transaction as the scan.
	Analysis *Analysis
}

// Option configures a Store.
type Option func(*Store)

// WithBlobs archives source files in blobs.
func WithBlobs(blobs *cas.Store) Option {
	return func(s *Store) { s.blobs = blobs }
}

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the experiment database.
type Store struct {
	db    *sql.DB
	blobs *cas.Store
	now   func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlite.OpenStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open experiment store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddExperiment stores a scan and returns its id.
func (s *Store) AddExperiment(ctx context.Context, ne NewExperiment) (int64, error) {
	if ne.SampleName == "" {
		return 0, xerrors.NewValidation("sample_name", "sample name is required")
	}
	if ne.Series == nil {
		return 0, xerrors.NewValidation("series", "scan data is required")
	}

	var fingerprint string
	if ne.SourcePath != "" {
		var fp cas.Fingerprint
		var err error
		if s.blobs != nil {
			fp, err = s.blobs.PutFile(ne.SourcePath)
		} else {
			fp, err = cas.FingerprintFile(ne.SourcePath)
		}
		if err != nil {
			return 0, xerrors.Wrapf(err, "fingerprint %s", ne.SourcePath)
		}
		fingerprint = fp.BLAKE3
	}

	angles, err := encodeArray(ne.Series.Angles())
	if err != nil {
		return 0, err
	}
	intensities, err := encodeArray(ne.Series.Intensities())
	if err != nil {
		return 0, err
	}
	var result *analysisRow
	if ne.Analysis != nil {
		if result, err = encodeAnalysis(*ne.Analysis); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO experiments (sample_name, created_at, notes, content_blake3) VALUES (?, ?, ?, ?)`,
		ne.SampleName, s.now().UTC().Format(time.RFC3339Nano), ne.Notes, fingerprint)
	if err != nil {
		return 0, xerrors.Wrap(err, "failed to add experiment")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO raw_data (experiment_id, angles, intensities) VALUES (?, ?, ?)`,
		id, angles, intensities); err != nil {
		return 0, xerrors.Wrap(err, "failed to add raw data")
	}
	if result != nil {
		if err := result.write(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logging.DebugContext(ctx, "experiment added", "id", id, "sample", ne.SampleName, "points", ne.Series.Len())
	return id, nil
}

// UpdateAnalysis stores or replaces the analysis result of an experiment.
func (s *Store) UpdateAnalysis(ctx context.Context, id int64, a Analysis) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	row, err := encodeAnalysis(a)
	if err != nil {
		return err
	}
	return row.write(ctx, s.db, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type analysisRow struct {
	peaks string
	bg    []byte
}

func encodeAnalysis(a Analysis) (*analysisRow, error) {
	peaks := a.Peaks
	if peaks == nil {
		peaks = []xrd.Peak{}
	}
	peaksJSON, err := json.Marshal(peaks)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode peaks")
	}
	bg, err := encodeArray(a.BackgroundSubtracted)
	if err != nil {
		return nil, err
	}
	return &analysisRow{peaks: string(peaksJSON), bg: bg}, nil
}

func (r *analysisRow) write(ctx context.Context, db execer, id int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO analysis_results (experiment_id, peaks_json, background_subtracted)
		VALUES (?, ?, ?)
		ON CONFLICT(experiment_id) DO UPDATE SET
			peaks_json = excluded.peaks_json,
			background_subtracted = excluded.background_subtracted`,
		id, r.peaks, r.bg)
	if err != nil {
		return xerrors.Wrap(err, "failed to update results")
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM experiments WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return xerrors.NewNotFound("experiment", strconv.FormatInt(id, 10))
	}
	return err
}

// Get loads an experiment with its raw data and analysis, if any.
func (s *Store) Get(ctx context.Context, id int64) (*Experiment, error) {
	e := &Experiment{}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sample_name, created_at, notes, content_blake3 FROM experiments WHERE id = ?`, id).
		Scan(&e.ID, &e.SampleName, &created, &e.Notes, &e.ContentBLAKE3)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.NewNotFound("experiment", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("experiment %d: bad created_at %q: %w", id, created, err)
	}
	e.Archived = s.archived(e.ContentBLAKE3)

	var angles, intensities []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT angles, intensities FROM raw_data WHERE experiment_id = ?`, id).
		Scan(&angles, &intensities); err != nil {
		return nil, fmt.Errorf("experiment %d raw data: %w", id, err)
	}
	if e.Angles, err = decodeArray(angles); err != nil {
		return nil, fmt.Errorf("experiment %d angles: %w", id, err)
	}
	if e.Intensities, err = decodeArray(intensities); err != nil {
		return nil, fmt.Errorf("experiment %d intensities: %w", id, err)
	}

	var peaksJSON sql.NullString
	var bg []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT peaks_json, background_subtracted FROM analysis_results WHERE experiment_id = ?`, id).
		Scan(&peaksJSON, &bg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return e, nil
	case err != nil:
		return nil, err
	}
	e.Analysis = &Analysis{}
	if peaksJSON.Valid {
		if err := json.Unmarshal([]byte(peaksJSON.String), &e.Analysis.Peaks); err != nil {
			return nil, fmt.Errorf("experiment %d peaks: %w", id, err)
		}
	}
	if bg != nil {
		if e.Analysis.BackgroundSubtracted, err = decodeArray(bg); err != nil {
			return nil, fmt.Errorf("experiment %d background: %w", id, err)
		}
	}
	return e, nil
}

// List returns every experiment, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	return s.summaries(ctx,
		`SELECT id, sample_name, created_at, content_blake3 FROM experiments ORDER BY created_at DESC, id DESC`)
}

// FindByFingerprint returns the experiments whose source file had the given
// BLAKE3 hash, newest first.
func (s *Store) FindByFingerprint(ctx context.Context, blake3 string) ([]Summary, error) {
	if blake3 == "" {
		return []Summary{}, nil
	}
	return s.summaries(ctx,
		`SELECT id, sample_name, created_at, content_blake3 FROM experiments
		 WHERE content_blake3 = ? ORDER BY created_at DESC, id DESC`, blake3)
}

func (s *Store) summaries(ctx context.Context, query string, args ...interface{}) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sm Summary
		var created string
		if err := rows.Scan(&sm.ID, &sm.SampleName, &created, &sm.ContentBLAKE3); err != nil {
			return nil, err
		}
		if sm.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("experiment %d: bad created_at %q: %w", sm.ID, created, err)
		}
		sm.Archived = s.archived(sm.ContentBLAKE3)
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Store) archived(hash string) bool {
	return s.blobs != nil && hash != "" && s.blobs.Exists(hash)
}

// OpenSource returns the archived source file of an experiment. It reports
// ErrNotFound when the experiment is missing or its source was not archived.
func (s *Store) OpenSource(ctx context.Context, id int64) (io.ReadCloser, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT content_blake3 FROM experiments WHERE id = ?`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.NewNotFound("experiment", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, err
	}
	if s.blobs == nil || hash == "" {
		return nil, xerrors.NewNotFound("source of experiment", strconv.FormatInt(id, 10))
	}
	rc, err := s.blobs.Open(hash)
	if errors.Is(err, cas.ErrBlobNotFound) {
		return nil, xerrors.NewNotFound("source of experiment", strconv.FormatInt(id, 10))
	}
	return rc, err
}

// Delete removes an experiment and everything attached to it. It reports
// whether an experiment row was removed. The archived source is removed once
// no remaining experiment refers to it.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var hash string
	err = tx.QueryRowContext(ctx, `SELECT content_blake3 FROM experiments WHERE id = ?`, id).Scan(&hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	for _, q := range []string{
		`DELETE FROM analysis_results WHERE experiment_id = ?`,
		`DELETE FROM raw_data WHERE experiment_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return false, xerrors.Wrap(err, "failed to delete experiment")
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return false, xerrors.Wrap(err, "failed to delete experiment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	var refs int
	if n > 0 && hash != "" {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM experiments WHERE content_blake3 = ?`, hash).Scan(&refs); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	if n > 0 {
		logging.DebugContext(ctx, "experiment deleted", "id", id)
	}
	if n > 0 && hash != "" && refs == 0 && s.blobs != nil {
		if err := s.blobs.Remove(hash); err != nil {
			logging.Warn("failed to remove archived source", "hash", hash, "error", err)
		}
	}
	return n > 0, nil
}
