// Package batch runs the import, background and peak stages over every file
// in a folder and summarizes each file by its strongest peak.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/onexrd/core/background"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/peaks"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/logging"
	"github.com/FocuswithJustin/onexrd/internal/validation"
)

// DefaultOutput is the name of the results file written into the input folder.
const DefaultOutput = "batch_results.csv"

// CSV cell markers.
const (
	NoPeak = "N/A"
	Failed = "ERROR"
)

// Header is the column order of the results file.
var Header = []string{"filename", "strongest_peak_angle", "strongest_peak_intensity", "strongest_peak_fwhm", "error"}

// Params configure a batch run.
type Params struct {
	InputDir   string `json:"input_dir"`
	OutputName string `json:"output_name,omitempty"`

	Background bool `json:"background"`
	Iterations int  `json:"iterations,omitempty"`

	Peaks         bool     `json:"peaks"`
	MinProminence *float64 `json:"min_prominence,omitempty"`

	Workers    int    `json:"workers,omitempty"`
	Wavelength string `json:"wavelength,omitempty"`
}

// DefaultParams enables both stages with the stock erosion depth.
func DefaultParams(dir string) Params {
	return Params{
		InputDir:   dir,
		OutputName: DefaultOutput,
		Background: true,
		Iterations: background.DefaultIterations,
		Peaks:      true,
	}
}

func (p *Params) normalize() error {
	if p.InputDir == "" {
		return xerrors.NewValidation("input_dir", "input folder is required")
	}
	if p.OutputName == "" {
		p.OutputName = DefaultOutput
	}
	if err := validation.ValidateFilename(p.OutputName); err != nil {
		return xerrors.NewValidation("output_name", err.Error())
	}
	if p.Iterations < 0 {
		return xerrors.NewValidation("iterations", "iterations must be non-negative")
	}
	return nil
}

// Row is the outcome for one file. Peak is nil when peak finding was
// disabled or found nothing; Err is set when a stage failed.
type Row struct {
	Filename string    `json:"filename"`
	Peak     *xrd.Peak `json:"peak,omitempty"`
	Searched bool      `json:"-"`
	Err      string    `json:"error,omitempty"`
}

// Record renders the row as CSV cells.
func (r Row) Record() []string {
	switch {
	case r.Err != "":
		return []string{r.Filename, Failed, "", "", r.Err}
	case r.Peak != nil:
		return []string{r.Filename, formatFloat(r.Peak.Angle), formatFloat(r.Peak.Intensity), formatFloat(r.Peak.FWHM), ""}
	case r.Searched:
		return []string{r.Filename, NoPeak, "", "", ""}
	default:
		return []string{r.Filename, "", "", "", ""}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Progress is reported after each file completes.
type Progress struct {
	JobID string `json:"job_id"`
	File  string `json:"file"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
	Error string `json:"error,omitempty"`
}

// Percent is the completed share in 0-100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Done * 100 / p.Total
}

// Reporter receives progress updates. Calls are serialized.
type Reporter func(Progress)

// Loader loads one file into a series.
type Loader interface {
	Load(ctx context.Context, path string, opts importer.Options) (*xrd.Series, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string, opts importer.Options) (*xrd.Series, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, path string, opts importer.Options) (*xrd.Series, error) {
	return f(ctx, path, opts)
}

// Result is a finished batch.
type Result struct {
	JobID      string `json:"job_id"`
	OutputPath string `json:"output_path"`
	Rows       []Row  `json:"rows"`
	Failures   int    `json:"failures"`
}

// Runner executes batches.
type Runner struct {
	Loader   Loader
	Reporter Reporter
}

// NewRunner returns a runner using the import dispatcher.
func NewRunner(reporter Reporter) *Runner {
	return &Runner{Loader: LoaderFunc(importer.Load), Reporter: reporter}
}

// NewJobID returns a fresh batch identifier.
func NewJobID() string { return uuid.New().String() }

// Run processes the folder under a new job ID.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	return r.RunJob(ctx, NewJobID(), p)
}

// RunJob processes every regular file in p.InputDir and writes the results
// CSV next to them. A file that fails is recorded and the batch continues.
// Cancelling ctx stops the batch before the next file and nothing is written.
func (r *Runner) RunJob(ctx context.Context, jobID string, p Params) (*Result, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	files, err := ListInputs(p.InputDir, p.OutputName)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithJobID(ctx, jobID)
	logging.JobEvent(ctx, jobID, "running", "files", len(files), "dir", p.InputDir)

	type item struct {
		index int
		name  string
	}
	type outcome struct {
		index int
		row   Row
	}

	rows := make([]Row, len(files))
	wp := newPool[item, outcome](p.Workers, len(files))
	wp.start(func(it item) outcome {
		if ctx.Err() != nil {
			return outcome{index: -1}
		}
		return outcome{it.index, r.processFile(ctx, filepath.Join(p.InputDir, it.name), it.name, p)}
	})
	for i, name := range files {
		wp.submit(item{i, name})
	}
	wp.close()

	res := &Result{JobID: jobID, Rows: rows}
	done := 0
	for out := range wp.results {
		if out.index < 0 {
			continue
		}
		rows[out.index] = out.row
		done++
		if out.row.Err != "" {
			res.Failures++
		}
		if r.Reporter != nil {
			r.Reporter(Progress{JobID: jobID, File: out.row.Filename, Done: done, Total: len(files), Error: out.row.Err})
		}
	}
	if err := ctx.Err(); err != nil {
		logging.JobEvent(ctx, jobID, "cancelled", "done", done, "total", len(files))
		return nil, err
	}

	res.OutputPath = filepath.Join(p.InputDir, p.OutputName)
	if err := writeResults(res.OutputPath, rows); err != nil {
		return nil, err
	}
	logging.JobEvent(ctx, jobID, "completed", "files", len(files), "failures", res.Failures, "output", res.OutputPath)
	return res, nil
}

func (r *Runner) processFile(ctx context.Context, path, name string, p Params) Row {
	row := Row{Filename: name}
	s, err := r.Loader.Load(ctx, path, importer.Options{Wavelength: p.Wavelength})
	if err != nil {
		return r.fail(ctx, row, "import", err)
	}
	if p.Background {
		if s, _, err = background.Subtract(s, background.Params{Method: background.Erosion, Iterations: p.Iterations}); err != nil {
			return r.fail(ctx, row, "background", err)
		}
	}
	if !p.Peaks {
		return row
	}
	row.Searched = true
	found, err := peaks.Find(s, peaks.Options{MinProminence: p.MinProminence})
	if err != nil {
		return r.fail(ctx, row, "peak_finding", err)
	}
	if i := xrd.Strongest(found); i >= 0 {
		pk := found[i]
		row.Peak = &pk
	}
	return row
}

func (r *Runner) fail(ctx context.Context, row Row, stage string, err error) Row {
	logging.StageFailure(ctx, stage, row.Filename, err)
	row.Err = err.Error()
	return row
}

// ListInputs returns the regular files of dir in name order, skipping the
// results file. Subdirectories are not descended into.
func ListInputs(dir, output string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.NewNotFound("folder", dir)
		}
		return nil, fmt.Errorf("read folder %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == output {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func writeResults(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes the header and one record per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
