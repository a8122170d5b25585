package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/api"
	"github.com/FocuswithJustin/onexrd/internal/batch"
	"github.com/FocuswithJustin/onexrd/internal/logging"
	"github.com/FocuswithJustin/onexrd/internal/store"
)

// BatchCmd processes every scan in a folder.
type BatchCmd struct {
	Dir          string `arg:"" help:"Folder of scans." type:"existingdir"`
	Output       string `help:"Name of the CSV written into the folder." default:"batch_results.csv"`
	NoBackground bool   `help:"Skip background subtraction."`
	NoPeaks      bool   `help:"Skip peak detection."`
	Workers      int    `help:"Parallel workers (0 = one per CPU)." default:"0"`
}

func (c *BatchCmd) Run(g *Globals, ctx context.Context) error {
	p := batch.DefaultParams(c.Dir)
	p.OutputName = c.Output
	p.Background = !c.NoBackground
	p.Iterations = g.Iterations
	p.Peaks = !c.NoPeaks
	p.Workers = c.Workers
	p.Wavelength = g.Wavelength
	if !math.IsInf(g.MinProminence, -1) {
		p.MinProminence = &g.MinProminence
	}

	r := &batch.Runner{
		Loader: g.loader(),
		Reporter: func(pr batch.Progress) {
			args := []any{"file", pr.File, "done", pr.Done, "total", pr.Total}
			if pr.Error != "" {
				args = append(args, "error", pr.Error)
			}
			logging.InfoContext(ctx, "batch progress", args...)
		},
	}
	res, err := r.Run(ctx, p)
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "batch complete", "output", res.OutputPath, "failures", res.Failures)

	if g.CSV {
		return batch.WriteCSV(g.stdout(), res.Rows)
	}
	return g.emit(res, nil)
}

// StoreGroup contains experiment store operations.
type StoreGroup struct {
	Add    StoreAddCmd    `cmd:"" help:"Import a scan into the store, optionally with its analysis."`
	List   StoreListCmd   `cmd:"" help:"List stored experiments, newest first."`
	Show   StoreShowCmd   `cmd:"" help:"Show one experiment."`
	Delete StoreDeleteCmd `cmd:"" help:"Delete an experiment."`
	Export StoreExportCmd `cmd:"" help:"Write the archived source file of an experiment."`

	Reanalyze StoreReanalyzeCmd `cmd:"" help:"Re-run background subtraction and peak detection on a stored scan."`
}

// StoreAddCmd imports a scan into the experiment store.
type StoreAddCmd struct {
	Path    string `arg:"" help:"Scan file." type:"existingfile"`
	Sample  string `help:"Sample name (default: file name)."`
	Notes   string `help:"Free-form notes."`
	Analyze bool   `help:"Also store erosion-subtracted intensities and detected peaks."`
}

func (c *StoreAddCmd) Run(g *Globals, ctx context.Context) error {
	st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := g.load(ctx, c.Path)
	if err != nil {
		return err
	}
	name := c.Sample
	if name == "" {
		name = filepath.Base(c.Path)
	}
	ne := store.NewExperiment{SampleName: name, Notes: c.Notes, Series: s, SourcePath: c.Path}
	if c.Analyze {
		sub, found, err := analyze(ctx, g, s, c.Path, true)
		if err != nil {
			return err
		}
		ne.Analysis = &store.Analysis{Peaks: found, BackgroundSubtracted: sub.Intensities()}
	}
	id, err := st.AddExperiment(ctx, ne)
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "experiment stored", "id", id, "sample", name)
	return g.emit(map[string]interface{}{"id": id, "sample_name": name}, nil)
}

// StoreListCmd lists experiments.
type StoreListCmd struct {
	Fingerprint string `help:"Only experiments whose source file has this BLAKE3 hash."`
}

func (c *StoreListCmd) Run(g *Globals, ctx context.Context) error {
	st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var list []store.Summary
	if c.Fingerprint != "" {
		list, err = st.FindByFingerprint(ctx, c.Fingerprint)
	} else {
		list, err = st.List(ctx)
	}
	if err != nil {
		return err
	}
	if g.CSV {
		rows := make([][]string, 0, len(list))
		for _, e := range list {
			rows = append(rows, []string{
				strconv.FormatInt(e.ID, 10), e.SampleName, e.CreatedAt.Format(time.RFC3339),
				e.ContentBLAKE3, strconv.FormatBool(e.Archived),
			})
		}
		return writeRecords(g.stdout(), []string{"id", "sample_name", "created_at", "content_blake3", "archived"}, rows)
	}
	if list == nil {
		list = []store.Summary{}
	}
	return g.emit(list, nil)
}

// StoreShowCmd prints one experiment.
type StoreShowCmd struct {
	ID int64 `arg:"" name:"id" help:"Experiment ID."`
}

func (c *StoreShowCmd) Run(g *Globals, ctx context.Context) error {
	st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	e, err := st.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	s, err := e.Series()
	if err != nil {
		return err
	}
	return g.emit(e, xrd.SeriesTable(s))
}

// StoreDeleteCmd removes an experiment.
type StoreDeleteCmd struct {
	ID int64 `arg:"" name:"id" help:"Experiment ID."`
}

func (c *StoreDeleteCmd) Run(g *Globals, ctx context.Context) error {
	st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := st.Delete(ctx, c.ID)
	if err != nil {
		return err
	}
	if !removed {
		return xerrors.NewNotFound("experiment", strconv.FormatInt(c.ID, 10))
	}
	return g.emit(map[string]interface{}{"id": c.ID, "deleted": true}, nil)
}

// StoreReanalyzeCmd replaces the stored analysis of an experiment using the
// current thresholds.
type StoreReanalyzeCmd struct {
	ID int64 `arg:"" name:"id" help:"Experiment ID."`
}

func (c *StoreReanalyzeCmd) Run(g *Globals, ctx context.Context) error {
	st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	e, err := st.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	s, err := e.Series()
	if err != nil {
		return err
	}
	sub, found, err := analyze(ctx, g, s, e.SampleName, true)
	if err != nil {
		return err
	}
	if err := st.UpdateAnalysis(ctx, c.ID, store.Analysis{Peaks: found, BackgroundSubtracted: sub.Intensities()}); err != nil {
		return err
	}
	logging.InfoContext(ctx, "experiment reanalyzed", "id", c.ID, "peaks", len(found))
	return g.emit(map[string]interface{}{"id": c.ID, "peaks": len(found)}, nil)
}

// StoreExportCmd copies an archived source file out of the blob store.
type StoreExportCmd struct {
	ID     int64  `arg:"" name:"id" help:"Experiment ID."`
	Output string `short:"o" help:"Destination file (default: standard output)." type:"path"`
}

func (c *StoreExportCmd) Run(g *Globals, ctx context.Context) error {
	st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	src, err := st.OpenSource(ctx, c.ID)
	if err != nil {
		return err
	}
	defer src.Close()

	if c.Output == "" {
		_, err = io.Copy(g.stdout(), src)
		return err
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", c.Output, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", c.Output, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logging.InfoContext(ctx, "source exported", "id", c.ID, "output", c.Output)
	return nil
}

// writeRecords writes a header and rows as RFC 4180 CSV.
func writeRecords(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// FormatsCmd lists the registered readers.
type FormatsCmd struct{}

func (c *FormatsCmd) Run(g *Globals) error {
	formats := importer.Formats()
	if g.CSV {
		rows := make([][]string, 0, len(formats))
		for _, f := range formats {
			rows = append(rows, []string{f.ID, f.Name, strings.Join(f.Extensions, " ")})
		}
		return writeRecords(g.stdout(), []string{"id", "name", "extensions"}, rows)
	}
	return g.emit(formats, nil)
}

// ServeCmd starts the REST API.
type ServeCmd struct {
	Addr           string   `help:"Listen address." default:":8080"`
	DataRoot       string   `help:"Directory that request paths are confined to." type:"path"`
	RateLimit      int      `help:"Requests per minute per client (0 disables)." default:"0"`
	Burst          int      `help:"Rate limiter burst size." default:"10"`
	APIKey         string   `name:"api-key" help:"Require this X-API-Key on requests." env:"ONEXRD_API_KEY"`
	AllowedOrigins []string `help:"Allowed CORS and WebSocket origins (empty allows all)."`
	Workers        int      `help:"Workers per batch job (0 = one per CPU)." default:"0"`
	TLSCert        string   `name:"tls-cert" help:"TLS certificate file." type:"existingfile"`
	TLSKey         string   `name:"tls-key" help:"TLS key file." type:"existingfile"`
	NoStore        bool     `help:"Disable the experiment endpoints."`
}

func (c *ServeCmd) Run(g *Globals, ctx context.Context) error {
	cfg := api.DefaultConfig()
	cfg.Addr = c.Addr
	cfg.Version = version
	cfg.DataRoot = c.DataRoot
	cfg.Analysis = g.Config
	cfg.RateLimitRequests = c.RateLimit
	cfg.RateLimitBurst = c.Burst
	cfg.Auth = api.AuthConfig{Enabled: c.APIKey != "", APIKey: c.APIKey}
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.BatchWorkers = c.Workers
	cfg.TLS = api.TLSConfig{Enabled: c.TLSCert != "" || c.TLSKey != "", CertFile: c.TLSCert, KeyFile: c.TLSKey}

	var opts []api.Option
	if !c.NoStore {
		st, err := g.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, api.WithStore(st))
	}
	srv, err := api.New(cfg, opts...)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.stdout(), "onexrd version %s\n", version)
	return nil
}
