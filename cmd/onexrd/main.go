// Command onexrd is the CLI for the oneXRD powder diffraction toolkit.
// It imports scans, runs the analysis pipeline stages, manages the
// experiment store and serves the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/onexrd/core/cas"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/config"
	"github.com/FocuswithJustin/onexrd/internal/logging"
	"github.com/FocuswithJustin/onexrd/internal/store"

	// Register the built-in format readers
	_ "github.com/FocuswithJustin/onexrd/internal/embedded"
)

const version = "0.4.0"

// Globals are the flags shared by every command. The analysis and service
// settings can also come from a JSON config file.
type Globals struct {
	ConfigFile kong.ConfigFlag `name:"config" help:"Load settings from a JSON config file."`
	LogLevel   string          `help:"Log level (debug, info, warn, error)." default:"warn" enum:"debug,info,warn,error"`
	LogFormat  string          `help:"Log format (json, text)." default:"text" enum:"json,text"`
	CSV        bool            `name:"csv" help:"Print tables as CSV instead of JSON."`

	config.Config `embed:""`

	out io.Writer
}

// CLI defines the command-line interface for onexrd.
var CLI struct {
	Globals `embed:""`

	Import     ImportCmd     `cmd:"" help:"Import a scan or structure file and print the series."`
	Background BackgroundCmd `cmd:"" help:"Estimate and subtract the background of a scan."`
	Peaks      PeaksCmd      `cmd:"" help:"Detect peaks in a scan."`
	Fit        FitCmd        `cmd:"" help:"Fit a profile model to one peak."`
	Match      MatchCmd      `cmd:"" help:"Score experimental peaks against a reference pattern."`
	Scherrer   ScherrerCmd   `cmd:"" help:"Crystallite size from one peak width."`
	WH         WHCmd         `cmd:"" name:"wh" help:"Williamson-Hall size and strain analysis."`
	RIR        RIRCmd        `cmd:"" name:"rir" help:"Quantitative phase analysis by reference intensity ratio."`
	Refine     RefineCmd     `cmd:"" help:"Run a Rietveld refinement through the configured engine."`
	Batch      BatchCmd      `cmd:"" help:"Process every scan in a folder and write a CSV summary."`
	Store      StoreGroup    `cmd:"" help:"Experiment store operations."`
	Formats    FormatsCmd    `cmd:"" help:"List supported input formats."`
	Serve      ServeCmd      `cmd:"" help:"Start the REST API server."`
	Version    VersionCmd    `cmd:"" help:"Print version information."`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// importOptions resolves the import configuration from the flags.
func (g *Globals) importOptions() importer.Options {
	return importer.Options{
		Wavelength: g.Wavelength,
		Calculator: g.PatternCalculator(),
	}
}

// load imports path with the configured wavelength and calculator.
func (g *Globals) load(ctx context.Context, path string) (*xrd.Series, error) {
	return importer.Load(ctx, path, g.importOptions())
}

// loader returns a content-cached loader for commands that import many files.
func (g *Globals) loader() *importer.CachedLoader {
	return importer.NewCachedLoader(g.ScanCache())
}

// openStore opens the experiment database, archiving sources when a blob
// directory is configured.
func (g *Globals) openStore(ctx context.Context) (*store.Store, error) {
	var opts []store.Option
	if g.BlobDir != "" {
		blobs, err := cas.NewStore(g.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open blob directory: %w", err)
		}
		opts = append(opts, store.WithBlobs(blobs))
	}
	return store.Open(ctx, g.StorePath, opts...)
}

// emit prints v as indented JSON, or table as CSV when --csv is set and a
// table form exists.
func (g *Globals) emit(v interface{}, table *xrd.Table) error {
	if g.CSV && table != nil {
		return table.WriteCSV(g.stdout())
	}
	enc := json.NewEncoder(g.stdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogging(g *Globals) error {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(g.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("onexrd"),
		kong.Description("oneXRD - X-ray powder diffraction analysis"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Configuration(kong.JSON, config.SearchPaths()...),
	)
	ctx.FatalIfErrorf(setupLogging(&CLI.Globals))
	ctx.FatalIfErrorf(CLI.Validate())

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx.BindTo(sigCtx, (*context.Context)(nil))

	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
