package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/onexrd/core/background"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/fitting"
	"github.com/FocuswithJustin/onexrd/core/microstructure"
	"github.com/FocuswithJustin/onexrd/core/peaks"
	"github.com/FocuswithJustin/onexrd/core/quant"
	"github.com/FocuswithJustin/onexrd/core/searchmatch"
	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/logging"
)

// ImportCmd imports one file and prints its series.
type ImportCmd struct {
	Path  string `arg:"" help:"Scan or structure file." type:"path"`
	Scale bool   `help:"Normalise intensities to a maximum of 100."`
}

func (c *ImportCmd) Run(g *Globals, ctx context.Context) error {
	s, err := g.load(ctx, c.Path)
	if err != nil {
		return err
	}
	if c.Scale {
		s = s.Scaled(100)
	}
	return g.emit(s, xrd.SeriesTable(s))
}

// BackgroundCmd estimates a background with the configured iterations or
// polynomial order.
type BackgroundCmd struct {
	Path    string `arg:"" help:"Scan file." type:"path"`
	Method  string `help:"Estimator: erosion or polynomial." default:"erosion" enum:"erosion,polynomial"`
	Anchors []int  `help:"Anchor point indices for the polynomial estimator."`
}

// BackgroundOutput is the result of the background command.
type BackgroundOutput struct {
	Angles     []float64 `json:"angles"`
	Raw        []float64 `json:"raw"`
	Background []float64 `json:"background"`
	Subtracted []float64 `json:"subtracted"`
}

func (c *BackgroundCmd) Run(g *Globals, ctx context.Context) error {
	s, err := g.load(ctx, c.Path)
	if err != nil {
		return err
	}
	method, err := background.ParseMethod(c.Method)
	if err != nil {
		return err
	}
	sub, bg, err := background.Subtract(s, background.Params{
		Method:     method,
		Anchors:    c.Anchors,
		Order:      g.Order,
		Iterations: g.Iterations,
	})
	if err != nil {
		logging.StageFailure(ctx, string(xerrors.StageBackground), c.Path, err)
		return err
	}
	out := BackgroundOutput{Angles: s.Angles(), Raw: s.Intensities(), Background: bg, Subtracted: sub.Intensities()}

	t := xrd.NewTable()
	for _, col := range []struct {
		name string
		v    []float64
	}{{xrd.ColAngle, out.Angles}, {"raw", out.Raw}, {"background", out.Background}, {"subtracted", out.Subtracted}} {
		if err := t.AddColumn(col.name, col.v); err != nil {
			return err
		}
	}
	return g.emit(out, t)
}

// detect loads path, optionally subtracts an erosion background, and finds
// peaks with the configured thresholds.
func detect(ctx context.Context, g *Globals, path string, subtract bool) (*xrd.Series, []xrd.Peak, error) {
	s, err := g.load(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return analyze(ctx, g, s, path, subtract)
}

// analyze is detect on an already imported series. It returns the series
// the peaks were found in.
func analyze(ctx context.Context, g *Globals, s *xrd.Series, path string, subtract bool) (*xrd.Series, []xrd.Peak, error) {
	var err error
	if subtract {
		if s, _, err = background.Subtract(s, background.Params{Method: background.Erosion, Iterations: g.Iterations}); err != nil {
			logging.StageFailure(ctx, string(xerrors.StageBackground), path, err)
			return nil, nil, err
		}
	}
	found, err := peaks.Find(s, g.PeakOptions())
	if err != nil {
		logging.StageFailure(ctx, string(xerrors.StagePeakFinding), path, err)
		return nil, nil, err
	}
	return s, found, nil
}

// PeaksCmd detects peaks in a scan.
type PeaksCmd struct {
	Path     string `arg:"" help:"Scan file." type:"path"`
	Subtract bool   `help:"Subtract an erosion background before detection."`
}

func (c *PeaksCmd) Run(g *Globals, ctx context.Context) error {
	_, found, err := detect(ctx, g, c.Path, c.Subtract)
	if err != nil {
		return err
	}
	if found == nil {
		found = []xrd.Peak{}
	}
	return g.emit(found, xrd.PeakTable(found))
}

// FitCmd fits the detected peak nearest to --at, or the strongest peak.
type FitCmd struct {
	Path     string  `arg:"" help:"Scan file." type:"path"`
	At       float64 `help:"Approximate 2θ of the peak to fit (default: strongest)." default:"NaN"`
	Subtract bool    `help:"Subtract an erosion background before fitting."`
}

func (c *FitCmd) Run(g *Globals, ctx context.Context) error {
	model, err := g.FitModel()
	if err != nil {
		return err
	}
	s, found, err := detect(ctx, g, c.Path, c.Subtract)
	if err != nil {
		return err
	}
	i := nearestPeak(found, c.At)
	if i < 0 {
		return xerrors.NewAnalysis(xerrors.StageFitting, xerrors.ErrInvalidParameter, "no peaks detected in %s", c.Path)
	}
	res, err := fitting.Fit(s, found[i], model, fitting.Options{WindowMultiplier: g.WindowMultiplier})
	if err != nil {
		logging.StageFailure(ctx, string(xerrors.StageFitting), c.Path, err, "angle", found[i].Angle)
		return err
	}

	t := xrd.NewTable()
	if err := t.AddColumn("x", res.X); err != nil {
		return err
	}
	if err := t.AddColumn("curve", res.Curve); err != nil {
		return err
	}
	return g.emit(res, t)
}

// nearestPeak returns the index of the peak closest to angle, or of the
// strongest peak when angle is NaN. It returns -1 for no peaks.
func nearestPeak(found []xrd.Peak, angle float64) int {
	if math.IsNaN(angle) {
		return xrd.Strongest(found)
	}
	best := -1
	for i, p := range found {
		if best < 0 || math.Abs(p.Angle-angle) < math.Abs(found[best].Angle-angle) {
			best = i
		}
	}
	return best
}

// MatchCmd scores experimental peaks against a reference pattern. The
// experimental side is a scan, or a peak table with --table.
type MatchCmd struct {
	Experiment string `arg:"" help:"Experimental scan, or peak table CSV with --table." type:"path"`
	Reference  string `arg:"" help:"Reference pattern or structure file." type:"path"`
	Table      bool   `help:"Read the experiment as a CSV table with an angle column."`
	Subtract   bool   `help:"Subtract an erosion background before peak detection."`
}

func (c *MatchCmd) Run(g *Globals, ctx context.Context) error {
	ref, err := g.load(ctx, c.Reference)
	if err != nil {
		return err
	}

	var res *searchmatch.Result
	if c.Table {
		exp, err := readTable(c.Experiment)
		if err != nil {
			return err
		}
		res, err = searchmatch.Match(exp, xrd.SeriesTable(ref), g.Tolerance)
		if err != nil {
			return err
		}
	} else {
		_, found, err := detect(ctx, g, c.Experiment, c.Subtract)
		if err != nil {
			return err
		}
		if res, err = searchmatch.MatchPeaks(found, ref, g.Tolerance); err != nil {
			return err
		}
	}
	logging.InfoContext(ctx, "search-match complete", "reference", ref.DisplayName(), "fom", res.FigureOfMerit, "matches", len(res.Matches))
	return g.emit(res, res.MatchTable())
}

func readTable(path string) (*xrd.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	t, err := xrd.ReadTableCSV(f)
	if err != nil {
		return nil, xerrors.Wrapf(err, "failed to read %s", path)
	}
	return t, nil
}

func (g *Globals) microParams() (microstructure.Params, error) {
	wl, err := g.WavelengthAngstrom()
	if err != nil {
		return microstructure.Params{}, err
	}
	return microstructure.Params{Wavelength: wl, ShapeFactor: g.ShapeFactor}, nil
}

// ScherrerCmd computes a crystallite size from one peak.
type ScherrerCmd struct {
	FWHM  float64 `arg:"" name:"fwhm" help:"Peak FWHM in degrees 2θ."`
	Angle float64 `arg:"" help:"Peak position in degrees 2θ."`
}

// SizeOutput is a crystallite size in Å and nm.
type SizeOutput struct {
	FWHM       float64 `json:"fwhm"`
	Angle      float64 `json:"angle"`
	SizeA      float64 `json:"size_angstrom"`
	SizeNM     float64 `json:"size_nm"`
	Wavelength float64 `json:"wavelength"`
}

func (c *ScherrerCmd) Run(g *Globals) error {
	p, err := g.microParams()
	if err != nil {
		return err
	}
	size, err := microstructure.Scherrer(c.FWHM, c.Angle, p)
	if err != nil {
		return err
	}
	return g.emit(SizeOutput{FWHM: c.FWHM, Angle: c.Angle, SizeA: size, SizeNM: size / 10, Wavelength: p.Wavelength}, nil)
}

// WHCmd runs a Williamson-Hall analysis on detected peaks, or on a peak
// table with angle and fwhm columns.
type WHCmd struct {
	Path     string `arg:"" help:"Scan file, or peak table CSV with --table." type:"path"`
	Table    bool   `help:"Read the input as a CSV table with angle and fwhm columns."`
	Subtract bool   `help:"Subtract an erosion background before peak detection."`
}

func (c *WHCmd) Run(g *Globals, ctx context.Context) error {
	p, err := g.microParams()
	if err != nil {
		return err
	}
	var found []xrd.Peak
	if c.Table {
		t, err := readTable(c.Path)
		if err != nil {
			return err
		}
		if found, err = t.Peaks(); err != nil {
			return err
		}
	} else if _, found, err = detect(ctx, g, c.Path, c.Subtract); err != nil {
		return err
	}
	res, err := microstructure.WilliamsonHall(found, p)
	if err != nil {
		logging.StageFailure(ctx, string(xerrors.StageMicrostructure), c.Path, err)
		return err
	}

	t := xrd.NewTable()
	if err := t.AddColumn("four_sin_theta", res.X); err != nil {
		return err
	}
	if err := t.AddColumn("beta_cos_theta", res.Y); err != nil {
		return err
	}
	return g.emit(res, t)
}

// RIRCmd computes weight fractions from name:intensity:rir triples.
type RIRCmd struct {
	Phases []string `arg:"" help:"Phases as name:intensity:rir, e.g. quartz:1000:3.1."`
}

func parsePhase(s string) (xrd.Phase, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" {
		return xrd.Phase{}, xerrors.NewValidation("phase", fmt.Sprintf("%q is not name:intensity:rir", s))
	}
	intensity, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return xrd.Phase{}, xerrors.NewValidation("phase", fmt.Sprintf("bad intensity in %q", s))
	}
	rir, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return xrd.Phase{}, xerrors.NewValidation("phase", fmt.Sprintf("bad RIR in %q", s))
	}
	return xrd.Phase{Name: parts[0], Intensity: intensity, RIR: rir}, nil
}

func (c *RIRCmd) Run(g *Globals) error {
	phases := make([]xrd.Phase, 0, len(c.Phases))
	for _, s := range c.Phases {
		p, err := parsePhase(s)
		if err != nil {
			return err
		}
		phases = append(phases, p)
	}
	out, err := quant.RIR(phases)
	if err != nil {
		return err
	}

	if g.CSV {
		w := g.stdout()
		fmt.Fprintln(w, "name,intensity,rir,weight_percent")
		for _, p := range out {
			fmt.Fprintf(w, "%s,%g,%g,%g\n", p.Name, p.Intensity, p.RIR, p.WeightPercent)
		}
		return nil
	}
	return g.emit(out, nil)
}

// RefineCmd runs a Rietveld refinement through the external engine.
type RefineCmd struct {
	Data       string `arg:"" help:"Measured scan file." type:"existingfile"`
	CIF        string `arg:"" name:"cif" help:"Structure model CIF." type:"existingfile"`
	Phase      string `help:"Phase name." default:"phase1"`
	Cycles     int    `help:"Refinement cycles." default:"10"`
	Cell       bool   `help:"Refine lattice parameters."`
	Background bool   `name:"refine-background" help:"Refine background coefficients."`
	PeakShape  bool   `help:"Refine peak shape parameters."`
}

func (c *RefineCmd) Run(g *Globals, ctx context.Context) error {
	if c.Cycles <= 0 {
		return xerrors.NewValidation("cycles", fmt.Sprintf("must be positive, got %d", c.Cycles))
	}
	res, err := g.RefinementEngine().Refine(ctx, services.RefinementRequest{
		DataPath:  c.Data,
		CIFPath:   c.CIF,
		PhaseName: c.Phase,
		Cycles:    c.Cycles,
		Flags:     services.RefinementFlags{Cell: c.Cell, Background: c.Background, PeakShape: c.PeakShape},
	})
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "refinement complete", "rwp", res.Rwp, "chi2", res.Chi2)

	t := xrd.NewTable()
	for _, col := range []struct {
		name string
		v    []float64
	}{{"x", res.X}, {"y_obs", res.YObs}, {"y_calc", res.YCalc}, {"y_bkg", res.YBkg}, {"y_diff", res.YDiff}} {
		if len(col.v) == 0 {
			continue
		}
		if err := t.AddColumn(col.name, col.v); err != nil {
			return err
		}
	}
	return g.emit(res, t)
}
