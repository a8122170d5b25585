// Package config holds the analysis defaults and service settings shared by
// the CLI and the API server. The struct tags double as kong flag
// definitions, so the same values can come from flags or a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/FocuswithJustin/onexrd/core/cache"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/fitting"
	"github.com/FocuswithJustin/onexrd/core/peaks"
	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// FileName is the per-directory config file picked up from the working directory.
const FileName = ".onexrd.json"

// Analysis holds the numerical defaults of the pipeline.
type Analysis struct {
	Wavelength       string  `json:"wavelength" help:"X-ray source label (CuKa1, MoKa, ...) or wavelength in Å." default:"CuKa1"`
	ShapeFactor      float64 `json:"shape_factor" help:"Scherrer shape factor K." default:"0.9"`
	Iterations       int     `json:"iterations" help:"Erosion iterations for background estimation." default:"50"`
	Order            int     `json:"order" help:"Polynomial order for anchor backgrounds." default:"3"`
	Model            string  `json:"model" help:"Profile model: gaussian, lorentzian or pseudo-voigt." default:"pseudo-voigt"`
	WindowMultiplier float64 `json:"window_multiplier" help:"Fit window width in multiples of the FWHM." default:"3"`
	Tolerance        float64 `json:"tolerance" help:"Search-match tolerance in degrees 2θ." default:"0.1"`

	// Detector thresholds; -Inf disables a filter.
	MinHeight     float64 `json:"min_height" help:"Minimum peak height." default:"-inf"`
	MinProminence float64 `json:"min_prominence" help:"Minimum peak prominence." default:"-inf"`
	MinWidth      float64 `json:"min_width" help:"Minimum peak width in samples." default:"-inf"`
}

// Services configures the external engines and the experiment store.
type Services struct {
	Calculator []string      `json:"calculator" help:"Command line of an external pattern calculator." sep:"none"`
	Refiner    []string      `json:"refiner" help:"Command line of an external refinement engine." sep:"none"`
	Timeout    time.Duration `json:"timeout" help:"Timeout for external engine calls." default:"2m"`
	StorePath  string        `json:"store_path" help:"Experiment database path." default:"onexrd.db" type:"path"`
	BlobDir    string        `json:"blob_dir" help:"Directory archiving imported source files (empty disables)." type:"path"`
	CacheSize  int           `json:"cache_size" help:"Number of imported scans kept in memory." default:"64"`
	CacheTTL   time.Duration `json:"cache_ttl" help:"Lifetime of a cached scan (0 keeps scans until evicted)." default:"0s"`
}

// Config is the full configuration.
type Config struct {
	Analysis `embed:"" group:"Analysis"`
	Services `embed:"" group:"Services"`
}

// Default returns the stock configuration.
func Default() Config {
	inf := math.Inf(-1)
	return Config{
		Analysis: Analysis{
			Wavelength:       xrd.DefaultWavelengthLabel,
			ShapeFactor:      xrd.DefaultShapeFactor,
			Iterations:       50,
			Order:            3,
			Model:            "pseudo-voigt",
			WindowMultiplier: fitting.DefaultWindowMultiplier,
			Tolerance:        0.1,
			MinHeight:        inf,
			MinProminence:    inf,
			MinWidth:         inf,
		},
		Services: Services{
			Timeout:   2 * time.Minute,
			StorePath: "onexrd.db",
			CacheSize: 64,
		},
	}
}

// SearchPaths lists the JSON config files consulted in increasing priority.
func SearchPaths() []string {
	paths := []string{"/etc/onexrd/config.json"}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, "onexrd", "config.json"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "onexrd", "config.json"))
	}
	return append(paths, FileName)
}

// Load decodes a JSON config over the defaults. Unknown keys are rejected.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a JSON config file.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Load(f)
}

// WavelengthAngstrom resolves the configured source label.
func (a Analysis) WavelengthAngstrom() (float64, error) {
	return xrd.Wavelength(a.Wavelength)
}

// FitModel resolves the configured profile model.
func (a Analysis) FitModel() (xrd.Model, error) {
	return fitting.ParseModel(a.Model)
}

// PeakOptions converts the thresholds to detector options.
func (a Analysis) PeakOptions() peaks.Options {
	return peaks.Options{
		MinHeight:     threshold(a.MinHeight),
		MinProminence: threshold(a.MinProminence),
		MinWidth:      threshold(a.MinWidth),
	}
}

func threshold(v float64) *float64 {
	if math.IsInf(v, -1) {
		return nil
	}
	return peaks.Float(v)
}

// Validate rejects settings no stage could run with.
func (c Config) Validate() error {
	a := c.Analysis
	if _, err := a.WavelengthAngstrom(); err != nil {
		return xerrors.NewValidation("wavelength", err.Error())
	}
	if !(a.ShapeFactor > 0) {
		return xerrors.NewValidation("shape_factor", fmt.Sprintf("must be positive, got %g", a.ShapeFactor))
	}
	if a.Iterations < 0 {
		return xerrors.NewValidation("iterations", fmt.Sprintf("must be non-negative, got %d", a.Iterations))
	}
	if a.Order < 0 {
		return xerrors.NewValidation("order", fmt.Sprintf("must be non-negative, got %d", a.Order))
	}
	if _, err := a.FitModel(); err != nil {
		return xerrors.NewValidation("model", err.Error())
	}
	if !(a.WindowMultiplier > 0) {
		return xerrors.NewValidation("window_multiplier", fmt.Sprintf("must be positive, got %g", a.WindowMultiplier))
	}
	if !(a.Tolerance > 0) {
		return xerrors.NewValidation("tolerance", fmt.Sprintf("must be positive, got %g", a.Tolerance))
	}
	for name, v := range map[string]float64{"min_height": a.MinHeight, "min_prominence": a.MinProminence, "min_width": a.MinWidth} {
		if math.IsNaN(v) {
			return xerrors.NewValidation(name, "must be a number")
		}
	}
	if c.Timeout < 0 {
		return xerrors.NewValidation("timeout", "must be non-negative")
	}
	if c.CacheSize < 0 {
		return xerrors.NewValidation("cache_size", "must be non-negative")
	}
	if c.CacheTTL < 0 {
		return xerrors.NewValidation("cache_ttl", "must be non-negative")
	}
	return nil
}

// ScanCache returns the cache configuration for imported scans.
func (s Services) ScanCache() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.MaxSize = s.CacheSize
	cfg.TTL = s.CacheTTL
	return cfg
}

// PatternCalculator returns the configured external calculator, or nil.
func (s Services) PatternCalculator() services.PatternCalculator {
	if len(s.Calculator) == 0 {
		return nil
	}
	return &services.ExecCalculator{Engine: engine(s.Calculator, s.Timeout)}
}

// RefinementEngine returns the configured refiner, or services.NoRefiner.
func (s Services) RefinementEngine() services.Refiner {
	if len(s.Refiner) == 0 {
		return services.NoRefiner{}
	}
	return &services.ExecRefiner{Engine: engine(s.Refiner, s.Timeout)}
}

func engine(argv []string, timeout time.Duration) services.Engine {
	return services.Engine{Command: argv[0], Args: argv[1:], Timeout: timeout}
}
