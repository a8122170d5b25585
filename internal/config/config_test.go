package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if w, _ := cfg.WavelengthAngstrom(); w != xrd.DefaultWavelength {
		t.Errorf("wavelength = %v, want %v", w, xrd.DefaultWavelength)
	}
	if m, _ := cfg.FitModel(); m != xrd.PseudoVoigt {
		t.Errorf("model = %v", m)
	}
	opts := cfg.PeakOptions()
	if opts.MinHeight != nil || opts.MinProminence != nil || opts.MinWidth != nil {
		t.Errorf("default thresholds should be unset: %+v", opts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad wavelength", func(c *Config) { c.Wavelength = "CuKz" }, "wavelength"},
		{"negative wavelength", func(c *Config) { c.Wavelength = "-1" }, "wavelength"},
		{"zero K", func(c *Config) { c.ShapeFactor = 0 }, "shape_factor"},
		{"negative iterations", func(c *Config) { c.Iterations = -1 }, "iterations"},
		{"negative order", func(c *Config) { c.Order = -2 }, "order"},
		{"unknown model", func(c *Config) { c.Model = "voigt" }, "model"},
		{"zero multiplier", func(c *Config) { c.WindowMultiplier = 0 }, "window_multiplier"},
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }, "tolerance"},
		{"NaN prominence", func(c *Config) { c.MinProminence = math.NaN() }, "min_prominence"},
		{"negative cache", func(c *Config) { c.CacheSize = -1 }, "cache_size"},
		{"negative cache ttl", func(c *Config) { c.CacheTTL = -time.Second }, "cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var ve *xerrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("Validate() = %v, want a %s validation error", err, tt.field)
			}
			if !errors.Is(err, xerrors.ErrInvalidParameter) {
				t.Errorf("error does not unwrap to ErrInvalidParameter")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load(strings.NewReader(`{"wavelength": "MoKa", "tolerance": 0.2, "min_prominence": 15, "calculator": ["gsas-ipc", "--json"]}`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Wavelength != "MoKa" || cfg.Tolerance != 0.2 {
		t.Errorf("cfg = %+v", cfg.Analysis)
	}
	if cfg.Iterations != 50 {
		t.Errorf("unset key lost its default: iterations = %d", cfg.Iterations)
	}
	if p := cfg.PeakOptions().MinProminence; p == nil || *p != 15 {
		t.Errorf("MinProminence = %v", p)
	}
	calc, ok := cfg.PatternCalculator().(*services.ExecCalculator)
	if !ok || calc.Engine.Command != "gsas-ipc" || len(calc.Engine.Args) != 1 {
		t.Errorf("PatternCalculator() = %#v", cfg.PatternCalculator())
	}
	if _, ok := cfg.RefinementEngine().(services.NoRefiner); !ok {
		t.Errorf("RefinementEngine() without a command should be NoRefiner")
	}
}

func TestScanCache(t *testing.T) {
	cfg, err := Load(strings.NewReader(`{"cache_size": 8, "cache_ttl": 60000000000}`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cc := cfg.ScanCache()
	if cc.MaxSize != 8 || cc.TTL != time.Minute {
		t.Errorf("ScanCache() = %+v, want MaxSize 8 and TTL 1m", cc)
	}
	if d := Default().ScanCache(); d.TTL != 0 || d.MaxSize != 64 {
		t.Errorf("default ScanCache() = %+v", d)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"unknown key", `{"wavelenght": "CuKa"}`},
		{"wrong type", `{"iterations": "many"}`},
		{"invalid value", `{"order": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tt.json)); err == nil {
				t.Error("Load() succeeded")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"model": "gaussian"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "gaussian" {
		t.Errorf("model = %q", cfg.Model)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); !os.IsNotExist(err) {
		t.Errorf("missing file: error = %v", err)
	}
}

func TestSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	paths := SearchPaths()
	if len(paths) != 3 || paths[1] != filepath.Join("/cfg", "onexrd", "config.json") || paths[2] != FileName {
		t.Errorf("SearchPaths() = %v", paths)
	}
}
