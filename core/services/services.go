// Package services defines the narrow interfaces to optional crystallography
// engines: kinematic pattern calculation from a CIF and Rietveld refinement.
//
// Unavailability of an engine is a configuration-level condition reported as
// ErrUnavailable; it is never a numerical failure.
package services

import (
	"context"
	"strings"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
)

// ErrUnavailable is returned when no engine is configured for a service.
var ErrUnavailable = xerrors.ErrUnavailable

// PatternRequest asks for the theoretical powder pattern of a structure file.
type PatternRequest struct {
	Path       string  `json:"path"`
	Wavelength float64 `json:"wavelength"`
	// Label is the anode label the wavelength was resolved from, if any.
	Label string `json:"label,omitempty"`
}

// PatternResult holds calculated peak positions and unscaled intensities.
type PatternResult struct {
	Angles      []float64 `json:"angles"`
	Intensities []float64 `json:"intensities"`
}

// PatternCalculator computes a kinematic diffraction pattern.
type PatternCalculator interface {
	CalculatePattern(ctx context.Context, req PatternRequest) (*PatternResult, error)
}

// RefinementFlags selects which parameter groups are refined.
type RefinementFlags struct {
	Cell       bool `json:"refine_cell"`
	Background bool `json:"refine_background"`
	PeakShape  bool `json:"refine_peak_shape"`
}

// RefinementRequest describes one Rietveld refinement run.
type RefinementRequest struct {
	DataPath  string          `json:"data_path"`
	CIFPath   string          `json:"cif_path"`
	PhaseName string          `json:"phase_name"`
	Cycles    int             `json:"cycles"`
	Flags     RefinementFlags `json:"flags"`
}

// RefinementResult carries fit statistics and the observed/calculated profiles.
type RefinementResult struct {
	Rwp           float64            `json:"rwp"`
	Chi2          float64            `json:"chi2"`
	RefinedParams map[string]float64 `json:"refined_params"`
	X             []float64          `json:"x"`
	YObs          []float64          `json:"y_obs"`
	YCalc         []float64          `json:"y_calc"`
	YBkg          []float64          `json:"y_bkg"`
	YDiff         []float64          `json:"y_diff"`
}

// Refiner runs a Rietveld refinement.
type Refiner interface {
	Refine(ctx context.Context, req RefinementRequest) (*RefinementResult, error)
}

// Chain tries each calculator in order and returns the first success. A
// calculator reporting ErrUnavailable is skipped; any other error stops the chain.
type Chain []PatternCalculator

// CalculatePattern implements PatternCalculator.
func (c Chain) CalculatePattern(ctx context.Context, req PatternRequest) (*PatternResult, error) {
	var last error = ErrUnavailable
	for _, calc := range c {
		if calc == nil {
			continue
		}
		res, err := calc.CalculatePattern(ctx, req)
		if err == nil {
			return res, nil
		}
		if !xerrors.Is(err, ErrUnavailable) {
			return nil, err
		}
		last = err
	}
	return nil, last
}

// CacheKeyer is implemented by calculators whose output depends only on the
// request and a stable identity.
type CacheKeyer interface {
	CacheKey() string
}

// CacheKey returns the identity of c, or false when c cannot be keyed.
// A nil calculator keys as the empty string.
func CacheKey(c PatternCalculator) (string, bool) {
	switch k := c.(type) {
	case nil:
		return "", true
	case Chain:
		parts := make([]string, 0, len(k))
		for _, calc := range k {
			key, ok := CacheKey(calc)
			if !ok {
				return "", false
			}
			parts = append(parts, key)
		}
		return "chain(" + strings.Join(parts, ",") + ")", true
	case CacheKeyer:
		return k.CacheKey(), true
	}
	return "", false
}

// NoRefiner is the Refiner used when no engine is configured.
type NoRefiner struct{}

// Refine always reports ErrUnavailable.
func (NoRefiner) Refine(context.Context, RefinementRequest) (*RefinementResult, error) {
	return nil, xerrors.Wrap(ErrUnavailable, "no refinement engine configured")
}
