// Package quant implements quantitative phase analysis by the reference
// intensity ratio (RIR) method.
package quant

import (
	"math"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// WeightPercents returns weight% = (Iᵢ/RIRᵢ) / Σ(I/RIR) × 100 for each phase.
// When every Iᵢ/RIRᵢ sums to zero all results are zero.
func WeightPercents(intensities, rirs []float64) ([]float64, error) {
	if len(intensities) != len(rirs) {
		return nil, xerrors.NewAnalysis(xerrors.StageQPA, xerrors.ErrInvalidParameter,
			"%d intensities but %d RIR values", len(intensities), len(rirs))
	}
	out := make([]float64, len(intensities))
	var sum float64
	for i := range intensities {
		if !(rirs[i] > 0) {
			return nil, xerrors.NewAnalysis(xerrors.StageQPA, xerrors.ErrNonPositiveRIR,
				"RIR value for phase %d must be greater than 0, got %g", i+1, rirs[i])
		}
		if math.IsNaN(intensities[i]) {
			return nil, xerrors.NewAnalysis(xerrors.StageQPA, xerrors.ErrInvalidParameter, "intensity of phase %d is NaN", i+1)
		}
		out[i] = intensities[i] / rirs[i]
		sum += out[i]
	}
	for i := range out {
		if sum == 0 {
			out[i] = 0
			continue
		}
		out[i] = out[i] / sum * 100
	}
	return out, nil
}

// RIR fills WeightPercent on a copy of phases.
func RIR(phases []xrd.Phase) ([]xrd.Phase, error) {
	intensities := make([]float64, len(phases))
	rirs := make([]float64, len(phases))
	for i, p := range phases {
		intensities[i], rirs[i] = p.Intensity, p.RIR
	}
	wp, err := WeightPercents(intensities, rirs)
	if err != nil {
		return nil, err
	}
	out := make([]xrd.Phase, len(phases))
	for i, p := range phases {
		p.WeightPercent = wp[i]
		out[i] = p
	}
	return out, nil
}
