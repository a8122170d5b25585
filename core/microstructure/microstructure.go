// Package microstructure estimates crystallite size and lattice strain from
// peak broadening.
package microstructure

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// Params are the instrument constants shared by both methods.
type Params struct {
	Wavelength  float64 `json:"wavelength"`   // Å
	ShapeFactor float64 `json:"shape_factor"` // Scherrer K
}

// DefaultParams is Cu Kα1 with K = 0.9.
func DefaultParams() Params {
	return Params{Wavelength: xrd.DefaultWavelength, ShapeFactor: xrd.DefaultShapeFactor}
}

func (p Params) validate() error {
	if !(p.Wavelength > 0) {
		return xerrors.NewAnalysis(xerrors.StageMicrostructure, xerrors.ErrInvalidParameter, "wavelength must be positive, got %g", p.Wavelength)
	}
	if !(p.ShapeFactor > 0) {
		return xerrors.NewAnalysis(xerrors.StageMicrostructure, xerrors.ErrInvalidParameter, "shape factor must be positive, got %g", p.ShapeFactor)
	}
	return nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Scherrer returns the crystallite size in Å from one peak's FWHM and 2θ
// position, both in degrees.
func Scherrer(fwhm, angle float64, p Params) (float64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	if !(fwhm > 0) {
		return 0, xerrors.NewAnalysis(xerrors.StageMicrostructure, xerrors.ErrNonPositiveFWHM, "FWHM must be a positive value, got %g", fwhm)
	}
	beta := radians(fwhm)
	theta := radians(angle / 2)
	return p.ShapeFactor * p.Wavelength / (beta * math.Cos(theta)), nil
}

// WHResult is a Williamson-Hall analysis.
type WHResult struct {
	X         []float64  `json:"x"` // 4·sinθ
	Y         []float64  `json:"y"` // β·cosθ
	LineX     [2]float64 `json:"line_x"`
	LineY     [2]float64 `json:"line_y"`
	Size      float64    `json:"crystallite_size"` // Å
	Strain    float64    `json:"strain"`
	RSquared  float64    `json:"r_squared"`
	Intercept float64    `json:"intercept"`
	PeakCount int        `json:"peak_count"`
}

// WilliamsonHall regresses β·cosθ on 4·sinθ over the peaks. The slope is the
// strain and the intercept gives the size.
func WilliamsonHall(peaks []xrd.Peak, p Params) (*WHResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(peaks) < 2 {
		return nil, xerrors.NewAnalysis(xerrors.StageMicrostructure, xerrors.ErrTooFewPeaks,
			"Williamson-Hall analysis requires at least 2 peaks, got %d", len(peaks))
	}

	res := &WHResult{
		X:         make([]float64, len(peaks)),
		Y:         make([]float64, len(peaks)),
		PeakCount: len(peaks),
	}
	for i, pk := range peaks {
		theta := radians(pk.Angle / 2)
		res.X[i] = 4 * math.Sin(theta)
		res.Y[i] = radians(pk.FWHM) * math.Cos(theta)
	}

	intercept, slope := stat.LinearRegression(res.X, res.Y, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) || math.IsNaN(intercept) {
		return nil, xerrors.NewAnalysis(xerrors.StageMicrostructure, xerrors.ErrInvalidParameter,
			"peaks share a single 2θ position; the regression is undetermined")
	}
	if intercept <= 0 {
		return nil, xerrors.NewAnalysis(xerrors.StageMicrostructure, xerrors.ErrNonPositiveIntercept,
			"fit resulted in a non-positive y-intercept (%g), cannot calculate size", intercept)
	}

	res.Strain = slope
	res.Intercept = intercept
	res.Size = p.ShapeFactor * p.Wavelength / intercept
	res.RSquared = stat.RSquared(res.X, res.Y, nil, intercept, slope)
	res.LineX = [2]float64{0, floats.Max(res.X)}
	res.LineY = [2]float64{intercept, slope*res.LineX[1] + intercept}
	return res, nil
}
