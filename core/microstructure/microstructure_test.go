package microstructure

import (
	"errors"
	"math"
	"testing"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

func TestScherrer(t *testing.T) {
	size, err := Scherrer(0.5, 30, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(size-164.46)/164.46 > 0.005 {
		t.Errorf("size = %v, want ≈164.46", size)
	}
}

func TestScherrerErrors(t *testing.T) {
	tests := []struct {
		name string
		fwhm float64
		p    Params
		want error
	}{
		{"zero fwhm", 0, DefaultParams(), xerrors.ErrNonPositiveFWHM},
		{"negative fwhm", -0.1, DefaultParams(), xerrors.ErrNonPositiveFWHM},
		{"NaN fwhm", math.NaN(), DefaultParams(), xerrors.ErrNonPositiveFWHM},
		{"zero wavelength", 0.5, Params{ShapeFactor: 0.9}, xerrors.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Scherrer(tt.fwhm, 30, tt.p); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

// whPeaks builds peaks lying exactly on a Williamson-Hall line.
func whPeaks(size, strain float64, angles ...float64) []xrd.Peak {
	p := DefaultParams()
	intercept := p.ShapeFactor * p.Wavelength / size
	out := make([]xrd.Peak, len(angles))
	for i, a := range angles {
		theta := a / 2 * math.Pi / 180
		y := strain*4*math.Sin(theta) + intercept
		out[i] = xrd.Peak{Angle: a, FWHM: y / math.Cos(theta) * 180 / math.Pi}
	}
	return out
}

func TestWilliamsonHall(t *testing.T) {
	res, err := WilliamsonHall(whPeaks(450, 0.0015, 20, 40, 60, 80), DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Size-450) > 1e-6 {
		t.Errorf("size = %v, want 450", res.Size)
	}
	if math.Abs(res.Strain-0.0015) > 1e-10 {
		t.Errorf("strain = %v, want 0.0015", res.Strain)
	}
	if res.RSquared < 0.9999 {
		t.Errorf("R² = %v", res.RSquared)
	}
	if res.LineX[0] != 0 || res.LineX[1] != res.X[3] || res.LineY[0] != res.Intercept {
		t.Errorf("line = %v → %v", res.LineX, res.LineY)
	}
	if len(res.X) != 4 || len(res.Y) != 4 {
		t.Errorf("got %d/%d points", len(res.X), len(res.Y))
	}
}

func TestWilliamsonHallErrors(t *testing.T) {
	tests := []struct {
		name  string
		peaks []xrd.Peak
		want  error
	}{
		{"no peaks", nil, xerrors.ErrTooFewPeaks},
		{"one peak", whPeaks(450, 0, 30), xerrors.ErrTooFewPeaks},
		{"negative intercept", []xrd.Peak{{Angle: 20, FWHM: 0.01}, {Angle: 80, FWHM: 1.5}}, xerrors.ErrNonPositiveIntercept},
		{"same position", []xrd.Peak{{Angle: 30, FWHM: 0.2}, {Angle: 30, FWHM: 0.3}}, xerrors.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WilliamsonHall(tt.peaks, DefaultParams())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
