// Package fitting refines analytic profile functions against a single
// diffraction peak.
package fitting

import (
	"fmt"
	"math"
	"strings"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// fwhmPerSigma is 2·sqrt(2·ln 2).
var fwhmPerSigma = 2 * math.Sqrt(2*math.Ln2)

// ParseModel resolves a model name. Both "pseudo-voigt" and "pseudo_voigt"
// are accepted.
func ParseModel(name string) (xrd.Model, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gaussian":
		return xrd.Gaussian, nil
	case "lorentzian":
		return xrd.Lorentzian, nil
	case "pseudo-voigt", "pseudo_voigt", "pseudovoigt":
		return xrd.PseudoVoigt, nil
	}
	return 0, xerrors.NewAnalysis(xerrors.StageFitting, xerrors.ErrUnknownModel,
		"model %q not recognized; available: gaussian, lorentzian, pseudo-voigt", name)
}

// ParamNames returns the parameter names of a model in vector order.
func ParamNames(m xrd.Model) []string {
	switch m {
	case xrd.Gaussian:
		return []string{"amplitude", "center", "sigma"}
	case xrd.Lorentzian:
		return []string{"amplitude", "center", "gamma"}
	case xrd.PseudoVoigt:
		return []string{"amplitude", "center", "fwhm", "mixing"}
	}
	return nil
}

func gaussian(x, amplitude, center, sigma float64) float64 {
	d := x - center
	return amplitude * math.Exp(-d*d/(2*sigma*sigma))
}

func lorentzian(x, amplitude, center, gamma float64) float64 {
	d := x - center
	return amplitude * gamma * gamma / (d*d + gamma*gamma)
}

// Evaluate computes the model at x for the parameter vector p.
func Evaluate(m xrd.Model, p []float64, x float64) float64 {
	switch m {
	case xrd.Gaussian:
		return gaussian(x, p[0], p[1], p[2])
	case xrd.Lorentzian:
		return lorentzian(x, p[0], p[1], p[2])
	case xrd.PseudoVoigt:
		fwhm, eta := p[2], p[3]
		return (1-eta)*gaussian(x, p[0], p[1], fwhm/fwhmPerSigma) + eta*lorentzian(x, p[0], p[1], fwhm/2)
	}
	panic(fmt.Sprintf("fitting: unknown model %d", m))
}

// initialGuess derives starting parameters from a detected peak.
func initialGuess(m xrd.Model, pk xrd.Peak) []float64 {
	switch m {
	case xrd.Gaussian:
		return []float64{pk.Intensity, pk.Angle, pk.FWHM / fwhmPerSigma}
	case xrd.Lorentzian:
		return []float64{pk.Intensity, pk.Angle, pk.FWHM / 2}
	}
	return []float64{pk.Intensity, pk.Angle, pk.FWHM, 0.5}
}

// constrain keeps widths positive and the pseudo-Voigt mixing in [0, 1]. It
// reports false when a width has collapsed.
func constrain(m xrd.Model, p []float64) bool {
	if m == xrd.PseudoVoigt {
		p[3] = math.Max(0, math.Min(1, p[3]))
	}
	// |σ|, |γ| and |FWHM| give the same curve as their negatives.
	p[2] = math.Abs(p[2])
	return p[2] > 0
}
