package fitting

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// Defaults for Options.
const (
	DefaultWindowMultiplier = 3
	DefaultMaxIterations    = 200
	// MinWindowPoints is the smallest window that will be fitted.
	MinWindowPoints = 5
)

// Levenberg-Marquardt stopping tolerances, matching MINPACK's defaults.
const (
	costTol = 1.49012e-8
	stepTol = 1.49012e-8
	maxDamp = 1e16
)

// Options configures a fit.
type Options struct {
	// WindowMultiplier scales the peak FWHM to the fit window width.
	WindowMultiplier float64 `json:"window_multiplier,omitempty"`
	MaxIterations    int     `json:"max_iterations,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.WindowMultiplier <= 0 {
		o.WindowMultiplier = DefaultWindowMultiplier
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	return o
}

// Fit refines model against the samples of s around peak.
func Fit(s *xrd.Series, peak xrd.Peak, model xrd.Model, opts Options) (*xrd.FitResult, error) {
	return FitIn(s.Angles(), s.Intensities(), peak, model, opts)
}

// FitIn is Fit on bare slices.
func FitIn(angles, intensities []float64, peak xrd.Peak, model xrd.Model, opts Options) (*xrd.FitResult, error) {
	names := ParamNames(model)
	if names == nil {
		return nil, xerrors.NewAnalysis(xerrors.StageFitting, xerrors.ErrUnknownModel, "model %d not recognized", int(model))
	}
	opts = opts.withDefaults()

	half := peak.FWHM * opts.WindowMultiplier / 2
	var x, y []float64
	for i, a := range angles {
		if a >= peak.Angle-half && a <= peak.Angle+half {
			x = append(x, a)
			y = append(y, intensities[i])
		}
	}
	if len(x) < MinWindowPoints {
		return nil, xerrors.NewAnalysis(xerrors.StageFitting, xerrors.ErrInsufficientWindowPoints,
			"%d points in the window around %.4g°, need at least %d", len(x), peak.Angle, MinWindowPoints)
	}

	p, err := levenbergMarquardt(model, x, y, initialGuess(model, peak), opts.MaxIterations)
	if err != nil {
		return nil, err
	}

	res := &xrd.FitResult{
		Model:  model,
		Params: make(map[string]float64, len(names)),
		X:      x,
		Curve:  make([]float64, len(x)),
	}
	for i, n := range names {
		res.Params[n] = p[i]
	}
	for i, v := range x {
		res.Curve[i] = Evaluate(model, p, v)
	}
	return res, nil
}

func noConvergence(format string, args ...interface{}) error {
	return xerrors.NewAnalysis(xerrors.StageFitting, xerrors.ErrNoConvergence, format, args...)
}

// levenbergMarquardt minimises the squared residuals of model over (x, y)
// starting at p0. The Jacobian is taken by central differences.
func levenbergMarquardt(model xrd.Model, x, y, p0 []float64, maxIter int) ([]float64, error) {
	n, m := len(x), len(p0)
	p := append([]float64(nil), p0...)
	if !constrain(model, p) {
		return nil, noConvergence("initial width guess is zero")
	}

	predict := func(dst, params []float64) {
		for i, v := range x {
			dst[i] = Evaluate(model, params, v)
		}
	}
	cost := func(params []float64) float64 {
		var c float64
		for i, v := range x {
			r := y[i] - Evaluate(model, params, v)
			c += r * r
		}
		return c
	}

	jac := mat.NewDense(n, m, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	resid := make([]float64, n)
	trial := make([]float64, m)
	current := cost(p)
	damping := 1e-3

	for iter := 0; iter < maxIter; iter++ {
		fd.Jacobian(jac, predict, p, settings)
		predict(resid, p)
		floats.SubTo(resid, y, resid)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(n, resid))

		for {
			a := mat.NewDense(m, m, nil)
			a.Copy(&jtj)
			for k := 0; k < m; k++ {
				d := jtj.At(k, k)
				if d == 0 {
					d = 1
				}
				a.Set(k, k, d*(1+damping))
			}
			var step mat.VecDense
			if err := step.SolveVec(a, &grad); err != nil {
				damping *= 10
				if damping > maxDamp {
					return nil, noConvergence("normal equations are singular")
				}
				continue
			}

			for k := range trial {
				trial[k] = p[k] + step.AtVec(k)
			}
			valid := constrain(model, trial)
			next := math.Inf(1)
			if valid {
				next = cost(trial)
			}
			if math.IsNaN(next) {
				return nil, noConvergence("model evaluated to NaN")
			}

			small := floats.Norm(step.RawVector().Data, 2) <= stepTol*(floats.Norm(p, 2)+stepTol)
			if next < current {
				reduction := current - next
				copy(p, trial)
				current = next
				damping = math.Max(damping/10, 1e-12)
				if small || reduction <= costTol*(current+reduction) || current == 0 {
					return p, nil
				}
				break
			}
			if small {
				// No smaller cost within a negligible step.
				return p, nil
			}
			damping *= 10
			if damping > maxDamp {
				return nil, noConvergence("no parameter update reduces the residual")
			}
		}
	}
	return nil, noConvergence("optimal parameters not found after %d iterations", maxIter)
}
