// Package background estimates the slowly varying baseline under a
// diffraction pattern.
package background

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// Defaults used when a caller leaves a parameter unset.
const (
	DefaultOrder      = 3
	DefaultIterations = 50
)

// Method selects an estimator.
type Method int

const (
	Erosion Method = iota
	Polynomial
)

func (m Method) String() string {
	if m == Polynomial {
		return "polynomial"
	}
	return "erosion"
}

// ParseMethod accepts "erosion" or "polynomial".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "erosion", "iterative-erosion":
		return Erosion, nil
	case "polynomial", "poly":
		return Polynomial, nil
	}
	return 0, xerrors.NewValidation("method", fmt.Sprintf("unknown background method %q", s))
}

// Params configures Estimate.
type Params struct {
	Method     Method
	Anchors    []int // polynomial only
	Order      int   // polynomial only
	Iterations int   // erosion only
}

// Estimate computes a background curve for s with the selected method.
func Estimate(s *xrd.Series, p Params) ([]float64, error) {
	if p.Method == Polynomial {
		return FitPolynomial(s.Angles(), s.Intensities(), p.Anchors, p.Order)
	}
	return Erode(s.Intensities(), p.Iterations)
}

// Subtract estimates the background and returns the corrected series along
// with the curve. The input series is not modified.
func Subtract(s *xrd.Series, p Params) (*xrd.Series, []float64, error) {
	bg, err := Estimate(s, p)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.Subtract(bg)
	if err != nil {
		return nil, nil, xerrors.NewAnalysis(xerrors.StageBackground, xerrors.ErrInvalidParameter, "%v", err)
	}
	return out, bg, nil
}

// FitPolynomial least-squares fits a polynomial of the given order through the
// anchor samples and evaluates it over every angle. At least order+1 distinct
// anchors are required.
func FitPolynomial(angles, intensities []float64, anchors []int, order int) ([]float64, error) {
	if order < 0 {
		return nil, xerrors.NewAnalysis(xerrors.StageBackground, xerrors.ErrInvalidParameter, "polynomial order must be non-negative, got %d", order)
	}
	if len(angles) != len(intensities) {
		return nil, xerrors.NewAnalysis(xerrors.StageBackground, xerrors.ErrInvalidParameter,
			"%d angles but %d intensities", len(angles), len(intensities))
	}
	idx, err := distinct(anchors, len(angles))
	if err != nil {
		return nil, err
	}
	if len(idx) < order+1 {
		return nil, xerrors.NewAnalysis(xerrors.StageBackground, xerrors.ErrInsufficientAnchors,
			"must select at least %d points for a polynomial of order %d, got %d", order+1, order, len(idx))
	}

	// Map angles onto [-1, 1] to keep the Vandermonde system well conditioned.
	lo, hi := angles[0], angles[0]
	for _, a := range angles {
		lo, hi = math.Min(lo, a), math.Max(hi, a)
	}
	mid, half := (lo+hi)/2, (hi-lo)/2
	if half == 0 {
		half = 1
	}
	scale := func(a float64) float64 { return (a - mid) / half }

	cols := order + 1
	A := mat.NewDense(len(idx), cols, nil)
	b := mat.NewVecDense(len(idx), nil)
	for r, i := range idx {
		x, p := scale(angles[i]), 1.0
		for c := 0; c < cols; c++ {
			A.Set(r, c, p)
			p *= x
		}
		b.SetVec(r, intensities[i])
	}

	var qr mat.QR
	qr.Factorize(A)
	var coeffs mat.VecDense
	if err := qr.SolveVecTo(&coeffs, false, b); err != nil {
		return nil, &xerrors.AnalysisError{
			Stage:   xerrors.StageBackground,
			Kind:    xerrors.ErrInsufficientAnchors,
			Message: "anchor angles do not determine the polynomial",
			Err:     err,
		}
	}

	out := make([]float64, len(angles))
	for i, a := range angles {
		x := scale(a)
		// Horner evaluation
		v := 0.0
		for c := cols - 1; c >= 0; c-- {
			v = v*x + coeffs.AtVec(c)
		}
		out[i] = v
	}
	return out, nil
}

func distinct(anchors []int, n int) ([]int, error) {
	seen := make(map[int]bool, len(anchors))
	out := make([]int, 0, len(anchors))
	for _, i := range anchors {
		if i < 0 || i >= n {
			return nil, xerrors.NewAnalysis(xerrors.StageBackground, xerrors.ErrInvalidAnchor,
				"anchor index %d outside [0, %d)", i, n)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Erode runs the iterative erosion estimator: each pass replaces every point
// with the smaller of itself and the mean of its two neighbours, wrapping at
// the ends. Every pass reads from the previous pass's values.
func Erode(intensities []float64, iterations int) ([]float64, error) {
	if iterations < 0 {
		return nil, xerrors.NewAnalysis(xerrors.StageBackground, xerrors.ErrInvalidIterations,
			"iterations must be non-negative, got %d", iterations)
	}
	n := len(intensities)
	cur := make([]float64, n)
	copy(cur, intensities)
	if n == 0 {
		return cur, nil
	}
	next := make([]float64, n)
	for it := 0; it < iterations; it++ {
		for i := range cur {
			avg := (cur[(i-1+n)%n] + cur[(i+1)%n]) / 2
			next[i] = math.Min(cur[i], avg)
		}
		cur, next = next, cur
	}
	return cur, nil
}
