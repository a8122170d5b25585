// Package peaks locates local maxima in a diffraction pattern and measures
// their prominence and full width at half maximum.
package peaks

import (
	"math"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// Options holds the optional filters. A nil field disables that filter.
type Options struct {
	MinHeight     *float64 `json:"min_height,omitempty"`
	MinProminence *float64 `json:"min_prominence,omitempty"`
	// MinWidth is measured in samples at half prominence.
	MinWidth *float64 `json:"min_width,omitempty"`
}

// Float returns a pointer to v, for filling Options literals.
func Float(v float64) *float64 { return &v }

// candidate is a local maximum with its derived measurements.
type candidate struct {
	index      int
	prominence float64
	leftBase   int
	rightBase  int
	width      float64
}

// Find detects peaks in s, ordered by ascending angle. No detections is an
// empty result, not an error.
func Find(s *xrd.Series, opts Options) ([]xrd.Peak, error) {
	return FindIn(s.Angles(), s.Intensities(), opts)
}

// FindIn is Find on bare slices.
func FindIn(angles, y []float64, opts Options) ([]xrd.Peak, error) {
	if len(angles) != len(y) {
		return nil, xerrors.NewAnalysis(xerrors.StagePeakFinding, xerrors.ErrPeakFinding,
			"%d angles but %d intensities", len(angles), len(y))
	}
	for name, v := range map[string]*float64{"min_height": opts.MinHeight, "min_prominence": opts.MinProminence, "min_width": opts.MinWidth} {
		if v != nil && math.IsNaN(*v) {
			return nil, xerrors.NewAnalysis(xerrors.StagePeakFinding, xerrors.ErrPeakFinding, "%s is NaN", name)
		}
	}

	var cands []candidate
	for _, i := range localMaxima(y) {
		if opts.MinHeight != nil && y[i] < *opts.MinHeight {
			continue
		}
		c := candidate{index: i}
		c.prominence, c.leftBase, c.rightBase = prominence(y, i)
		if opts.MinProminence != nil && c.prominence < *opts.MinProminence {
			continue
		}
		c.width = widthAt(y, c, 0.5)
		if opts.MinWidth != nil && c.width < *opts.MinWidth {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return []xrd.Peak{}, nil
	}

	step := xrd.MeanStep(angles)
	if math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, xerrors.NewAnalysis(xerrors.StagePeakFinding, xerrors.ErrPeakFinding, "angle axis has no finite mean step")
	}
	out := make([]xrd.Peak, len(cands))
	for k, c := range cands {
		prom := c.prominence
		out[k] = xrd.Peak{
			Angle:      angles[c.index],
			Intensity:  y[c.index],
			Prominence: &prom,
			FWHM:       c.width * step,
		}
	}
	xrd.SortPeaks(out)
	return out, nil
}

// localMaxima returns the indices of strict local maxima. A flat top is
// reported at its middle sample, rounding down.
func localMaxima(y []float64) []int {
	var out []int
	last := len(y) - 1
	for i := 1; i < last; i++ {
		if !(y[i-1] < y[i]) {
			continue
		}
		ahead := i + 1
		for ahead < last && y[ahead] == y[i] {
			ahead++
		}
		if y[ahead] < y[i] {
			out = append(out, (i+ahead-1)/2)
			i = ahead
		}
	}
	return out
}

// prominence measures how far the peak rises above the higher of the two
// minima found by walking outward until a higher sample is met.
func prominence(y []float64, peak int) (prom float64, leftBase, rightBase int) {
	top := y[peak]

	leftMin := top
	leftBase = peak
	for i := peak; i >= 0 && y[i] <= top; i-- {
		if y[i] < leftMin {
			leftMin, leftBase = y[i], i
		}
	}
	rightMin := top
	rightBase = peak
	for i := peak; i < len(y) && y[i] <= top; i++ {
		if y[i] < rightMin {
			rightMin, rightBase = y[i], i
		}
	}
	return top - math.Max(leftMin, rightMin), leftBase, rightBase
}

// widthAt returns the peak width in samples at rel of its prominence below
// the top, linearly interpolating the crossing points.
func widthAt(y []float64, c candidate, rel float64) float64 {
	height := y[c.index] - c.prominence*rel

	i := c.index
	for c.leftBase < i && height < y[i] {
		i--
	}
	left := float64(i)
	if y[i] < height {
		left += (height - y[i]) / (y[i+1] - y[i])
	}

	i = c.index
	for i < c.rightBase && height < y[i] {
		i++
	}
	right := float64(i)
	if y[i] < height {
		right -= (height - y[i]) / (y[i-1] - y[i])
	}
	return right - left
}
