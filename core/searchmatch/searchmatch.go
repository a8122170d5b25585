// Package searchmatch scores how well an experimental peak list accounts for
// a reference pattern.
package searchmatch

import (
	"math"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// DefaultTolerance is the default 2θ matching window in degrees.
const DefaultTolerance = 0.1

// Result is the outcome of a search-match run.
type Result struct {
	// FigureOfMerit is the matched share of total reference intensity, 0–100.
	FigureOfMerit float64     `json:"figure_of_merit"`
	Matches       []xrd.Match `json:"matches"`
}

// Match scores exp (needs an angle column) against ref (needs angle and
// intensity). Reference peaks claim experimental peaks strongest first; each
// takes the closest unclaimed experimental peak within tolerance. The
// assignment is greedy and one-to-one.
func Match(exp, ref *xrd.Table, tolerance float64) (*Result, error) {
	if missing := exp.Missing(xrd.ColAngle); len(missing) > 0 {
		return nil, xerrors.NewAnalysis(xerrors.StageSearchMatch, xerrors.ErrMissingColumns,
			"experimental peaks must contain %v", missing)
	}
	if missing := ref.Missing(xrd.ColAngle, xrd.ColIntensity); len(missing) > 0 {
		return nil, xerrors.NewAnalysis(xerrors.StageSearchMatch, xerrors.ErrMissingColumns,
			"reference pattern must contain %v", missing)
	}
	if tolerance < 0 || math.IsNaN(tolerance) {
		return nil, xerrors.NewAnalysis(xerrors.StageSearchMatch, xerrors.ErrInvalidParameter,
			"angle tolerance must be non-negative, got %g", tolerance)
	}

	expAngles, _ := exp.Column(xrd.ColAngle)
	refAngles, _ := ref.Column(xrd.ColAngle)
	refIntensities, _ := ref.Column(xrd.ColIntensity)
	return score(expAngles, refAngles, refIntensities, ref.SortedBy(xrd.ColIntensity, true), tolerance), nil
}

// MatchPeaks runs Match on a detected peak list and a reference series.
func MatchPeaks(exp []xrd.Peak, ref *xrd.Series, tolerance float64) (*Result, error) {
	return Match(xrd.PeakTable(exp), xrd.SeriesTable(ref), tolerance)
}

func score(expAngles, refAngles, refIntensities []float64, order []int, tolerance float64) *Result {
	res := &Result{Matches: []xrd.Match{}}
	if len(refAngles) == 0 {
		return res
	}

	var total, matched float64
	for _, v := range refIntensities {
		total += v
	}
	used := make([]bool, len(expAngles))
	for _, r := range order {
		best := -1
		for e, a := range expAngles {
			d := math.Abs(a - refAngles[r])
			if used[e] || d > tolerance {
				continue
			}
			if best < 0 || d < math.Abs(expAngles[best]-refAngles[r]) {
				best = e
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		matched += refIntensities[r]
		res.Matches = append(res.Matches, xrd.Match{
			ExperimentalAngle:  expAngles[best],
			ReferenceAngle:     refAngles[r],
			ReferenceIntensity: refIntensities[r],
			DeltaAngle:         expAngles[best] - refAngles[r],
		})
	}
	if len(res.Matches) > 0 && total != 0 {
		res.FigureOfMerit = matched / total * 100
	}
	return res
}

// MatchTable returns the matches as a table with exp_angle, ref_angle,
// ref_intensity and delta_angle columns.
func (r *Result) MatchTable() *xrd.Table {
	n := len(r.Matches)
	exp, ref, inten, delta := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, m := range r.Matches {
		exp[i], ref[i], inten[i], delta[i] = m.ExperimentalAngle, m.ReferenceAngle, m.ReferenceIntensity, m.DeltaAngle
	}
	t := xrd.NewTable()
	_ = t.AddColumn("exp_angle", exp)
	_ = t.AddColumn("ref_angle", ref)
	_ = t.AddColumn("ref_intensity", inten)
	_ = t.AddColumn("delta_angle", delta)
	return t
}
