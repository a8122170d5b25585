package searchmatch

import (
	"errors"
	"math"
	"strings"
	"testing"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

func table(t *testing.T, cols map[string][]float64) *xrd.Table {
	t.Helper()
	tb := xrd.NewTable()
	for _, name := range []string{xrd.ColAngle, xrd.ColIntensity} {
		if v, ok := cols[name]; ok {
			if err := tb.AddColumn(name, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	return tb
}

func reference(t *testing.T) *xrd.Table {
	return table(t, map[string][]float64{
		xrd.ColAngle:     {31.7, 45.5, 56.5},
		xrd.ColIntensity: {100, 80, 60},
	})
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name        string
		exp         []float64
		wantFOM     float64
		wantMatches int
	}{
		{"all three with impurity", []float64{31.75, 40.0, 45.48, 56.52}, 100, 3},
		{"none", []float64{20, 25, 50}, 0, 0},
		{"two weaker only", []float64{45.51, 56.49}, 58.33, 2},
		{"no experimental peaks", []float64{}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Match(table(t, map[string][]float64{xrd.ColAngle: tt.exp}), reference(t), 0.1)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if math.Abs(res.FigureOfMerit-tt.wantFOM) > 0.01 {
				t.Errorf("FOM = %v, want %v", res.FigureOfMerit, tt.wantFOM)
			}
			if len(res.Matches) != tt.wantMatches {
				t.Errorf("got %d matches, want %d", len(res.Matches), tt.wantMatches)
			}
		})
	}
}

func TestMatchGreedyPriority(t *testing.T) {
	// One experimental peak within reach of two reference peaks: the stronger
	// reference claims it even though the weaker one is closer.
	ref := table(t, map[string][]float64{
		xrd.ColAngle:     {30.00, 30.12},
		xrd.ColIntensity: {50, 100},
	})
	exp := table(t, map[string][]float64{xrd.ColAngle: {30.05}})
	res, err := Match(exp, ref, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ReferenceAngle != 30.12 {
		t.Fatalf("matches = %+v, want the 30.12 reference", res.Matches)
	}
	if math.Abs(res.Matches[0].DeltaAngle-(30.05-30.12)) > 1e-12 {
		t.Errorf("delta = %v", res.Matches[0].DeltaAngle)
	}
	if math.Abs(res.FigureOfMerit-100.0/150*100) > 1e-9 {
		t.Errorf("FOM = %v", res.FigureOfMerit)
	}
}

func TestMatchClosestAndTies(t *testing.T) {
	ref := table(t, map[string][]float64{xrd.ColAngle: {30}, xrd.ColIntensity: {10}})
	exp := table(t, map[string][]float64{xrd.ColAngle: {30.75, 29.5, 30.5}})
	res, err := Match(exp, ref, 1)
	if err != nil {
		t.Fatal(err)
	}
	// 29.5 and 30.5 are equally close; the first one listed wins.
	if res.Matches[0].ExperimentalAngle != 29.5 {
		t.Errorf("matched %v, want 29.5", res.Matches[0].ExperimentalAngle)
	}
}

func TestMatchEmptyReference(t *testing.T) {
	ref := table(t, map[string][]float64{xrd.ColAngle: {}, xrd.ColIntensity: {}})
	res, err := Match(table(t, map[string][]float64{xrd.ColAngle: {30}}), ref, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if res.FigureOfMerit != 0 || res.Matches == nil || len(res.Matches) != 0 {
		t.Errorf("result = %+v, want 0 and an empty table", res)
	}
}

func TestMatchMissingColumns(t *testing.T) {
	tests := []struct {
		name string
		exp  *xrd.Table
		ref  *xrd.Table
		want string
	}{
		{"experimental without angle", table(t, map[string][]float64{xrd.ColIntensity: {1}}), reference(t), "experimental"},
		{"reference without intensity", table(t, map[string][]float64{xrd.ColAngle: {1}}), table(t, map[string][]float64{xrd.ColAngle: {1}}), "intensity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Match(tt.exp, tt.ref, 0.1)
			if !errors.Is(err, xerrors.ErrMissingColumns) {
				t.Fatalf("error = %v, want ErrMissingColumns", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMatchPeaks(t *testing.T) {
	ref, err := xrd.NewReference([]float64{31.7, 45.5}, []float64{100, 50}, "ref.cif")
	if err != nil {
		t.Fatal(err)
	}
	res, err := MatchPeaks([]xrd.Peak{{Angle: 31.72, Intensity: 900}}, ref, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.FigureOfMerit-100.0/150*100) > 1e-9 {
		t.Errorf("FOM = %v", res.FigureOfMerit)
	}
	if got := res.MatchTable().Columns(); len(got) != 4 || got[0] != "exp_angle" {
		t.Errorf("MatchTable columns = %v", got)
	}
}
