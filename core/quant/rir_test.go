package quant

import (
	"errors"
	"math"
	"testing"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

func TestRIR(t *testing.T) {
	phases := []xrd.Phase{
		{Name: "quartz", Angle: 26.6, Intensity: 950, RIR: 1},
		{Name: "calcite", Angle: 29.4, Intensity: 750, RIR: 1},
		{Name: "halite", Angle: 31.7, Intensity: 550, RIR: 1},
	}
	got, err := RIR(phases)
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for i, p := range got {
		want := phases[i].Intensity / 2250 * 100
		if math.Abs(p.WeightPercent-want) > 1e-9 {
			t.Errorf("%s = %v, want %v", p.Name, p.WeightPercent, want)
		}
		sum += p.WeightPercent
	}
	if math.Abs(sum-100) > 1e-6 {
		t.Errorf("sum = %v, want 100", sum)
	}
	if phases[0].WeightPercent != 0 {
		t.Error("input phases modified")
	}
}

func TestWeightPercents(t *testing.T) {
	tests := []struct {
		name        string
		intensities []float64
		rirs        []float64
		want        []float64
	}{
		{"rir weighting", []float64{100, 100}, []float64{1, 3}, []float64{75, 25}},
		{"all zero intensity", []float64{0, 0}, []float64{1, 2}, []float64{0, 0}},
		{"empty", nil, nil, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightPercents(tt.intensities, tt.rirs)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestWeightPercentsErrors(t *testing.T) {
	tests := []struct {
		name string
		rirs []float64
		want error
	}{
		{"zero rir", []float64{1, 0}, xerrors.ErrNonPositiveRIR},
		{"negative rir", []float64{-2, 1}, xerrors.ErrNonPositiveRIR},
		{"length mismatch", []float64{1}, xerrors.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WeightPercents([]float64{10, 20}, tt.rirs); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
