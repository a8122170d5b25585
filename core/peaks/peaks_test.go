package peaks

import (
	"errors"
	"math"
	"testing"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

func axis(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func gaussians(x []float64, params ...[3]float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		for _, p := range params {
			d := v - p[1]
			y[i] += p[0] * math.Exp(-d*d/(2*p[2]*p[2]))
		}
	}
	return y
}

func TestFindSyntheticPattern(t *testing.T) {
	x := axis(2000, 20, 0.02)
	y := gaussians(x, [3]float64{300, 33, 0.8}, [3]float64{1000, 30, 0.3}, [3]float64{80, 45, 0.2})
	s, err := xrd.NewSeries(x, y, "synthetic")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Find(s, Options{MinHeight: Float(50)})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("found %d peaks, want 3: %+v", len(got), got)
	}
	wantAngles := []float64{30, 33, 45}
	wantFWHM := []float64{0.3 * 2.3548, 0.8 * 2.3548, 0.2 * 2.3548}
	for i, p := range got {
		if math.Abs(p.Angle-wantAngles[i]) > 0.02 {
			t.Errorf("peak %d angle = %v, want %v", i, p.Angle, wantAngles[i])
		}
		if p.Prominence == nil {
			t.Errorf("peak %d has no prominence", i)
		}
		// The 33° shoulder sits on the 30° tail, so only the isolated peaks
		// are held to a tight width.
		if i != 1 && math.Abs(p.FWHM-wantFWHM[i])/wantFWHM[i] > 0.02 {
			t.Errorf("peak %d FWHM = %v, want %v", i, p.FWHM, wantFWHM[i])
		}
	}
}

func TestFindFilters(t *testing.T) {
	// peaks at index 1 (height 5, prominence 5) and 3 (height 3, prominence 2)
	y := []float64{0, 5, 1, 3, 0}
	x := axis(len(y), 10, 1)
	tests := []struct {
		name string
		opts Options
		want []float64
	}{
		{"no filters", Options{}, []float64{11, 13}},
		{"height", Options{MinHeight: Float(4)}, []float64{11}},
		{"prominence", Options{MinProminence: Float(2.5)}, []float64{11}},
		{"prominence inclusive", Options{MinProminence: Float(2)}, []float64{11, 13}},
		{"width", Options{MinWidth: Float(100)}, nil},
		{"height excludes all", Options{MinHeight: Float(10)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindIn(x, y, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got == nil {
				t.Fatal("FindIn() returned nil, want empty slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want angles %v", got, tt.want)
			}
			for i := range got {
				if got[i].Angle != tt.want[i] {
					t.Errorf("peak %d angle = %v, want %v", i, got[i].Angle, tt.want[i])
				}
			}
		})
	}
}

func TestProminence(t *testing.T) {
	y := []float64{0, 5, 1, 3, 0}
	if p, _, _ := prominence(y, 1); p != 5 {
		t.Errorf("prominence(1) = %v, want 5", p)
	}
	if p, l, r := prominence(y, 3); p != 2 || l != 2 || r != 4 {
		t.Errorf("prominence(3) = %v [%d, %d], want 2 [2, 4]", p, l, r)
	}
}

func TestPlateauMidpoint(t *testing.T) {
	tests := []struct {
		y    []float64
		want []int
	}{
		{[]float64{0, 1, 3, 3, 3, 1, 0}, []int{3}},
		{[]float64{0, 3, 3, 0}, []int{1}},
		{[]float64{0, 3, 3, 5, 0}, []int{3}},
		{[]float64{5, 1, 0}, nil},
		{[]float64{1, 1, 1}, nil},
	}
	for _, tt := range tests {
		got := localMaxima(tt.y)
		if len(got) != len(tt.want) {
			t.Errorf("localMaxima(%v) = %v, want %v", tt.y, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("localMaxima(%v) = %v, want %v", tt.y, got, tt.want)
			}
		}
	}
}

func TestFWHMUsesMeanStep(t *testing.T) {
	got, err := FindIn(axis(5, 10, 0.5), []float64{0, 2, 4, 2, 0}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FWHM != 1 {
		t.Errorf("got %+v, want one peak with FWHM 1", got)
	}
}

func TestFindErrors(t *testing.T) {
	if _, err := FindIn([]float64{1, 2}, []float64{1}, Options{}); !errors.Is(err, xerrors.ErrPeakFinding) {
		t.Errorf("length mismatch error = %v", err)
	}
	if _, err := FindIn([]float64{1, 2, 3}, []float64{0, 1, 0}, Options{MinHeight: Float(math.NaN())}); !errors.Is(err, xerrors.ErrPeakFinding) {
		t.Errorf("NaN threshold error = %v", err)
	}
}
