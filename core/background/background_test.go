package background

import (
	"errors"
	"math"
	"testing"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

func ramp(n int, f func(x float64) float64) (angles, intensities []float64) {
	angles = make([]float64, n)
	intensities = make([]float64, n)
	for i := range angles {
		angles[i] = 10 + 70*float64(i)/float64(n-1)
		intensities[i] = f(angles[i])
	}
	return angles, intensities
}

func TestFitPolynomialAnchorCount(t *testing.T) {
	angles, intensities := ramp(200, func(x float64) float64 { return 100 + 0.5*x })
	tests := []struct {
		name    string
		anchors []int
		order   int
		wantErr error
	}{
		{"fewer than order", []int{0, 50, 100}, 4, xerrors.ErrInsufficientAnchors},
		{"equal to order", []int{0, 50, 100, 150}, 4, xerrors.ErrInsufficientAnchors},
		{"order plus one", []int{0, 50, 100, 150, 199}, 4, nil},
		{"more than needed", []int{0, 20, 50, 100, 150, 180, 199}, 3, nil},
		{"duplicates do not count", []int{0, 0, 50, 50}, 2, xerrors.ErrInsufficientAnchors},
		{"out of range", []int{0, 50, 200}, 1, xerrors.ErrInvalidAnchor},
		{"negative index", []int{-1, 50, 100}, 1, xerrors.ErrInvalidAnchor},
		{"negative order", []int{0, 1}, -1, xerrors.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bg, err := FitPolynomial(angles, intensities, tt.anchors, tt.order)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				var ae *xerrors.AnalysisError
				if !errors.As(err, &ae) || ae.Stage != xerrors.StageBackground {
					t.Errorf("error %v is not a background AnalysisError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FitPolynomial() error = %v", err)
			}
			if len(bg) != len(angles) {
				t.Fatalf("len = %d, want %d", len(bg), len(angles))
			}
		})
	}
}

func TestFitPolynomialRecoversCurve(t *testing.T) {
	f := func(x float64) float64 { return 50 + 2*x - 0.03*x*x + 1e-4*x*x*x }
	angles, intensities := ramp(500, f)
	// Put a peak between the anchors; it must not influence the fit.
	for i := 240; i < 260; i++ {
		intensities[i] += 1000
	}
	bg, err := FitPolynomial(angles, intensities, []int{0, 100, 200, 300, 400, 499}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, a := range angles {
		if math.Abs(bg[i]-f(a)) > 1e-6 {
			t.Fatalf("bg[%d] = %v, want %v", i, bg[i], f(a))
		}
	}
}

func TestErodeMonotone(t *testing.T) {
	_, intensities := ramp(300, func(x float64) float64 {
		return 100 + 500*math.Exp(-(x-30)*(x-30)/0.5) + 20*math.Sin(x)
	})
	prev := intensities
	for it := 1; it <= 20; it++ {
		cur, err := Erode(intensities, it)
		if err != nil {
			t.Fatal(err)
		}
		for i := range cur {
			if cur[i] > prev[i] {
				t.Fatalf("iteration %d point %d rose from %v to %v", it, i, prev[i], cur[i])
			}
		}
		prev = cur
	}
}

func TestErode(t *testing.T) {
	tests := []struct {
		name       string
		in         []float64
		iterations int
		want       []float64
	}{
		{"zero iterations copies", []float64{1, 5, 1}, 0, []float64{1, 5, 1}},
		{"spike removed", []float64{0, 10, 0, 0}, 1, []float64{0, 0, 0, 0}},
		{"wraps at ends", []float64{8, 2, 2, 2}, 1, []float64{2, 2, 2, 2}},
		{"empty", []float64{}, 5, []float64{}},
		{"single point", []float64{7}, 3, []float64{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Erode(tt.in, tt.iterations)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestErodeDoesNotModifyInput(t *testing.T) {
	in := []float64{0, 10, 0}
	if _, err := Erode(in, 3); err != nil {
		t.Fatal(err)
	}
	if in[1] != 10 {
		t.Errorf("input modified: %v", in)
	}
}

func TestErodeNegativeIterations(t *testing.T) {
	if _, err := Erode([]float64{1, 2}, -1); !errors.Is(err, xerrors.ErrInvalidIterations) {
		t.Errorf("error = %v, want ErrInvalidIterations", err)
	}
}

func TestSubtract(t *testing.T) {
	s, err := xrd.NewSeries([]float64{1, 2, 3, 4}, []float64{5, 50, 5, 5}, "s.xy")
	if err != nil {
		t.Fatal(err)
	}
	out, bg, err := Subtract(s, Params{Method: Erosion, Iterations: 1})
	if err != nil {
		t.Fatal(err)
	}
	if bg[1] != 5 || out.Intensities()[1] != 45 {
		t.Errorf("bg = %v, corrected = %v", bg, out.Intensities())
	}
	if s.Intensities()[1] != 50 {
		t.Error("raw series modified")
	}
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{"": Erosion, "Erosion": Erosion, "polynomial": Polynomial, "poly": Polynomial} {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMethod("snip"); !errors.Is(err, xerrors.ErrInvalidParameter) {
		t.Errorf("ParseMethod(snip) error = %v", err)
	}
}
