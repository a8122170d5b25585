package xrd

import (
	"fmt"
	"sort"
)

// Peak is one detected diffraction peak.
type Peak struct {
	Angle      float64  `json:"angle"`
	Intensity  float64  `json:"intensity"`
	Prominence *float64 `json:"prominence"`
	FWHM       float64  `json:"fwhm"`
}

// SortPeaks orders peaks by ascending angle in place.
func SortPeaks(peaks []Peak) {
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Angle < peaks[j].Angle })
}

// Strongest returns the index of the most intense peak, or -1 for none.
func Strongest(peaks []Peak) int {
	best := -1
	for i, p := range peaks {
		if best < 0 || p.Intensity > peaks[best].Intensity {
			best = i
		}
	}
	return best
}

// Model identifies a peak profile function.
type Model int

const (
	Gaussian Model = iota
	Lorentzian
	PseudoVoigt
)

func (m Model) String() string {
	switch m {
	case Gaussian:
		return "gaussian"
	case Lorentzian:
		return "lorentzian"
	case PseudoVoigt:
		return "pseudo-voigt"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (m *Model) UnmarshalText(b []byte) error {
	for _, c := range []Model{Gaussian, Lorentzian, PseudoVoigt} {
		if c.String() == string(b) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown profile model %q", b)
}

// FitResult is a fitted profile over its window.
type FitResult struct {
	Model  Model              `json:"model"`
	Params map[string]float64 `json:"params"`
	X      []float64          `json:"x"`
	Curve  []float64          `json:"curve"`
}

// Match pairs one reference peak with one experimental peak.
type Match struct {
	ExperimentalAngle  float64 `json:"experimental_angle"`
	ReferenceAngle     float64 `json:"reference_angle"`
	ReferenceIntensity float64 `json:"reference_intensity"`
	DeltaAngle         float64 `json:"delta_angle"`
}

// Phase is one row of a quantitative phase analysis.
type Phase struct {
	Name          string  `json:"name"`
	Angle         float64 `json:"angle"`
	Intensity     float64 `json:"intensity"`
	RIR           float64 `json:"rir"`
	WeightPercent float64 `json:"weight_percent"`
}
