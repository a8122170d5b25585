// Package xrd holds the data model shared by every stage of the diffraction pipeline.
package xrd

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
)

// Series is an immutable angle/intensity pair of equal, non-zero length.
//
// Accessors return copies so a caller can never mutate the raw data in place;
// derived values (background-subtracted, normalised) are new Series.
type Series struct {
	angles      []float64
	intensities []float64
	source      string
	reference   bool
}

// NewSeries validates and copies the given arrays.
func NewSeries(angles, intensities []float64, source string) (*Series, error) {
	if len(angles) != len(intensities) {
		return nil, fmt.Errorf("%w: %d angles but %d intensities", xerrors.ErrSizeMismatch, len(angles), len(intensities))
	}
	if len(angles) == 0 {
		return nil, xerrors.ErrEmpty
	}
	for i := range angles {
		if math.IsNaN(angles[i]) || math.IsInf(angles[i], 0) {
			return nil, fmt.Errorf("%w: non-finite angle at index %d", xerrors.ErrMalformed, i)
		}
	}
	return &Series{
		angles:      clone(angles),
		intensities: clone(intensities),
		source:      source,
	}, nil
}

// NewReference builds a theoretical pattern. Intensities are kept as given;
// callers scale them with Scaled when they come from a calculator.
func NewReference(angles, intensities []float64, source string) (*Series, error) {
	s, err := NewSeries(angles, intensities, source)
	if err != nil {
		return nil, err
	}
	s.reference = true
	return s, nil
}

// Len returns the number of points.
func (s *Series) Len() int { return len(s.angles) }

// Angles returns a copy of the 2-theta axis.
func (s *Series) Angles() []float64 { return clone(s.angles) }

// Intensities returns a copy of the intensity axis.
func (s *Series) Intensities() []float64 { return clone(s.intensities) }

// Source is the path or label the series was produced from.
func (s *Series) Source() string { return s.source }

// IsReference reports whether the series is a theoretical pattern.
func (s *Series) IsReference() bool { return s.reference }

// DisplayName is the base name of the source, suffixed for reference patterns.
func (s *Series) DisplayName() string {
	name := filepath.Base(s.source)
	if s.source == "" {
		name = "untitled"
	}
	if s.reference {
		return name + " (Ref)"
	}
	return name
}

// WithSource returns the same data attributed to another source.
func (s *Series) WithSource(source string) *Series {
	return &Series{angles: s.angles, intensities: s.intensities, source: source, reference: s.reference}
}

// At returns the i-th point.
func (s *Series) At(i int) (angle, intensity float64) {
	return s.angles[i], s.intensities[i]
}

// WithIntensities returns a new series sharing this series' axis and metadata.
func (s *Series) WithIntensities(intensities []float64) (*Series, error) {
	if len(intensities) != len(s.angles) {
		return nil, fmt.Errorf("%w: series has %d points, got %d intensities", xerrors.ErrSizeMismatch, len(s.angles), len(intensities))
	}
	return &Series{
		angles:      s.angles,
		intensities: clone(intensities),
		source:      s.source,
		reference:   s.reference,
	}, nil
}

// Subtract returns intensities minus background as a new series.
func (s *Series) Subtract(background []float64) (*Series, error) {
	if len(background) != len(s.intensities) {
		return nil, fmt.Errorf("%w: series has %d points, background has %d", xerrors.ErrSizeMismatch, len(s.intensities), len(background))
	}
	out := clone(s.intensities)
	floats.Sub(out, background)
	return s.WithIntensities(out)
}

// MaxIntensity returns the largest intensity.
func (s *Series) MaxIntensity() float64 { return floats.Max(s.intensities) }

// Scaled rescales intensities so the maximum equals top. A series whose maximum
// is zero or negative is returned unchanged.
func (s *Series) Scaled(top float64) *Series {
	max := s.MaxIntensity()
	out := clone(s.intensities)
	if max > 0 {
		floats.Scale(top/max, out)
	}
	return &Series{angles: s.angles, intensities: out, source: s.source, reference: s.reference}
}

// MeanStep returns the mean spacing of the angle axis, or 0 for a single point.
func (s *Series) MeanStep() float64 {
	return MeanStep(s.angles)
}

// MeanStep returns the mean of consecutive differences of xs.
func MeanStep(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return (xs[len(xs)-1] - xs[0]) / float64(len(xs)-1)
}

type seriesJSON struct {
	Name        string    `json:"name"`
	Source      string    `json:"source,omitempty"`
	Reference   bool      `json:"reference,omitempty"`
	Angles      []float64 `json:"angles"`
	Intensities []float64 `json:"intensities"`
}

// MarshalJSON encodes the series with its axes.
func (s *Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(seriesJSON{
		Name:        s.DisplayName(),
		Source:      s.source,
		Reference:   s.reference,
		Angles:      s.angles,
		Intensities: s.intensities,
	})
}

// UnmarshalJSON decodes and validates a series.
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw seriesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewSeries(raw.Angles, raw.Intensities, raw.Source)
	if err != nil {
		return err
	}
	decoded.reference = raw.Reference || strings.HasSuffix(raw.Name, " (Ref)")
	*s = *decoded
	return nil
}

func clone(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}
