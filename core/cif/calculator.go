package cif

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/FocuswithJustin/onexrd/core/services"
)

// MergeTolerance is the 2θ distance, in degrees, below which reflections are
// treated as coincident and their intensities summed.
const MergeTolerance = 1e-4

var profileAngleTags = []string{
	"_pd_proc_2theta_corrected",
	"_pd_meas_2theta_scan",
	"_pd_proc_2theta",
}

// LocalCalculator derives a powder pattern from data already present in a
// CIF: a calculated profile, or a reflection list with structure factors.
// Files that only describe atom sites are reported as ErrUnavailable so a
// configured external engine can take over.
type LocalCalculator struct {
	// MaxAngle limits generated reflections; zero means 180°.
	MaxAngle float64
}

// CacheKey implements services.CacheKeyer.
func (c LocalCalculator) CacheKey() string { return fmt.Sprintf("local:%g", c.MaxAngle) }

// CalculatePattern implements services.PatternCalculator.
func (c LocalCalculator) CalculatePattern(ctx context.Context, req services.PatternRequest) (*services.PatternResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Wavelength <= 0 {
		return nil, fmt.Errorf("wavelength must be positive, got %g", req.Wavelength)
	}
	doc, err := ParseFile(req.Path)
	if err != nil {
		return nil, err
	}

	for _, b := range doc.Blocks {
		if res, ok, err := profile(b); ok || err != nil {
			return res, err
		}
	}
	for _, b := range doc.Blocks {
		if res, ok, err := c.reflections(b, req.Wavelength); ok || err != nil {
			return res, err
		}
	}
	return nil, fmt.Errorf("%w: data_%s holds no calculated profile or reflection list; "+
		"computing structure factors from atom sites needs an external engine",
		services.ErrUnavailable, doc.Blocks[0].Name)
}

func profile(b *Block) (*services.PatternResult, bool, error) {
	l := b.Loop("_pd_calc_intensity_total")
	if l == nil {
		return nil, false, nil
	}
	for _, tag := range profileAngleTags {
		if !l.Has(tag) {
			continue
		}
		angles, err := l.Floats(tag)
		if err != nil {
			return nil, true, err
		}
		ints, err := l.Floats("_pd_calc_intensity_total")
		if err != nil {
			return nil, true, err
		}
		res := &services.PatternResult{}
		for i := range angles {
			if math.IsNaN(angles[i]) || math.IsNaN(ints[i]) {
				continue
			}
			res.Angles = append(res.Angles, angles[i])
			res.Intensities = append(res.Intensities, ints[i])
		}
		return res, true, nil
	}
	return nil, false, nil
}

// Cell holds lattice parameters in Å and degrees.
type Cell struct {
	A, B, C            float64
	Alpha, Beta, Gamma float64
}

// CellOf reads the unit cell of a block. Missing angles default to 90°.
func CellOf(b *Block) (Cell, bool) {
	var c Cell
	var ok bool
	if c.A, ok = b.Float("_cell_length_a"); !ok {
		return c, false
	}
	if c.B, ok = b.Float("_cell_length_b"); !ok {
		return c, false
	}
	if c.C, ok = b.Float("_cell_length_c"); !ok {
		return c, false
	}
	for tag, dst := range map[string]*float64{
		"_cell_angle_alpha": &c.Alpha,
		"_cell_angle_beta":  &c.Beta,
		"_cell_angle_gamma": &c.Gamma,
	} {
		if *dst, ok = b.Float(tag); !ok {
			*dst = 90
		}
	}
	return c, true
}

// Reciprocal returns the reciprocal metric tensor G*.
func (c Cell) Reciprocal() (*mat.Dense, error) {
	ca := math.Cos(c.Alpha * math.Pi / 180)
	cb := math.Cos(c.Beta * math.Pi / 180)
	cg := math.Cos(c.Gamma * math.Pi / 180)
	g := mat.NewDense(3, 3, []float64{
		c.A * c.A, c.A * c.B * cg, c.A * c.C * cb,
		c.A * c.B * cg, c.B * c.B, c.B * c.C * ca,
		c.A * c.C * cb, c.B * c.C * ca, c.C * c.C,
	})
	var inv mat.Dense
	if err := inv.Inverse(g); err != nil {
		return nil, fmt.Errorf("degenerate unit cell: %w", err)
	}
	return &inv, nil
}

// DSpacing returns d(hkl) for the reciprocal metric gstar.
func DSpacing(gstar mat.Matrix, h, k, l float64) float64 {
	v := mat.NewVecDense(3, []float64{h, k, l})
	q := mat.Inner(v, gstar, v)
	if q <= 0 {
		return math.Inf(1)
	}
	return 1 / math.Sqrt(q)
}

// backscatterTol excludes reflections within rounding of sin θ = 1.
const backscatterTol = 1e-9

// LorentzPolarization is the unpolarized-beam powder LP factor at Bragg angle
// theta (radians).
func LorentzPolarization(theta float64) float64 {
	s, c := math.Sin(theta), math.Cos(theta)
	c2 := math.Cos(2 * theta)
	return (1 + c2*c2) / (s * s * c)
}

func (c LocalCalculator) reflections(b *Block, wavelength float64) (*services.PatternResult, bool, error) {
	l := b.Loop("_refln_index_h")
	if l == nil || !l.Has("_refln_index_k", "_refln_index_l") {
		return nil, false, nil
	}
	var (
		f2      []float64
		err     error
		squared = l.Has("_refln_f_squared_calc")
	)
	switch {
	case squared:
		f2, err = l.Floats("_refln_F_squared_calc")
	case l.Has("_refln_f_calc"):
		f2, err = l.Floats("_refln_F_calc")
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	if !squared {
		for i := range f2 {
			f2[i] *= f2[i]
		}
	}

	cell, ok := CellOf(b)
	if !ok {
		return nil, true, fmt.Errorf("data_%s has a reflection list but no complete _cell_length_* set", b.Name)
	}
	gstar, err := cell.Reciprocal()
	if err != nil {
		return nil, true, err
	}

	hs, err := l.Floats("_refln_index_h")
	if err != nil {
		return nil, true, err
	}
	ks, err := l.Floats("_refln_index_k")
	if err != nil {
		return nil, true, err
	}
	ls, err := l.Floats("_refln_index_l")
	if err != nil {
		return nil, true, err
	}
	mult := make([]float64, len(hs))
	if l.Has("_refln_multiplicity") {
		if mult, err = l.Floats("_refln_multiplicity"); err != nil {
			return nil, true, err
		}
	} else {
		for i := range mult {
			mult[i] = 1
		}
	}

	maxAngle := c.MaxAngle
	if maxAngle <= 0 {
		maxAngle = 180
	}
	type line struct{ angle, intensity float64 }
	var lines []line
	for i := range hs {
		if math.IsNaN(f2[i]) || (hs[i] == 0 && ks[i] == 0 && ls[i] == 0) {
			continue
		}
		sinTheta := wavelength / (2 * DSpacing(gstar, hs[i], ks[i], ls[i]))
		// At 2θ = 180° cos θ vanishes and the LP factor diverges.
		if sinTheta >= 1-backscatterTol {
			continue
		}
		theta := math.Asin(sinTheta)
		twoTheta := 2 * theta * 180 / math.Pi
		if twoTheta > maxAngle || theta == 0 {
			continue
		}
		m := mult[i]
		if math.IsNaN(m) || m <= 0 {
			m = 1
		}
		lines = append(lines, line{twoTheta, f2[i] * m * LorentzPolarization(theta)})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].angle < lines[j].angle })

	res := &services.PatternResult{}
	for _, ln := range lines {
		n := len(res.Angles)
		if n > 0 && ln.angle-res.Angles[n-1] <= MergeTolerance {
			res.Intensities[n-1] += ln.intensity
			continue
		}
		res.Angles = append(res.Angles, ln.angle)
		res.Intensities = append(res.Intensities, ln.intensity)
	}
	return res, true, nil
}
