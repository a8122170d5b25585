package xrd

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
)

// DefaultWavelength is Cu Kα1 in Ångström.
const DefaultWavelength = 1.5406

// DefaultWavelengthLabel names DefaultWavelength in the label table.
const DefaultWavelengthLabel = "CuKa1"

// DefaultShapeFactor is the Scherrer constant for spherical crystallites.
const DefaultShapeFactor = 0.9

// Characteristic anode lines in Ångström.
var wavelengths = map[string]float64{
	"cuka":  1.54184,
	"cuka1": DefaultWavelength,
	"cuka2": 1.54439,
	"moka":  0.71073,
	"moka1": 0.70930,
	"crka":  2.29100,
	"feka":  1.93735,
	"coka":  1.79026,
	"agka":  0.56087,
}

// Wavelength resolves a label such as "CuKa" or a plain number to Ångström.
func Wavelength(label string) (float64, error) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer("α", "a", "_", "", "-", "", " ", "").Replace(key)
	if v, ok := wavelengths[key]; ok {
		return v, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(label), 64)
	if err != nil || !(v > 0) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: unknown wavelength %q", xerrors.ErrInvalidParameter, label)
	}
	return v, nil
}

// WavelengthLabels lists the known anode labels.
func WavelengthLabels() []string {
	out := make([]string, 0, len(wavelengths))
	for k := range wavelengths {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
