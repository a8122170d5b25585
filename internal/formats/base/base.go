// Package base provides helpers shared by the format readers: bounded reads,
// decimal list parsing and mapping of series validation failures onto import
// errors.
package base

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// MaxFileSize bounds how much decompressed content a text reader will buffer.
const MaxFileSize = 256 << 20

// ReadAll reads the whole decompressed source, refusing content over MaxFileSize.
func ReadAll(src *importer.Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: src.Path, Message: "cannot open file", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: src.Path, Message: "read failed", Err: err}
	}
	if len(data) > MaxFileSize {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, src.Path, "file exceeds %d bytes", MaxFileSize)
	}
	return data, nil
}

// ParseDecimals parses whitespace-separated decimal numbers.
func ParseDecimals(text string) ([]float64, error) {
	fields := strings.Fields(text)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d (%q) is not a number", i+1, f)
		}
		out[i] = v
	}
	return out, nil
}

// Linspace returns n evenly spaced values from start to end inclusive.
func Linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}

// Series builds the canonical series, reporting validation failures as import errors.
func Series(path string, angles, intensities []float64) (*xrd.Series, error) {
	s, err := xrd.NewSeries(angles, intensities, path)
	if err != nil {
		return nil, asImportError(path, err, len(angles), len(intensities))
	}
	return s, nil
}

// Reference builds a theoretical pattern scaled to a maximum of 100.
func Reference(path string, angles, intensities []float64) (*xrd.Series, error) {
	s, err := xrd.NewReference(angles, intensities, path)
	if err != nil {
		return nil, asImportError(path, err, len(angles), len(intensities))
	}
	return s.Scaled(100), nil
}

func asImportError(path string, err error, nAngles, nIntensities int) error {
	switch {
	case errors.Is(err, xerrors.ErrEmpty):
		return xerrors.NewImport(xerrors.ErrEmpty, path, "file contains no data points")
	case errors.Is(err, xerrors.ErrSizeMismatch):
		return xerrors.NewImport(xerrors.ErrSizeMismatch, path, "found %d angles but %d intensities", nAngles, nIntensities)
	}
	return &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "invalid data", Err: err}
}
