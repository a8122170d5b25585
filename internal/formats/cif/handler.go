// Package cif provides the reader that turns a crystal structure file into a
// theoretical reference pattern.
package cif

import (
	"context"
	"errors"

	"github.com/FocuswithJustin/onexrd/core/cif"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/formats/base"
)

// Format returns the registry entry for this reader.
func Format() *importer.Format {
	return &importer.Format{
		ID:         "cif",
		Name:       "Crystallographic Information File",
		Extensions: []string{".cif"},
		Read:       Read,
	}
}

func init() {
	importer.Register(Format())
}

// Read implements importer.ReadFunc. The pattern comes from opts.Calculator,
// then the registered default, then the in-process calculator.
func Read(ctx context.Context, src *importer.Source, opts importer.Options) (*xrd.Series, error) {
	wavelength := xrd.DefaultWavelength
	if opts.Wavelength != "" {
		w, err := xrd.Wavelength(opts.Wavelength)
		if err != nil {
			return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: src.Path, Message: "invalid wavelength", Err: err}
		}
		wavelength = w
	}

	path, cleanup, err := src.Materialize()
	defer cleanup()
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: src.Path, Message: "cannot open file", Err: err}
	}

	calc := services.Chain{opts.Calculator, importer.DefaultCalculator(), cif.LocalCalculator{}}
	res, err := calc.CalculatePattern(ctx, services.PatternRequest{
		Path:       path,
		Wavelength: wavelength,
		Label:      opts.Wavelength,
	})
	if err != nil {
		var ie *xerrors.ImportError
		switch {
		case errors.As(err, &ie):
			return nil, err
		case errors.Is(err, services.ErrUnavailable):
			return nil, &xerrors.ImportError{
				Kind:    xerrors.ErrMalformed,
				Path:    src.Path,
				Reason:  xerrors.ReasonDependencyUnavailable,
				Message: "no pattern calculator can handle this structure",
				Err:     err,
			}
		case ctx.Err() != nil:
			return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: src.Path, Message: "pattern calculation cancelled", Err: err}
		}
		var pe *cif.ParseError
		if errors.As(err, &pe) {
			return nil, &xerrors.ImportError{
				Kind:    xerrors.ErrMalformed,
				Path:    src.Path,
				Reason:  xerrors.ReasonParse,
				Message: "failed to parse CIF file",
				Err:     err,
			}
		}
		return nil, &xerrors.ImportError{
			Kind:    xerrors.ErrMalformed,
			Path:    src.Path,
			Reason:  xerrors.ReasonCalculation,
			Message: "pattern calculation failed",
			Err:     err,
		}
	}
	if len(res.Angles) == 0 {
		return nil, xerrors.NewImport(xerrors.ErrEmpty, src.Path, "calculated pattern has no reflections")
	}
	return base.Reference(src.Path, res.Angles, res.Intensities)
}
