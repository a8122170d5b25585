package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestImportError(t *testing.T) {
	cause := fmt.Errorf("unexpected EOF")
	tests := []struct {
		name     string
		err      *ImportError
		wantMsg  string
		wantKind error
	}{
		{
			name:     "with path",
			err:      NewImport(ErrEmpty, "/data/scan.xy", "file contains no data points"),
			wantMsg:  "scan.xy: no data points: file contains no data points",
			wantKind: ErrEmpty,
		},
		{
			name:     "without path",
			err:      NewImport(ErrMalformed, "", "bad header"),
			wantMsg:  "malformed input: bad header",
			wantKind: ErrMalformed,
		},
		{
			name:     "with cause",
			err:      &ImportError{Kind: ErrSizeMismatch, Path: "a.raw", Message: "short payload", Err: cause},
			wantMsg:  "a.raw: size mismatch: short payload: unexpected EOF",
			wantKind: ErrSizeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, tt.wantKind) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.wantKind)
			}
		})
	}

	t.Run("cause reachable", func(t *testing.T) {
		err := &ImportError{Kind: ErrMalformed, Path: "x", Err: cause}
		if !errors.Is(err, cause) {
			t.Error("cause not reachable through Unwrap")
		}
	})
}

func TestAnalysisError(t *testing.T) {
	err := NewAnalysis(StageFitting, ErrInsufficientWindowPoints, "window holds %d points, need 5", 3)
	want := "fitting: insufficient points in fit window: window holds 3 points, need 5"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInsufficientWindowPoints) {
		t.Error("kind not reachable")
	}
	if errors.Is(err, ErrNoConvergence) {
		t.Error("unrelated kind matched")
	}

	wrapped := fmt.Errorf("pipeline: %w", err)
	var ae *AnalysisError
	if !As(wrapped, &ae) {
		t.Fatal("As() = false, want true")
	}
	if ae.Stage != StageFitting {
		t.Errorf("Stage = %q, want %q", ae.Stage, StageFitting)
	}
}

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name    string
		err     *NotFoundError
		wantMsg string
	}{
		{"with ID", NewNotFound("experiment", "42"), "experiment not found: 42"},
		{"without ID", &NotFoundError{Resource: "job"}, "job not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrNotFound) {
				t.Error("expected ErrNotFound")
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidation("wavelength", "must be positive")
	if got, want := err.Error(), "validation failed for wavelength: must be positive"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrInvalidParameter) {
		t.Error("expected ErrInvalidParameter")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrEmpty, "loading %s", "a.xy")
	if got, want := err.Error(), "loading a.xy: no data points"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
	if !Is(err, ErrEmpty) {
		t.Error("wrapped sentinel lost")
	}
}

func TestIsImportError(t *testing.T) {
	if IsImportError(ErrEmpty) {
		t.Error("bare sentinel is not an ImportError")
	}
	if !IsImportError(fmt.Errorf("x: %w", NewImport(ErrEmpty, "a", "m"))) {
		t.Error("wrapped ImportError not detected")
	}
	if ReasonDependencyUnavailable.String() != "dependency unavailable" || ReasonParse.String() != "parse" || ReasonCalculation.String() != "calculation" {
		t.Error("Reason.String mismatch")
	}
}
