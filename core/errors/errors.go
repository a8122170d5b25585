// Package errors provides the error taxonomy shared by the import and analysis stages.
//
// Every failure carries a kind sentinel so callers can branch with errors.Is, and a
// typed wrapper (ImportError, AnalysisError) carrying the file, stage and message.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Import kinds.
var (
	// ErrNotFound indicates a file or stored record does not exist
	ErrNotFound = errors.New("not found")
	// ErrMalformed indicates unparseable or structurally invalid input
	ErrMalformed = errors.New("malformed input")
	// ErrSizeMismatch indicates declared and actual sizes disagree
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrEmpty indicates parsing succeeded but yielded zero data points
	ErrEmpty = errors.New("no data points")
)

// Analysis kinds.
var (
	ErrInsufficientAnchors      = errors.New("insufficient anchor points")
	ErrInvalidAnchor            = errors.New("anchor index out of range")
	ErrInvalidIterations        = errors.New("invalid iteration count")
	ErrPeakFinding              = errors.New("peak finding failed")
	ErrUnknownModel             = errors.New("unknown profile model")
	ErrInsufficientWindowPoints = errors.New("insufficient points in fit window")
	ErrNoConvergence            = errors.New("fit did not converge")
	ErrMissingColumns           = errors.New("missing required columns")
	ErrNonPositiveFWHM          = errors.New("non-positive FWHM")
	ErrTooFewPeaks              = errors.New("too few peaks")
	ErrNonPositiveIntercept     = errors.New("non-positive intercept")
	ErrNonPositiveRIR           = errors.New("non-positive RIR")
	ErrInvalidParameter         = errors.New("invalid parameter")
)

// ErrUnavailable indicates an optional collaborator (calculator, refiner) is not configured.
var ErrUnavailable = errors.New("service unavailable")

// Reason distinguishes CIF parse failures from a missing or failing pattern
// calculation.
type Reason int

const (
	ReasonParse Reason = iota
	ReasonDependencyUnavailable
	ReasonCalculation
)

func (r Reason) String() string {
	switch r {
	case ReasonDependencyUnavailable:
		return "dependency unavailable"
	case ReasonCalculation:
		return "calculation"
	}
	return "parse"
}

// ImportError is returned by the format readers and the import dispatcher.
type ImportError struct {
	Kind    error  // one of the import kinds
	Path    string // file being imported
	Reason  Reason // only meaningful for CIF
	Message string
	Err     error // underlying cause, if any
}

func (e *ImportError) Error() string {
	name := filepath.Base(e.Path)
	switch {
	case e.Path == "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Path == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", name, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", name, e.Kind, e.Message)
}

func (e *ImportError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Stage names an analysis step.
type Stage string

const (
	StageBackground     Stage = "background"
	StagePeakFinding    Stage = "peak-finding"
	StageFitting        Stage = "fitting"
	StageSearchMatch    Stage = "search-match"
	StageMicrostructure Stage = "microstructure"
	StageQPA            Stage = "qpa"
)

// AnalysisError is returned by the numerical stages.
type AnalysisError struct {
	Stage   Stage
	Kind    error
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NotFoundError represents a missing stored resource (experiment, job).
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an invalid configuration or request field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidParameter
}

// NewImport creates an ImportError with a formatted message.
func NewImport(kind error, path, format string, args ...interface{}) *ImportError {
	return &ImportError{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// NewAnalysis creates an AnalysisError with a formatted message.
func NewAnalysis(stage Stage, kind error, format string, args ...interface{}) *AnalysisError {
	return &AnalysisError{Stage: stage, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsImportError reports whether err carries an *ImportError.
func IsImportError(err error) bool {
	var ie *ImportError
	return errors.As(err, &ie)
}
