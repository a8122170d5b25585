// Package importer turns instrument and reference files into canonical series.
//
// Format readers register themselves with Register from their package init,
// the way blank-importing a database driver makes it available to database/sql.
package importer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// GenericID is the reader used for unknown extensions.
const GenericID = "generic"

// Options carries import configuration.
type Options struct {
	// Wavelength is the anode label or numeric Ångström value for calculated patterns.
	Wavelength string
	// Calculator computes patterns for structure files. Nil uses the registered default.
	Calculator services.PatternCalculator
}

// ReadFunc parses one source into a series.
type ReadFunc func(ctx context.Context, src *Source, opts Options) (*xrd.Series, error)

// Format describes one registered reader.
type Format struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	Read       ReadFunc `json:"-"`
}

var (
	mu       sync.RWMutex
	formats  = make(map[string]*Format)
	byExt    = make(map[string]*Format)
	defaultC services.PatternCalculator
)

// Register adds a reader. A later registration for the same ID or extension wins.
func Register(f *Format) {
	if f == nil || f.ID == "" || f.Read == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	formats[f.ID] = f
	for _, ext := range f.Extensions {
		byExt[normalizeExt(ext)] = f
	}
}

// Lookup returns the reader with the given ID, or nil.
func Lookup(id string) *Format {
	mu.RLock()
	defer mu.RUnlock()
	return formats[id]
}

// ForExtension returns the reader registered for ext, or nil.
func ForExtension(ext string) *Format {
	mu.RLock()
	defer mu.RUnlock()
	return byExt[normalizeExt(ext)]
}

// Formats lists registered readers sorted by ID.
func Formats() []*Format {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]*Format, 0, len(formats))
	for _, f := range formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetDefaultCalculator sets the calculator used when Options.Calculator is nil.
func SetDefaultCalculator(c services.PatternCalculator) {
	mu.Lock()
	defer mu.Unlock()
	defaultC = c
}

// DefaultCalculator returns the calculator set with SetDefaultCalculator.
func DefaultCalculator() services.PatternCalculator {
	mu.RLock()
	defer mu.RUnlock()
	return defaultC
}

// ClearRegistry removes all readers (for testing).
func ClearRegistry() {
	mu.Lock()
	defer mu.Unlock()
	formats = make(map[string]*Format)
	byExt = make(map[string]*Format)
	defaultC = nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
