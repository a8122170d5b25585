package importer

import (
	"context"
	"errors"
	"io/fs"
	"os"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/logging"
)

// Load imports path with the reader registered for its extension, falling
// back to the generic text reader. Import errors raised by a reader are
// returned unchanged; anything else is wrapped as Malformed with the file name.
func Load(ctx context.Context, path string, opts Options) (*xrd.Series, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &xerrors.ImportError{Kind: xerrors.ErrNotFound, Path: path, Message: "file not found"}
		}
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "cannot access file", Err: err}
	}
	if info.IsDir() {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "path is a directory")
	}

	src := NewSource(path)
	format := Resolve(src.Ext())
	if format == nil {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "no reader registered for %q", src.Ext())
	}

	series, err := format.Read(ctx, src, opts)
	if err != nil {
		if xerrors.IsImportError(err) {
			return nil, err
		}
		return nil, &xerrors.ImportError{
			Kind:    xerrors.ErrMalformed,
			Path:    path,
			Message: "unexpected error while reading " + format.Name + " file",
			Err:     err,
		}
	}

	logging.ImportEvent(ctx, path, format.ID, series.Len())
	return series, nil
}

// Resolve returns the reader for ext, or the generic reader when none matches.
func Resolve(ext string) *Format {
	if f := ForExtension(ext); f != nil {
		return f
	}
	return Lookup(GenericID)
}
