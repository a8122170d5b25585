// Package xrdml provides the reader for PANalytical XRDML measurement files.
package xrdml

import (
	"context"
	"fmt"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xml"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/formats/base"
)

// Format returns the registry entry for this reader.
func Format() *importer.Format {
	return &importer.Format{
		ID:         "xrdml",
		Name:       "PANalytical XRDML",
		Extensions: []string{".xrdml"},
		Read:       Read,
	}
}

func init() {
	importer.Register(Format())
}

// Read implements importer.ReadFunc.
func Read(ctx context.Context, src *importer.Source, _ importer.Options) (*xrd.Series, error) {
	data, err := base.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return Parse(src.Path, data)
}

// Parse decodes the first scan of an XRDML document. Elements are resolved in
// the namespace of the root element, whatever schema version it names.
func Parse(path string, data []byte) (*xrd.Series, error) {
	doc, err := xml.Parse(data)
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "invalid XML", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "document has no root element")
	}
	ns := root.Namespace()

	scan, err := find(path, root, "scan", ns)
	if err != nil {
		return nil, err
	}
	points, err := find(path, scan, "dataPoints", ns)
	if err != nil {
		return nil, err
	}
	positions, err := axisPositions(path, points, ns, "2Theta")
	if err != nil {
		return nil, err
	}
	counts, _ := points.Find("intensities", ns, "")
	if counts == nil {
		if counts, err = find(path, points, "counts", ns); err != nil {
			return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "missing intensities or counts element")
		}
	}

	intensities, err := base.ParseDecimals(counts.Text())
	if err != nil {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "%s: %v", counts.Name(), err)
	}
	angles, err := positionValues(positions, ns, len(intensities))
	if err != nil {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "2Theta positions: %v", err)
	}
	if len(angles) != len(intensities) {
		return nil, xerrors.NewImport(xerrors.ErrSizeMismatch, path,
			"found %d 2Theta positions but %d intensities", len(angles), len(intensities))
	}
	if len(intensities) == 0 {
		return nil, xerrors.NewImport(xerrors.ErrEmpty, path, "scan contains no data points")
	}
	return base.Series(path, angles, intensities)
}

func find(path string, from *xml.Node, local, ns string) (*xml.Node, error) {
	n, err := from.Find(local, ns, "")
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "query failed", Err: err}
	}
	if n == nil {
		return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "missing %s element", local)
	}
	return n, nil
}

// axisPositions returns the positions element whose axis attribute names axis.
func axisPositions(path string, points *xml.Node, ns, axis string) (*xml.Node, error) {
	all, err := points.FindAll("positions", ns, "")
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "query failed", Err: err}
	}
	for _, p := range all {
		if p.Attr("axis") == axis {
			return p, nil
		}
	}
	return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "missing positions element for axis %s", axis)
}

// positionValues reads an explicit listPositions child, a start/end pair
// spread evenly over n points, or the element's own text.
func positionValues(positions *xml.Node, ns string, n int) ([]float64, error) {
	if list := positions.Child("listPositions", ns); list != nil {
		return base.ParseDecimals(list.Text())
	}
	start := positions.Child("startPosition", ns)
	end := positions.Child("endPosition", ns)
	if start != nil && end != nil {
		s, err := base.ParseDecimals(start.Text())
		if err != nil || len(s) != 1 {
			return nil, fmt.Errorf("invalid startPosition %q", start.Text())
		}
		e, err := base.ParseDecimals(end.Text())
		if err != nil || len(e) != 1 {
			return nil, fmt.Errorf("invalid endPosition %q", end.Text())
		}
		return base.Linspace(s[0], e[0], n), nil
	}
	return base.ParseDecimals(positions.Text())
}
