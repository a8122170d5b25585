// Package generic provides the reader for delimited two-column text scans
// (.xy, .csv, .txt and anything without a dedicated reader).
package generic

import (
	"context"
	"strconv"
	"strings"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/formats/base"
)

// Format returns the registry entry for this reader.
func Format() *importer.Format {
	return &importer.Format{
		ID:         importer.GenericID,
		Name:       "Generic text",
		Extensions: []string{".xy", ".csv", ".txt"},
		Read:       Read,
	}
}

func init() {
	importer.Register(Format())
}

// delimiter splits one line into fields.
type delimiter struct {
	name  string
	split func(string) []string
}

// Delimiters are tried in this order; the first one yielding a numeric
// matrix of at least two columns wins.
var delimiters = []delimiter{
	{"whitespace", strings.Fields},
	{"comma", func(s string) []string { return strings.Split(s, ",") }},
	{"tab", func(s string) []string { return strings.Split(s, "\t") }},
}

// Read implements importer.ReadFunc.
func Read(ctx context.Context, src *importer.Source, _ importer.Options) (*xrd.Series, error) {
	data, err := base.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return Parse(src.Path, string(data))
}

// Parse decodes text content. Leading blank lines and lines starting with
// '#', '!' or '/' are treated as header rows.
func Parse(path, content string) (*xrd.Series, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	body := lines[HeaderRows(lines):]

	rows := dataRows(body)
	if len(rows) == 0 {
		return nil, xerrors.NewImport(xerrors.ErrEmpty, path, "file contains no data points")
	}

	for _, d := range delimiters {
		angles, intensities, ok := parseMatrix(rows, d)
		if ok {
			return base.Series(path, angles, intensities)
		}
	}
	return nil, xerrors.NewImport(xerrors.ErrMalformed, path,
		"could not parse %d data rows as two or more numeric columns with whitespace, comma or tab delimiters", len(rows))
}

// HeaderRows counts the leading header lines.
func HeaderRows(lines []string) int {
	n := 0
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s != "" && !strings.HasPrefix(s, "#") && !strings.HasPrefix(s, "!") && !strings.HasPrefix(s, "/") {
			break
		}
		n++
	}
	return n
}

// dataRows strips trailing '#' comments and drops blank lines.
func dataRows(lines []string) []string {
	var rows []string
	for _, line := range lines {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows
}

func parseMatrix(rows []string, d delimiter) (angles, intensities []float64, ok bool) {
	cols := -1
	angles = make([]float64, 0, len(rows))
	intensities = make([]float64, 0, len(rows))
	for _, row := range rows {
		fields := d.split(strings.TrimSpace(row))
		if cols < 0 {
			cols = len(fields)
			if cols < 2 {
				return nil, nil, false
			}
		}
		if len(fields) != cols {
			return nil, nil, false
		}
		var vals [2]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, nil, false
			}
			if i < 2 {
				vals[i] = v
			}
		}
		angles = append(angles, vals[0])
		intensities = append(intensities, vals[1])
	}
	return angles, intensities, true
}
