package xrd

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Column names used by peak and reference tables.
const (
	ColAngle      = "angle"
	ColIntensity  = "intensity"
	ColProminence = "prominence"
	ColFWHM       = "fwhm"
)

// Table is a set of equal-length named numeric columns. It is the loosely
// structured form of peak lists read from CSV or exchanged with other tools.
type Table struct {
	names   []string
	columns map[string][]float64
	rows    int
}

// NewTable creates an empty table with no columns.
func NewTable() *Table {
	return &Table{columns: make(map[string][]float64)}
}

// AddColumn appends a copy of values under name. All columns must have the same length.
func (t *Table) AddColumn(name string, values []float64) error {
	if len(t.names) > 0 && len(values) != t.rows {
		return fmt.Errorf("column %q has %d rows, table has %d", name, len(values), t.rows)
	}
	if _, exists := t.columns[name]; !exists {
		t.names = append(t.names, name)
	}
	t.columns[name] = clone(values)
	t.rows = len(values)
	return nil
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.columns[name]
	if !ok {
		return nil, false
	}
	return clone(col), true
}

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Missing returns the subset of names not present in the table.
func (t *Table) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := t.columns[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Len returns the row count.
func (t *Table) Len() int { return t.rows }

// PeakTable converts detected peaks to a table; a nil prominence becomes NaN.
func PeakTable(peaks []Peak) *Table {
	angle := make([]float64, len(peaks))
	intensity := make([]float64, len(peaks))
	prominence := make([]float64, len(peaks))
	fwhm := make([]float64, len(peaks))
	for i, p := range peaks {
		angle[i] = p.Angle
		intensity[i] = p.Intensity
		prominence[i] = math.NaN()
		if p.Prominence != nil {
			prominence[i] = *p.Prominence
		}
		fwhm[i] = p.FWHM
	}
	t := NewTable()
	_ = t.AddColumn(ColAngle, angle)
	_ = t.AddColumn(ColIntensity, intensity)
	_ = t.AddColumn(ColProminence, prominence)
	_ = t.AddColumn(ColFWHM, fwhm)
	return t
}

// SeriesTable converts a series to an angle/intensity table.
func SeriesTable(s *Series) *Table {
	t := NewTable()
	_ = t.AddColumn(ColAngle, s.angles)
	_ = t.AddColumn(ColIntensity, s.intensities)
	return t
}

// Peaks converts a table back into peak records. The angle column is required;
// absent intensity or fwhm read as zero and absent or NaN prominence as nil.
func (t *Table) Peaks() ([]Peak, error) {
	angle, ok := t.columns[ColAngle]
	if !ok {
		return nil, fmt.Errorf("table has no %q column", ColAngle)
	}
	out := make([]Peak, len(angle))
	for i := range angle {
		out[i].Angle = angle[i]
		if col, ok := t.columns[ColIntensity]; ok {
			out[i].Intensity = col[i]
		}
		if col, ok := t.columns[ColFWHM]; ok {
			out[i].FWHM = col[i]
		}
		if col, ok := t.columns[ColProminence]; ok && !math.IsNaN(col[i]) {
			v := col[i]
			out[i].Prominence = &v
		}
	}
	return out, nil
}

// columnAliases maps alternative header spellings onto canonical names.
var columnAliases = map[string]string{
	"fwhm_angle": ColFWHM,
	"2theta":     ColAngle,
}

// ReadTableCSV parses a CSV file with a header row. Column names are
// lower-cased and trimmed. Empty cells read as NaN.
func ReadTableCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv: no header row")
	}
	header := records[0]
	cols := make([][]float64, len(header))
	for row, rec := range records[1:] {
		for i := range header {
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				cols[i] = append(cols[i], math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("read csv: row %d column %q: %w", row+2, header[i], err)
			}
			cols[i] = append(cols[i], v)
		}
	}
	t := NewTable()
	for i, name := range header {
		if cols[i] == nil {
			cols[i] = []float64{}
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		if err := t.AddColumn(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.names); err != nil {
		return err
	}
	rec := make([]string, len(t.names))
	for r := 0; r < t.rows; r++ {
		for i, name := range t.names {
			v := t.columns[name][r]
			if math.IsNaN(v) {
				rec[i] = ""
				continue
			}
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SortedBy returns the row order that sorts column name descending when desc
// is true, ascending otherwise. Ties keep their original order.
func (t *Table) SortedBy(name string, desc bool) []int {
	col := t.columns[name]
	idx := make([]int, len(col))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if desc {
			return col[idx[a]] > col[idx[b]]
		}
		return col[idx[a]] < col[idx[b]]
	})
	return idx
}
