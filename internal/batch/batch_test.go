package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	_ "github.com/FocuswithJustin/onexrd/internal/formats/generic"
)

// scan renders a two-column pattern with one gaussian peak over a flat base.
func scan(center, height float64) string {
	var b strings.Builder
	for i := 0; i <= 1000; i++ {
		x := 20 + float64(i)*0.02
		y := 50 + height*math.Exp(-(x-center)*(x-center)/(2*0.1*0.1))
		fmt.Fprintf(&b, "%.2f %.4f\n", x, y)
	}
	return b.String()
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func TestRun(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"b.xy":      scan(30, 1000),
		"a.xy":      scan(25.5, 400),
		"flat.xy":   "20 5\n20.02 5\n20.04 5\n",
		"broken.xy": "angle intensity\n",
	})
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var updates []Progress
	r := NewRunner(func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	p := DefaultParams(dir)
	p.Workers = 2
	res, err := r.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.JobID == "" || res.Failures != 1 {
		t.Errorf("JobID = %q, Failures = %d", res.JobID, res.Failures)
	}
	if len(updates) != 4 || updates[3].Done != 4 || updates[3].Percent() != 100 {
		t.Errorf("progress = %+v", updates)
	}

	records := readCSV(t, filepath.Join(dir, DefaultOutput))
	if len(records) != 5 {
		t.Fatalf("got %d records, want header + 4", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(Header, ",") {
		t.Errorf("header = %v", records[0])
	}
	names := []string{records[1][0], records[2][0], records[3][0], records[4][0]}
	if strings.Join(names, ",") != "a.xy,b.xy,broken.xy,flat.xy" {
		t.Errorf("rows out of order: %v", names)
	}

	angle, err := strconv.ParseFloat(records[2][1], 64)
	if err != nil || math.Abs(angle-30) > 0.05 {
		t.Errorf("b.xy strongest angle = %q", records[2][1])
	}
	if records[3][1] != Failed || records[3][4] == "" {
		t.Errorf("broken.xy row = %v", records[3])
	}
	if records[4][1] != NoPeak {
		t.Errorf("flat.xy row = %v", records[4])
	}
}

func TestRunSkipsPreviousResults(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.xy":        scan(30, 500),
		DefaultOutput: "stale",
	})
	res, err := NewRunner(nil).Run(context.Background(), DefaultParams(dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Filename != "a.xy" {
		t.Errorf("rows = %+v", res.Rows)
	}
}

func TestRunStagesDisabled(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.xy": scan(30, 500)})
	p := DefaultParams(dir)
	p.Background = false
	p.Peaks = false
	res, err := NewRunner(nil).Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Rows[0].Record(); got[1] != "" || got[4] != "" {
		t.Errorf("record = %v, want empty peak cells", got)
	}
}

func TestRunLoaderFailure(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.xy": "", "b.xy": ""})
	r := &Runner{Loader: LoaderFunc(func(ctx context.Context, path string, opts importer.Options) (*xrd.Series, error) {
		if filepath.Base(path) == "a.xy" {
			return nil, xerrors.NewImport(xerrors.ErrMalformed, path, "bad header")
		}
		return xrd.NewSeries([]float64{1, 2, 3}, []float64{0, 9, 0}, path)
	})}
	p := DefaultParams(dir)
	p.Background = false
	res, err := r.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rows[0].Err == "" || res.Rows[1].Peak == nil || res.Rows[1].Peak.Angle != 2 {
		t.Errorf("rows = %+v", res.Rows)
	}
}

func TestRunCancelled(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.xy": scan(30, 500)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(nil).Run(ctx, DefaultParams(dir))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultOutput)); !os.IsNotExist(err) {
		t.Error("results were written for a cancelled batch")
	}
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"no folder", Params{}, xerrors.ErrInvalidParameter},
		{"output with path", Params{InputDir: t.TempDir(), OutputName: "../out.csv"}, xerrors.ErrInvalidParameter},
		{"negative iterations", Params{InputDir: t.TempDir(), Iterations: -1}, xerrors.ErrInvalidParameter},
		{"missing folder", Params{InputDir: filepath.Join(t.TempDir(), "nope")}, xerrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRunner(nil).Run(context.Background(), tt.p); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []Row{
		{Filename: "x.xy", Peak: &xrd.Peak{Angle: 31.7, Intensity: 100, FWHM: 0.12}},
		{Filename: "y.xy", Err: "failed, badly"},
	}
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatal(err)
	}
	want := "filename,strongest_peak_angle,strongest_peak_intensity,strongest_peak_fwhm,error\n" +
		"x.xy,31.7,100,0.12,\n" +
		"y.xy,ERROR,,,\"failed, badly\"\n"
	if buf.String() != want {
		t.Errorf("CSV =\n%s\nwant\n%s", buf.String(), want)
	}
}
