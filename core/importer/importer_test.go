package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/onexrd/core/cache"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// recordingFormat returns a reader that records which format handled the call
// and yields a series whose single intensity is the byte length of the content.
func recordingFormat(id string, exts []string, calls *[]string, fail error) *Format {
	return &Format{
		ID:         id,
		Name:       strings.ToUpper(id),
		Extensions: exts,
		Read: func(ctx context.Context, src *Source, opts Options) (*xrd.Series, error) {
			*calls = append(*calls, id)
			if fail != nil {
				return nil, fail
			}
			rc, err := src.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, err
			}
			return xrd.NewSeries([]float64{1}, []float64{float64(len(data))}, src.Path)
		},
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDispatch(t *testing.T) {
	ClearRegistry()
	defer ClearRegistry()

	var calls []string
	Register(recordingFormat(GenericID, []string{".xy", ".csv", ".txt"}, &calls, nil))
	Register(recordingFormat("bruker", []string{"raw"}, &calls, nil))

	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		want string
	}{
		{"known extension", "scan.raw", "bruker"},
		{"upper case extension", "SCAN.RAW", "bruker"},
		{"generic", "scan.xy", GenericID},
		{"unknown falls back", "scan.dat", GenericID},
		{"no extension", "scan", GenericID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			path := writeFile(t, dir, tt.file, []byte("10 1\n"))
			s, err := Load(context.Background(), path, Options{})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("handled by %v, want %s", calls, tt.want)
			}
			if s.Source() != path {
				t.Errorf("Source() = %q, want %q", s.Source(), path)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	ClearRegistry()
	defer ClearRegistry()

	var calls []string
	typed := xerrors.NewImport(xerrors.ErrSizeMismatch, "x.raw", "header says 5, read 3")
	Register(recordingFormat("bruker", []string{".raw"}, &calls, typed))
	Register(recordingFormat("xrdml", []string{".xrdml"}, &calls, errors.New("boom")))
	Register(recordingFormat(GenericID, nil, &calls, nil))

	dir := t.TempDir()

	t.Run("not found before any reader", func(t *testing.T) {
		calls = nil
		_, err := Load(context.Background(), filepath.Join(dir, "missing.raw"), Options{})
		if !errors.Is(err, xerrors.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
		if len(calls) != 0 {
			t.Errorf("reader invoked for missing file: %v", calls)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := Load(context.Background(), dir, Options{})
		if !errors.Is(err, xerrors.ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("import error passes through unchanged", func(t *testing.T) {
		_, err := Load(context.Background(), writeFile(t, dir, "a.raw", nil), Options{})
		if err != typed {
			t.Errorf("error = %v, want the reader's own error", err)
		}
	})

	t.Run("unexpected error wrapped with file name", func(t *testing.T) {
		_, err := Load(context.Background(), writeFile(t, dir, "b.xrdml", nil), Options{})
		var ie *xerrors.ImportError
		if !errors.As(err, &ie) {
			t.Fatalf("error %v is not an ImportError", err)
		}
		if !errors.Is(err, xerrors.ErrMalformed) || !strings.Contains(err.Error(), "b.xrdml") || !strings.Contains(err.Error(), "boom") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("no readers registered", func(t *testing.T) {
		ClearRegistry()
		_, err := Load(context.Background(), writeFile(t, dir, "c.xy", nil), Options{})
		if !errors.Is(err, xerrors.ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})
}

func TestSourceDecompression(t *testing.T) {
	payload := []byte("10.0 150.5\n10.1 200.0\n")
	dir := t.TempDir()

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatal(err)
	}
	xw.Write(payload)
	xw.Close()

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	gw.Write(payload)
	gw.Close()

	tests := []struct {
		name     string
		file     string
		data     []byte
		wantExt  string
		wantComp string
	}{
		{"plain", "a.xy", payload, ".xy", CompressionNone},
		{"xz", "a.XY.xz", xzBuf.Bytes(), ".xy", CompressionXZ},
		{"gzip", "a.csv.gz", gzBuf.Bytes(), ".csv", CompressionGzip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSource(writeFile(t, dir, tt.file, tt.data))
			if src.Ext() != tt.wantExt || src.Compression != tt.wantComp {
				t.Errorf("Ext() = %q, Compression = %q", src.Ext(), src.Compression)
			}
			rc, err := src.Open()
			if err != nil {
				t.Fatal(err)
			}
			got, _ := io.ReadAll(rc)
			rc.Close()
			if !bytes.Equal(got, payload) {
				t.Errorf("Open() content = %q", got)
			}

			path, cleanup, err := src.Materialize()
			if err != nil {
				t.Fatal(err)
			}
			onDisk, _ := os.ReadFile(path)
			cleanup()
			if !bytes.Equal(onDisk, payload) {
				t.Errorf("Materialize() content = %q", onDisk)
			}
			if filepath.Ext(path) != tt.wantExt && tt.wantComp != CompressionNone {
				t.Errorf("materialized path %q lost extension", path)
			}
		})
	}

	t.Run("corrupt xz", func(t *testing.T) {
		src := NewSource(writeFile(t, dir, "bad.raw.xz", []byte("not xz")))
		if _, err := src.Open(); err == nil {
			t.Error("Open() accepted corrupt xz")
		}
	})
}

func TestCachedLoader(t *testing.T) {
	ClearRegistry()
	defer ClearRegistry()

	var calls []string
	Register(recordingFormat(GenericID, []string{".xy"}, &calls, nil))

	dir := t.TempDir()
	a := writeFile(t, dir, "a.xy", []byte("10 1\n"))
	b := writeFile(t, dir, "b.xy", []byte("10 1\n"))

	l := NewCachedLoader(cache.DefaultConfig())
	for i, path := range []string{a, b, a} {
		s, err := l.Load(context.Background(), path, Options{})
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		if s.Source() != path {
			t.Errorf("load %d: Source() = %q, want %q", i, s.Source(), path)
		}
	}
	if len(calls) != 1 {
		t.Errorf("reader called %d times, want 1", len(calls))
	}
	if st := l.Stats(); st.Hits != 2 {
		t.Errorf("Hits = %d, want 2", st.Hits)
	}

	if _, err := l.Load(context.Background(), filepath.Join(dir, "none.xy"), Options{}); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("missing file error = %v", err)
	}
}

type opaqueCalc struct{}

func (opaqueCalc) CalculatePattern(context.Context, services.PatternRequest) (*services.PatternResult, error) {
	return nil, services.ErrUnavailable
}

func TestCachedLoaderCalculatorKey(t *testing.T) {
	ClearRegistry()
	defer ClearRegistry()

	var calls []string
	Register(recordingFormat(GenericID, []string{".xy"}, &calls, nil))
	path := writeFile(t, t.TempDir(), "a.xy", []byte("10 1\n"))

	fast := &services.ExecCalculator{Engine: services.Engine{Command: "calc", Args: []string{"--fast"}}}
	slow := &services.ExecCalculator{Engine: services.Engine{Command: "calc", Args: []string{"--slow"}}}

	tests := []struct {
		name      string
		calc      services.PatternCalculator
		wantCalls int
	}{
		{"first engine", fast, 1},
		{"same engine hits", fast, 1},
		{"other engine misses", slow, 2},
		{"no engine misses", nil, 3},
		{"unidentifiable engine bypasses", opaqueCalc{}, 4},
		{"unidentifiable engine bypasses again", opaqueCalc{}, 5},
		{"first engine still cached", fast, 5},
	}
	l := NewCachedLoader(cache.DefaultConfig())
	for _, tt := range tests {
		if _, err := l.Load(context.Background(), path, Options{Calculator: tt.calc}); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(calls) != tt.wantCalls {
			t.Errorf("%s: reader called %d times, want %d", tt.name, len(calls), tt.wantCalls)
		}
	}

	l.Purge()
	if l.Stats().Size != 0 {
		t.Error("Purge left entries behind")
	}
	if _, err := l.Load(context.Background(), path, Options{Calculator: fast}); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 6 {
		t.Errorf("reader called %d times after Purge, want 6", len(calls))
	}
}

func TestFormats(t *testing.T) {
	ClearRegistry()
	defer ClearRegistry()
	var calls []string
	Register(recordingFormat("xrdml", []string{".xrdml"}, &calls, nil))
	Register(recordingFormat("bruker", []string{".raw"}, &calls, nil))
	Register(&Format{ID: "incomplete"})

	var ids []string
	for _, f := range Formats() {
		ids = append(ids, f.ID)
	}
	if got := fmt.Sprint(ids); got != "[bruker xrdml]" {
		t.Errorf("Formats() = %s", got)
	}
	if Resolve(".unknown") != nil {
		t.Error("Resolve without generic reader should be nil")
	}
}
