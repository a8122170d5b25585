package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecCalculator(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		wantN   int
	}{
		{
			name:  "ok",
			body:  `echo '{"status":"ok","result":{"angles":[20.1,30.2],"intensities":[100,40]}}'`,
			wantN: 2,
		},
		{
			name:    "engine error",
			body:    `echo '{"status":"error","error":"cannot parse structure"}'`,
			wantErr: "cannot parse structure",
		},
		{
			name:    "length mismatch",
			body:    `echo '{"status":"ok","result":{"angles":[20.1],"intensities":[]}}'`,
			wantErr: "1 angles but 0 intensities",
		},
		{
			name:    "garbage",
			body:    `echo 'not json'`,
			wantErr: "failed to decode response",
		},
		{
			name:    "exit status",
			body:    `echo oops >&2; exit 3`,
			wantErr: "stderr: oops",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := &ExecCalculator{Engine: Engine{Command: writeScript(t, tt.body)}}
			res, err := calc.CalculatePattern(context.Background(), PatternRequest{Path: "a.cif", Wavelength: 1.5406})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("CalculatePattern() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CalculatePattern() error = %v", err)
			}
			if len(res.Angles) != tt.wantN {
				t.Errorf("got %d angles, want %d", len(res.Angles), tt.wantN)
			}
		})
	}
}

func TestEngineTimeout(t *testing.T) {
	calc := &ExecCalculator{Engine: Engine{Command: writeScript(t, "exec sleep 5"), Timeout: 100 * time.Millisecond}}
	_, err := calc.CalculatePattern(context.Background(), PatternRequest{})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout", err)
	}
}

func TestEngineUnavailable(t *testing.T) {
	tests := []Engine{
		{},
		{Command: filepath.Join(t.TempDir(), "missing-engine")},
	}
	for _, e := range tests {
		calc := &ExecCalculator{Engine: e}
		if _, err := calc.CalculatePattern(context.Background(), PatternRequest{}); !errors.Is(err, ErrUnavailable) {
			t.Errorf("CalculatePattern(%q) error = %v, want ErrUnavailable", e.Command, err)
		}
	}
}

func TestExecRefiner(t *testing.T) {
	body := `echo '{"status":"ok","result":{"rwp":8.5,"chi2":1.2,"refined_params":{"a":4.05},"x":[1],"y_obs":[2],"y_calc":[2],"y_bkg":[0],"y_diff":[0]}}'`
	r := &ExecRefiner{Engine: Engine{Command: writeScript(t, body)}}
	res, err := r.Refine(context.Background(), RefinementRequest{DataPath: "a.xy", CIFPath: "b.cif", PhaseName: "Al"})
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if res.Rwp != 8.5 || res.RefinedParams["a"] != 4.05 {
		t.Errorf("unexpected result %+v", res)
	}

	if _, err := (NoRefiner{}).Refine(context.Background(), RefinementRequest{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("NoRefiner error = %v", err)
	}
}

type stubCalc struct {
	res *PatternResult
	err error
}

func (s stubCalc) CalculatePattern(context.Context, PatternRequest) (*PatternResult, error) {
	return s.res, s.err
}

func TestChain(t *testing.T) {
	want := &PatternResult{Angles: []float64{1}, Intensities: []float64{2}}
	hard := errors.New("parse failure")

	tests := []struct {
		name    string
		chain   Chain
		want    *PatternResult
		wantErr error
	}{
		{"empty", Chain{}, nil, ErrUnavailable},
		{"skip unavailable", Chain{stubCalc{err: ErrUnavailable}, stubCalc{res: want}}, want, nil},
		{"stop on hard error", Chain{stubCalc{err: hard}, stubCalc{res: want}}, nil, hard},
		{"nil entry", Chain{nil, stubCalc{res: want}}, want, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.chain.CalculatePattern(context.Background(), PatternRequest{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %v, %v", got, err)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	a := &ExecCalculator{Engine: Engine{Command: "calc", Args: []string{"--fast"}}}
	b := &ExecCalculator{Engine: Engine{Command: "calc", Args: []string{"--slow"}}}

	tests := []struct {
		name   string
		calc   PatternCalculator
		want   string
		wantOK bool
	}{
		{"nil", nil, "", true},
		{"exec", a, "exec:calc\x00--fast", true},
		{"unkeyed", stubCalc{}, "", false},
		{"chain", Chain{a, b}, "chain(exec:calc\x00--fast,exec:calc\x00--slow)", true},
		{"chain with unkeyed member", Chain{a, stubCalc{}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CacheKey(tt.calc)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("CacheKey() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
	if ka, _ := CacheKey(a); ka == b.CacheKey() {
		t.Error("engines with different arguments share a key")
	}
}
