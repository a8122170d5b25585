package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// IPCRequest is the JSON request written to an engine's stdin.
type IPCRequest struct {
	Command string      `json:"command"`
	Args    interface{} `json:"args,omitempty"`
}

// IPCResponse is the JSON response read from an engine's stdout.
type IPCResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DefaultTimeout bounds one engine invocation.
const DefaultTimeout = 60 * time.Second

// Engine is an external executable speaking the JSON-over-stdio protocol.
type Engine struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Call runs the engine once with req and decodes the result into out.
func (e *Engine) Call(ctx context.Context, req *IPCRequest, out interface{}) error {
	if e == nil || e.Command == "" {
		return ErrUnavailable
	}
	if _, err := exec.LookPath(e.Command); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, e.Command, err)
	}

	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(reqData)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %v", e.Command, timeout)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w (stderr: %s)", e.Command, err, stderr.String())
	}

	var resp IPCResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w (output: %s)", err, stdout.String())
	}
	if resp.Status != "ok" {
		msg := resp.Error
		if msg == "" {
			msg = "status " + resp.Status
		}
		return fmt.Errorf("%s: %s", e.Command, msg)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", req.Command, err)
	}
	return nil
}

// ExecCalculator delegates pattern calculation to an external engine.
type ExecCalculator struct {
	Engine Engine
}

// CacheKey identifies the engine by its command line.
func (c *ExecCalculator) CacheKey() string {
	if c == nil {
		return "exec:"
	}
	return "exec:" + strings.Join(append([]string{c.Engine.Command}, c.Engine.Args...), "\x00")
}

// CalculatePattern implements PatternCalculator.
func (c *ExecCalculator) CalculatePattern(ctx context.Context, req PatternRequest) (*PatternResult, error) {
	var res PatternResult
	if err := c.Engine.Call(ctx, &IPCRequest{Command: "calculate-pattern", Args: req}, &res); err != nil {
		return nil, err
	}
	if len(res.Angles) != len(res.Intensities) {
		return nil, fmt.Errorf("calculator returned %d angles but %d intensities", len(res.Angles), len(res.Intensities))
	}
	return &res, nil
}

// ExecRefiner delegates Rietveld refinement to an external engine.
type ExecRefiner struct {
	Engine Engine
}

// Refine implements Refiner.
func (r *ExecRefiner) Refine(ctx context.Context, req RefinementRequest) (*RefinementResult, error) {
	if req.Cycles <= 0 {
		req.Cycles = 5
	}
	var res RefinementResult
	if err := r.Engine.Call(ctx, &IPCRequest{Command: "run-refinement", Args: req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
