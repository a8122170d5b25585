package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/onexrd/core/background"
	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/fitting"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/peaks"
	"github.com/FocuswithJustin/onexrd/core/searchmatch"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/logging"
	"github.com/FocuswithJustin/onexrd/internal/store"
	"github.com/FocuswithJustin/onexrd/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// maxFitPeaks caps how many detected peaks one analyze call will fit.
const maxFitPeaks = 50

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FormatInfo describes a registered reader.
type FormatInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Formats int    `json:"formats"`
	Jobs    int    `json:"jobs"`
	Clients int    `json:"websocket_clients"`
	Store   bool   `json:"store"`
}

// BackgroundRequest selects the background estimator.
type BackgroundRequest struct {
	Method     string `json:"method"` // "erosion" (default) or "polynomial"
	Iterations *int   `json:"iterations,omitempty"`
	Anchors    []int  `json:"anchors,omitempty"`
	Order      *int   `json:"order,omitempty"`
}

// FitRequest asks for profile fits of the detected peaks.
type FitRequest struct {
	Model            string  `json:"model,omitempty"`
	WindowMultiplier float64 `json:"window_multiplier,omitempty"`
	// Peaks lists indices into the detected peaks; empty fits all of them.
	Peaks []int `json:"peaks,omitempty"`
}

// MatchRequest scores the detected peaks against a reference pattern.
type MatchRequest struct {
	Reference  string   `json:"reference"`
	Wavelength string   `json:"wavelength,omitempty"`
	Tolerance  *float64 `json:"tolerance,omitempty"`
}

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Path       string             `json:"path"`
	Wavelength string             `json:"wavelength,omitempty"`
	Background *BackgroundRequest `json:"background,omitempty"`
	Peaks      *peaks.Options     `json:"peaks,omitempty"`
	Fit        *FitRequest        `json:"fit,omitempty"`
	Match      *MatchRequest      `json:"match,omitempty"`
	// Save stores the scan and its results in the experiment store.
	Save       bool   `json:"save,omitempty"`
	SampleName string `json:"sample_name,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// SeriesSummary describes an imported scan without its arrays.
type SeriesSummary struct {
	Source       string     `json:"source"`
	Points       int        `json:"points"`
	AngleRange   [2]float64 `json:"angle_range"`
	MeanStep     float64    `json:"mean_step"`
	MaxIntensity float64    `json:"max_intensity"`
	Reference    bool       `json:"reference"`
}

// FitOutcome is the fit of one peak, or the reason it failed.
type FitOutcome struct {
	Peak   xrd.Peak       `json:"peak"`
	Result *xrd.FitResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// AnalyzeResponse is the result of POST /api/v1/analyze.
type AnalyzeResponse struct {
	Series       SeriesSummary       `json:"series"`
	Angles       []float64           `json:"angles"`
	Background   []float64           `json:"background,omitempty"`
	Intensities  []float64           `json:"intensities"`
	Peaks        []xrd.Peak          `json:"peaks"`
	Fits         []FitOutcome        `json:"fits,omitempty"`
	Match        *searchmatch.Result `json:"match,omitempty"`
	ExperimentID int64               `json:"experiment_id,omitempty"`
}

func summarize(s *xrd.Series) SeriesSummary {
	angles := s.Angles()
	return SeriesSummary{
		Source:       s.DisplayName(),
		Points:       s.Len(),
		AngleRange:   [2]float64{angles[0], angles[len(angles)-1]},
		MeanStep:     s.MeanStep(),
		MaxIntensity: s.MaxIntensity(),
		Reference:    s.IsReference(),
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "oneXRD API",
		"version": s.cfg.version(),
		"endpoints": []string{
			"GET /health",
			"POST " + apiPrefix + "/analyze",
			"POST " + apiPrefix + "/batch",
			"GET " + apiPrefix + "/jobs",
			"GET " + jobsPath + ":id",
			"DELETE " + jobsPath + ":id",
			"GET " + apiPrefix + "/formats",
			"GET " + apiPrefix + "/cache",
			"DELETE " + apiPrefix + "/cache",
			"GET " + apiPrefix + "/experiments",
			"GET " + experimentsPath + ":id",
			"DELETE " + experimentsPath + ":id",
			"GET " + experimentsPath + ":id/source",
			"WS /ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}
	respond(w, http.StatusOK, HealthInfo{
		Status:  "healthy",
		Version: s.cfg.version(),
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		Formats: len(importer.Formats()),
		Jobs:    len(s.jobs.List()),
		Clients: s.hub.ClientCount(),
		Store:   s.store != nil,
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}
	var out []FormatInfo
	for _, f := range importer.Formats() {
		out = append(out, FormatInfo{ID: f.ID, Name: f.Name, Extensions: f.Extensions})
	}
	respondList(w, out, len(out))
}

// handleCache reports scan cache statistics; DELETE empties the cache first.
func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		s.loader.Purge()
		logging.InfoContext(r.Context(), "scan cache purged")
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
		return
	}
	respond(w, http.StatusOK, s.loader.Stats())
}

// handleAnalyze runs the single-scan pipeline: import, optional background,
// peak detection, then optional fits and search-match.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}
	var req AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", "path is required")
		return
	}
	path, err := s.resolve(req.Path)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}

	ctx := r.Context()
	cfg := s.cfg.Analysis
	wavelength := req.Wavelength
	if wavelength == "" {
		wavelength = cfg.Wavelength
	}
	series, err := s.loader.Load(ctx, path, importer.Options{Wavelength: wavelength, Calculator: s.calculator})
	if err != nil {
		respondFailure(w, err)
		return
	}

	resp := AnalyzeResponse{Series: summarize(series), Angles: series.Angles()}
	working := series
	if req.Background != nil {
		params, err := s.backgroundParams(req.Background)
		if err != nil {
			respondFailure(w, err)
			return
		}
		if working, resp.Background, err = background.Subtract(series, params); err != nil {
			respondFailure(w, err)
			return
		}
	}
	resp.Intensities = working.Intensities()

	opts := cfg.PeakOptions()
	if req.Peaks != nil {
		opts = *req.Peaks
	}
	if resp.Peaks, err = peaks.Find(working, opts); err != nil {
		respondFailure(w, err)
		return
	}

	if req.Fit != nil {
		if resp.Fits, err = s.fitPeaks(working, resp.Peaks, req.Fit); err != nil {
			respondFailure(w, err)
			return
		}
	}
	if req.Match != nil {
		if resp.Match, err = s.match(r, resp.Peaks, req.Match, wavelength); err != nil {
			respondFailure(w, err)
			return
		}
	}

	if req.Save {
		if s.store == nil {
			respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "No experiment store is configured")
			return
		}
		name := req.SampleName
		if name == "" {
			name = series.DisplayName()
		}
		id, err := s.store.AddExperiment(ctx, store.NewExperiment{
			SampleName: name,
			Notes:      req.Notes,
			Series:     series,
			SourcePath: path,
			Analysis:   &store.Analysis{Peaks: resp.Peaks, BackgroundSubtracted: resp.Intensities},
		})
		if err != nil {
			respondFailure(w, err)
			return
		}
		resp.ExperimentID = id
	}
	respond(w, http.StatusOK, resp)
}

func (s *Server) backgroundParams(req *BackgroundRequest) (background.Params, error) {
	method := background.Erosion
	if req.Method != "" {
		m, err := background.ParseMethod(req.Method)
		if err != nil {
			return background.Params{}, err
		}
		method = m
	}
	p := background.Params{
		Method:     method,
		Anchors:    req.Anchors,
		Order:      s.cfg.Analysis.Order,
		Iterations: s.cfg.Analysis.Iterations,
	}
	if req.Order != nil {
		p.Order = *req.Order
	}
	if req.Iterations != nil {
		p.Iterations = *req.Iterations
	}
	return p, nil
}

func (s *Server) fitPeaks(series *xrd.Series, found []xrd.Peak, req *FitRequest) ([]FitOutcome, error) {
	name := req.Model
	if name == "" {
		name = s.cfg.Analysis.Model
	}
	model, err := fitting.ParseModel(name)
	if err != nil {
		return nil, err
	}
	opts := fitting.Options{WindowMultiplier: req.WindowMultiplier}
	if opts.WindowMultiplier == 0 {
		opts.WindowMultiplier = s.cfg.Analysis.WindowMultiplier
	}

	indices := req.Peaks
	if len(indices) == 0 {
		for i := range found {
			indices = append(indices, i)
		}
	}
	if len(indices) > maxFitPeaks {
		return nil, xerrors.NewValidation("fit.peaks", fmt.Sprintf("at most %d peaks can be fitted per request, got %d", maxFitPeaks, len(indices)))
	}

	out := make([]FitOutcome, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(found) {
			return nil, xerrors.NewValidation("fit.peaks", fmt.Sprintf("peak index %d out of range [0, %d)", i, len(found)))
		}
		res, err := fitting.Fit(series, found[i], model, opts)
		fo := FitOutcome{Peak: found[i], Result: res}
		if err != nil {
			fo.Error = err.Error()
		}
		out = append(out, fo)
	}
	return out, nil
}

func (s *Server) match(r *http.Request, found []xrd.Peak, req *MatchRequest, wavelength string) (*searchmatch.Result, error) {
	if req.Reference == "" {
		return nil, xerrors.NewValidation("match.reference", "reference path is required")
	}
	path, err := s.resolve(req.Reference)
	if err != nil {
		return nil, xerrors.NewValidation("match.reference", err.Error())
	}
	if req.Wavelength != "" {
		wavelength = req.Wavelength
	}
	ref, err := s.loader.Load(r.Context(), path, importer.Options{Wavelength: wavelength, Calculator: s.calculator})
	if err != nil {
		return nil, err
	}
	tol := s.cfg.Analysis.Tolerance
	if req.Tolerance != nil {
		tol = *req.Tolerance
	}
	return searchmatch.MatchPeaks(found, ref, tol)
}

// resolve confines a request path to the data root and checks the file.
func (s *Server) resolve(p string) (string, error) {
	path, err := validation.ResolveInRoot(s.cfg.DataRoot, p)
	if err != nil {
		return "", err
	}
	if _, err := validation.ValidateScanFile(path); err != nil {
		if errors.Is(err, validation.ErrNotRegular) || errors.Is(err, validation.ErrFileTooLarge) {
			return "", err
		}
		// Let the dispatcher report a missing file as NotFound.
		return path, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return path, nil
	}
	defer f.Close()
	if _, err := validation.ValidateFileType(f, path); err != nil {
		return "", err
	}
	return path, nil
}

// handleExperiments handles GET /api/v1/experiments.
func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "No experiment store is configured")
		return
	}
	list, err := s.store.List(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondList(w, list, len(list))
}

// handleExperimentByID handles GET and DELETE /api/v1/experiments/{id}.
func (s *Server) handleExperimentByID(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "No experiment store is configured")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, experimentsPath)
	rest, source := strings.CutSuffix(rest, "/source")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Experiment ID must be an integer")
		return
	}
	if source {
		s.handleExperimentSource(w, r, id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		e, err := s.store.Get(r.Context(), id)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respond(w, http.StatusOK, e)
	case http.MethodDelete:
		removed, err := s.store.Delete(r.Context(), id)
		if err != nil {
			respondFailure(w, err)
			return
		}
		if !removed {
			respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("experiment not found: %d", id))
			return
		}
		respond(w, http.StatusOK, map[string]string{"message": "Experiment deleted"})
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
	}
}

// handleExperimentSource streams the archived source file of an experiment.
func (s *Server) handleExperimentSource(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}
	src, err := s.store.OpenSource(r.Context(), id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	defer src.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, src); err != nil {
		logging.Warn("failed to stream experiment source", "id", id, "error", err)
	}
}

// respondFailure maps pipeline errors onto HTTP statuses.
func respondFailure(w http.ResponseWriter, err error) {
	var (
		ie *xerrors.ImportError
		ae *xerrors.AnalysisError
		ve *xerrors.ValidationError
	)
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
	case errors.Is(err, xerrors.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &ie):
		code := "IMPORT_FAILED"
		if ie.Reason == xerrors.ReasonDependencyUnavailable {
			code = "DEPENDENCY_UNAVAILABLE"
		}
		respondError(w, http.StatusUnprocessableEntity, code, err.Error())
	case errors.Is(err, xerrors.ErrInvalidParameter), errors.Is(err, xerrors.ErrUnknownModel):
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
	case errors.As(err, &ae):
		writeError(w, http.StatusUnprocessableEntity, &APIError{Code: "ANALYSIS_FAILED", Message: err.Error(), Stage: string(ae.Stage)})
	default:
		logging.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Total: total, Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &APIError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, e *APIError) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   e,
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}
