package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/collector"
	"github.com/adnlabs/clinical-navigator/internal/expert"
	"github.com/adnlabs/clinical-navigator/internal/orchestrator"
	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

type Runner interface {
	Run(ctx context.Context, subjectID int64, freeText string) (orchestrator.Envelope, error)
}

type Collector interface {
	Collect(ctx context.Context, subjectID int64, freeText string) (record.PatientRecord, error)
}

type Normalizer interface {
	NormalizeJSON(ctx context.Context, blob []byte) (record.PatientRecord, error)
}

// Options carries the non-dependency knobs for the server.
type Options struct {
	TopNDiagnoses int
	Model         string
	Version       string
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Pipeline   Runner
	Collector  Collector
	Normalizer Normalizer
	Phases     expert.PhaseRunner
	Analyses   *AnalysisStore
	Renderer   *ReportRenderer
}

type Server struct {
	deps    Deps
	opts    Options
	log     *logrus.Entry
	started time.Time
}

func NewServer(deps Deps, opts Options, log *logrus.Entry) http.Handler {
	if opts.TopNDiagnoses <= 0 {
		opts.TopNDiagnoses = expert.DefaultTopNDiagnoses
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		deps:    deps,
		opts:    opts,
		log:     log,
		started: time.Now(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/normalize", s.handleNormalize)
	mux.HandleFunc("/v1/collect", s.handleCollect)
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/v1/diagnoses", s.handleDiagnoses)
	mux.HandleFunc("/v1/validate-alerts", s.handleValidateAlerts)
	mux.HandleFunc("/v1/risk-scores", s.handleRiskScores)
	mux.HandleFunc("/v1/action-plan", s.handleActionPlan)
	mux.HandleFunc("/v1/analyses/", s.handleAnalyses)
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/info", s.handleInfo)
	return s.logged(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": "error", "error": msg})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	blob, err := readBody(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, dst)
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("http request")
	})
}

// selectorRequest is the shared input of /v1/collect and /v1/analyze.
type selectorRequest struct {
	SubjectID int64  `json:"subject_id"`
	FreeText  string `json:"free_text"`
}

func selectorStatus(err error) int {
	var notFound *collector.PatientNotFoundError
	var badInput *record.InputFormatError
	switch {
	case errors.Is(err, collector.ErrSelectorRequired), errors.As(err, &badInput):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.deps.Normalizer.NormalizeJSON(r.Context(), blob)
	if err != nil {
		var badInput *record.InputFormatError
		if errors.As(err, &badInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req selectorRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.deps.Collector.Collect(r.Context(), req.SubjectID, req.FreeText)
	if err != nil {
		writeError(w, selectorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req selectorRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	env, runErr := s.deps.Pipeline.Run(r.Context(), req.SubjectID, req.FreeText)
	if runErr != nil {
		status := selectorStatus(runErr)
		if status != http.StatusInternalServerError {
			writeError(w, status, runErr.Error())
			return
		}
	}

	// Failed runs are stored too: the envelope records which stage broke and
	// keeps everything produced before it.
	id, err := s.deps.Analyses.Put(env)
	if err != nil {
		s.log.WithError(err).Error("persisting analysis session")
		writeError(w, http.StatusInternalServerError, "failed to store analysis session")
		return
	}
	if runErr != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":      "error",
			"error":       runErr.Error(),
			"analysis_id": id,
			"analysis":    env,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis_id": id,
		"analysis":    env,
	})
}

func (s *Server) handleDiagnoses(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Synthesis synthesizer.Result   `json:"synthesis"`
		Patient   record.PatientRecord `json:"patient"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dxs, _, err := s.deps.Phases.Diagnose(r.Context(), req.Synthesis, req.Patient)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"differential_diagnoses": dxs})
}

func (s *Server) handleValidateAlerts(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Alerts  []synthesizer.CriticalAlert `json:"alerts"`
		Patient record.PatientRecord        `json:"patient"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Same per-alert isolation as the full pipeline: a failed check marks
	// that alert incomplete, the others still get validated.
	validated := make([]expert.ValidatedAlert, 0, len(req.Alerts))
	for i, alert := range req.Alerts {
		v, _, err := s.deps.Phases.ValidateAlert(r.Context(), alert, req.Patient)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"alert_index": i,
				"alert_type":  alert.Type,
			}).WithError(err).Warn("alert validation failed, marking incomplete")
			v = expert.Validation{Incomplete: true, IncompleteReason: err.Error()}
		}
		validated = append(validated, expert.ValidatedAlert{CriticalAlert: alert, Validation: v})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"validated_alerts": validated,
		"evidence_summary": expert.BuildEvidenceSummary(validated),
	})
}

func (s *Server) handleRiskScores(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Diagnoses []expert.DifferentialDiagnosis `json:"diagnoses"`
		Patient   record.PatientRecord           `json:"patient"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	top := req.Diagnoses
	if len(top) > s.opts.TopNDiagnoses {
		top = top[:s.opts.TopNDiagnoses]
	}
	scores, _, err := s.deps.Phases.RiskScores(r.Context(), top, req.Patient)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"risk_scores": scores})
}

func (s *Server) handleActionPlan(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ValidatedAlerts []expert.ValidatedAlert        `json:"validated_alerts"`
		Diagnoses       []expert.DifferentialDiagnosis `json:"diagnoses"`
		Patient         record.PatientRecord           `json:"patient"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	plan, _, err := s.deps.Phases.ActionPlan(r.Context(), req.ValidatedAlerts, req.Diagnoses, req.Patient)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_plan": plan})
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/analyses/")
	id, resource := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id, resource = rest[:i], rest[i+1:]
	}
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	env, ok := s.deps.Analyses.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown analysis session")
		return
	}

	switch resource {
	case "":
		writeJSON(w, http.StatusOK, env)
	case "report.html":
		doc, err := s.deps.Renderer.BuildHTML(orchestrator.BuildReportMarkdown(env))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc))
	case "report.pdf":
		pdf, err := s.deps.Renderer.RenderPDF(r.Context(), orchestrator.BuildReportMarkdown(env))
		if err != nil {
			s.log.WithError(err).Error("rendering analysis report pdf")
			writeError(w, http.StatusInternalServerError, "pdf rendering failed")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"analyses": s.deps.Analyses.Len(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":         "clinical-navigator",
		"version":         s.opts.Version,
		"model":           s.opts.Model,
		"top_n_diagnoses": s.opts.TopNDiagnoses,
	})
}
