package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/facturador/internal/arca"
)

// Service wires the session store, orchestrator, and registration
// workflow into HTTP handlers.
type Service struct {
	cfg      Config
	sessions *SessionStore
	orch     *Orchestrator
	workflow *RegistrationWorkflow
	limiter  *RateLimiter
	logger   *slog.Logger
}

func NewService(cfg Config, sessions *SessionStore, orch *Orchestrator, workflow *RegistrationWorkflow, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		orch:     orch,
		workflow: workflow,
		limiter:  NewRateLimiter(cfg.RegistrationRateLimit, time.Minute),
		logger:   logger,
	}
}

// Routes mounts the billing API.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/parse", s.ParseUpload)
	r.Get("/issuer", s.IssuerSettings)
	r.Get("/template", s.DownloadTemplate)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/generate", s.GenerateAll)
		r.Get("/archive", s.DownloadArchive)
		r.Post("/invoices/{index}/pdf", s.GenerateInvoice)
		r.Post("/invoices/{index}/cae", s.RegisterInvoice)
	})
	return r
}

// ParseUpload ingests an uploaded xlsx, opens a session for it, and
// returns the working set with the eligibility breakdown.
func (s *Service) ParseUpload(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_UPLOAD", "missing file field", false)
		return
	}
	defer file.Close()

	records, err := ParseWorkbook(file)
	if err != nil {
		s.logger.Error("workbook parse failed", "error", err)
		writeError(w, http.StatusBadRequest, "BAD_WORKBOOK", err.Error(), false)
		return
	}
	sess := s.sessions.Create(records)
	eligible, skipped := Partition(records)

	s.logger.Info("workbook parsed",
		"sessionId", sess.ID, "total", len(records), "eligible", len(eligible), "skipped", len(skipped))
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":     sess.ID,
		"total":         len(records),
		"eligible":      len(eligible),
		"skipped":       len(skipped),
		"skippedDetail": skipped,
		"rows":          records,
	})
}

type generateRequest struct {
	CopyLabel string `json:"copyLabel"`
}

// GenerateInvoice renders one selected row and streams the result. The
// Content-Type declares which shape came back: a PDF document or the
// print-oriented markup fallback.
func (s *Service) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	sess, index, ok := s.sessionRow(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.CopyLabel == "" {
		req.CopyLabel = "ORIGINAL"
	}

	res, err := s.orch.GenerateOne(r.Context(), sess, index, s.cfg.Issuer(), req.CopyLabel)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			writeError(w, http.StatusNotFound, "ROW_NOT_FOUND", err.Error(), false)
			return
		}
		s.logger.Error("generation failed", "sessionId", sess.ID, "index", index, "error", err)
		writeError(w, http.StatusBadGateway, "RENDER_ERROR", err.Error(), true)
		return
	}

	rec, _ := sess.Record(index)
	filename := ArtifactFilename(rec.InvoiceNumber)
	if res.Kind == RenderDocument {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Document)
		return
	}

	s.logger.Warn("pdf backend unavailable, serving markup for manual print",
		"sessionId", sess.ID, "invoiceNumber", rec.InvoiceNumber)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Pdf-Backend", "none")
	w.Header().Set("Content-Disposition", "inline")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Markup))
}

// GenerateAll runs the sequential batch over every eligible row and
// reports the per-item outcome.
func (s *Service) GenerateAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	result, err := s.orch.GenerateBatch(r.Context(), sess, s.cfg.Issuer(), LogProgressSink{Logger: s.logger})
	if err != nil {
		var noRows *NoEligibleRowsError
		if errors.As(err, &noRows) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"code":          "NO_ELIGIBLE_ROWS",
				"message":       "no eligible rows to generate",
				"skippedDetail": noRows.Skipped,
			})
			return
		}
		s.logger.Error("batch failed", "sessionId", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), true)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DownloadArchive bundles everything accumulated so far into one zip.
func (s *Service) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	bundle, err := BuildArchive(sess)
	if err != nil {
		if errors.Is(err, ErrNoArtifacts) {
			writeError(w, http.StatusBadRequest, "NO_ARTIFACTS", err.Error(), false)
			return
		}
		s.logger.Error("archive build failed", "sessionId", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), true)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="facturas.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle)
}

// RegisterInvoice submits one row to the tax authority and returns the
// status with the full transcript. The outcome travels as data: even a
// failed attempt is a 200 with status "error" and the log attached.
func (s *Service) RegisterInvoice(w http.ResponseWriter, r *http.Request) {
	sess, index, ok := s.sessionRow(w, r)
	if !ok {
		return
	}

	rec, found := sess.Record(index)
	if !found {
		writeError(w, http.StatusNotFound, "ROW_NOT_FOUND", ErrRowNotFound.Error(), false)
		return
	}

	key := "pv:" + strconv.Itoa(arca.SalesPoint(rec.InvoiceNumber))
	if allowed, retryAfter := s.limiter.Allow(key); !allowed {
		w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"code":      "RATE_LIMITED",
			"message":   "too many registration attempts for this sales point",
			"retryable": true,
		})
		return
	}

	result, err := s.workflow.Register(r.Context(), sess, index)
	if err != nil {
		writeError(w, http.StatusNotFound, "ROW_NOT_FOUND", err.Error(), false)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// IssuerSettings exposes the configured issuer profile for UI pre-fill.
func (s *Service) IssuerSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":           s.cfg.Issuer(),
		"vatConditionCode": s.cfg.IssuerVATCode,
	})
}

// DownloadTemplate serves a sample workbook with the expected layout.
func (s *Service) DownloadTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := SampleWorkbook()
	if err != nil {
		s.logger.Error("template build failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), true)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="modelo_facturacion.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", ErrSessionNotFound.Error(), false)
		return nil, false
	}
	return sess, true
}

func (s *Service) sessionRow(w http.ResponseWriter, r *http.Request) (*Session, int, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, 0, false
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_INDEX", "row index must be an integer", false)
		return nil, 0, false
	}
	return sess, index, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"code":      code,
		"message":   message,
		"retryable": retryable,
	})
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
