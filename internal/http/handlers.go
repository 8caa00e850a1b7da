package http

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"smiledash/internal/layout"
	"smiledash/internal/log"
	"smiledash/internal/middleware/trace"
	"smiledash/internal/services"
)

// apiError is the JSON body returned by /api/report on failure.
type apiError struct {
	Error     string     `json:"error"`
	Heading   string     `json:"heading"`
	Hint      string     `json:"hint,omitempty"`
	Preview   [][]string `json:"preview,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// handleHealth performs basic liveness check
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports whether the page can be rendered and how the last load went.
// A failed load does not make the instance unready: the next page view retries.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if lay := s.reports.Layout(); lay == nil {
		checks["layout"] = "failed: no layout"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else if err := lay.Validate(); err != nil {
		checks["layout"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else if len(lay.Patterns()) == 0 {
		checks["layout"] = "failed: landmark patterns not compiled"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["layout"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"limited_total":  s.limiter.Limited(),
	}

	render.Status(r, httpStatus)
	render.JSON(w, r, map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
		"report":    s.reports.Status(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.templates == nil {
		s.logger.ErrorContext(ctx, "Templates not loaded",
			log.FieldPath, r.URL.Path,
			log.FieldOperation, log.OpRender)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	rep, err := s.reports.Load(ctx)
	if err != nil {
		s.handleLoadError(w, r, err)
		return
	}

	view := newDashboardView(rep, s.now())
	view.LastError = s.reports.Status().LastError
	s.renderTemplate(w, r, http.StatusOK, "dashboard.html", view)
}

func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Load(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		v := classifyError(err)
		s.logLoadError(r, v, err)
		render.Status(r, v.Status)
		render.JSON(w, r, apiError{
			Error:     err.Error(),
			Heading:   v.Heading,
			Hint:      v.Hint,
			Preview:   v.Preview,
			RequestID: trace.GetRequestID(r.Context()),
		})
		return
	}
	render.JSON(w, r, rep)
}

// handleRefresh drops the cached report, reloads it and sends the browser
// back to the dashboard.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Refresh(r.Context())
	if err != nil {
		s.handleLoadError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "Dashboard refreshed",
		log.FieldOperation, log.OpRefresh,
		log.FieldMonth, rep.Month,
		log.FieldFallback, rep.Fallback)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	s.logger.WarnContext(r.Context(), "Refresh rate limit exceeded",
		log.FieldClientIP, s.ips.ClientIP(r),
		"retry_after_s", wait.Seconds())
	s.renderError(w, r, errorView{
		Title:   PageTitle,
		Status:  http.StatusTooManyRequests,
		Heading: "Muitas atualizações",
		Message: fmt.Sprintf("Aguarde %d s antes de atualizar novamente.", int(math.Ceil(wait.Seconds()))),
	})
}

func (s *Server) handleLoadError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		s.logger.DebugContext(r.Context(), "Client went away during load", log.FieldError, err)
		return
	}
	v := classifyError(err)
	s.logLoadError(r, v, err)
	s.renderError(w, r, v)
}

func (s *Server) logLoadError(r *http.Request, v errorView, err error) {
	logger := log.FromContext(r.Context())
	level := logger.ErrorContext
	var nf *layout.LandmarkNotFoundError
	if errors.As(err, &nf) {
		level = logger.WarnContext
	}
	level(r.Context(), "Report unavailable",
		log.FieldPath, r.URL.Path,
		log.FieldStatusCode, v.Status,
		log.FieldError, err)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, v errorView) {
	if s.templates == nil {
		http.Error(w, v.Heading+": "+v.Message, v.Status)
		return
	}
	s.renderTemplate(w, r, v.Status, "error.html", v)
}

// renderTemplate executes into a buffer so a failing template never leaves
// a half-written page behind.
func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			log.FieldOperation, log.OpRender,
			"template", name,
			log.FieldError, err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Ensure interface conformance
var _ ReportSource = (*services.ReportService)(nil)
