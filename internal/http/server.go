// Package http serves the dashboard page, its JSON twin and the operational
// endpoints.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"smiledash/internal/core"
	"smiledash/internal/layout"
	"smiledash/internal/log"
	"smiledash/internal/metrics"
	"smiledash/internal/middleware/ratelimit"
	"smiledash/internal/middleware/security"
	"smiledash/internal/middleware/trace"
	"smiledash/internal/services"
	appweb "smiledash/web"
)

// ReportSource is what the handlers need from the report pipeline.
// Implemented by *services.ReportService.
type ReportSource interface {
	Load(ctx context.Context) (*core.Report, error)
	Refresh(ctx context.Context) (*core.Report, error)
	Status() services.Status
	Layout() *layout.Layout
}

// Config holds the listener and middleware settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	StaticMaxAge      int
	TrustedProxies    []string
	Refresh           ratelimit.Config
}

// DefaultConfig returns timeouts that leave room for a slow Drive download.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		StaticMaxAge:      3600,
		Refresh:           ratelimit.DefaultConfig(),
	}
}

type Server struct {
	http.Server
	templates *template.Template
	reports   ReportSource
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	ips       *security.IPResolver
	tracer    *trace.Middleware
	logger    *log.Logger
	now       func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
// m may be nil, in which case /metrics is not mounted.
func NewServer(cfg Config, reports ReportSource, m *metrics.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		reports: reports,
		metrics: m,
		limiter: ratelimit.NewLimiter(cfg.Refresh),
		ips:     security.NewIPResolver(),
		logger:  logger.WithComponent(log.ComponentHTTP),
		now:     time.Now,
	}
	for _, cidr := range cfg.TrustedProxies {
		if err := s.ips.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring invalid trusted proxy", "cidr", cidr, log.FieldError, err)
		}
	}

	t, err := parseTemplates()
	if err != nil {
		s.logger.Error("Failed parsing templates", log.FieldOperation, log.OpRender, log.FieldError, err)
	}
	s.templates = t

	var observe trace.Observer
	if m != nil {
		observe = m.ObserveHTTP
	}
	s.tracer = trace.NewMiddleware(logger, s.ips.ClientIP, observe)

	s.Handler = s.routes(cfg)
	return s
}

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(appweb.TemplatesFS, "templates/*.html")
}

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.With(security.StaticAssetMiddleware(cfg.StaticMaxAge)).Handle("/static/*", static)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	r.Group(func(r chi.Router) {
		r.Use(security.NoStore)
		r.Get("/", s.handleDashboard)
		r.Get("/api/report", s.handleAPIReport)
		r.With(s.limiter.Middleware(s.ips.ClientIP, s.handleRateLimited)).Post("/refresh", s.handleRefresh)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, errorView{
			Title:   PageTitle,
			Status:  http.StatusNotFound,
			Heading: "Página não encontrada",
			Message: "O endereço " + r.URL.Path + " não existe.",
		})
	})
	return r
}

// Shutdown stops the limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
