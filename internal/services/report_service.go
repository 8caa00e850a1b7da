package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"smiledash/internal/cache"
	"smiledash/internal/core"
	"smiledash/internal/grid"
	"smiledash/internal/layout"
	"smiledash/internal/log"
	"smiledash/internal/metrics"
	"smiledash/internal/sheets"
)

// EventPublisher announces extracted reports. Implemented by *amqp.Client.
type EventPublisher interface {
	PublishReportExtracted(ctx context.Context, r *core.Report) error
	Close() error
}

// Load outcomes, used as metric labels and in logs.
const (
	OutcomeOK          = "ok"
	OutcomeFetchError  = "fetch_error"
	OutcomeParseError  = "parse_error"
	OutcomeNoLandmark  = "landmark_not_found"
	OutcomeCanceled    = "canceled"
	defaultCacheSize   = 4
	defaultLoadTimeout = 2 * time.Minute
)

// Status summarises the last load for readiness checks and the UI.
type Status struct {
	Source      string    `json:"source"`
	LastSuccess time.Time `json:"last_success"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Options tune a ReportService. Zero values are valid.
type Options struct {
	Sheet       string
	Backend     string
	CacheTTL    time.Duration
	LoadTimeout time.Duration
	Publisher   EventPublisher
	Metrics     *metrics.Metrics
	Logger      *log.Logger
}

// ReportService runs the fetch, parse, detect and extract pipeline.
// Concurrent loads of the same source share one download.
type ReportService struct {
	fetcher   sheets.WorkbookFetcher
	layout    *layout.Layout
	sheet     string
	backend   string
	timeout   time.Duration
	cache     *cache.LRUCache[*core.Report]
	group     singleflight.Group
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewReportService wires the pipeline. With CacheTTL 0 every Load fetches.
func NewReportService(fetcher sheets.WorkbookFetcher, lay *layout.Layout, opts Options) *ReportService {
	if opts.Sheet == "" {
		opts.Sheet = "Planilha1"
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	s := &ReportService{
		fetcher:   fetcher,
		layout:    lay,
		sheet:     opts.Sheet,
		backend:   opts.Backend,
		timeout:   opts.LoadTimeout,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithComponent(log.ComponentReport),
		now:       time.Now,
		status:    Status{Source: fetcher.Source()},
	}
	if opts.CacheTTL > 0 {
		s.cache = cache.NewLRUCache[*core.Report](defaultCacheSize, opts.CacheTTL)
	}
	return s
}

// Cache exposes the report cache for lifecycle management; nil when disabled.
func (s *ReportService) Cache() *cache.LRUCache[*core.Report] { return s.cache }

// Source describes where reports come from.
func (s *ReportService) Source() string { return s.fetcher.Source() }

// Layout returns the layout used for extraction.
func (s *ReportService) Layout() *layout.Layout { return s.layout }

// Status returns a snapshot of the last load.
func (s *ReportService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Load returns the current report, from cache when enabled.
func (s *ReportService) Load(ctx context.Context) (*core.Report, error) {
	key := s.fetcher.Source()
	if s.cache != nil {
		if r, age, ok := s.cache.GetWithAge(key); ok {
			if s.metrics != nil {
				s.metrics.CacheHits.Inc()
			}
			s.logger.DebugContext(ctx, "Report served from cache", "age_ms", age.Milliseconds())
			return r, nil
		}
	}

	// The shared load must not die with the first caller's request.
	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.load(loadCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.Report), nil
	}
}

// Refresh drops any cached report and loads a fresh one.
func (s *ReportService) Refresh(ctx context.Context) (*core.Report, error) {
	key := s.fetcher.Source()
	if s.cache != nil {
		s.cache.Delete(key)
	}
	s.group.Forget(key)
	s.logger.InfoContext(ctx, "Report refresh requested", log.FieldOperation, log.OpRefresh)
	return s.Load(ctx)
}

func (s *ReportService) load(ctx context.Context) (*core.Report, error) {
	start := s.now()
	r, err := s.run(ctx)
	outcome := classify(err)

	s.mu.Lock()
	s.status.LastAttempt = start
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastSuccess = r.FetchedAt
		s.status.LastError = ""
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Loads.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Report load failed",
			log.FieldOperation, outcome,
			log.FieldSource, s.fetcher.Source(),
			log.FieldError, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "Report loaded",
		log.FieldSource, r.Source,
		log.FieldMonth, r.Month,
		log.FieldFallback, r.Fallback,
		log.FieldWarnings, len(r.Warnings),
		log.FieldDuration, s.now().Sub(start).Milliseconds())

	if s.metrics != nil {
		s.metrics.Warnings.Add(float64(len(r.Warnings)))
		if r.Fallback {
			s.metrics.Fallbacks.Inc()
		}
		s.metrics.LastSuccess.Set(float64(r.FetchedAt.Unix()))
	}
	if s.cache != nil {
		s.cache.Set(s.fetcher.Source(), r)
	}
	s.publish(ctx, r)
	return r, nil
}

func (s *ReportService) run(ctx context.Context) (*core.Report, error) {
	fetchStart := s.now()
	wb, err := s.fetcher.Fetch(ctx)
	if s.metrics != nil {
		size := 0
		if wb != nil {
			size = len(wb.Data)
		}
		s.metrics.ObserveFetch(s.backend, s.now().Sub(fetchStart), size, err)
	}
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Workbook fetched", log.FieldBytes, len(wb.Data))

	g, err := grid.ReadXLSX(wb.Data, s.sheet)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Sheet parsed", log.FieldSheet, s.sheet, "shape", g.Shape())

	landmark, err := layout.FindLandmark(g, s.layout)
	if err != nil {
		return nil, err
	}

	x := layout.Extract(g, s.layout, landmark)
	for _, fe := range x.Errors {
		fields := log.NewFields().WithCell(fe.Field, fe.Cell.Row, fe.Cell.Column).WithError(fe.Err)
		s.logger.WarnContext(ctx, "Summary field unreadable", fields.ToSlice()...)
	}

	r := x.Report
	r.Source = s.fetcher.Source()
	r.FetchedAt = wb.FetchedAt
	if r.FetchedAt.IsZero() {
		r.FetchedAt = s.now()
	}
	return r, nil
}

// publish sends the event without failing the load.
func (s *ReportService) publish(ctx context.Context, r *core.Report) {
	if s.publisher == nil {
		return
	}
	outcome := OutcomeOK
	if err := s.publisher.PublishReportExtracted(ctx, r); err != nil {
		outcome = "error"
		s.logger.WarnContext(ctx, "Failed to publish report event",
			log.FieldOperation, log.OpPublish,
			log.FieldError, err)
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(outcome).Inc()
	}
}

// Close releases the publisher.
func (s *ReportService) Close() error {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}

func classify(err error) string {
	var (
		rce *sheets.RemoteContentError
		se  *sheets.StatusError
		nf  *layout.LandmarkNotFoundError
		snf *grid.SheetNotFoundError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &nf):
		return OutcomeNoLandmark
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.As(err, &rce), errors.As(err, &se):
		return OutcomeFetchError
	case errors.As(err, &snf), errors.Is(err, grid.ErrInvalidWorkbook):
		return OutcomeParseError
	default:
		return OutcomeFetchError
	}
}
