package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"smiledash/internal/core"
	"smiledash/internal/grid"
	"smiledash/internal/layout"
	"smiledash/internal/metrics"
	"smiledash/internal/sheets"
)

// templateWorkbook builds an .xlsx shaped like the monthly sheet.
func defaultLayout(t *testing.T) *layout.Layout {
	t.Helper()
	l, err := layout.Default()
	require.NoError(t, err)
	return l
}

func templateWorkbook(t *testing.T, sheet string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	set := func(col, row int, v any) {
		ref, err := excelize.CoordinatesToCellName(col+1, row+1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, ref, v))
	}
	set(0, 0, "DASHBOARD NOVEMBRO 2025")
	for d := 0; d < 30; d++ {
		set(5+d, 3, d+1)
		set(5+d, 5, 1000+d)
		set(5+d, 6, 500+d)
		set(5+d, 7, 200+d)
		set(5+d, 8, 100+d)
	}
	set(2, 5, 100000)
	set(4, 5, 82745)
	set(2, 6, 58000)
	set(4, 6, 44104.77)
	set(2, 7, 33127.16)
	set(4, 7, 19116.15)
	set(2, 8, 16670)
	set(4, 8, 13425.23)
	set(3, 11, 7)
	set(3, 12, 3)
	set(2, 14, 107797.16)

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type fakeFetcher struct {
	data  []byte
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeFetcher) Source() string { return "fake:sheet" }

func (f *fakeFetcher) Fetch(ctx context.Context) (*sheets.Workbook, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &sheets.Workbook{Data: f.data, FetchedAt: time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)}, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	reports []*core.Report
	err     error
	closed  bool
}

func (p *fakePublisher) PublishReportExtracted(_ context.Context, r *core.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return p.err
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestLoad(t *testing.T) {
	f := &fakeFetcher{data: templateWorkbook(t, "Planilha1")}
	pub := &fakePublisher{}
	m := metrics.New()
	svc := NewReportService(f, defaultLayout(t), Options{Publisher: pub, Metrics: m, Backend: "fake"})

	r, err := svc.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "NOVEMBRO", r.Month)
	assert.Equal(t, "fake:sheet", r.Source)
	assert.Equal(t, core.Position{Row: 3, Column: 5}, r.Landmark)
	assert.False(t, r.Fallback)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, core.Observed(100000), r.Targets.ByMetric[core.Sale])
	assert.Equal(t, core.Observed(107797.16), r.Targets.Total)
	assert.Equal(t, core.Observed(1029), r.Daily[29].Values[core.Sale])
	assert.Equal(t, "1 NOVEMBRO", r.Daily[0].Label)
	assert.Equal(t, time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC), r.FetchedAt)

	require.Len(t, pub.reports, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(OutcomeOK)))

	st := svc.Status()
	assert.Equal(t, "fake:sheet", st.Source)
	assert.Empty(t, st.LastError)
	assert.Equal(t, r.FetchedAt, st.LastSuccess)
}

func TestLoadWithoutCacheFetchesEveryTime(t *testing.T) {
	f := &fakeFetcher{data: templateWorkbook(t, "Planilha1")}
	svc := NewReportService(f, defaultLayout(t), Options{})

	_, err := svc.Load(context.Background())
	require.NoError(t, err)
	_, err = svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Nil(t, svc.Cache())
}

func TestLoadUsesCacheAndRefreshBypassesIt(t *testing.T) {
	f := &fakeFetcher{data: templateWorkbook(t, "Planilha1")}
	m := metrics.New()
	svc := NewReportService(f, defaultLayout(t), Options{CacheTTL: time.Minute, Metrics: m})

	first, err := svc.Load(context.Background())
	require.NoError(t, err)
	second, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))

	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	f := &fakeFetcher{data: templateWorkbook(t, "Planilha1"), gate: make(chan struct{})}
	svc := NewReportService(f, defaultLayout(t), Options{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]*core.Report, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Load(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestLoadCallerCancelDoesNotAbortSharedLoad(t *testing.T) {
	f := &fakeFetcher{data: templateWorkbook(t, "Planilha1"), gate: make(chan struct{})}
	svc := NewReportService(f, defaultLayout(t), Options{CacheTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx)
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(f.gate)
	assert.Eventually(t, func() bool { return svc.Cache().Size() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
		check   func(t *testing.T, err error)
		outcome string
	}{
		{
			name:    "remote html",
			fetcher: &fakeFetcher{err: &sheets.RemoteContentError{}},
			check: func(t *testing.T, err error) {
				var rce *sheets.RemoteContentError
				assert.True(t, errors.As(err, &rce))
			},
			outcome: OutcomeFetchError,
		},
		{
			name:    "garbage bytes",
			fetcher: &fakeFetcher{data: []byte("PK not really")},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, grid.ErrInvalidWorkbook)
			},
			outcome: OutcomeParseError,
		},
		{
			name:    "wrong sheet",
			fetcher: &fakeFetcher{data: templateWorkbook(t, "Sheet1")},
			check: func(t *testing.T, err error) {
				var snf *grid.SheetNotFoundError
				assert.True(t, errors.As(err, &snf))
			},
			outcome: OutcomeParseError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			pub := &fakePublisher{}
			svc := NewReportService(tt.fetcher, defaultLayout(t), Options{Metrics: m, Publisher: pub})

			_, err := svc.Load(context.Background())
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads.WithLabelValues(tt.outcome)))
			assert.Empty(t, pub.reports)
			assert.NotEmpty(t, svc.Status().LastError)
		})
	}
}

func TestLoadLandmarkNotFound(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Planilha1")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Planilha1", "A1", "nothing to see"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	svc := NewReportService(&fakeFetcher{data: buf.Bytes()}, defaultLayout(t), Options{})
	_, err = svc.Load(context.Background())

	var nf *layout.LandmarkNotFoundError
	require.True(t, errors.As(err, &nf))
	require.NotEmpty(t, nf.Preview)
	assert.Equal(t, "nothing to see", nf.Preview[0][0])
	assert.Equal(t, OutcomeNoLandmark, classify(err))
}

func TestPublishFailureDoesNotFailLoad(t *testing.T) {
	f := &fakeFetcher{data: templateWorkbook(t, "Planilha1")}
	pub := &fakePublisher{err: errors.New("broker down")}
	m := metrics.New()
	svc := NewReportService(f, defaultLayout(t), Options{Publisher: pub, Metrics: m})

	_, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("error")))

	require.NoError(t, svc.Close())
	assert.True(t, pub.closed)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeOK, classify(nil))
	assert.Equal(t, OutcomeCanceled, classify(context.DeadlineExceeded))
	assert.Equal(t, OutcomeFetchError, classify(&sheets.StatusError{StatusCode: 500}))
	assert.Equal(t, OutcomeFetchError, classify(errors.New("dial tcp: refused")))
}
