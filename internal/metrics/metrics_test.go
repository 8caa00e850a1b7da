package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch("direct", 200*time.Millisecond, 50_000, nil)
	m.ObserveFetch("direct", time.Second, 0, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.FetchDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FetchBytes))
}

func TestCounters(t *testing.T) {
	m := New()
	m.Loads.WithLabelValues("ok").Inc()
	m.Loads.WithLabelValues("ok").Inc()
	m.Loads.WithLabelValues("landmark_not_found").Inc()
	m.CacheHits.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Loads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/", 200, 10*time.Millisecond)
	m.ObserveHTTP(http.MethodGet, "", 404, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `smiledash_http_requests_total{code="200",method="GET",route="/"} 1`)
	assert.Contains(t, string(body), `route="unmatched"`)
	assert.Contains(t, string(body), "go_goroutines")
}
