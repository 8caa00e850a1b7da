package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricKeysRoundTrip(t *testing.T) {
	for _, m := range Metrics {
		got, ok := ParseMetric(m.Key())
		require.True(t, ok, m.Key())
		assert.Equal(t, m, got)
	}
	_, ok := ParseMetric("lucro")
	assert.False(t, ok)
	assert.Equal(t, "Crediário", InstallmentCredit.Label())
}

func TestReportGapAndComposition(t *testing.T) {
	r := &Report{}
	r.Targets.ByMetric = [MetricCount]Value{Observed(100000), Observed(58000), Observed(33127.16), Observed(16670)}
	r.Accumulated.ByMetric = [MetricCount]Value{Observed(82745), Observed(44104.77), Observed(19116.15), Observed(13425.23)}

	assert.InDelta(t, 17255, r.Gap(Sale), 1e-9)
	assert.InDelta(t, 3244.77, r.Gap(OrthoReceipt), 1e-9)
	assert.Equal(t, []float64{44104.77, 19116.15, 13425.23}, r.Composition())
}

func TestDailySeriesHelpers(t *testing.T) {
	s := DailySeries{
		{Label: "1 NOVEMBRO", Values: [MetricCount]Value{Observed(10), Defaulted(0), Observed(2), Observed(3)}},
		{Label: "2 NOVEMBRO", Values: [MetricCount]Value{Observed(20), Observed(5), Defaulted(0), Defaulted(0)}},
	}
	assert.Equal(t, []string{"1 NOVEMBRO", "2 NOVEMBRO"}, s.Labels())
	assert.Equal(t, []float64{10, 20}, s.Values(Sale))
	assert.Equal(t, 3, s.DefaultedCount())
}
