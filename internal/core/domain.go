package core

import (
	"time"
)

// Metric is one of the four tracked business measures.
type Metric int

const (
	Sale Metric = iota
	CashSale
	InstallmentCredit
	OrthoReceipt

	MetricCount = 4
)

// Metrics lists every metric in display order.
var Metrics = [MetricCount]Metric{Sale, CashSale, InstallmentCredit, OrthoReceipt}

// DaysInSeries is the fixed length of a DailySeries (one calendar month).
const DaysInSeries = 30

// Key returns the stable identifier used in layout files, JSON and events.
func (m Metric) Key() string {
	switch m {
	case Sale:
		return "venda"
	case CashSale:
		return "vista"
	case InstallmentCredit:
		return "crediario"
	case OrthoReceipt:
		return "orto"
	default:
		return "unknown"
	}
}

// Label returns the human readable name shown on the dashboard.
func (m Metric) Label() string {
	switch m {
	case Sale:
		return "Venda"
	case CashSale:
		return "Vista"
	case InstallmentCredit:
		return "Crediário"
	case OrthoReceipt:
		return "Orto"
	default:
		return "?"
	}
}

func (m Metric) String() string { return m.Key() }

// ParseMetric maps a key such as "venda" back to its Metric.
func ParseMetric(key string) (Metric, bool) {
	for _, m := range Metrics {
		if m.Key() == key {
			return m, true
		}
	}
	return 0, false
}

type (
	// Value is a number read from the sheet together with its provenance.
	// Observed is false when the amount was defaulted instead of parsed.
	Value struct {
		Amount   float64 `json:"amount"`
		Observed bool    `json:"observed"`
	}

	// Position is a zero-based (row, column) coordinate in a grid.
	Position struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	}

	// DailyRecord holds one day's label and the four metric values.
	DailyRecord struct {
		Label         string             `json:"label"`
		LabelObserved bool               `json:"label_observed"`
		Values        [MetricCount]Value `json:"values"`
	}

	// DailySeries is ordered by day and always DaysInSeries long.
	DailySeries []DailyRecord

	// Targets are the per-metric goals plus the monthly receipt goal.
	Targets struct {
		ByMetric [MetricCount]Value `json:"by_metric"`
		Total    Value              `json:"total"`
	}

	// Accumulated are the month-to-date actuals per metric.
	Accumulated struct {
		ByMetric [MetricCount]Value `json:"by_metric"`
	}

	Indicators struct {
		Conversion    Value `json:"conversion"`
		Budgets       Value `json:"budgets"`
		OrthoPayments Value `json:"ortho_payments"`
		Installations Value `json:"installations"`
	}

	// Warning is a non-fatal extraction problem shown next to the data.
	Warning struct {
		Field   string    `json:"field"`
		Cell    *Position `json:"cell,omitempty"`
		Message string    `json:"message"`
	}

	// Report is the complete extraction result for one fetch.
	Report struct {
		Month       string      `json:"month"`
		Landmark    Position    `json:"landmark"`
		Shift       Position    `json:"shift"`
		Daily       DailySeries `json:"daily"`
		Targets     Targets     `json:"targets"`
		Accumulated Accumulated `json:"accumulated"`
		Indicators  Indicators  `json:"indicators"`
		Fallback    bool        `json:"fallback"`
		Warnings    []Warning   `json:"warnings,omitempty"`
		Preview     [][]string  `json:"preview,omitempty"`
		Source      string      `json:"source"`
		FetchedAt   time.Time   `json:"fetched_at"`
	}
)

// Observed wraps a parsed amount.
func Observed(amount float64) Value { return Value{Amount: amount, Observed: true} }

// Defaulted wraps an amount that was not read from the sheet.
func Defaulted(amount float64) Value { return Value{Amount: amount} }

// Values returns the series for a single metric.
func (s DailySeries) Values(m Metric) []float64 {
	out := make([]float64, len(s))
	for i, rec := range s {
		out[i] = rec.Values[m].Amount
	}
	return out
}

// Labels returns the day labels in order.
func (s DailySeries) Labels() []string {
	out := make([]string, len(s))
	for i, rec := range s {
		out[i] = rec.Label
	}
	return out
}

// DefaultedCount reports how many daily values were not observed.
func (s DailySeries) DefaultedCount() int {
	n := 0
	for _, rec := range s {
		for _, v := range rec.Values {
			if !v.Observed {
				n++
			}
		}
	}
	return n
}

// Gap returns target minus accumulated for a metric.
func (r *Report) Gap(m Metric) float64 {
	return r.Targets.ByMetric[m].Amount - r.Accumulated.ByMetric[m].Amount
}

// ReceiptMetrics are the three slices of the composition chart.
var ReceiptMetrics = []Metric{CashSale, InstallmentCredit, OrthoReceipt}

// Composition returns the accumulated amount of each receipt metric.
func (r *Report) Composition() []float64 {
	out := make([]float64, len(ReceiptMetrics))
	for i, m := range ReceiptMetrics {
		out[i] = r.Accumulated.ByMetric[m].Amount
	}
	return out
}
