package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"smiledash/internal/core"
)

// ReportExtractedMessage announces a freshly extracted report. It carries
// the month summary only; consumers that need the daily series fetch the
// JSON report endpoint.
type ReportExtractedMessage struct {
	ID           string             `json:"id"`
	Source       string             `json:"source"`
	Month        string             `json:"month"`
	Fallback     bool               `json:"fallback"`
	WarningCount int                `json:"warning_count"`
	Targets      map[string]float64 `json:"targets"`
	TargetTotal  float64            `json:"target_total"`
	Accumulated  map[string]float64 `json:"accumulated"`
	FetchedAt    time.Time          `json:"fetched_at"`
	Timestamp    time.Time          `json:"timestamp"`
}

// NewReportExtractedMessage summarises r.
func NewReportExtractedMessage(r *core.Report) *ReportExtractedMessage {
	msg := &ReportExtractedMessage{
		ID:           uuid.NewString(),
		Source:       r.Source,
		Month:        r.Month,
		Fallback:     r.Fallback,
		WarningCount: len(r.Warnings),
		Targets:      make(map[string]float64, core.MetricCount),
		TargetTotal:  r.Targets.Total.Amount,
		Accumulated:  make(map[string]float64, core.MetricCount),
		FetchedAt:    r.FetchedAt,
		Timestamp:    time.Now(),
	}
	for _, m := range core.Metrics {
		msg.Targets[m.Key()] = r.Targets.ByMetric[m].Amount
		msg.Accumulated[m.Key()] = r.Accumulated.ByMetric[m].Amount
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *ReportExtractedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportExtractedMessageFromJSON decodes a message.
func ReportExtractedMessageFromJSON(data []byte) (*ReportExtractedMessage, error) {
	var msg ReportExtractedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
