package engine

import (
	"encoding/json"
	"time"

	"github.com/assetpulse/assetpulse/internal/model"
)

// Report is the final output for one batch: one aggregated verdict per
// channel, an overall status, and diagnostics describing input quality.
type Report struct {
	ID            string             `json:"id"`
	State         State              `json:"state"`
	OverallStatus string             `json:"overall_status"`
	Predictions   map[string]Verdict `json:"predictions"`
	DataQuality   DataQuality        `json:"data_quality"`
	Analysis      Analysis           `json:"complete_health_analysis"`
	ReadingCount  int                `json:"reading_count"`
	ReceivedAt    time.Time          `json:"received_at"`
	CompletedAt   time.Time          `json:"completed_at"`

	// Results holds the full per-channel verdicts for in-process consumers
	// (alerting, history). The JSON surface exposes them through Predictions
	// and Analysis instead.
	Results map[string]ChannelResult `json:"-"`
}

// Verdict is the compact per-channel value in the predictions map: the
// majority label for categorical channels, the mean for numerical ones, or
// the "unavailable" sentinel.
type Verdict struct {
	result ChannelResult
}

// MarshalJSON encodes the verdict as a bare label string, a bare number, or
// the string "unavailable".
func (v Verdict) MarshalJSON() ([]byte, error) {
	switch {
	case v.result.Unavailable:
		return json.Marshal(StatusUnavailable)
	case v.result.Kind == model.KindCategorical:
		return json.Marshal(v.result.Label)
	default:
		return json.Marshal(v.result.Mean)
	}
}

// DataQuality counts, per channel, how many readings contributed and how many
// were lost to dropout, incomplete feature vectors, or inference failures.
type DataQuality struct {
	ReadingCount int                       `json:"reading_count"`
	Channels     map[string]ChannelQuality `json:"channels"`
}

// ChannelQuality is the per-channel input quality breakdown.
type ChannelQuality struct {
	// Used is the number of readings whose prediction fed the aggregation.
	Used int `json:"used"`

	// Skipped counts readings where every contributing field was null.
	Skipped int `json:"skipped"`

	// Incomplete counts readings where some but not all contributing fields
	// were null — the model's fixed vector could not be filled.
	Incomplete int `json:"incomplete"`

	// Errors counts per-reading inference failures.
	Errors int `json:"errors"`
}

// NullRate returns the percentage of readings that contributed nothing
// because of missing fields (skipped or incomplete).
func (q ChannelQuality) NullRate(readings int) float64 {
	if readings == 0 {
		return 0
	}
	return float64(q.Skipped+q.Incomplete) / float64(readings) * 100
}

// Analysis is the rich per-channel breakdown: vote counts for categorical
// channels, mean and range for numerical ones.
type Analysis struct {
	Channels map[string]ChannelAnalysis `json:"channels"`
}

// ChannelAnalysis describes one channel's aggregation in full.
type ChannelAnalysis struct {
	Kind    model.Kind     `json:"kind"`
	Status  string         `json:"status"` // "ok" | "unavailable"
	Votes   map[string]int `json:"votes,omitempty"`
	Mean    float64        `json:"mean"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Samples int            `json:"samples"`
}

// buildReport assembles the response surface from the per-channel results.
func buildReport(id string, receivedAt time.Time, readings int, results []ChannelResult, overall string, quality map[string]ChannelQuality) *Report {
	rep := &Report{
		ID:            id,
		State:         StateComplete,
		OverallStatus: overall,
		Predictions:   make(map[string]Verdict, len(results)),
		DataQuality:   DataQuality{ReadingCount: readings, Channels: quality},
		Analysis:      Analysis{Channels: make(map[string]ChannelAnalysis, len(results))},
		ReadingCount:  readings,
		ReceivedAt:    receivedAt,
		CompletedAt:   time.Now().UTC(),
		Results:       make(map[string]ChannelResult, len(results)),
	}
	for _, res := range results {
		rep.Results[res.Channel] = res
		rep.Predictions[res.Channel] = Verdict{result: res}

		status := "ok"
		if res.Unavailable {
			status = StatusUnavailable
		}
		rep.Analysis.Channels[res.Channel] = ChannelAnalysis{
			Kind:    res.Kind,
			Status:  status,
			Votes:   res.Votes,
			Mean:    res.Mean,
			Min:     res.Min,
			Max:     res.Max,
			Samples: res.Samples,
		}
	}
	return rep
}
