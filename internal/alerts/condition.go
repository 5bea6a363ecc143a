package alerts

import (
	"strconv"
	"strings"

	"github.com/assetpulse/assetpulse/internal/engine"
	"github.com/assetpulse/assetpulse/internal/model"
)

// evalCondition evaluates a rule condition string against a completed report.
//
// Supported expressions (field operator value):
//
//	overall == critical
//	channel:vibration == critical
//	channel:temperature == unavailable
//	mean:ultra_sound > 80
//	null_rate:vibration > 50
//	error_rate:temperature > 10
//	reading_count < 10
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, rep *engine.Report) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch {
	case field == "overall":
		if op == "==" {
			return rep.OverallStatus == rhs, 0
		}
		return false, 0

	case strings.HasPrefix(field, "channel:"):
		if op != "==" {
			return false, 0
		}
		res, ok := rep.Results[strings.TrimPrefix(field, "channel:")]
		if !ok {
			return false, 0
		}
		if rhs == engine.StatusUnavailable {
			return res.Unavailable, 0
		}
		return !res.Unavailable && res.Kind == model.KindCategorical && res.Label == rhs, 0

	default:
		v, ok := numericField(field, rep)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the report.
func numericField(field string, rep *engine.Report) (float64, bool) {
	switch {
	case field == "reading_count":
		return float64(rep.ReadingCount), true

	case strings.HasPrefix(field, "mean:"):
		res, ok := rep.Results[strings.TrimPrefix(field, "mean:")]
		if !ok || res.Unavailable || res.Kind != model.KindNumerical {
			return 0, false
		}
		return res.Mean, true

	case strings.HasPrefix(field, "null_rate:"):
		q, ok := rep.DataQuality.Channels[strings.TrimPrefix(field, "null_rate:")]
		if !ok {
			return 0, false
		}
		return q.NullRate(rep.ReadingCount), true

	case strings.HasPrefix(field, "error_rate:"):
		q, ok := rep.DataQuality.Channels[strings.TrimPrefix(field, "error_rate:")]
		if !ok || rep.ReadingCount == 0 {
			return 0, false
		}
		return float64(q.Errors) / float64(rep.ReadingCount) * 100, true

	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
