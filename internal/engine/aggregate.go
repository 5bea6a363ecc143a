package engine

import (
	"github.com/assetpulse/assetpulse/internal/model"
)

// ChannelResult is the reduced verdict for one channel across a batch.
// Categorical channels carry the majority-vote label and the vote counts;
// numerical channels carry the mean and observed range. A channel whose every
// reading was skipped, incomplete or errored is Unavailable — never NaN.
type ChannelResult struct {
	Channel     string
	Kind        model.Kind
	Unavailable bool

	// Categorical fields.
	Label string
	Votes map[string]int

	// Numerical fields.
	Mean float64
	Min  float64
	Max  float64

	// Samples is the number of predictions that contributed.
	Samples int
}

// aggregate reduces one channel's usable predictions, given in batch order,
// into a single ChannelResult. It is a total function: any input — including
// an empty one — produces a result.
//
// Categorical reduction is majority voting. Vote counts are independent of
// input order; only the tie-break depends on it: among labels tied at the
// maximum count, the one whose first vote appears earliest in the batch wins.
// The scan below never consults map iteration order for that decision.
//
// Numerical reduction is the arithmetic mean (sum over count) of the usable
// values.
func aggregate(channel string, kind model.Kind, preds []model.Prediction) ChannelResult {
	res := ChannelResult{Channel: channel, Kind: kind, Samples: len(preds)}
	if len(preds) == 0 {
		res.Unavailable = true
		return res
	}

	if kind == model.KindCategorical {
		votes := make(map[string]int, 4)
		firstSeen := make(map[string]int, 4)
		for i, p := range preds {
			if _, ok := firstSeen[p.Label]; !ok {
				firstSeen[p.Label] = i
			}
			votes[p.Label]++
		}
		best := ""
		for label, n := range votes {
			switch {
			case best == "":
				best = label
			case n > votes[best]:
				best = label
			case n == votes[best] && firstSeen[label] < firstSeen[best]:
				best = label
			}
		}
		res.Label = best
		res.Votes = votes
		return res
	}

	sum := 0.0
	res.Min = preds[0].Value
	res.Max = preds[0].Value
	for _, p := range preds {
		sum += p.Value
		if p.Value < res.Min {
			res.Min = p.Value
		}
		if p.Value > res.Max {
			res.Max = p.Value
		}
	}
	res.Mean = sum / float64(len(preds))
	return res
}
