package engine

import (
	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/model"
)

// StatusUnavailable is the overall status when no channel produced a verdict.
const StatusUnavailable = "unavailable"

// Band maps means below an upper bound to a label. A nil bound catches all.
type Band struct {
	Label string
	Below *float64
}

// Policy fixes how per-channel verdicts roll up into the overall status.
// The severity order is an explicit total order over labels, least severe
// first — it is configuration, never inferred from label text.
type Policy struct {
	// SeverityOrder lists labels least severe first. A label not listed
	// ranks above everything listed, so an unexpected model label surfaces
	// as the overall status instead of being hidden.
	SeverityOrder []string

	// Bands maps a numerical channel to ordered mean-value bands. Numerical
	// channels without bands do not feed the overall status.
	Bands map[string][]Band
}

// DefaultPolicy returns the healthy < degraded < critical ordering with no
// numeric bands.
func DefaultPolicy() Policy {
	return Policy{SeverityOrder: append([]string(nil), config.DefaultSeverityOrder...)}
}

// PolicyFrom converts the severity section of the service config.
func PolicyFrom(cfg config.SeverityConfig) Policy {
	p := Policy{SeverityOrder: append([]string(nil), cfg.Order...)}
	if len(cfg.Bands) > 0 {
		p.Bands = make(map[string][]Band, len(cfg.Bands))
		for ch, bands := range cfg.Bands {
			out := make([]Band, len(bands))
			for i, b := range bands {
				out[i] = Band{Label: b.Label, Below: b.Below}
			}
			p.Bands[ch] = out
		}
	}
	return p
}

// rank returns a label's position in the severity order. Unknown labels rank
// above every configured one.
func (p Policy) rank(label string) int {
	for i, l := range p.SeverityOrder {
		if l == label {
			return i
		}
	}
	return len(p.SeverityOrder)
}

// bandLabel maps a numerical channel's mean to a label, or "" when the
// channel has no bands configured.
func (p Policy) bandLabel(channel string, mean float64) string {
	bands := p.Bands[channel]
	for _, b := range bands {
		if b.Below == nil || mean < *b.Below {
			return b.Label
		}
	}
	if len(bands) > 0 {
		return bands[len(bands)-1].Label
	}
	return ""
}

// Summarize derives the overall status from per-channel results: the most
// severe label any channel reports wins. It is a pure function of its inputs.
//
// Every channel unavailable yields StatusUnavailable. So does the degenerate
// configuration where no available channel maps to a label at all (all
// numerical, no bands) — there is no severity evidence to report.
func Summarize(results []ChannelResult, pol Policy) string {
	overall := StatusUnavailable
	bestRank := -1
	for _, r := range results {
		if r.Unavailable {
			continue
		}
		label := r.Label
		if r.Kind == model.KindNumerical {
			label = pol.bandLabel(r.Channel, r.Mean)
			if label == "" {
				continue
			}
		}
		if rank := pol.rank(label); rank > bestRank {
			bestRank = rank
			overall = label
		}
	}
	return overall
}
