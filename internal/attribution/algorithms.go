// Package attribution computes per-touchpoint conversion credit. The
// algorithms are pure functions over an ordered touchpoint sequence; the
// calculator and service wire them to journeys, revenue and persistence.
package attribution

import (
	"math"

	"github.com/multibuzz/attribution-engine/internal/models"
)

const fullCredit = 1.0

// Share is one touchpoint's fraction of responsibility for a conversion.
type Share struct {
	SessionID string
	Channel   models.Channel
	Credit    float64
}

// algorithm distributes credit over an ordered touchpoint sequence. Every
// implementation returns an empty result for zero touchpoints.
type algorithm interface {
	Distribute(touchpoints []models.Touchpoint) []Share
}

// algorithmFor maps the closed algorithm enum to its implementation. Model
// validation guarantees the value is known, so the default branch is
// unreachable for persisted models.
func algorithmFor(a models.Algorithm, halfLifeDays float64) algorithm {
	switch a {
	case models.FirstTouch:
		return firstTouch{}
	case models.LastTouch:
		return lastTouch{}
	case models.Linear:
		return linear{}
	case models.TimeDecay:
		return timeDecay{halfLifeDays: halfLifeDays}
	case models.UShaped:
		return uShaped{}
	case models.WShaped:
		return wShaped{}
	case models.Participation:
		return participation{}
	default:
		return nil
	}
}

func share(tp models.Touchpoint, credit float64) Share {
	return Share{SessionID: tp.SessionID, Channel: tp.Channel, Credit: credit}
}

type firstTouch struct{}

func (firstTouch) Distribute(tps []models.Touchpoint) []Share {
	if len(tps) == 0 {
		return nil
	}
	return []Share{share(tps[0], fullCredit)}
}

type lastTouch struct{}

func (lastTouch) Distribute(tps []models.Touchpoint) []Share {
	if len(tps) == 0 {
		return nil
	}
	return []Share{share(tps[len(tps)-1], fullCredit)}
}

type linear struct{}

func (linear) Distribute(tps []models.Touchpoint) []Share {
	if len(tps) == 0 {
		return nil
	}
	credit := fullCredit / float64(len(tps))
	out := make([]Share, len(tps))
	for i, tp := range tps {
		out[i] = share(tp, credit)
	}
	return out
}

// timeDecay weights each touchpoint by 2^(-days_before/half_life) and
// normalizes the weights to sum to 1. The decay reference is the last
// touchpoint's own timestamp, so the most recent touchpoint always carries
// weight 1 and a single-touchpoint journey decays to zero days regardless
// of how long before the conversion it occurred.
type timeDecay struct {
	halfLifeDays float64
}

func (a timeDecay) Distribute(tps []models.Touchpoint) []Share {
	if len(tps) == 0 {
		return nil
	}

	weights := make([]float64, len(tps))
	total := 0.0
	reference := tps[len(tps)-1].OccurredAt
	for i, tp := range tps {
		days := 0.0
		if len(tps) > 1 {
			days = reference.Sub(tp.OccurredAt).Hours() / 24
		}
		weights[i] = math.Pow(2, -days/a.halfLifeDays)
		total += weights[i]
	}

	out := make([]Share, len(tps))
	for i, tp := range tps {
		out[i] = share(tp, weights[i]/total)
	}
	return out
}

type uShaped struct{}

func (uShaped) Distribute(tps []models.Touchpoint) []Share {
	switch len(tps) {
	case 0:
		return nil
	case 1:
		return []Share{share(tps[0], fullCredit)}
	case 2:
		return []Share{share(tps[0], 0.5), share(tps[1], 0.5)}
	}

	middleCredit := 0.2 / float64(len(tps)-2)
	out := make([]Share, len(tps))
	out[0] = share(tps[0], 0.4)
	for i := 1; i < len(tps)-1; i++ {
		out[i] = share(tps[i], middleCredit)
	}
	out[len(tps)-1] = share(tps[len(tps)-1], 0.4)
	return out
}

// wShaped gives 0.3 to the first, middle (n/2 integer division) and last
// touchpoints and splits the remaining 0.1 across the others. Sizes 1 to 3
// are explicit cases because the key positions collide there.
type wShaped struct{}

func (wShaped) Distribute(tps []models.Touchpoint) []Share {
	n := len(tps)
	switch n {
	case 0:
		return nil
	case 1:
		return []Share{share(tps[0], fullCredit)}
	case 2:
		return []Share{share(tps[0], 0.5), share(tps[1], 0.5)}
	case 3:
		third := fullCredit / 3.0
		return []Share{share(tps[0], third), share(tps[1], third), share(tps[2], third)}
	}

	middle := n / 2
	otherCredit := 0.1 / float64(n-3)
	out := make([]Share, n)
	for i, tp := range tps {
		if i == 0 || i == middle || i == n-1 {
			out[i] = share(tp, 0.3)
		} else {
			out[i] = share(tp, otherCredit)
		}
	}
	return out
}

// participation gives every distinct channel full credit, attributed to the
// session of that channel's first occurrence. Credits can sum past 1.
type participation struct{}

func (participation) Distribute(tps []models.Touchpoint) []Share {
	if len(tps) == 0 {
		return nil
	}

	seen := make(map[models.Channel]bool, len(tps))
	var out []Share
	for _, tp := range tps {
		if seen[tp.Channel] {
			continue
		}
		seen[tp.Channel] = true
		out = append(out, share(tp, fullCredit))
	}
	return out
}
