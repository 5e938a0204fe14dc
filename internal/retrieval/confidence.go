package retrieval

// Scorer turns a hit list into a retrieval confidence in [0,1]:
//
//	min(1, clamp(max(score)/ScoreDivisor) + min(HitBonusCap, HitBonusStep*len(hits)))
type Scorer struct {
	ScoreDivisor float64
	HitBonusStep float64
	HitBonusCap  float64
}

// DefaultScorer returns the stock normalization constants.
func DefaultScorer() Scorer {
	return Scorer{ScoreDivisor: 5, HitBonusStep: 0.05, HitBonusCap: 0.2}
}

// Confidence is 0 for no hits.
func (s Scorer) Confidence(hits []Hit) float64 {
	if len(hits) == 0 {
		return 0
	}

	top := hits[0].Score
	for _, h := range hits[1:] {
		if h.Score > top {
			top = h.Score
		}
	}

	div := s.ScoreDivisor
	if div <= 0 {
		div = DefaultScorer().ScoreDivisor
	}
	base := clamp01(top / div)

	bonus := s.HitBonusStep * float64(len(hits))
	if bonus > s.HitBonusCap {
		bonus = s.HitBonusCap
	}

	return clamp01(base + bonus)
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0: // NaN or negative
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
