// Package scoring computes the weighted quality score of a pair candidate.
package scoring

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/domain/candidate"
	"github.com/sawpanic/pairsrun/internal/pixelspread"
)

// significanceLevel is the p-value at which a test stops earning credit
const significanceLevel = 0.05

// Breakdown holds each component's contribution. Total is their plain sum and
// is bounded by the sum of enabled weights, not normalized to 100.
type Breakdown struct {
	ZScore        float64 `json:"z_score"`
	PixelSpread   float64 `json:"pixel_spread"`
	Cointegration float64 `json:"cointegration"`
	ModelQuality  float64 `json:"model_quality"`
	Significance  float64 `json:"statistical_significance"`
	Bonus         float64 `json:"bonus"`
	Total         float64 `json:"total"`
}

// Parts returns the components keyed by name
func (b Breakdown) Parts() map[string]float64 {
	return map[string]float64{
		"z_score":                  b.ZScore,
		"pixel_spread":             b.PixelSpread,
		"cointegration":            b.Cointegration,
		"model_quality":            b.ModelQuality,
		"statistical_significance": b.Significance,
		"bonus":                    b.Bonus,
	}
}

// Score is pure: the same candidate and weights always give the same breakdown
func Score(c candidate.Candidate, w config.ScoringWeights) Breakdown {
	b := Breakdown{
		ZScore:        zScore(c, w.ZScore.Contribution()),
		PixelSpread:   pixelSpread(c, w.PixelSpread.Contribution()),
		Cointegration: cointegration(c, w.Cointegration.Contribution()),
		ModelQuality:  modelQuality(c, w.ModelQuality.Contribution()),
		Significance:  significance(c, w.Significance.Contribution()),
		Bonus:         bonus(c, w.Bonus.Contribution()),
	}
	b.Total = b.ZScore + b.PixelSpread + b.Cointegration + b.ModelQuality + b.Significance + b.Bonus
	return b
}

// ScoreAndLog scores c and writes the breakdown at debug level
func ScoreAndLog(c candidate.Candidate, w config.ScoringWeights) Breakdown {
	b := Score(c, w)
	log.Debug().
		Str("pair", c.Pair()).
		Float64("z_score", b.ZScore).
		Float64("pixel_spread", b.PixelSpread).
		Float64("cointegration", b.Cointegration).
		Float64("model_quality", b.ModelQuality).
		Float64("significance", b.Significance).
		Float64("bonus", b.Bonus).
		Float64("total", b.Total).
		Msg("Candidate scored")
	return b
}

func zScore(c candidate.Candidate, weight float64) float64 {
	z, ok := c.Z()
	if !ok || weight == 0 {
		return 0
	}
	return math.Min(math.Abs(z)*weight/5, weight)
}

func pixelSpread(c candidate.Candidate, weight float64) float64 {
	avg, ok := c.PixelSpread()
	if !ok || weight == 0 {
		return 0
	}
	return weight * pixelspread.Ratio(avg)
}

// cointegration splits the weight between Johansen and ADF when both are
// present; a single available test takes the whole weight
func cointegration(c candidate.Candidate, weight float64) float64 {
	if weight == 0 {
		return 0
	}
	jp, okJ := c.Johansen()
	ap, okA := c.ADF()

	var score float64
	switch {
	case okJ && okA:
		score = pCredit(jp)*weight/2 + pCredit(ap)*weight/2
	case okJ:
		score = pCredit(jp) * weight
	case okA:
		score = pCredit(ap) * weight
	}

	if stat, crit, ok := c.Trace(); ok && stat > crit {
		score += 0.05 * weight
	}
	return score
}

func modelQuality(c candidate.Candidate, weight float64) float64 {
	if weight == 0 {
		return 0
	}
	var score float64
	if r2, ok := c.RSquared(); ok {
		score += clamp01(r2) * 0.75 * weight
	}
	if ratio, ok := c.StabilityRatio(); ok {
		score += ratio * 0.25 * weight
	}
	return score
}

func significance(c candidate.Candidate, weight float64) float64 {
	if weight == 0 {
		return 0
	}
	var score float64
	if p, ok := c.CorrPValue(); ok {
		score += 0.5 * weight * pCredit(p)
	}
	if corr, ok := c.Corr(); ok {
		score += 0.5 * weight * math.Min(math.Abs(corr), 1)
	}
	return score
}

func bonus(c candidate.Candidate, weight float64) float64 {
	if weight == 0 {
		return 0
	}
	var factor float64
	if c.JohansenComplete() {
		factor += 0.3
	}
	if _, ok := c.StabilityRatio(); ok {
		factor += 0.2
	}
	if r2, ok := c.RSquared(); ok && r2 > 0.8 {
		factor += 0.3
	}
	return weight * factor
}

// pCredit maps a p-value to [0,1]: full credit at 0, none at or above 0.05
func pCredit(p float64) float64 {
	return clamp01((significanceLevel - p) / significanceLevel)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
