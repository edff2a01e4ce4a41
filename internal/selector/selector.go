// Package selector ranks analyzed pair candidates and confirms the best ones
// with a fresh single-pair evaluation.
package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/analyzer"
	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/domain/candidate"
	"github.com/sawpanic/pairsrun/internal/filter"
	"github.com/sawpanic/pairsrun/internal/marketdata"
	"github.com/sawpanic/pairsrun/internal/pixelspread"
	"github.com/sawpanic/pairsrun/internal/scoring"
)

// Request is one selection pass over a candidate batch
type Request struct {
	Candidates []candidate.Candidate
	Target     int
	// OpenPairs holds pair keys that already have an active position
	OpenPairs map[string]struct{}
	// Candles by ticker; used for pixel spread and forwarded on re-evaluation
	Candles map[string][]marketdata.Candle
	Options analyzer.Options
}

// Selection is an accepted pair. Candidate holds the refreshed statistics,
// Breakdown the batch score that ranked it.
type Selection struct {
	Candidate candidate.Candidate
	Breakdown scoring.Breakdown
}

// Score is the total the pair was ranked by
func (s Selection) Score() float64 { return s.Breakdown.Total }

// Discard is a ranked pair dropped after re-evaluation
type Discard struct {
	Candidate candidate.Candidate
	Reason    string
}

// Result reports every candidate's fate
type Result struct {
	Selected  []Selection
	Rejected  []filter.Rejection
	Excluded  []candidate.Candidate
	Discarded []Discard
}

// Observer receives selection outcomes
type Observer interface {
	CandidateRejected(reason string)
	CandidateScored(total float64)
	PositionCreated()
}

type noopObserver struct{}

func (noopObserver) CandidateRejected(string) {}
func (noopObserver) CandidateScored(float64)  {}
func (noopObserver) PositionCreated()         {}

// Selector picks the top pairs from a batch
type Selector struct {
	analyzer analyzer.Client
	settings config.Provider
	observer Observer
}

// New returns a selector; observer may be nil
func New(client analyzer.Client, settings config.Provider, observer Observer) *Selector {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Selector{analyzer: client, settings: settings, observer: observer}
}

// Select filters, scores and ranks req.Candidates, then walks the ranking
// re-evaluating each pair until req.Target pairs are accepted or the ranking
// is exhausted. A pair whose re-evaluation fails or comes back with z <= 0 is
// discarded and the next one is tried.
func (s *Selector) Select(ctx context.Context, req Request) (Result, error) {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return s.selectWith(ctx, settings, req)
}

type ranked struct {
	c candidate.Candidate
	b scoring.Breakdown
}

func (s *Selector) selectWith(ctx context.Context, settings config.Settings, req Request) (Result, error) {
	var res Result

	pool := make([]candidate.Candidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if _, open := req.OpenPairs[c.PairKey()]; open {
			res.Excluded = append(res.Excluded, c)
			continue
		}
		pool = append(pool, c)
	}

	filtered := filter.Apply(pool)
	res.Rejected = filtered.Rejected
	for _, r := range filtered.Rejected {
		s.observer.CandidateRejected(string(r.Class))
	}

	ranking := make([]ranked, 0, len(filtered.Accepted))
	seen := make(map[string]struct{}, len(filtered.Accepted))
	for _, c := range filtered.Accepted {
		if _, dup := seen[c.PairKey()]; dup {
			continue
		}
		seen[c.PairKey()] = struct{}{}

		c = attachPixelSpread(c, req.Candles, settings.Selection.PixelHistory)
		b := scoring.ScoreAndLog(c, settings.Scoring)
		s.observer.CandidateScored(b.Total)
		ranking = append(ranking, ranked{c: c, b: b})
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].b.Total != ranking[j].b.Total {
			return ranking[i].b.Total > ranking[j].b.Total
		}
		return ranking[i].c.PairKey() < ranking[j].c.PairKey()
	})

	for _, r := range ranking {
		if len(res.Selected) >= req.Target {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fresh, err := s.analyzer.AnalyzePair(ctx, analyzer.PairRequest{
			LongTicker:  r.c.LongTicker,
			ShortTicker: r.c.ShortTicker,
			Long:        req.Candles[r.c.LongTicker],
			Short:       req.Candles[r.c.ShortTicker],
			Options:     req.Options,
		})
		if err != nil {
			log.Warn().Err(err).
				Str("pair", r.c.Pair()).
				Float64("score", r.b.Total).
				Msg("Re-evaluation failed, trying next candidate")
			res.Discarded = append(res.Discarded, Discard{Candidate: r.c, Reason: "re-evaluation failed: " + err.Error()})
			s.observer.CandidateRejected("reevaluation_failed")
			continue
		}

		z, ok := fresh.Z()
		if !ok || z <= 0 {
			log.Info().
				Str("pair", r.c.Pair()).
				Float64("batch_z", zOf(r.c)).
				Float64("fresh_z", z).
				Bool("z_present", ok).
				Msg("Re-evaluated z no longer positive, discarding")
			res.Discarded = append(res.Discarded, Discard{Candidate: fresh, Reason: fmt.Sprintf("re-evaluated z %.4f is not positive", z)})
			s.observer.CandidateRejected("reevaluated_z_non_positive")
			continue
		}

		if fresh.AvgPixelSpread == nil {
			fresh.AvgPixelSpread = r.c.AvgPixelSpread
		}
		res.Selected = append(res.Selected, Selection{Candidate: fresh, Breakdown: r.b})
		log.Info().
			Str("pair", fresh.Pair()).
			Float64("score", r.b.Total).
			Float64("z", z).
			Int("rank", len(res.Selected)).
			Msg("Pair selected")
	}

	return res, nil
}

// attachPixelSpread sets AvgPixelSpread from the last window z samples when
// both legs have candles. Failures leave the candidate unchanged.
func attachPixelSpread(c candidate.Candidate, candles map[string][]marketdata.Candle, window int) candidate.Candidate {
	if c.AvgPixelSpread != nil {
		return c
	}
	long, short := candles[c.LongTicker], candles[c.ShortTicker]
	if len(long) == 0 || len(short) == 0 || len(c.ZScoreHistory) == 0 {
		return c
	}
	z := c.ZScoreHistory
	if window > 0 && len(z) > window {
		z = z[len(z)-window:]
	}
	samples, err := pixelspread.Compute(z, long, short)
	if err != nil {
		log.Debug().Err(err).Str("pair", c.Pair()).Msg("Pixel spread unavailable")
		return c
	}
	c.AvgPixelSpread = candidate.Float(pixelspread.Summarize(samples).Average)
	return c
}

func zOf(c candidate.Candidate) float64 {
	z, _ := c.Z()
	return z
}
