package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/analyzer"
	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/events"
	"github.com/sawpanic/pairsrun/internal/infrastructure/async"
	"github.com/sawpanic/pairsrun/internal/marketdata"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

// ErrEmptyUniverse is returned when no tickers are configured for selection
var ErrEmptyUniverse = errors.New("selection universe is empty")

// RunResult summarizes one pipeline pass
type RunResult struct {
	Created []*position.Record
	// Raced counts selections skipped because the pair became active meanwhile
	Raced     int
	Selection Result
}

// Pipeline runs a complete selection pass and opens SELECTED records
type Pipeline struct {
	selector  *Selector
	analyzer  analyzer.Client
	source    marketdata.Source
	store     *persistence.Store
	settings  config.Provider
	publisher events.Publisher
	fetchers  *async.WorkerPool
	now       func() time.Time
	newID     func() string
}

// universeFetchers bounds concurrent candle requests during a selection pass
const universeFetchers = 8

// NewPipeline wires a pipeline; publisher may be nil
func NewPipeline(client analyzer.Client, source marketdata.Source, store *persistence.Store,
	settings config.Provider, publisher events.Publisher, observer Observer) *Pipeline {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Pipeline{
		selector:  New(client, settings, observer),
		analyzer:  client,
		source:    source,
		store:     store,
		settings:  settings,
		publisher: publisher,
		fetchers:  async.NewWorkerPool(universeFetchers),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Run reads settings, skips pairs already active, analyzes the configured
// universe and stores each accepted pair as SELECTED. The active-pair check
// is repeated atomically at insert time, so a pair opened concurrently by
// another pass is skipped rather than duplicated.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	var out RunResult

	settings, err := p.settings.Current(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to read settings: %w", err)
	}
	sel := settings.Selection
	if len(sel.Universe) < 2 {
		return out, ErrEmptyUniverse
	}

	open, err := p.store.Repo().ActivePairKeys(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to list active pairs: %w", err)
	}

	target := sel.TargetCount
	if sel.MaxOpen > 0 && len(open)+target > sel.MaxOpen {
		target = sel.MaxOpen - len(open)
	}
	if target <= 0 {
		log.Info().Int("active", len(open)).Int("max_open", sel.MaxOpen).Msg("No free position slots, skipping selection")
		return out, nil
	}

	candles := p.fetchUniverse(ctx, sel.Universe, sel.CandleLimit)
	if len(candles) < 2 {
		return out, fmt.Errorf("candles available for %d of %d tickers: %w", len(candles), len(sel.Universe), marketdata.ErrInsufficientCandles)
	}
	opts, err := analyzer.NewOptions(candles, sel.CandleLimit)
	if err != nil {
		return out, err
	}

	batch, err := p.analyzer.AnalyzeBatch(ctx, analyzer.BatchRequest{Candles: candles, Options: opts})
	if err != nil {
		return out, fmt.Errorf("batch analysis failed: %w", err)
	}
	log.Info().Int("candidates", len(batch)).Int("tickers", len(candles)).Msg("Batch analysis complete")

	res, err := p.selector.selectWith(ctx, settings, Request{
		Candidates: batch,
		Target:     target,
		OpenPairs:  open,
		Candles:    candles,
		Options:    opts,
	})
	out.Selection = res
	if err != nil {
		return out, err
	}

	params := settings.Params()
	for _, s := range res.Selected {
		c := s.Candidate
		rec := position.NewSelected(p.newID(), c.LongTicker, c.ShortTicker, c.Snapshot(), s.Score(), params, p.now())

		if err := p.store.Create(ctx, rec); err != nil {
			if errors.Is(err, persistence.ErrPairActive) {
				out.Raced++
				log.Info().Str("pair", rec.Pair()).Msg("Pair became active concurrently, skipped")
				continue
			}
			return out, fmt.Errorf("failed to store selection %s: %w", rec.Pair(), err)
		}
		out.Created = append(out.Created, rec)
		p.selector.observer.PositionCreated()

		if err := p.publisher.Publish(ctx, events.New(events.PositionSelected, rec, rec.CreatedAt)); err != nil {
			log.Warn().Err(err).Str("position_id", rec.ID).Msg("Failed to publish selection event")
		}
	}

	log.Info().
		Int("selected", len(out.Created)).
		Int("raced", out.Raced).
		Int("rejected", len(res.Rejected)).
		Int("excluded", len(res.Excluded)).
		Int("discarded", len(res.Discarded)).
		Msg("Selection pass finished")
	return out, nil
}

func (p *Pipeline) fetchUniverse(ctx context.Context, tickers []string, limit int) map[string][]marketdata.Candle {
	fetched := make([][]marketdata.Candle, len(tickers))
	errs := p.fetchers.Run(ctx, len(tickers), func(ctx context.Context, i int) error {
		c, err := p.source.Candles(ctx, tickers[i], limit)
		fetched[i] = c
		return err
	})

	out := make(map[string][]marketdata.Candle, len(tickers))
	for i, t := range tickers {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Str("ticker", t).Msg("Candles unavailable, ticker left out")
			continue
		}
		c := fetched[i]
		if len(c) < 2 {
			log.Warn().Str("ticker", t).Int("candles", len(c)).Msg("Too few candles, ticker left out")
			continue
		}
		marketdata.SortByTime(c)
		out[t] = c
	}
	return out
}
