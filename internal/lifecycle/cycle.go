package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/pairsrun/internal/analyzer"
	"github.com/sawpanic/pairsrun/internal/domain/candidate"
	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/events"
	"github.com/sawpanic/pairsrun/internal/exchange"
	"github.com/sawpanic/pairsrun/internal/exits"
	"github.com/sawpanic/pairsrun/internal/extremum"
	"github.com/sawpanic/pairsrun/internal/marketdata"
	"github.com/sawpanic/pairsrun/internal/persistence"
	"github.com/sawpanic/pairsrun/internal/pixelspread"
)

const cycleFields = persistence.FieldPrices | persistence.FieldCurrentStats | persistence.FieldProfit |
	persistence.FieldExtremums | persistence.FieldZHistory | persistence.FieldPixelHistory

var hundred = decimal.NewFromInt(100)

// CycleResult is the outcome of one update cycle
type CycleResult struct {
	Record *position.Record
	Exit   exits.ExitResult
	// Skipped is set when the cycle wrote nothing; SkipReason says why
	Skipped    bool
	SkipReason string
}

// RunCycle refreshes one TRADING position: prices and P&L from the exchange,
// statistics from the analyzer, one z-score and pixel-spread sample, the
// extremums, and finally the exit rules under the current settings. A pending
// manual close request wins over everything else. When either leg has no open
// position on the exchange, or the analyzer omits the z-score or correlation,
// the cycle is skipped. A cycle that loses its write to a concurrent close or
// ERROR returns ErrInvalidTransition and changes nothing.
func (m *Manager) RunCycle(ctx context.Context, id string) (CycleResult, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return CycleResult{}, err
	}
	if rec.Status != position.StatusTrading {
		return CycleResult{}, fmt.Errorf("update %s in status %s: %w", id, rec.Status, ErrInvalidTransition)
	}

	if rec.CloseRequested {
		saved, err := m.closeManual(ctx, rec, 0)
		if err != nil {
			return CycleResult{}, err
		}
		return CycleResult{Record: saved, Exit: exits.ExitResult{ShouldExit: true, ExitReason: exits.Manual}}, nil
	}

	settings, err := m.settings.Current(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("failed to read settings: %w", err)
	}

	longPos, err := m.gateway.OpenPosition(ctx, rec.LongTicker)
	if err != nil {
		return CycleResult{}, fmt.Errorf("open position %s: %w", rec.LongTicker, err)
	}
	shortPos, err := m.gateway.OpenPosition(ctx, rec.ShortTicker)
	if err != nil {
		return CycleResult{}, fmt.Errorf("open position %s: %w", rec.ShortTicker, err)
	}
	if longPos == nil || shortPos == nil {
		reason := "long leg has no open position"
		if longPos != nil {
			reason = "short leg has no open position"
		}
		log.Warn().
			Str("position_id", id).
			Str("pair", rec.Pair()).
			Str("long_ticker", rec.LongTicker).
			Str("short_ticker", rec.ShortTicker).
			Msg("Skipping update: " + reason)
		return CycleResult{Record: rec, Skipped: true, SkipReason: reason}, nil
	}

	limit := settings.Selection.CandleLimit
	candles, err := marketdata.FetchPair(ctx, m.source, rec.LongTicker, rec.ShortTicker, limit)
	if err != nil {
		return CycleResult{}, fmt.Errorf("candles for %s: %w", rec.Pair(), err)
	}
	long, short := candles[rec.LongTicker], candles[rec.ShortTicker]
	opts, err := analyzer.NewOptions(candles, limit)
	if err != nil {
		return CycleResult{}, err
	}
	fresh, err := m.analyzer.AnalyzePair(ctx, analyzer.PairRequest{
		LongTicker:  rec.LongTicker,
		ShortTicker: rec.ShortTicker,
		Long:        long,
		Short:       short,
		Options:     opts,
	})
	if err != nil {
		return CycleResult{}, fmt.Errorf("analyze %s: %w", rec.Pair(), err)
	}
	if reason := missingStats(fresh); reason != "" {
		log.Warn().
			Str("position_id", id).
			Str("pair", rec.Pair()).
			Str("long_ticker", rec.LongTicker).
			Str("short_ticker", rec.ShortTicker).
			Msg("Skipping update: " + reason)
		return CycleResult{Record: rec, Skipped: true, SkipReason: reason}, nil
	}

	now := m.now()
	rec.CurrentLongPrice = longPos.CurrentPrice
	rec.CurrentShortPrice = shortPos.CurrentPrice
	rec.LongReturnPercent, rec.ShortReturnPercent = legReturns(rec)
	rec.ProfitPercent = profitPercent(longPos, shortPos, rec.LongReturnPercent, rec.ShortReturnPercent)
	rec.CurrentStats = fresh.Snapshot()
	rec.UpdatedAt = now

	if z, ok := fresh.Z(); ok {
		rec.ZScoreHistory = append(rec.ZScoreHistory, position.ZScorePoint{Time: now, Value: z})
	}
	if px, ok := currentPixelSpread(fresh.ZScoreHistory, long, short, settings.Selection.PixelHistory); ok {
		rec.PixelSpreadHistory = append(rec.PixelSpreadHistory, position.PixelSpreadPoint{Time: now, Pixels: px})
	}

	rec.Extremums = extremum.Track(rec.Extremums, extremum.Observation{
		ProfitPercent:      rec.ProfitPercent,
		ZScore:             rec.CurrentStats.ZScore,
		Correlation:        rec.CurrentStats.Correlation,
		LongReturnPercent:  rec.LongReturnPercent,
		ShortReturnPercent: rec.ShortReturnPercent,
		ElapsedMinutes:     rec.ElapsedMinutes(now),
	})

	exit := exits.EvaluateExit(exits.InputsFromRecord(rec, now), settings.Exits)
	if exit.ShouldExit {
		saved, err := m.close(ctx, rec, exit, cycleFields)
		if err != nil {
			return CycleResult{}, err
		}
		return CycleResult{Record: saved, Exit: exit}, nil
	}

	saved, err := m.save(ctx, rec, position.StatusTrading, cycleFields)
	if err != nil {
		return CycleResult{}, err
	}
	log.Debug().
		Str("position_id", id).
		Str("pair", saved.Pair()).
		Float64("profit_pct", saved.ProfitPercent).
		Float64("z", saved.CurrentStats.ZScore).
		Int64("version", saved.Version).
		Msg("Position updated")
	m.publish(ctx, events.PositionUpdated, saved)
	return CycleResult{Record: saved, Exit: exit}, nil
}

// missingStats names the first statistic a refreshed analysis lacks
func missingStats(c candidate.Candidate) string {
	if _, ok := c.Z(); !ok {
		return "analyzer returned no z-score"
	}
	if _, ok := c.Corr(); !ok {
		return "analyzer returned no correlation"
	}
	return ""
}

// legReturns gives the long leg's gain and the short leg's gain (a falling
// price is profit) in percent of the entry price
func legReturns(rec *position.Record) (float64, float64) {
	return pctChange(rec.EntryLongPrice, rec.CurrentLongPrice).InexactFloat64(),
		pctChange(rec.EntryShortPrice, rec.CurrentShortPrice).Neg().InexactFloat64()
}

func pctChange(entry, current float64) decimal.Decimal {
	e := decimal.NewFromFloat(entry)
	if e.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(current).Sub(e).Div(e).Mul(hundred)
}

// profitPercent is net unrealized P&L after fees over the allocated capital
// of both legs. Without allocation data it falls back to the mean leg return.
func profitPercent(long, short *exchange.OpenPosition, longRet, shortRet float64) float64 {
	alloc := decimal.NewFromFloat(long.Allocated).Add(decimal.NewFromFloat(short.Allocated))
	if !alloc.IsPositive() {
		return decimal.NewFromFloat(longRet).Add(decimal.NewFromFloat(shortRet)).Div(decimal.NewFromInt(2)).InexactFloat64()
	}
	net := decimal.NewFromFloat(long.UnrealizedPnL).
		Add(decimal.NewFromFloat(short.UnrealizedPnL)).
		Sub(decimal.NewFromFloat(long.Fees)).
		Sub(decimal.NewFromFloat(short.Fees))
	return net.Div(alloc).Mul(hundred).InexactFloat64()
}

// currentPixelSpread is the latest pixel distance over the last window z samples
func currentPixelSpread(z []float64, long, short []marketdata.Candle, window int) (float64, bool) {
	if window > 0 && len(z) > window {
		z = z[len(z)-window:]
	}
	samples, err := pixelspread.Compute(z, long, short)
	if err != nil || len(samples) == 0 {
		return 0, false
	}
	return pixelspread.Summarize(samples).Current, true
}
