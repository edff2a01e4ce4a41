package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// ErrInvalidSettings marks a settings document rejected by validation
var ErrInvalidSettings = errors.New("invalid settings")

// Component is one toggleable scoring component
type Component struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// Contribution returns the weight if enabled, zero otherwise
func (c Component) Contribution() float64 {
	if !c.Enabled {
		return 0
	}
	return c.Weight
}

// ScoringWeights configures the quality scorer
type ScoringWeights struct {
	ZScore        Component `yaml:"z_score" json:"z_score"`
	PixelSpread   Component `yaml:"pixel_spread" json:"pixel_spread"`
	Cointegration Component `yaml:"cointegration" json:"cointegration"`
	ModelQuality  Component `yaml:"model_quality" json:"model_quality"`
	Significance  Component `yaml:"statistical_significance" json:"statistical_significance"`
	Bonus         Component `yaml:"bonus" json:"bonus"`
}

// Rule is one toggleable threshold exit rule
type Rule struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// BreakevenRule locks in a small profit once a position has run far enough
type BreakevenRule struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ActivationPercent arms the rule once max profit reaches it
	ActivationPercent float64 `yaml:"activation_percent" json:"activation_percent"`
	// LockPercent is the profit level that triggers the exit once armed
	LockPercent float64 `yaml:"lock_percent" json:"lock_percent"`
}

// ExitRules configures the exit evaluator
type ExitRules struct {
	Stop               Rule          `yaml:"stop" json:"stop"`                   // profit% <= threshold
	Take               Rule          `yaml:"take" json:"take"`                   // profit% >= threshold
	ZMin               Rule          `yaml:"z_min" json:"z_min"`                 // z <= threshold
	ZMaxPercent        Rule          `yaml:"z_max_percent" json:"z_max_percent"` // z >= entryZ*(1+threshold/100)
	Time               Rule          `yaml:"time" json:"time"`                   // hours held >= threshold
	Breakeven          BreakevenRule `yaml:"breakeven" json:"breakeven"`
	NegativeZMinProfit Rule          `yaml:"negative_z_min_profit" json:"negative_z_min_profit"` // z < 0 and profit% >= threshold
}

// Selection configures the selection pipeline
type Selection struct {
	TargetCount  int      `yaml:"target_count" json:"target_count"`
	MaxOpen      int      `yaml:"max_open" json:"max_open"`
	CandleLimit  int      `yaml:"candle_limit" json:"candle_limit"`
	Universe     []string `yaml:"universe" json:"universe"`
	PixelHistory int      `yaml:"pixel_history" json:"pixel_history"` // z samples used for the pixel range
}

// Settings is the live-reconfigurable strategy configuration
type Settings struct {
	Scoring   ScoringWeights `yaml:"scoring" json:"scoring"`
	Exits     ExitRules      `yaml:"exits" json:"exits"`
	Selection Selection      `yaml:"selection" json:"selection"`
}

// Default returns the production defaults
func Default() Settings {
	return Settings{
		Scoring: ScoringWeights{
			ZScore:        Component{Enabled: true, Weight: 40},
			PixelSpread:   Component{Enabled: true, Weight: 25},
			Cointegration: Component{Enabled: true, Weight: 25},
			ModelQuality:  Component{Enabled: true, Weight: 20},
			Significance:  Component{Enabled: true, Weight: 10},
			Bonus:         Component{Enabled: true, Weight: 5},
		},
		Exits: ExitRules{
			Stop:               Rule{Enabled: true, Threshold: -10},
			Take:               Rule{Enabled: true, Threshold: 20},
			ZMin:               Rule{Enabled: true, Threshold: 0.5},
			ZMaxPercent:        Rule{Enabled: true, Threshold: 50},
			Time:               Rule{Enabled: true, Threshold: 72},
			Breakeven:          BreakevenRule{Enabled: false, ActivationPercent: 1.5, LockPercent: 0.1},
			NegativeZMinProfit: Rule{Enabled: false, Threshold: 0.2},
		},
		Selection: Selection{
			TargetCount:  3,
			MaxOpen:      10,
			CandleLimit:  300,
			PixelHistory: 100,
		},
	}
}

// Validate rejects out-of-range settings
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	for name, c := range s.Scoring.components() {
		check(isFinite(c.Weight) && c.Weight >= 0, "scoring.%s.weight must be a non-negative number, got %v", name, c.Weight)
	}

	e := s.Exits
	check(isFinite(e.Stop.Threshold) && e.Stop.Threshold <= 0, "exits.stop.threshold must be <= 0, got %v", e.Stop.Threshold)
	check(isFinite(e.Take.Threshold) && e.Take.Threshold > 0, "exits.take.threshold must be > 0, got %v", e.Take.Threshold)
	check(isFinite(e.ZMin.Threshold), "exits.z_min.threshold must be a number")
	check(isFinite(e.ZMaxPercent.Threshold) && e.ZMaxPercent.Threshold >= 0, "exits.z_max_percent.threshold must be >= 0, got %v", e.ZMaxPercent.Threshold)
	check(isFinite(e.Time.Threshold) && e.Time.Threshold > 0, "exits.time.threshold must be > 0 hours, got %v", e.Time.Threshold)
	check(!e.Breakeven.Enabled || e.Breakeven.ActivationPercent > e.Breakeven.LockPercent,
		"exits.breakeven.activation_percent must exceed lock_percent")
	check(isFinite(e.NegativeZMinProfit.Threshold), "exits.negative_z_min_profit.threshold must be a number")

	sel := s.Selection
	check(sel.TargetCount >= 0, "selection.target_count must be >= 0, got %d", sel.TargetCount)
	check(sel.MaxOpen >= 0, "selection.max_open must be >= 0, got %d", sel.MaxOpen)
	check(sel.CandleLimit >= 2, "selection.candle_limit must be >= 2, got %d", sel.CandleLimit)
	check(sel.PixelHistory >= 2, "selection.pixel_history must be >= 2, got %d", sel.PixelHistory)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// Params freezes the settings into the copy stored on each position
func (s Settings) Params() position.StrategyParams {
	p := position.StrategyParams{
		Scoring: make(map[string]position.ComponentParams),
		Exits: map[string]position.ComponentParams{
			"stop":                  rule(s.Exits.Stop),
			"take":                  rule(s.Exits.Take),
			"z_min":                 rule(s.Exits.ZMin),
			"z_max_percent":         rule(s.Exits.ZMaxPercent),
			"time":                  rule(s.Exits.Time),
			"breakeven":             {Enabled: s.Exits.Breakeven.Enabled, Value: s.Exits.Breakeven.LockPercent},
			"negative_z_min_profit": rule(s.Exits.NegativeZMinProfit),
		},
		Extra: map[string]float64{
			"breakeven_activation_percent": s.Exits.Breakeven.ActivationPercent,
			"candle_limit":                 float64(s.Selection.CandleLimit),
		},
	}
	for name, c := range s.Scoring.components() {
		p.Scoring[name] = position.ComponentParams{Enabled: c.Enabled, Value: c.Weight}
	}
	return p
}

func (w ScoringWeights) components() map[string]Component {
	return map[string]Component{
		"z_score":                  w.ZScore,
		"pixel_spread":             w.PixelSpread,
		"cointegration":            w.Cointegration,
		"model_quality":            w.ModelQuality,
		"statistical_significance": w.Significance,
		"bonus":                    w.Bonus,
	}
}

func rule(r Rule) position.ComponentParams {
	return position.ComponentParams{Enabled: r.Enabled, Value: r.Threshold}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
