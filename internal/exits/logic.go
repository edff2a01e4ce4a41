package exits

import (
	"fmt"
	"time"

	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// ExitReason represents the reason for exit with precedence
type ExitReason int

const (
	NoExit             ExitReason = iota
	Stop                          // Highest precedence: profit at or below stop
	Take                          // Profit at or above take
	ZMin                          // Spread has reverted: z at or below floor
	ZMaxPercent                   // Spread widened past entry z by a percentage
	TimeLimit                     // Held for the maximum hours
	Breakeven                     // Profit fell back to the lock level after arming
	NegativeZMinProfit            // z crossed below zero with minimum profit in hand
	Manual                        // Operator request; set by lifecycle, never by EvaluateExit
)

func (er ExitReason) String() string {
	switch er {
	case NoExit:
		return "no_exit"
	case Stop:
		return "stop"
	case Take:
		return "take"
	case ZMin:
		return "z_min"
	case ZMaxPercent:
		return "z_max_percent"
	case TimeLimit:
		return "time"
	case Breakeven:
		return "breakeven"
	case NegativeZMinProfit:
		return "negative_z_min_profit"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// PositionReason converts to the persisted reason; empty for NoExit
func (er ExitReason) PositionReason() position.ExitReason {
	if er == NoExit {
		return ""
	}
	return position.ExitReason(er.String())
}

// ExitResult contains the exit evaluation outcome
type ExitResult struct {
	PositionID  string     `json:"position_id"`
	Pair        string     `json:"pair"`
	Timestamp   time.Time  `json:"timestamp"`
	ShouldExit  bool       `json:"should_exit"`
	ExitReason  ExitReason `json:"exit_reason"`
	TriggeredBy string     `json:"triggered_by"`
	ProfitPct   float64    `json:"profit_pct"`
	CurrentZ    float64    `json:"current_z"`
	HoursHeld   float64    `json:"hours_held"`
}

// ExitInputs contains all data required for exit evaluation
type ExitInputs struct {
	PositionID    string
	Pair          string
	ProfitPercent float64
	// MaxProfitPercent is the running profit maximum, which arms breakeven
	MaxProfitPercent float64
	CurrentZ         float64
	EntryZ           float64
	EntryTime        time.Time
	CurrentTime      time.Time
}

// InputsFromRecord builds inputs from a position after its metrics were updated
func InputsFromRecord(rec *position.Record, now time.Time) ExitInputs {
	in := ExitInputs{
		PositionID:       rec.ID,
		Pair:             rec.Pair(),
		ProfitPercent:    rec.ProfitPercent,
		MaxProfitPercent: rec.ProfitPercent,
		CurrentZ:         rec.CurrentStats.ZScore,
		CurrentTime:      now,
	}
	if rec.Extremums.Profit.Set {
		in.MaxProfitPercent = rec.Extremums.Profit.Max
	}
	if rec.EntryStats != nil {
		in.EntryZ = rec.EntryStats.ZScore
	}
	if rec.EntryTime != nil {
		in.EntryTime = *rec.EntryTime
	}
	return in
}

// EvaluateExit checks the enabled rules in fixed precedence order and returns
// the first match. Rules are passed per call so live settings apply at once.
func EvaluateExit(inputs ExitInputs, rules config.ExitRules) ExitResult {
	result := ExitResult{
		PositionID: inputs.PositionID,
		Pair:       inputs.Pair,
		Timestamp:  inputs.CurrentTime,
		ExitReason: NoExit,
		ProfitPct:  inputs.ProfitPercent,
		CurrentZ:   inputs.CurrentZ,
		HoursHeld:  hoursHeld(inputs),
	}

	hit := func(reason ExitReason, format string, args ...interface{}) {
		result.ShouldExit = true
		result.ExitReason = reason
		result.TriggeredBy = fmt.Sprintf(format, args...)
	}

	switch {
	// 1. Stop
	case rules.Stop.Enabled && inputs.ProfitPercent <= rules.Stop.Threshold:
		hit(Stop, "profit %.2f%% <= stop %.2f%%", inputs.ProfitPercent, rules.Stop.Threshold)

	// 2. Take
	case rules.Take.Enabled && inputs.ProfitPercent >= rules.Take.Threshold:
		hit(Take, "profit %.2f%% >= take %.2f%%", inputs.ProfitPercent, rules.Take.Threshold)

	// 3. Z floor
	case rules.ZMin.Enabled && inputs.CurrentZ <= rules.ZMin.Threshold:
		hit(ZMin, "z %.3f <= z_min %.3f", inputs.CurrentZ, rules.ZMin.Threshold)

	// 4. Z widened past entry
	case rules.ZMaxPercent.Enabled && zMaxLimitHit(inputs, rules.ZMaxPercent.Threshold):
		hit(ZMaxPercent, "z %.3f >= entry z %.3f +%.1f%%", inputs.CurrentZ, inputs.EntryZ, rules.ZMaxPercent.Threshold)

	// 5. Time
	case rules.Time.Enabled && !inputs.EntryTime.IsZero() && result.HoursHeld >= rules.Time.Threshold:
		hit(TimeLimit, "held %.1fh >= %.1fh", result.HoursHeld, rules.Time.Threshold)

	// 6. Breakeven
	case rules.Breakeven.Enabled &&
		inputs.MaxProfitPercent >= rules.Breakeven.ActivationPercent &&
		inputs.ProfitPercent <= rules.Breakeven.LockPercent:
		hit(Breakeven, "profit %.2f%% back to lock %.2f%% after peak %.2f%%",
			inputs.ProfitPercent, rules.Breakeven.LockPercent, inputs.MaxProfitPercent)

	// 7. Negative z with minimum profit
	case rules.NegativeZMinProfit.Enabled && inputs.CurrentZ < 0 && inputs.ProfitPercent >= rules.NegativeZMinProfit.Threshold:
		hit(NegativeZMinProfit, "z %.3f < 0 with profit %.2f%% >= %.2f%%",
			inputs.CurrentZ, inputs.ProfitPercent, rules.NegativeZMinProfit.Threshold)
	}

	return result
}

func zMaxLimitHit(inputs ExitInputs, pct float64) bool {
	if inputs.EntryZ <= 0 {
		return false // no entry z to compare against
	}
	return inputs.CurrentZ >= inputs.EntryZ*(1+pct/100)
}

func hoursHeld(inputs ExitInputs) float64 {
	if inputs.EntryTime.IsZero() || inputs.CurrentTime.Before(inputs.EntryTime) {
		return 0
	}
	return inputs.CurrentTime.Sub(inputs.EntryTime).Hours()
}

// Summary returns a one-line description of the decision
func (er ExitResult) Summary() string {
	if er.ShouldExit {
		return fmt.Sprintf("EXIT %s: %s (%s, %.2f%% after %.1fh)",
			er.Pair, er.ExitReason, er.TriggeredBy, er.ProfitPct, er.HoursHeld)
	}
	return fmt.Sprintf("HOLD %s: %.2f%% z=%.3f after %.1fh", er.Pair, er.ProfitPct, er.CurrentZ, er.HoursHeld)
}
