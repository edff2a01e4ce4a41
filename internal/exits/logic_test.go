package exits

import (
	"testing"
	"time"

	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/domain/position"
)

var entry = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func holdingInputs() ExitInputs {
	return ExitInputs{
		PositionID:       "p1",
		Pair:             "ETHUSDT/BTCUSDT",
		ProfitPercent:    2.0,
		MaxProfitPercent: 2.0,
		CurrentZ:         2.0,
		EntryZ:           2.2,
		EntryTime:        entry,
		CurrentTime:      entry.Add(3 * time.Hour),
	}
}

func TestEvaluateExit_NoExit(t *testing.T) {
	result := EvaluateExit(holdingInputs(), config.Default().Exits)

	if result.ShouldExit {
		t.Errorf("Expected no exit, got %s (%s)", result.ExitReason, result.TriggeredBy)
	}
	if result.ExitReason != NoExit {
		t.Errorf("Expected NoExit reason, got %s", result.ExitReason)
	}
	if result.HoursHeld != 3 {
		t.Errorf("Expected 3 hours held, got %.2f", result.HoursHeld)
	}
}

func TestEvaluateExit_StopWinsOverLowerRules(t *testing.T) {
	rules := config.Default().Exits
	rules.Stop = config.Rule{Enabled: true, Threshold: -10}
	rules.Take = config.Rule{Enabled: true, Threshold: 20}
	rules.ZMin = config.Rule{Enabled: true, Threshold: 0.5}

	inputs := holdingInputs()
	inputs.ProfitPercent = -12
	inputs.CurrentZ = 0.1 // z_min also matches

	result := EvaluateExit(inputs, rules)
	if !result.ShouldExit || result.ExitReason != Stop {
		t.Fatalf("Expected stop, got %s", result.ExitReason)
	}
	if result.ExitReason.PositionReason() != "stop" {
		t.Errorf("Expected persisted reason stop, got %q", result.ExitReason.PositionReason())
	}
}

func TestEvaluateExit_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *ExitInputs, r *config.ExitRules)
		want   ExitReason
	}{
		{
			name:   "take at threshold",
			mutate: func(in *ExitInputs, r *config.ExitRules) { in.ProfitPercent = 20 },
			want:   Take,
		},
		{
			name:   "z floor",
			mutate: func(in *ExitInputs, r *config.ExitRules) { in.CurrentZ = 0.5 },
			want:   ZMin,
		},
		{
			name:   "z widened 50 percent past entry",
			mutate: func(in *ExitInputs, r *config.ExitRules) { in.EntryZ = 2.0; in.CurrentZ = 3.0 },
			want:   ZMaxPercent,
		},
		{
			name:   "z just under widened limit",
			mutate: func(in *ExitInputs, r *config.ExitRules) { in.EntryZ = 2.0; in.CurrentZ = 2.99 },
			want:   NoExit,
		},
		{
			name:   "time limit reached",
			mutate: func(in *ExitInputs, r *config.ExitRules) { in.CurrentTime = entry.Add(72 * time.Hour) },
			want:   TimeLimit,
		},
		{
			name: "breakeven after arming",
			mutate: func(in *ExitInputs, r *config.ExitRules) {
				r.Breakeven.Enabled = true
				in.MaxProfitPercent = 1.6
				in.ProfitPercent = 0.05
			},
			want: Breakeven,
		},
		{
			name: "breakeven not armed",
			mutate: func(in *ExitInputs, r *config.ExitRules) {
				r.Breakeven.Enabled = true
				in.MaxProfitPercent = 1.0
				in.ProfitPercent = 0.05
			},
			want: NoExit,
		},
		{
			name: "negative z with minimum profit",
			mutate: func(in *ExitInputs, r *config.ExitRules) {
				r.ZMin.Enabled = false
				r.NegativeZMinProfit.Enabled = true
				in.CurrentZ = -0.3
				in.ProfitPercent = 0.4
			},
			want: NegativeZMinProfit,
		},
		{
			name: "disabled rules are skipped",
			mutate: func(in *ExitInputs, r *config.ExitRules) {
				r.Stop.Enabled = false
				r.ZMin.Enabled = false
				in.ProfitPercent = -50
				in.CurrentZ = -1
			},
			want: NoExit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := holdingInputs()
			rules := config.Default().Exits
			tt.mutate(&in, &rules)

			result := EvaluateExit(in, rules)
			if result.ExitReason != tt.want {
				t.Errorf("Expected %s, got %s (%s)", tt.want, result.ExitReason, result.TriggeredBy)
			}
			if result.ShouldExit != (tt.want != NoExit) {
				t.Errorf("ShouldExit=%v inconsistent with reason %s", result.ShouldExit, result.ExitReason)
			}
		})
	}
}

func TestInputsFromRecord(t *testing.T) {
	entryTime := entry
	rec := &position.Record{
		ID:            "p1",
		LongTicker:    "ETHUSDT",
		ShortTicker:   "BTCUSDT",
		ProfitPercent: 0.3,
		CurrentStats:  position.StatSnapshot{ZScore: 1.1},
		EntryStats:    &position.StatSnapshot{ZScore: 2.4},
		EntryTime:     &entryTime,
		Extremums: position.Extremums{
			Profit: position.Extremum{Set: true, Min: -1, Max: 4.5},
		},
	}

	in := InputsFromRecord(rec, entry.Add(time.Hour))
	if in.EntryZ != 2.4 || in.CurrentZ != 1.1 {
		t.Errorf("Unexpected z values: entry=%.2f current=%.2f", in.EntryZ, in.CurrentZ)
	}
	if in.MaxProfitPercent != 4.5 {
		t.Errorf("Expected max profit 4.5, got %.2f", in.MaxProfitPercent)
	}
	if !in.EntryTime.Equal(entry) {
		t.Errorf("Expected entry time %v, got %v", entry, in.EntryTime)
	}
}

func TestExitReasonStrings(t *testing.T) {
	want := map[ExitReason]string{
		NoExit: "no_exit", Stop: "stop", Take: "take", ZMin: "z_min", ZMaxPercent: "z_max_percent",
		TimeLimit: "time", Breakeven: "breakeven", NegativeZMinProfit: "negative_z_min_profit", Manual: "manual",
	}
	for r, s := range want {
		if r.String() != s {
			t.Errorf("%d: expected %q, got %q", r, s, r.String())
		}
	}
	if NoExit.PositionReason() != "" {
		t.Error("NoExit must not map to a persisted reason")
	}
	if Manual.PositionReason() != position.ExitManual {
		t.Error("Manual must map to the persisted manual reason")
	}
}
