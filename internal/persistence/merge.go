package persistence

import (
	"sort"
	"strings"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/extremum"
)

// Fields is the set of record fields a writer intends to change. Conflict
// resolution copies exactly these fields onto the authoritative record.
type Fields uint32

// Entry covers entry prices, entry snapshot and entry time; ExitReason covers
// the close time as well.
const (
	FieldStatus Fields = 1 << iota
	FieldPrices
	FieldCurrentStats
	FieldEntry
	FieldProfit
	FieldExtremums
	FieldExitReason
	FieldCloseRequest
	FieldZHistory
	FieldPixelHistory
	FieldError
	FieldScore
)

// Has reports whether all of other is in f
func (f Fields) Has(other Fields) bool { return f&other == other }

var fieldNames = []struct {
	f    Fields
	name string
}{
	{FieldStatus, "status"},
	{FieldPrices, "prices"},
	{FieldCurrentStats, "current_stats"},
	{FieldEntry, "entry"},
	{FieldProfit, "profit"},
	{FieldExtremums, "extremums"},
	{FieldExitReason, "exit_reason"},
	{FieldCloseRequest, "close_request"},
	{FieldZHistory, "z_history"},
	{FieldPixelHistory, "pixel_history"},
	{FieldError, "error"},
	{FieldScore, "score"},
}

func (f Fields) String() string {
	var parts []string
	for _, n := range fieldNames {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Merge applies the writer's intended changes onto the freshly loaded record.
// It never regresses state: a terminal record is returned as stored, the entry
// snapshot is only set if still empty, extremums only widen and histories are
// merged by timestamp. The result carries fresh's version.
func Merge(fresh, intended *position.Record, fields Fields) *position.Record {
	out := fresh.Clone()
	if fresh.Status.IsTerminal() {
		return out
	}

	if fields.Has(FieldStatus) {
		out.Status = intended.Status
	}
	if fields.Has(FieldEntry) && fresh.EntryStats == nil && intended.EntryStats != nil {
		s := *intended.EntryStats
		out.EntryStats = &s
		out.EntryLongPrice = intended.EntryLongPrice
		out.EntryShortPrice = intended.EntryShortPrice
		if intended.EntryTime != nil {
			t := *intended.EntryTime
			out.EntryTime = &t
		}
	}
	if fields.Has(FieldExitReason) && fresh.ExitReason == "" && out.Status == intended.Status {
		out.ExitReason = intended.ExitReason
		if intended.ClosedAt != nil {
			t := *intended.ClosedAt
			out.ClosedAt = &t
		}
	}
	if fields.Has(FieldPrices) {
		out.CurrentLongPrice = intended.CurrentLongPrice
		out.CurrentShortPrice = intended.CurrentShortPrice
	}
	if fields.Has(FieldCurrentStats) {
		out.CurrentStats = intended.CurrentStats
	}
	if fields.Has(FieldProfit) {
		out.ProfitPercent = intended.ProfitPercent
		out.LongReturnPercent = intended.LongReturnPercent
		out.ShortReturnPercent = intended.ShortReturnPercent
	}
	if fields.Has(FieldExtremums) {
		out.Extremums = extremum.CombineAll(fresh.Extremums, intended.Extremums)
	}
	if fields.Has(FieldCloseRequest) {
		out.CloseRequested = fresh.CloseRequested || intended.CloseRequested
	}
	if fields.Has(FieldZHistory) {
		out.ZScoreHistory = mergeZ(fresh.ZScoreHistory, intended.ZScoreHistory)
	}
	if fields.Has(FieldPixelHistory) {
		out.PixelSpreadHistory = mergePixels(fresh.PixelSpreadHistory, intended.PixelSpreadHistory)
	}
	if fields.Has(FieldError) {
		out.ErrorMessage = intended.ErrorMessage
	}
	if fields.Has(FieldScore) {
		out.Score = intended.Score
	}
	if intended.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = intended.UpdatedAt
	}
	out.Version = fresh.Version
	return out
}

func mergeZ(a, b []position.ZScorePoint) []position.ZScorePoint {
	seen := make(map[int64]struct{}, len(a))
	out := make([]position.ZScorePoint, 0, len(a)+len(b))
	for _, p := range a {
		seen[p.Time.UnixNano()] = struct{}{}
		out = append(out, p)
	}
	for _, p := range b {
		if _, ok := seen[p.Time.UnixNano()]; ok {
			continue
		}
		seen[p.Time.UnixNano()] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func mergePixels(a, b []position.PixelSpreadPoint) []position.PixelSpreadPoint {
	seen := make(map[int64]struct{}, len(a))
	out := make([]position.PixelSpreadPoint, 0, len(a)+len(b))
	for _, p := range a {
		seen[p.Time.UnixNano()] = struct{}{}
		out = append(out, p)
	}
	for _, p := range b {
		if _, ok := seen[p.Time.UnixNano()]; ok {
			continue
		}
		seen[p.Time.UnixNano()] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
