// Package filter drops candidates that are structurally unusable before scoring.
package filter

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/domain/candidate"
)

// Class separates data gaps from inputs that simply carry no signal
type Class string

const (
	MissingData  Class = "missing_data"
	InvalidInput Class = "invalid_input"
)

// Rejection records why one candidate was dropped
type Rejection struct {
	Candidate candidate.Candidate `json:"candidate"`
	Class     Class               `json:"class"`
	Reason    string              `json:"reason"`
}

// Result is the outcome of one filter pass
type Result struct {
	Accepted []candidate.Candidate `json:"accepted"`
	Rejected []Rejection           `json:"rejected"`
}

// Apply keeps candidates with distinct tickers, the required statistics and a
// positive latest z-score. It makes no graded judgement; that is the scorer's job.
func Apply(candidates []candidate.Candidate) Result {
	res := Result{Accepted: make([]candidate.Candidate, 0, len(candidates))}

	for _, c := range candidates {
		class, reason := check(c)
		if reason == "" {
			res.Accepted = append(res.Accepted, c)
			continue
		}

		res.Rejected = append(res.Rejected, Rejection{Candidate: c, Class: class, Reason: reason})
		ev := log.Info()
		if class == MissingData {
			ev = log.Warn()
		}
		ev.Str("pair", c.Pair()).
			Str("class", string(class)).
			Str("reason", reason).
			Msg("Candidate rejected")
	}

	log.Debug().
		Int("input", len(candidates)).
		Int("accepted", len(res.Accepted)).
		Int("rejected", len(res.Rejected)).
		Msg("Candidate filter complete")
	return res
}

func check(c candidate.Candidate) (Class, string) {
	long := strings.TrimSpace(c.LongTicker)
	short := strings.TrimSpace(c.ShortTicker)
	switch {
	case long == "" || short == "":
		return InvalidInput, "missing ticker"
	case strings.EqualFold(long, short):
		return InvalidInput, "identical tickers"
	}

	z, ok := c.Z()
	if !ok {
		return MissingData, "missing latest z-score"
	}
	if _, ok := c.Corr(); !ok {
		return MissingData, "missing correlation"
	}
	_, okJ := c.Johansen()
	_, okA := c.ADF()
	if !okJ && !okA {
		return MissingData, "missing cointegration p-values"
	}

	if z <= 0 {
		return InvalidInput, "non-positive z-score"
	}
	return "", ""
}
