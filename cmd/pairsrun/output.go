package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/selector"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// outputFlags is the shared --output flag
type outputFlags struct {
	format string
}

func (o *outputFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.format, "output", "o", "table", "Output format (table|json)")
}

func (o *outputFlags) json() bool { return strings.EqualFold(o.format, "json") }

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func colorStatus(s position.Status) string {
	switch s {
	case position.StatusTrading:
		return green(string(s))
	case position.StatusSelected, position.StatusObserved:
		return yellow(string(s))
	case position.StatusError:
		return red(string(s))
	default:
		return string(s)
	}
}

func colorProfit(p float64) string {
	s := fmt.Sprintf("%+.2f%%", p)
	switch {
	case p > 0:
		return green(s)
	case p < 0:
		return red(s)
	default:
		return s
	}
}

func printPositions(recs []*position.Record, now time.Time) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, bold("ID\tPAIR\tSTATUS\tSCORE\tZ\tPROFIT\tHELD\tEXIT"))
	for _, r := range recs {
		held := "-"
		if r.EntryTime != nil {
			held = (time.Duration(r.ElapsedMinutes(now)) * time.Minute).String()
		}
		exit := string(r.ExitReason)
		if r.CloseRequested && exit == "" {
			exit = "close requested"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%.2f\t%s\t%s\t%s\n",
			shortID(r.ID), r.Pair(), colorStatus(r.Status), r.Score, r.CurrentStats.ZScore,
			colorProfit(r.ProfitPercent), held, exit)
	}
	tw.Flush()
}

func printPosition(r *position.Record) {
	fmt.Printf("%s %s  %s\n", bold(r.Pair()), colorStatus(r.Status), r.ID)
	fmt.Printf("  score %.1f  z %.3f  corr %.3f  johansen p %.4f\n",
		r.Score, r.CurrentStats.ZScore, r.CurrentStats.Correlation, r.CurrentStats.CointegrationPValue)
	if r.EntryTime != nil {
		fmt.Printf("  entry %s  long %.6g  short %.6g\n", r.EntryTime.Format(time.RFC3339), r.EntryLongPrice, r.EntryShortPrice)
		fmt.Printf("  now   long %.6g  short %.6g  profit %s (long %+.2f%%, short %+.2f%%)\n",
			r.CurrentLongPrice, r.CurrentShortPrice, colorProfit(r.ProfitPercent), r.LongReturnPercent, r.ShortReturnPercent)
	}
	if r.ExitReason != "" {
		fmt.Printf("  exit  %s\n", r.ExitReason)
	}
	if r.ErrorMessage != "" {
		fmt.Printf("  error %s\n", red(r.ErrorMessage))
	}
}

func printSelection(res selector.RunResult) {
	if len(res.Created) == 0 {
		fmt.Println(yellow("No pairs selected"))
	}
	for i, r := range res.Created {
		fmt.Printf("%d. %s  score %.1f  z %.2f  %s\n", i+1, bold(r.Pair()), r.Score, r.CurrentStats.ZScore, r.ID)
	}
	sel := res.Selection
	fmt.Printf("rejected %d, excluded %d, discarded %d, raced %d\n",
		len(sel.Rejected), len(sel.Excluded), len(sel.Discarded), res.Raced)
	for _, d := range sel.Discarded {
		fmt.Printf("  %s %s: %s\n", red("discarded"), d.Candidate.Pair(), d.Reason)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
