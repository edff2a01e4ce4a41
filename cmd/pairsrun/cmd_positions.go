package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/lifecycle"
)

func newSelectCmd() *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Run one selection pass and store the chosen pairs as SELECTED",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("selection failed: %w", err)
			}
			if out.json() {
				return writeJSON(os.Stdout, res)
			}
			printSelection(res)
			return nil
		},
	}
	out.register(cmd.Flags())
	return cmd
}

func newPositionsCmd() *cobra.Command {
	var (
		out      outputFlags
		statuses []string
	)
	cmd := &cobra.Command{
		Use:   "positions [id]",
		Short: "List positions, or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				rec, err := a.store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if out.json() {
					return writeJSON(os.Stdout, rec)
				}
				printPosition(rec)
				return nil
			}

			want := make([]position.Status, 0, len(statuses))
			for _, s := range statuses {
				st := position.Status(strings.ToUpper(s))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				want = append(want, st)
			}
			recs, err := a.store.Repo().ListByStatus(cmd.Context(), want...)
			if err != nil {
				return err
			}
			if out.json() {
				return writeJSON(os.Stdout, recs)
			}
			printPositions(recs, time.Now().UTC())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", []string{"SELECTED", "TRADING", "OBSERVED"}, "Statuses to list")
	out.register(cmd.Flags())
	return cmd
}

func newConfirmCmd() *cobra.Command {
	var fill lifecycle.Fill
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm both legs executed and start trading a SELECTED position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.manager.ConfirmExecution(cmd.Context(), args[0], fill)
			if err != nil {
				return err
			}
			printPosition(rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&fill.LongOrderID, "long-order", "", "Exchange order id of the long leg")
	cmd.Flags().StringVar(&fill.ShortOrderID, "short-order", "", "Exchange order id of the short leg")
	cmd.MarkFlagRequired("long-order")
	cmd.MarkFlagRequired("short-order")
	return cmd
}

func newCloseCmd() *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Request a manual close of a TRADING position",
		Long: `Flags the position so the next update cycle closes it with the manual
reason ahead of any exit rule. With --now the position is closed immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			var rec *position.Record
			if now {
				rec, err = a.manager.Close(cmd.Context(), args[0])
			} else {
				rec, err = a.manager.RequestClose(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			printPosition(rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "Close immediately instead of on the next cycle")
	return cmd
}

func newObserveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "observe <long> <short>",
		Short: "Record a pair to watch without trading it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.manager.Observe(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printPosition(rec)
			return nil
		},
	}
}

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle <id>",
		Short: "Run one update cycle for a TRADING position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.manager.RunCycle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Println(yellow("skipped: " + res.SkipReason))
				return nil
			}
			printPosition(res.Record)
			if res.Exit.ShouldExit {
				fmt.Printf("  %s %s\n", red("exit triggered:"), res.Exit.ExitReason)
			}
			return nil
		},
	}
}
