package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/sawpanic/pairsrun/internal/interfaces/http"
	"github.com/sawpanic/pairsrun/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var noHTTP bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run selection and position updates on their intervals",
		Long: `Starts the scheduler and the HTTP API.

The selection pass runs every scheduler.selection_interval and opens SELECTED
positions. Every scheduler.update_interval each TRADING position runs one
update cycle in its own goroutine. The API serves /health, /metrics,
/positions and the /ws/positions event stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, appConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(scheduler.Config{
				UpdateInterval:    appConfig.Scheduler.UpdateInterval,
				SelectionInterval: appConfig.Scheduler.SelectionInterval,
			}, a.pipeline, a.manager, a.store.Repo(), a.metrics)

			var srv *httpapi.Server
			if !noHTTP {
				srv = httpapi.NewServer(httpapi.DefaultServerConfig(appConfig.HTTP.Addr), httpapi.Deps{
					Handlers: httpapi.NewHandlers(a.store.Repo(), a.manager),
					Health:   httpapi.NewHealthHandler(a.healthChecks(), sched, version),
					Metrics:  a.metrics.Handler(),
					Stream:   a.hub,
				})
				go func() {
					if err := srv.Start(); err != nil {
						log.Error().Err(err).Msg("HTTP server failed")
						stop()
					}
				}()
			}

			log.Info().Str("version", version).Msg("pairsrun running. Press Ctrl+C to stop.")
			err = sched.Start(ctx)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Do not start the HTTP API")
	return cmd
}
