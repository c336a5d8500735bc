package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"burrow/internal/fleet"
	"burrow/internal/metrics"
	"burrow/internal/runtime"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show run state for one container or the whole host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				state, err := app.ctl.State(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", args[0], state)
				return nil
			}

			report, err := app.fleet.StatusAll(ctx)
			if err != nil {
				return err
			}
			printReport(report, true)
			return failureSummary(report)
		},
	}
}

func resyncCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "resync [name]",
		Short: "Re-apply configuration management in containers",
		Long: `With a name, resyncs that container (it must be running).
Without a name, resyncs every running container on the host; with
--all, stopped containers are started for the resync and stopped
again afterwards.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				return app.audited(ctx, "resync", args[0], func() error {
					return app.ctl.Resync(ctx, args[0])
				})
			}

			report, err := app.fleet.ResyncAll(ctx, all)
			if err != nil {
				return err
			}
			printReport(report, false)
			return failureSummary(report)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also resync stopped containers, restoring their state afterwards")
	return cmd
}

func autostartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autostart",
		Short: "Start every container flagged for autostart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.fleet.AutostartAll(cmd.Context())
			if err != nil {
				return err
			}
			printReport(report, false)
			return failureSummary(report)
		},
	}
}

func stopallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stopall",
		Short: "Gracefully stop every running container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.fleet.StopAll(cmd.Context())
			if err != nil {
				return err
			}
			printReport(report, false)
			return failureSummary(report)
		},
	}
}

func monitorCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve Prometheus metrics and sweep container status periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = app.cfg.Monitor.Listen
			}
			return runMonitor(listen, app.cfg.Monitor.Interval)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "metrics listen address")
	return cmd
}

func runMonitor(listen string, interval time.Duration) error {
	logger := app.logger.With("component", "monitor")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:        listen,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server starting", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			sweep(ctx, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func sweep(ctx context.Context, logger *slog.Logger) {
	report, err := app.fleet.StatusAll(ctx)
	if err != nil {
		logger.Warn("status sweep failed", "error", err)
		return
	}
	running, stopped := 0, 0
	for _, res := range report.Results {
		switch res.State {
		case runtime.StateRunning:
			running++
		case runtime.StateStopped:
			stopped++
		}
	}
	metrics.SetContainerCounts(running, stopped)
}

func printReport(report *fleet.Report, withState bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if withState {
		fmt.Fprintln(w, "NAME\tSTATE\tDETAIL")
		for _, res := range report.Results {
			state := res.State.String()
			if res.Outcome == fleet.OutcomeFailed {
				state = "error"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", res.Name, state, res.Detail)
		}
	} else {
		fmt.Fprintln(w, "NAME\tOUTCOME\tDETAIL")
		for _, res := range report.Results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", res.Name, res.Outcome, res.Detail)
		}
	}
	w.Flush()
}

func failureSummary(report *fleet.Report) error {
	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%s: %d of %d containers failed", report.Op, failed, len(report.Results))
	}
	return nil
}
