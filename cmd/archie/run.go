package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"anyarchie/internal/app"
	"anyarchie/pkg/systemd"
	logx "anyarchie/pkg/logx"
)

const (
	modeRun       = app.ModeRun
	modePoll      = app.ModePoll
	modeHeartbeat = app.ModeHeartbeat

	stopTimeout = 15 * time.Second
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll every bot, run the heartbeat and reminders, serve ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, modeRun)
		},
	}
}

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run only the update multiplexer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, modePoll)
		},
	}
}

func newHeartbeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Run the scheduled heartbeat, or a single tick with --once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			if !once {
				return serve(cmd, modeHeartbeat)
			}
			return heartbeatOnce(cmd)
		},
	}
	cmd.Flags().Bool("once", false, "Run one tick for every active tenant and exit.")
	return cmd
}

// serve runs the app until SIGINT/SIGTERM or a fatal error.
func serve(cmd *cobra.Command, mode app.Mode) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(configPath(cmd), app.WithMode(mode))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	if _, err := systemd.Ready(); err != nil {
		a.Logger().Warn("sd_notify ready failed", logx.Err(err))
	}
	go systemd.Watchdog(ctx, a.Logger())

	<-a.Done()

	reason := app.StopSignal
	if a.Err() != nil {
		reason = app.StopFatalError
	}
	_, _ = systemd.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func heartbeatOnce(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(configPath(cmd), app.WithMode(modeHeartbeat))
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()

	rep, err := a.RunHeartbeatOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tenants: %d (took %s)\n", rep.Tenants, rep.Took.Round(time.Millisecond))
	for outcome, n := range rep.Outcomes {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", outcome, n)
	}
	return nil
}
