package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"anyarchie/internal/app"
	"anyarchie/internal/config"
	"anyarchie/internal/credential"
	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending storage migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(configPath(cmd)).Load()
			if err != nil {
				return err
			}
			busy, err := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
			if err != nil {
				return err
			}
			log := logx.NewConsole(cfg.Logging.Level)
			s, err := storage.Open(cmd.Context(), storage.Config{
				Driver:      cfg.Storage.Driver,
				DSN:         cfg.Storage.DSN,
				BusyTimeout: busy,
			}, log)
			if err != nil {
				return err
			}
			log.Info("storage migrated", logx.String("driver", s.Driver()))
			return s.Close()
		},
	}
}

func parseTelegramID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid telegram id %q", raw)
	}
	return id, nil
}

// withApp builds the app without starting it and releases it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(configPath(cmd), app.WithMode(app.ModeHeartbeat))
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()
	return fn(cmd.Context(), a)
}

func newMuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mute <telegram-id> [minutes]",
		Short: "Pause proactive check-ins for a user",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTelegramID(args[0])
			if err != nil {
				return err
			}
			var d time.Duration
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid minutes %q", args[1])
				}
				d = time.Duration(n) * time.Minute
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				until, err := a.Mute(ctx, id, d)
				if err != nil {
					return notFound(err, id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "muted until %s\n", until.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newUnmuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmute <telegram-id>",
		Short: "Resume proactive check-ins for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTelegramID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Unmute(ctx, id); err != nil {
					return notFound(err, id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "unmuted")
				return nil
			})
		},
	}
}

func newMailLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail-login <telegram-id> <username>",
		Short: "Store the IMAP login read by the mail collector",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTelegramID(args[0])
			if err != nil {
				return err
			}
			envName, _ := cmd.Flags().GetString("password-env")
			password := os.Getenv(envName)
			if password == "" {
				return fmt.Errorf("%s is empty", envName)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				err := a.SetMailCredential(ctx, id, credential.Credential{Username: args[1], Password: password})
				if err != nil {
					return notFound(err, id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "mail login stored")
				return nil
			})
		},
	}
	cmd.Flags().String("password-env", "ARCHIE_MAIL_PASSWORD", "Environment variable holding the app password.")
	return cmd
}

func notFound(err error, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no tenant for telegram id %d", id)
	}
	return err
}
