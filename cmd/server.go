package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rail-scheduler/internal/auth"
	"github.com/example/rail-scheduler/internal/config"
	"github.com/example/rail-scheduler/internal/credentials"
	"github.com/example/rail-scheduler/internal/crypto"
	"github.com/example/rail-scheduler/internal/db"
	"github.com/example/rail-scheduler/internal/logger"
	"github.com/example/rail-scheduler/internal/migrate"
	"github.com/example/rail-scheduler/internal/notify"
	"github.com/example/rail-scheduler/internal/runs"
	"github.com/example/rail-scheduler/internal/sessions"
	"github.com/example/rail-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool
	v := config.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web UI and the run manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.RequireServerKeys(); err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d, log); err != nil {
					return err
				}
			}

			aead, err := crypto.New(cfg.CredEncKey)
			if err != nil {
				return err
			}
			scratch, err := sessions.Open(cfg.SessionDir, log)
			if err != nil {
				return err
			}
			defer scratch.Close()

			var notifier runs.Notifier = notify.Nop{}
			if cfg.TelegramToken != "" {
				tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
				if err != nil {
					return err
				}
				notifier = tg
			}

			manager := runs.NewManager(ctx,
				runs.WithPolicy(cfg.Policy()),
				runs.WithRetention(cfg.RunRetention),
				runs.WithNotifier(notifier),
				runs.WithLogger(log),
			)

			backend := newBackend(cfg, log)
			ws := &web.Server{
				Auth:     auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey),
				Creds:    credentials.NewRepo(d, aead),
				Searches: scratch,
				Clients:  backend,
				Runs:     manager,
				Logger:   log,
				BaseURL:  cfg.BaseURL,
				Stations: backend.Stations(),
			}
			serveErr := web.Start(ctx, cfg.ListenAddr, ws.Routes(), log)

			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := manager.Shutdown(shutdownCtx); err != nil {
				log.Warn("runs still active at shutdown", slog.String("error", err.Error()))
			}
			return serveErr
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().String("listen", ":8080", "listen address (LISTEN_ADDR)")
	_ = v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
