// Command backendsim serves in-memory versions of the primary and user
// backends for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"depot-chat/internal/backendsim"
)

type serverConfig struct {
	PrimaryAddr string `env:"BACKENDSIM_PRIMARY_ADDR" envDefault:":5000"`
	UserAddr    string `env:"BACKENDSIM_USER_ADDR" envDefault:":5005"`
	SeedUser    string `env:"BACKENDSIM_SEED_USER"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg serverConfig
	var verbose bool

	cmd := &cobra.Command{
		Use:   "backendsim",
		Short: "Serve in-memory primary and user chat backends",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			fromEnv := serverConfig{}
			if err := env.Parse(&fromEnv); err != nil {
				return fmt.Errorf("parse env: %w", err)
			}
			if !cmd.Flags().Changed("primary-addr") {
				cfg.PrimaryAddr = fromEnv.PrimaryAddr
			}
			if !cmd.Flags().Changed("user-addr") {
				cfg.UserAddr = fromEnv.UserAddr
			}
			if !cmd.Flags().Changed("seed-user") {
				cfg.SeedUser = fromEnv.SeedUser
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			zcfg := zap.NewProductionConfig()
			if verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}
			log, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&cfg.PrimaryAddr, "primary-addr", ":5000", "listen address for the primary service")
	cmd.Flags().StringVar(&cfg.UserAddr, "user-addr", ":5005", "listen address for the user service")
	cmd.Flags().StringVar(&cfg.SeedUser, "seed-user", "", "user code to pre-populate with a sample history")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func serve(ctx context.Context, cfg serverConfig, log *zap.Logger) error {
	primary := backendsim.NewPrimary(log.Named("primary"))
	if cfg.SeedUser != "" {
		now := time.Now().UTC()
		primary.Seed(cfg.SeedUser,
			backendsim.Turn{
				CreatedAt: now.Add(-2 * time.Hour).Format(time.RFC3339),
				Message:   "How many casks were filled last week?",
				Response:  "Forty-two casks were filled last week.",
			},
			backendsim.Turn{
				CreatedAt: now.Add(-time.Hour).Format(time.RFC3339),
				Response:  "Reminder: the bottling line is down for maintenance on Friday.",
			},
		)
	}
	users := backendsim.NewUserService(log.Named("user"))

	servers := []*http.Server{
		{Addr: cfg.PrimaryAddr, Handler: primary.Routes(), ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 120 * time.Second},
		{Addr: cfg.UserAddr, Handler: users.Routes(), ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 120 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}
