package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/sagi/internal/runtime"
	"github.com/joss/sagi/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
			shutdown.Register("storage", func(ctx context.Context) error {
				return a.Close()
			})
			shutdown.ListenForSignals()

			srv := server.New(a.orch, a.classifier,
				server.WithJWTSecret(cfg.Server.JWTSecret),
				server.WithCORSOrigins(cfg.Server.CORSOrigins...),
			)

			fmt.Printf("sagi listening on %s (default mode %s)\n", cfg.Server.Addr, a.perms.DefaultMode())
			serveErr := srv.Serve(shutdown.Context(), cfg.Server.Addr)

			// Serve returns after a signal or a listener failure; Shutdown
			// waits for a signal-triggered run to finish.
			shutErr := shutdown.Shutdown()
			if serveErr != nil {
				return serveErr
			}
			return shutErr
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("no JWT secret configured (set server.jwt_secret or SAGI_JWT_SECRET)")
			}
			token, err := server.IssueToken([]byte(cfg.Server.JWTSecret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "ui", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
