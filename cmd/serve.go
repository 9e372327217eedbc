package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Scheduler.AutoStart && !env.Orchestrator.IsRunning() {
			if _, err := env.Orchestrator.StartScheduler(ctx); err != nil {
				return err
			}
		}

		if cfg.Monitoring.Enabled {
			go env.Checker.Run(ctx)
		}

		srv := api.NewServer(api.Deps{
			Orchestrator:   env.Orchestrator,
			Analysis:       env.Analysis,
			Payloads:       env.Payloads,
			Metrics:        env.Metrics,
			Checker:        env.Checker,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		// A persisted port change applies from the next start.
		port := resolvePort(servePort, env.Orchestrator.Settings().Port)
		return listenAndServe(ctx, net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port)), srv.Router())
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, configured int) int {
	if flagPort != 0 {
		return flagPort
	}
	return configured
}

// listenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests.
func listenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, fmt.Sprintf("server listen on %s", addr))
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from settings)")
	rootCmd.AddCommand(serveCmd)
}
