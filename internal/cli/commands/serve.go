package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpx "github.com/splax/manifestor/internal/http"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		clone bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes analyze, generate and refine over HTTP. Generations are stored
in Postgres when DATABASE_URL is set and in memory otherwise; artifacts are
written to S3 when S3_ENDPOINT and credentials are set and to
MANIFESTOR_OUTPUT_DIR otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := a.build(ctx, wiring{Clone: clone, Database: true, ObjectStore: true})
			if err != nil {
				return err
			}
			defer built.Close()

			server := a.cfg.Server
			if addr != "" {
				server.Addr = addr
			}
			limiter := httpx.NewMemoryRateLimiter()
			if redisAddr := strings.TrimSpace(server.RedisAddr); redisAddr != "" {
				redisLimiter, err := httpx.NewRedisRateLimiter(redisAddr, server.RedisPassword, server.RedisDB, a.logger)
				if err != nil {
					a.logger.Warn("redis rate limiter unavailable", "error", err)
				} else {
					limiter.Close()
					limiter = redisLimiter
				}
			}

			router := httpx.New(built.svc, httpx.Options{
				Logger:     a.logger,
				Limiter:    limiter,
				JWTSecret:  server.JWTSecret,
				RateLimit:  server.RateLimit,
				RateWindow: server.RateLimitWindow,
				Health:     built.ping,
			})
			defer router.Close()

			srv := &http.Server{
				Addr:              server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}
			errorCh := make(chan error, 1)
			go func() {
				a.logger.Info("api server starting", "addr", server.Addr)
				errorCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				timeout := server.ShutdownTimeout
				if timeout <= 0 {
					timeout = 10 * time.Second
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("graceful shutdown failed", "error", err)
					return err
				}
				a.logger.Info("api server stopped")
				return nil
			case err := <-errorCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to MANIFESTOR_ADDR)")
	cmd.Flags().BoolVar(&clone, "clone", false, "fetch repositories with git instead of the GitHub API")
	return cmd
}
