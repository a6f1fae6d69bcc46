package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/log"
	"github.com/litp/platform/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic import/cleanse scheduler and expose /metrics and /readyz",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		importInterval, _ := cmd.Flags().GetDuration("import-interval")
		cleanseInterval, _ := cmd.Flags().GetDuration("cleanse-interval")

		cfg, err := loadAppConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			report := a.health.Run(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if !report.Ready {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(report)
		})

		server := &http.Server{Addr: addr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		logger := log.WithComponent("litpctl-serve")
		logger.Info().Str("addr", addr).Msg("http server listening")

		stopScheduler := runScheduler(ctx, a, importInterval, cleanseInterval, logger)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("http server failed")
		}

		cancel()
		stopScheduler()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to serve /metrics and /readyz on")
	serveCmd.Flags().Duration("import-interval", 15*time.Minute, "How often to start an external import; 0 disables the scheduler")
	serveCmd.Flags().Duration("cleanse-interval", time.Hour, "How often to start a cleanse analysis; 0 disables the scheduler")
}

// runScheduler drives StartImport and StartAnalysis on independent
// tickers. Both calls are no-ops when a prior run is still holding
// its lock, so overlapping ticks never stack concurrent runs. Returns
// a stop function that blocks until both ticker goroutines exit.
func runScheduler(ctx context.Context, a *app, importInterval, cleanseInterval time.Duration, logger zerolog.Logger) func() {
	done := make(chan struct{}, 2)
	running := 0

	if importInterval > 0 {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			ticker := time.NewTicker(importInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := a.importOrch.StartImport(ctx, domain.SourceExternal); err != nil {
						logger.Error().Err(err).Msg("scheduled import failed to start")
					}
				}
			}
		}()
	}

	if cleanseInterval > 0 {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			ticker := time.NewTicker(cleanseInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := a.cleanseOrch.StartAnalysis(ctx); err != nil {
						logger.Error().Err(err).Msg("scheduled cleanse analysis failed to start")
					}
				}
			}
		}()
	}

	return func() {
		for i := 0; i < running; i++ {
			<-done
		}
	}
}
