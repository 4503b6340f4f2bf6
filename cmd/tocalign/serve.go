package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mumose/contract-labeling-with-TOC/internal/api"
	"github.com/mumose/contract-labeling-with-TOC/internal/config"
	"github.com/mumose/contract-labeling-with-TOC/internal/metrics"
	"github.com/mumose/contract-labeling-with-TOC/internal/pipeline"
	"github.com/mumose/contract-labeling-with-TOC/internal/resultstore"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tocalign HTTP server",
	Long: `Start the alignment HTTP server.

Documents are queued to a worker pool and can be polled by job ID. When
result_store.url is set, every finished alignment is also pushed to the
result store. Matching thresholds are reloaded when the config file
changes; running jobs keep the thresholds they started with.

Examples:
  TOCALIGN_API_KEY=secret tocalign serve
  tocalign serve --port 9000 --config /etc/tocalign.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if servePort != "" {
			if err := cfgManager.Override("port", servePort); err != nil {
				return err
			}
		}
		cfg := *cfgManager.Get()
		if err := cfg.ValidateServer(); err != nil {
			return err
		}

		lvl, err := parseLevel(cfg.LogLevel)
		if logLevel != "" {
			lvl, err = parseLevel(logLevel)
		}
		if err != nil {
			return err
		}
		log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))

		m := metrics.New(time.Hour)

		// The pipeline takes an interface; a nil *Client must stay a nil
		// interface.
		var store pipeline.ResultStore
		var reader api.ResultReader
		if cfg.ResultStore.URL != "" {
			rs := resultstore.NewClient(cfg.ResultStore.URL, cfg.ResultStore.APIKey,
				resultstore.WithRetry(cfg.ResultStore.Attempts, cfg.ResultStore.Delay),
				resultstore.WithLogger(log),
			)
			defer rs.Close()
			store, reader = rs, rs
			log.Info("result store enabled", "url", cfg.ResultStore.URL)
		}

		orch, err := pipeline.NewOrchestrator(cfg, store, m, log)
		if err != nil {
			return err
		}
		orch.Start(ctx)

		cfgManager.OnChange(func(c *config.Config) {
			if err := orch.SetParams(c.EngineParams()); err != nil {
				log.Warn("ignoring reloaded matching config", "error", err)
				return
			}
			log.Info("matching config reloaded", "params", c.EngineParams())
		})
		if cfgManager.ConfigFile() != "" {
			cfgManager.WatchConfig()
		}

		httpServer := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      api.NewServer(orch, m, reader, log, cfg),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting tocalign", "port", cfg.Port, "workers", cfg.WorkerCount)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			orch.Stop()
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown", "error", err)
		}
		orch.Stop()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (default: port from config)")
	rootCmd.AddCommand(serveCmd)
}
