package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yapay-ai/token-usage-watchdog/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long: `Serve the usage-check trigger endpoint. An external scheduler (cron,
timer trigger, uptime checker) POSTs /api/v1/check to run one invocation.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := newLogger(cfg)

	src, err := initSource(cfg)
	if err != nil {
		return err
	}

	rec, store, err := initReconciler(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	apiServer := server.NewServer(src, rec, logger)

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 120 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("watchdog started", "listen", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("watchdog stopped")
	return nil
}
