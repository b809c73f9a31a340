package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/catalog"
	"github.com/e7canasta/stream-supervisor/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the video wall service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		slog.Info("starting video wall service",
			"config", cfgFile,
			"debug", debug,
		)

		cat, err := catalog.Open(cfg)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}

		wall, err := core.New(cfg, cat, streamsupervisor.NewFactory(cfg.FactoryOptions()))
		if err != nil {
			cat.Close()
			return fmt.Errorf("failed to create video wall: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			errChan <- wall.Run(ctx) // Always send, even if nil
		}()

		var runErr error
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case runErr = <-errChan:
			if runErr != nil {
				slog.Error("service error", "error", runErr)
			} else {
				slog.Info("service stopped (via MQTT shutdown command)")
			}
		}

		shutdownTimeout := wall.ShutdownTimeout()
		slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := wall.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}

		slog.Info("video wall service stopped successfully")
		return runErr
	},
}
