package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/pranactl/pkg/prana"
)

// loadSessionConfig resolves the effective configuration: defaults,
// overlaid by the --config file when given.
func loadSessionConfig(cmd *cobra.Command) (*prana.SessionConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return prana.DefaultSessionConfig(), nil
	}
	return prana.LoadSessionConfig(path)
}

// openSession connects to the unit and waits for the first snapshot so
// commands can validate against real state.
func openSession(ctx context.Context, cmd *cobra.Command, address string, logger *logrus.Logger) (*prana.Session, error) {
	cfg, err := loadSessionConfig(cmd)
	if err != nil {
		return nil, err
	}

	sess, err := prana.Open(ctx, address, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", address, err)
	}

	if err := sess.Refresh(ctx); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("connected but no state received: %w", err)
	}
	return sess, nil
}

// signalContext cancels the returned context on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
