package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-health-api/internal/app"
	"github.com/noah-isme/campus-health-api/pkg/config"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
	"github.com/noah-isme/campus-health-api/pkg/logger"
)

var (
	actor     string
	csvOutput bool

	container *app.Container
	logr      *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "records-admin",
		Short:         "Batch and repair operations for term-scoped health records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err = logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			container, err = app.New(cmd.Context(), cfg, logr)
			if err != nil {
				return err
			}
			container.Notifications.Start(cmd.Context())
			return nil
		},
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("USER"), "operator recorded in the audit trail")
	rootCmd.PersistentFlags().BoolVar(&csvOutput, "csv", false, "print reports as CSV instead of JSON")
	registerCommands(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	shutdown()
	stop()
	if err != nil {
		if code := appErrors.CodeOf(err); code != "" {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", code, err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode lets cron wrappers tell "needs a human" apart from failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrAmbiguousMerge):
		return 3
	case errors.Is(err, appErrors.ErrInvalidState), errors.Is(err, appErrors.ErrPreconditionFailed):
		return 2
	default:
		return 1
	}
}

// shutdown lets queued issuance notifications go out before closing the stores.
func shutdown() {
	if container != nil {
		container.Notifications.Drain(5 * time.Second)
		container.Close()
	}
	if logr != nil {
		_ = logr.Sync()
	}
}
