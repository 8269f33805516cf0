package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start long-running background workers such as the charge retry scheduler.`,
}

var retryWorkerCmd = &cobra.Command{
	Use:   "retries",
	Short: "Start the charge retry scheduler",
	Long:  `Sweep due charge retries on an interval until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		startRetryWorker()
	},
}

var retrySweepCmd = &cobra.Command{
	Use:   "retry-sweep",
	Short: "Run one charge retry sweep",
	Long:  `Attempt every due charge retry once and print the counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetrySweep(cmd.Context())
	},
}

var sweepInterval time.Duration

func startRetryWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	log := deps.Logger

	interval := getDurationFlag(sweepInterval, deps.Config.Retry.SweepInterval)
	log.Info("starting retry worker", "interval", interval, "batch_size", deps.Config.Retry.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps.Scheduler.Start(ctx, interval)
	log.Info("received signal, shutting down retry worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	deps.Close(shutdownCtx)
}

func runRetrySweep(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps, err := initializeDependencies()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		deps.Close(shutdownCtx)
	}()

	result, err := deps.Scheduler.RunSweep(ctx)
	if err != nil {
		return fmt.Errorf("retry sweep: %w", err)
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if configValue > 0 {
		return configValue
	}
	return time.Hour
}

func init() {
	retryWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")

	workerCmd.AddCommand(retryWorkerCmd)

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(retrySweepCmd)
}
