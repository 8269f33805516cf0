package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/payout-engine/internal/batch"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"github.com/frahmantamala/payout-engine/internal/retry"
	"github.com/frahmantamala/payout-engine/internal/transport/rest"
	"github.com/frahmantamala/payout-engine/internal/transport/swagger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if _, err := swagger.Load(context.Background()); err != nil {
		deps.Logger.Error("embedded OpenAPI document is invalid", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	setupRoutes(router, deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		deps.Close(ctx)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func setupRoutes(router *chi.Mux, deps *Dependencies) {
	batchHandler := batch.NewHandler(deps.Batches, deps.Processor, deps.Audit)
	if deps.Config.Processor.RunTimeout > 0 {
		batchHandler.RunTimeout = deps.Config.Processor.RunTimeout
	}

	handlers := rest.Handlers{
		Health: rest.NewHealthHandler(map[string]rest.CheckFunc{
			"database": deps.DB.PingContext,
		}),
		Batch:   batchHandler,
		Payment: payment.NewHandler(deps.Payments),
		Retry:   retry.NewHandler(deps.Scheduler),
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics
	}

	rest.RegisterAllRoutes(router, handlers, deps.Tokens, deps.Config.Observability.Metrics.Path, deps.Logger)
}
