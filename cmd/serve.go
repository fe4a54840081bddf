package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Fender1992/cachegpt-sub001/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CacheGPT HTTP gateway",
	Long: `Starts an HTTP server that answers chat completions from the
semantic cache and forwards misses to the upstream provider. Background
pre-warming, rebalancing and archival run on the scheduler intervals.

Example:
  cachegpt serve --port 8080
  cachegpt serve --config /etc/cachegpt/cachegpt.yaml --no-scheduler

The server exposes:
  POST /v1/chat/completions    - Cached chat completion
  GET  /v1/cache/stats         - Per-tier statistics
  GET  /v1/predictions/metrics - Pre-warming accuracy
  GET  /health                 - Health check
  GET  /metrics                - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Bool("no-scheduler", false, "disable background jobs")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := gateway.NewService(a.embedder, a.cache, a.router,
		gateway.WithFlags(a.flags),
		gateway.WithTracker(a.predictor),
		gateway.WithUsageLog(a.usage),
		gateway.WithLogger(a.logger.With().Str("component", "gateway").Logger()),
	)
	server := gateway.NewServer(svc, a.cache, a.predictor, a.metrics, a.logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	var jobs sync.WaitGroup
	if !noScheduler {
		runner := a.runner()
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			runner.Run(ctx)
		}()
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "\nShutting down server...")

		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stop()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Printf("CacheGPT gateway starting on %s\n", addr)
	fmt.Printf("  Store: %s\n", cfg.Store.Driver)
	fmt.Printf("  Embeddings: %s (%d dims)\n", cfg.Embedding.Model, cfg.Embedding.Dimension)
	fmt.Printf("  Upstreams: %v\n", a.router.Providers())
	fmt.Printf("  Scheduler: %v\n", !noScheduler)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  POST http://%s/v1/chat/completions\n", addr)
	fmt.Printf("  GET  http://%s/v1/cache/stats\n", addr)
	fmt.Printf("  GET  http://%s/v1/predictions/metrics\n", addr)
	fmt.Printf("  GET  http://%s/health\n", addr)
	if a.metrics != nil {
		fmt.Printf("  GET  http://%s/metrics\n", addr)
	}
	fmt.Println()

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	jobs.Wait()
	fmt.Println("Server stopped")
	return nil
}
