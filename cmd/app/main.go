package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"arbitrage_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Liveness endpoint
	if port := bootstrap.Config.Health.Port; port > 0 {
		go bootstrap.Health.Serve(port)
	}

	// 5. Pipeline: feeds -> aggregator -> detector -> gate -> coordinator
	pipeline := app.NewPipeline(bootstrap)

	slog.InfoContext(ctx, "✨ Arbitrage engine fully operational. Press Ctrl+C to exit.")
	pipeline.Run(ctx) // blocks until signal, then drains

	slog.Info("👋 Shutdown complete")
}
