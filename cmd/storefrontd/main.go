// storefrontd serves one storefront session over HTTP: the payment return
// pages, a JSON cart API and the same operations as MCP tools for agents.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/backend"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/gateway"
	"storefront/internal/handler"
	"storefront/internal/identity"
	"storefront/internal/kv"
	"storefront/internal/middleware"
	"storefront/internal/telemetry"
	"storefront/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger before config so config errors are logged
	// in the right format
	logger := telemetry.NewLogger(os.Stdout, telemetry.LoggerOptions{
		Environment: os.Getenv("ENVIRONMENT"),
		Level:       os.Getenv("LOG_LEVEL"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_base", cfg.APIBase),
		slog.String("public_url", cfg.PublicURL),
		slog.String("store", cfg.Store.Kind),
		slog.String("transport", string(cfg.Transport)),
	)

	store, err := kv.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("opening device store: %w", err)
	}
	defer store.Close()

	rt, err := transport.New(cfg.Transport)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL:   cfg.APIBase,
		Origin:    cfg.PublicURL,
		Cookie:    cfg.Secrets.SessionCookie,
		Transport: rt,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	api := backend.New(gw)

	products := catalog.New(api, logger)
	if _, err := products.Load(ctx); err != nil {
		// Not fatal: the handlers retry while the cache is empty
		logger.Warn("initial catalog load failed", slog.String("error", err.Error()))
	}

	resolver := identity.NewResolver(api, store, logger)
	reconciler, err := cart.New(cart.Config{
		API:       api,
		Store:     store,
		Prices:    products.Price,
		PublicURL: cfg.PublicURL,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating cart: %w", err)
	}

	// The cart follows the resolver: a new id merges the guest cart, a
	// cleared id falls back to the device cart.
	unsubscribe := resolver.Subscribe(reconciler.OnIdentity)
	defer unsubscribe()
	go resolver.Watch(ctx)

	if _, ok := resolver.Refresh(ctx); !ok {
		reconciler.Load(ctx)
		if cfg.Secrets.SessionCookie != "" {
			if _, err := resolver.Resolve(ctx); err != nil {
				logger.Warn("configured session did not resolve to a user", slog.String("error", err.Error()))
			}
		}
	}

	h := handler.New(reconciler, products, resolver, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → tracing → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Tracing(),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts. No WriteTimeout: MCP responses stream.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}
