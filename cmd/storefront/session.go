package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"storefront/internal/backend"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/gateway"
	"storefront/internal/identity"
	"storefront/internal/kv"
	"storefront/internal/telemetry"
	"storefront/internal/transport"
)

// CookiesKey holds the backend session cookies between runs.
const CookiesKey = "storefront.cookies"

// session is one command's view of the storefront: the device store plus
// the components built over it.
type session struct {
	ctx      context.Context
	logger   *slog.Logger
	store    kv.Store
	gateway  *gateway.Gateway
	api      backend.API
	catalog  *catalog.Catalog
	identity *identity.Resolver
	cart     *cart.Reconciler

	unsubscribe func()
	closeOnce   sync.Once
}

// active is the session opened by the running command.
var active *session

func closeActive() {
	if active != nil {
		active.Close()
	}
}

// newFlagSet registers the global flags on a command's flag set.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&apiBase, "api", "", "Backend base URL (overrides STOREFRONT_API_BASE)")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - debug logging to stderr")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: storefront %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses args and applies the global flags.
func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

// openSession loads configuration, opens the device store and restores the
// saved backend cookies and application user.
func openSession(ctx context.Context) *session {
	cfg, err := config.Load(ctx)
	if err != nil {
		fatal("Configuration: %v", err)
	}
	if apiBase != "" {
		cfg.APIBase = apiBase
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := telemetry.NewLogger(os.Stderr, telemetry.LoggerOptions{
		Environment: cfg.Environment,
		Level:       level,
	})

	store, err := kv.Open(ctx, cfg.StoreOptions())
	if err != nil {
		fatal("Opening device store: %v", err)
	}

	rt, err := transport.New(cfg.Transport)
	if err != nil {
		fatal("Transport: %v", err)
	}
	gw, err := gateway.New(gateway.Config{
		BaseURL:   cfg.APIBase,
		Origin:    cfg.PublicURL,
		Cookie:    cfg.Secrets.SessionCookie,
		Transport: rt,
		Logger:    logger,
	})
	if err != nil {
		fatal("Gateway: %v", err)
	}
	gw.ImportCookies(loadCookies(ctx, store, logger))

	api := backend.New(gw)
	products := catalog.New(api, logger)
	resolver := identity.NewResolver(api, store, logger)
	reconciler, err := cart.New(cart.Config{
		API:       api,
		Store:     store,
		Prices:    products.Price,
		PublicURL: cfg.PublicURL,
		Logger:    logger,
	})
	if err != nil {
		fatal("Cart: %v", err)
	}

	active = &session{
		ctx:         ctx,
		logger:      logger,
		store:       store,
		gateway:     gw,
		api:         api,
		catalog:     products,
		identity:    resolver,
		cart:        reconciler,
		unsubscribe: resolver.Subscribe(reconciler.OnIdentity),
	}
	return active
}

// loadPrices fills the catalog so guest lines are priced. Failure leaves
// lines unpriced.
func (s *session) loadPrices() {
	if _, err := s.catalog.Load(s.ctx); err != nil {
		s.logger.Debug("catalog unavailable", slog.String("error", err.Error()))
	}
}

// restore applies the cached application user, or loads the guest cart.
func (s *session) restore() {
	if _, ok := s.identity.Refresh(s.ctx); !ok {
		s.cart.Load(s.ctx)
	}
}

// Close saves the backend cookies and releases the store. Calls after the
// first do nothing.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		ctx := context.WithoutCancel(s.ctx)
		saveCookies(ctx, s.store, s.gateway.ExportCookies(), s.logger)
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing device store", slog.String("error", err.Error()))
		}
	})
}

// loadCookies reads the saved cookies. A missing or unreadable entry is an
// empty jar.
func loadCookies(ctx context.Context, store kv.Store, logger *slog.Logger) []*http.Cookie {
	raw, ok, err := store.Get(ctx, CookiesKey)
	if err != nil || !ok {
		if err != nil {
			logger.Warn("reading saved cookies", slog.String("error", err.Error()))
		}
		return nil
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		logger.Warn("saved cookies are unreadable", slog.String("error", err.Error()))
		return nil
	}
	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}

// saveCookies persists cookies by name. An empty jar removes the entry.
func saveCookies(ctx context.Context, store kv.Store, cookies []*http.Cookie, logger *slog.Logger) {
	if len(cookies) == 0 {
		if err := store.Remove(ctx, CookiesKey); err != nil {
			logger.Warn("clearing saved cookies", slog.String("error", err.Error()))
		}
		return
	}

	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		values[c.Name] = c.Value
	}
	data, err := json.Marshal(values)
	if err != nil {
		logger.Warn("encoding cookies", slog.String("error", err.Error()))
		return
	}
	if err := store.Set(ctx, CookiesKey, string(data)); err != nil {
		logger.Warn("saving cookies", slog.String("error", err.Error()))
	}
}
