package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"storefront/internal/catalog"
	"storefront/internal/identity"
	"storefront/internal/model"
)

// =============================================================================
// CATALOG COMMANDS
// =============================================================================

func runProducts(args []string) {
	fs := newFlagSet("products", "products [options]")
	var search, category, sortName string
	fs.StringVar(&search, "search", "", "Match name or description (case-insensitive)")
	fs.StringVar(&category, "category", "all", "Category: "+strings.Join(catalog.Categories, ", "))
	fs.StringVar(&sortName, "sort", "popular", "Order: popular, price-asc, price-desc, name")
	parse(fs, args)

	sort, err := catalog.ParseSort(sortName)
	if err != nil {
		fatal("%v", err)
	}

	s := openSession(context.Background())
	defer s.Close()

	if _, err := s.catalog.Load(s.ctx); err != nil {
		fail(err)
	}
	products := s.catalog.Search(catalog.Query{Search: search, Category: category, Sort: sort})

	if quiet {
		for _, p := range products {
			fmt.Println(p.ID)
		}
		return
	}
	if len(products) == 0 {
		printInfo("No products match")
		return
	}
	for _, p := range products {
		printProductLine(p)
	}
}

func runProduct(args []string) {
	fs := newFlagSet("product", "product -slug SLUG [options]")
	var slug string
	fs.StringVar(&slug, "slug", "", "Product slug (required)")
	parse(fs, args)
	if slug == "" && fs.NArg() > 0 {
		slug = fs.Arg(0)
	}
	if slug == "" {
		fs.Usage()
		os.Exit(1)
	}

	s := openSession(context.Background())
	defer s.Close()

	p, err := s.catalog.BySlug(s.ctx, slug)
	if err != nil {
		fail(err)
	}
	if p == nil {
		fatal("No product with slug %q", slug)
	}

	if quiet {
		fmt.Println(p.ID)
		return
	}
	fmt.Printf("%s%s%s\n", colorBold, p.Name, colorReset)
	fmt.Printf("  ID:       %s\n", p.ID)
	fmt.Printf("  Price:    %s%s%s\n", colorGreen, formatAmount(p.Price), colorReset)
	fmt.Printf("  In stock: %d\n", p.Quantity)
	if p.Category != "" {
		fmt.Printf("  Category: %s\n", p.Category)
	}
	if p.Description != "" {
		fmt.Printf("  %s%s%s\n", colorGray, p.Description, colorReset)
	}
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runCart(args []string) {
	fs := newFlagSet("cart", "cart [options]")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()
	s.loadPrices()
	s.restore()

	c, err := s.cart.Load(s.ctx)
	if err != nil {
		printWarning("Server cart unavailable: %v", err)
	}
	printCart(s, c)
}

func runAdd(args []string) {
	fs := newFlagSet("add", "add -product ID [-qty N] [options]")
	productFlag := fs.String("product", "", "Product ID (required)")
	qty := fs.Int("qty", 1, "Quantity")
	parse(fs, args)
	productID := requireProduct(fs, *productFlag)

	mutateCart(func(s *session) (model.Cart, error) {
		return s.cart.Add(s.ctx, productID, *qty)
	}, "Added %d × product %s", *qty, productID)
}

func runInc(args []string) {
	fs := newFlagSet("inc", "inc -product ID [options]")
	productFlag := fs.String("product", "", "Product ID (required)")
	parse(fs, args)
	productID := requireProduct(fs, *productFlag)

	mutateCart(func(s *session) (model.Cart, error) {
		return s.cart.Increase(s.ctx, productID)
	}, "Increased product %s", productID)
}

func runDec(args []string) {
	fs := newFlagSet("dec", "dec -product ID [options]")
	productFlag := fs.String("product", "", "Product ID (required)")
	parse(fs, args)
	productID := requireProduct(fs, *productFlag)

	mutateCart(func(s *session) (model.Cart, error) {
		return s.cart.Decrease(s.ctx, productID)
	}, "Decreased product %s", productID)
}

func runRemove(args []string) {
	fs := newFlagSet("remove", "remove -product ID [options]")
	productFlag := fs.String("product", "", "Product ID (required)")
	parse(fs, args)
	productID := requireProduct(fs, *productFlag)

	mutateCart(func(s *session) (model.Cart, error) {
		return s.cart.Remove(s.ctx, productID)
	}, "Removed product %s", productID)
}

func runEmpty(args []string) {
	fs := newFlagSet("empty", "empty [options]")
	parse(fs, args)

	mutateCart(func(s *session) (model.Cart, error) {
		return s.cart.Empty(s.ctx)
	}, "Cart emptied")
}

// mutateCart runs one cart operation in a restored session and prints the
// resulting cart.
func mutateCart(op func(s *session) (model.Cart, error), format string, a ...any) {
	s := openSession(context.Background())
	defer s.Close()
	s.loadPrices()
	s.restore()

	c, err := op(s)
	if err != nil {
		fail(err)
	}
	printSuccess(format, a...)
	printCart(s, c)
}

func runCheckout(args []string) {
	fs := newFlagSet("checkout", "checkout [options]")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()
	s.restore()

	cs, err := s.cart.Checkout(s.ctx)
	if err != nil {
		fail(err)
	}

	if quiet {
		fmt.Println(cs.CheckoutURL)
		return
	}
	printSuccess("Order %s created", cs.OrderID)
	fmt.Printf("  Pay at: %s%s%s\n", colorCyan, cs.CheckoutURL, colorReset)
}

// =============================================================================
// ACCOUNT COMMANDS
// =============================================================================

func runWhoAmI(args []string) {
	fs := newFlagSet("whoami", "whoami [options]")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()
	s.restore()

	claims, ok := s.identity.CurrentUser(s.ctx)
	userID, linked := s.identity.UserID()
	if !ok {
		if quiet {
			return
		}
		printInfo("Not signed in")
		if linked {
			printWarning("Application user %s is cached but the session has ended", userID)
		}
		return
	}

	profile := claims.Profile()
	if quiet {
		fmt.Println(firstNonEmpty(profile.Email, profile.DisplayName))
		return
	}
	printSuccess("Signed in with %s", claims.Provider())
	if profile.DisplayName != "" {
		fmt.Printf("  Name:  %s\n", profile.DisplayName)
	}
	if profile.Email != "" {
		fmt.Printf("  Email: %s\n", profile.Email)
	}
	if linked {
		fmt.Printf("  User:  %s%s%s\n", colorCyan, userID, colorReset)
	} else {
		fmt.Printf("  User:  %snot linked (run 'storefront link')%s\n", colorGray, colorReset)
	}
}

func runLink(args []string) {
	fs := newFlagSet("link", "link [options]")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()
	s.loadPrices()
	s.restore()

	res, err := s.identity.Resolve(s.ctx)
	printResolution(res, err)
}

func runLogin(args []string) {
	fs := newFlagSet("login", "login -u USERNAME [-p PASSWORD] [options]")
	var username, password string
	fs.StringVar(&username, "u", "", "Username (required)")
	fs.StringVar(&password, "p", "", "Password (else STOREFRONT_PASSWORD or stdin)")
	parse(fs, args)
	if username == "" {
		fs.Usage()
		os.Exit(1)
	}
	if password == "" {
		password = readPassword()
	}

	s := openSession(context.Background())
	defer s.Close()
	s.loadPrices()
	s.restore()

	res, err := s.identity.Login(s.ctx, username, password)
	printResolution(res, err)
	if err == nil && !quiet {
		printCart(s, s.cart.Cart())
	}
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "logout [options]")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()
	s.restore()

	err := s.identity.Logout(s.ctx)
	s.gateway.ClearCookies()
	if err != nil {
		printWarning("Backend logout failed: %v", err)
	}
	printSuccess("Signed out")
}

func runLoginURL(args []string) {
	fs := newFlagSet("login-url", "login-url -provider NAME [options]")
	var provider string
	fs.StringVar(&provider, "provider", string(identity.ProviderGitHub), "OAuth provider: github or google")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()

	fmt.Println(s.identity.LoginURL(provider))
}

func runRegister(args []string) {
	fs := newFlagSet("register", "register -u USERNAME -email EMAIL [-p PASSWORD] [options]")
	var req model.NewUserRequest
	fs.StringVar(&req.Username, "u", "", "Username (required)")
	fs.StringVar(&req.Email, "email", "", "Email (required)")
	fs.StringVar(&req.Password, "p", "", "Password (else STOREFRONT_PASSWORD or stdin)")
	fs.StringVar(&req.PictureURL, "picture", "", "Avatar URL")
	parse(fs, args)
	if req.Username == "" || req.Email == "" {
		fs.Usage()
		os.Exit(1)
	}
	if req.Password == "" {
		req.Password = readPassword()
	}

	s := openSession(context.Background())
	defer s.Close()
	s.restore()

	u, err := s.identity.Register(s.ctx, req)
	if err != nil {
		fail(err)
	}
	if quiet {
		fmt.Println(u.ID)
		return
	}
	printSuccess("Account %s created", u.ID)
	if _, linked := s.identity.UserID(); !linked {
		printInfo("Sign in with 'storefront login -u %s' to use it", req.Username)
	}
}

func runOrders(args []string) {
	fs := newFlagSet("orders", "orders [-items] [options]")
	withItems := fs.Bool("items", false, "Show the lines of each order")
	parse(fs, args)

	s := openSession(context.Background())
	defer s.Close()
	s.restore()

	userID, ok := s.identity.UserID()
	if !ok {
		fail(model.ErrNotAuthenticated)
	}
	orders, err := s.api.OrdersForUser(s.ctx, userID)
	if err != nil {
		fail(err)
	}

	if quiet {
		for _, o := range orders {
			fmt.Println(o.ID)
		}
		return
	}
	if len(orders) == 0 {
		printInfo("No orders yet")
		return
	}
	for _, o := range orders {
		fmt.Printf("%s#%s%s  %-10s %s%8s%s  %s%s%s\n",
			colorBold, o.ID, colorReset, o.Status,
			colorGreen, formatAmount(o.TotalPrice), colorReset,
			colorGray, o.CreatedAt, colorReset)
		if !*withItems {
			continue
		}
		items, err := s.api.OrderItems(s.ctx, o.ID)
		if err != nil {
			printWarning("  items unavailable: %v", err)
			continue
		}
		for _, it := range items {
			fmt.Printf("    %d × %s  %s\n", it.Quantity, productName(s, it.ProductID), formatAmount(it.TotalPrice))
		}
	}
}

func runWatch(args []string) {
	fs := newFlagSet("watch", "watch [options]")
	parse(fs, args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := openSession(ctx)
	defer s.Close()
	s.loadPrices()

	s.identity.Subscribe(func(ctx context.Context, userID model.ID) {
		if userID.Valid() {
			printSuccess("Signed in as user %s", userID)
		} else {
			printInfo("Signed out")
		}
		if !quiet {
			printCart(s, s.cart.Cart())
		}
	})
	s.restore()

	printInfo("Watching for sign-in changes (Ctrl-C to stop)")
	s.identity.Watch(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireProduct(fs *flag.FlagSet, raw string) model.ID {
	if raw == "" {
		fs.Usage()
		os.Exit(1)
	}
	id, err := model.ParseID(raw)
	if err != nil || !id.Valid() {
		fatal("Invalid product ID %q", raw)
	}
	return id
}

// readPassword takes STOREFRONT_PASSWORD, else one line from stdin.
func readPassword() string {
	if p := os.Getenv("STOREFRONT_PASSWORD"); p != "" {
		return p
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		if err != nil {
			fatal("Reading password: %v", err)
		}
		fatal("Password required: pass -p or set STOREFRONT_PASSWORD")
	}
	return password
}

func printResolution(res *identity.Resolution, err error) {
	if err == nil {
		if quiet {
			fmt.Println(res.User.ID)
			return
		}
		printSuccess("Linked to application user %s (via %s)", res.User.ID, res.Strategy)
		return
	}

	if errors.Is(err, model.ErrSessionAbsent) {
		fatal("Not signed in: use 'storefront login' or open 'storefront login-url'")
	}
	if res != nil {
		for _, f := range res.Failures {
			printWarning("%s: %s (%v)", f.Strategy, f.Reason, f.Err)
		}
	}
	fail(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
