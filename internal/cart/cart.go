// Package cart keeps the one authoritative cart of a storefront session: the
// guest cart held in the device store while nobody is signed in, and a
// mirror of the server cart once an application user is known. The
// transition from guest to signed-in merges the guest lines into the server
// cart once.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"storefront/internal/backend"
	"storefront/internal/kv"
	"storefront/internal/model"
	"storefront/internal/reconcile"
)

// GuestCartKey is the device-store key holding the guest cart as JSON
// {items, totalPrice}.
const GuestCartKey = "onion.guestCart"

// Payment return routes on the public origin.
const (
	SuccessPath = "/checkout/success"
	CancelPath  = "/checkout/cancel"
)

// Config configures a Reconciler.
type Config struct {
	API   backend.API
	Store kv.Store

	// Prices looks up catalog prices for lines the backend did not price.
	// Nil means no catalog.
	Prices reconcile.PriceFunc

	// PublicURL is the absolute origin the payment provider returns the
	// visitor to.
	PublicURL string

	Logger *slog.Logger
}

// Reconciler owns the session cart. Safe for concurrent use; mutating calls
// are not serialized against each other.
type Reconciler struct {
	api        backend.API
	store      kv.Store
	prices     reconcile.PriceFunc
	successURL string
	cancelURL  string
	logger     *slog.Logger

	mu         sync.Mutex
	userID     model.ID
	cart       model.Cart
	generation uint64
	mergedFor  model.ID

	// guestLines are the guest lines as last read or written, before
	// pricing. They stand in for the store when it cannot be read.
	guestLines []model.CartItem

	inFlight atomic.Int32
}

// MergeReport summarizes a guest-cart merge.
type MergeReport struct {
	UserID    model.ID `json:"userId"`
	Submitted int      `json:"submitted"`
	Failed    int      `json:"failed"`
}

// New creates a Reconciler in guest mode with an empty cart. Call Load to
// read the stored guest cart.
func New(cfg Config) (*Reconciler, error) {
	if cfg.API == nil || cfg.Store == nil {
		return nil, errors.New("cart: API and Store are required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.PublicURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("cart: public URL must be absolute, got %q", cfg.PublicURL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	prices := cfg.Prices
	if prices == nil {
		prices = reconcile.NoPrices
	}
	return &Reconciler{
		api:        cfg.API,
		store:      cfg.Store,
		prices:     prices,
		successURL: base.JoinPath(SuccessPath).String(),
		cancelURL:  base.JoinPath(CancelPath).String(),
		logger:     logger,
		cart:       model.EmptyCart(),
	}, nil
}

// Cart returns a copy of the current cart.
func (r *Reconciler) Cart() model.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.Clone()
}

// Count is the number of units in the cart.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.Count()
}

// UserID returns the application user the cart belongs to, if any.
func (r *Reconciler) UserID() (model.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID, r.userID.Valid()
}

// Busy reports whether a mutating operation is running. It is meant for
// disabling controls, not for synchronization.
func (r *Reconciler) Busy() bool {
	return r.inFlight.Load() > 0
}

func (r *Reconciler) begin() func() {
	r.inFlight.Add(1)
	return func() { r.inFlight.Add(-1) }
}

// snapshot returns the user id and generation a call starts from.
func (r *Reconciler) snapshot() (model.ID, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID, r.generation
}

// apply installs cart if the identity has not changed since gen. It reports
// whether the result was still relevant.
func (r *Reconciler) apply(gen uint64, cart model.Cart) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return false
	}
	r.cart = cart
	return true
}

// Load refreshes the cart from its authority: the device store for a guest,
// the backend for a signed-in user. A failed read installs the empty cart
// and returns the error for display.
func (r *Reconciler) Load(ctx context.Context) (model.Cart, error) {
	userID, gen := r.snapshot()

	var (
		cart    model.Cart
		loadErr error
	)
	if !userID.Valid() {
		cart = reconcile.Recompute(r.readGuest(ctx), r.prices)
	} else {
		server, err := r.api.Cart(ctx, userID)
		if err != nil {
			r.logger.WarnContext(ctx, "loading server cart",
				slog.String("user_id", userID.String()),
				slog.String("error", err.Error()),
			)
			loadErr = fmt.Errorf("loading cart: %w", err)
			cart = model.EmptyCart()
		} else {
			cart = reconcile.Totals(*server, r.prices)
		}
	}

	if !r.apply(gen, cart) {
		r.logger.DebugContext(ctx, "discarding stale cart load")
		return r.Cart(), nil
	}
	return cart.Clone(), loadErr
}

// Add puts qty units of productID in the cart.
func (r *Reconciler) Add(ctx context.Context, productID model.ID, qty int) (model.Cart, error) {
	if !productID.Valid() {
		return r.Cart(), model.NewValidationError("productId", "must be positive")
	}
	if qty < 1 {
		return r.Cart(), model.NewValidationError("quantity", "must be at least 1")
	}
	defer r.begin()()

	userID, gen := r.snapshot()
	if !userID.Valid() {
		items := reconcile.AddLine(r.readGuest(ctx), productID, qty, r.prices(productID))
		return r.saveGuest(ctx, gen, items), nil
	}

	if err := r.api.AddCartItem(ctx, userID, productID, qty); err != nil {
		return r.Cart(), fmt.Errorf("adding product %s: %w", productID, err)
	}
	return r.Load(ctx)
}

// Increase adds one unit of productID.
func (r *Reconciler) Increase(ctx context.Context, productID model.ID) (model.Cart, error) {
	return r.Add(ctx, productID, 1)
}

// Decrease removes one unit of productID. The last unit removes the line.
func (r *Reconciler) Decrease(ctx context.Context, productID model.ID) (model.Cart, error) {
	if !productID.Valid() {
		return r.Cart(), model.NewValidationError("productId", "must be positive")
	}
	defer r.begin()()

	userID, gen := r.snapshot()
	if !userID.Valid() {
		items := reconcile.DecrementLine(r.readGuest(ctx), productID)
		return r.saveGuest(ctx, gen, items), nil
	}

	action := reconcile.PlanDecrease(r.Cart(), productID)
	if action == reconcile.DecreaseNone {
		current, err := r.Load(ctx)
		if err != nil {
			return current, err
		}
		action = reconcile.PlanDecrease(current, productID)
	}

	var err error
	switch action {
	case reconcile.DecreaseNone:
		return r.Cart(), nil
	case reconcile.DecreaseRemove:
		err = r.api.RemoveCartItem(ctx, userID, productID)
	case reconcile.DecreaseDelta:
		err = r.api.AddCartItem(ctx, userID, productID, -1)
	}
	if err != nil {
		return r.Cart(), fmt.Errorf("decreasing product %s: %w", productID, err)
	}
	return r.Load(ctx)
}

// Remove deletes the line for productID.
func (r *Reconciler) Remove(ctx context.Context, productID model.ID) (model.Cart, error) {
	if !productID.Valid() {
		return r.Cart(), model.NewValidationError("productId", "must be positive")
	}
	defer r.begin()()

	userID, gen := r.snapshot()
	if !userID.Valid() {
		items := reconcile.RemoveLine(r.readGuest(ctx), productID)
		return r.saveGuest(ctx, gen, items), nil
	}

	if err := r.api.RemoveCartItem(ctx, userID, productID); err != nil {
		return r.Cart(), fmt.Errorf("removing product %s: %w", productID, err)
	}
	return r.Load(ctx)
}

// Empty removes every line.
func (r *Reconciler) Empty(ctx context.Context) (model.Cart, error) {
	defer r.begin()()

	userID, gen := r.snapshot()
	if !userID.Valid() {
		return r.saveGuest(ctx, gen, nil), nil
	}

	if err := r.api.EmptyCart(ctx, userID); err != nil {
		return r.Cart(), fmt.Errorf("emptying cart: %w", err)
	}
	empty := model.EmptyCart()
	r.apply(gen, empty)
	return empty.Clone(), nil
}

// MergeGuestIntoServer moves the guest cart into the signed-in user's server
// cart, at most once per user. Lines are submitted one at a time as
// additive calls. Failed lines are logged and counted, never returned as an
// error. The guest cart is cleared and the server cart reloaded whatever
// the outcome.
func (r *Reconciler) MergeGuestIntoServer(ctx context.Context) MergeReport {
	r.mu.Lock()
	userID := r.userID
	already := r.mergedFor == userID
	if userID.Valid() {
		r.mergedFor = userID
	}
	r.mu.Unlock()

	report := MergeReport{UserID: userID}
	if !userID.Valid() || already {
		return report
	}

	defer r.begin()()

	plan := reconcile.PlanMerge(r.readGuest(ctx))
	for _, d := range plan {
		report.Submitted++
		if err := r.api.AddCartItem(ctx, userID, d.ProductID, d.Quantity); err != nil {
			report.Failed++
			r.logger.WarnContext(ctx, "merging guest line",
				slog.String("user_id", userID.String()),
				slog.String("product_id", d.ProductID.String()),
				slog.Int("quantity", d.Quantity),
				slog.String("error", err.Error()),
			)
		}
	}
	r.clearGuest(ctx)

	if len(plan) > 0 {
		r.logger.InfoContext(ctx, "guest cart merged",
			slog.String("user_id", userID.String()),
			slog.Int("submitted", report.Submitted),
			slog.Int("failed", report.Failed),
		)
	}

	r.Load(ctx)
	return report
}

// SetUser switches the cart to the server cart of userID, merging the guest
// cart first. An invalid id is ClearUser.
func (r *Reconciler) SetUser(ctx context.Context, userID model.ID) MergeReport {
	if !userID.Valid() {
		r.ClearUser(ctx)
		return MergeReport{}
	}

	r.mu.Lock()
	changed := r.userID != userID
	if changed {
		r.userID = userID
		r.generation++
		r.cart = model.EmptyCart()
	}
	r.mu.Unlock()

	if !changed {
		r.Load(ctx)
		return MergeReport{UserID: userID}
	}
	return r.MergeGuestIntoServer(ctx)
}

// ClearUser returns to guest mode (logout). Any load still running for the
// previous user is discarded when it completes.
func (r *Reconciler) ClearUser(ctx context.Context) {
	r.mu.Lock()
	r.userID = 0
	r.mergedFor = 0
	r.generation++
	r.cart = model.EmptyCart()
	r.mu.Unlock()

	r.Load(ctx)
}

// OnIdentity adapts the Reconciler to an identity observer: a valid id
// switches to that user's cart, zero returns to guest mode.
func (r *Reconciler) OnIdentity(ctx context.Context, userID model.ID) {
	r.SetUser(ctx, userID)
}

// Checkout turns the server cart into an order and opens a payment session
// for it. The caller sends the visitor to CheckoutURL. Without an
// application user it fails with model.ErrNotAuthenticated before any
// network call.
func (r *Reconciler) Checkout(ctx context.Context) (*model.CheckoutSession, error) {
	userID, _ := r.snapshot()
	if !userID.Valid() {
		return nil, model.ErrNotAuthenticated
	}
	defer r.begin()()

	order, err := r.api.CheckoutCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	if order == nil || !order.ID.Valid() {
		return nil, model.NewContractViolation("checkout", "orderId",
			"Order was created but no orderId was returned by the backend")
	}

	checkoutURL, err := r.api.CreatePaymentCheckout(ctx, model.PaymentCheckoutRequest{
		OrderID:    order.ID,
		SuccessURL: r.successURL,
		CancelURL:  r.cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating payment session for order %s: %w", order.ID, err)
	}
	if checkoutURL == "" {
		return nil, model.NewContractViolation("create-checkout", "checkoutUrl",
			"No checkoutUrl returned from payments endpoint")
	}

	r.logger.InfoContext(ctx, "checkout session created",
		slog.String("user_id", userID.String()),
		slog.String("order_id", order.ID.String()),
	)
	return &model.CheckoutSession{OrderID: order.ID, CheckoutURL: checkoutURL}, nil
}

// ReturnURLs are the absolute success and cancel URLs sent to the payment
// provider.
func (r *Reconciler) ReturnURLs() (success, cancel string) {
	return r.successURL, r.cancelURL
}

// =============================================================================
// GUEST CART STORAGE
// =============================================================================
//
// Device-store failures never fail a cart operation: reads fall back to the
// in-memory cart and writes are logged, so the cart keeps working for the
// life of the process.
//
// =============================================================================

func (r *Reconciler) readGuest(ctx context.Context) []model.CartItem {
	raw, ok, err := r.store.Get(ctx, GuestCartKey)
	if err != nil {
		r.logger.WarnContext(ctx, "reading guest cart", slog.String("error", err.Error()))
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.userID.Valid() {
			return nil
		}
		return model.Cart{Items: r.guestLines}.Clone().Items
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	var stored model.Cart
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		r.logger.WarnContext(ctx, "discarding unreadable guest cart", slog.String("error", err.Error()))
		return nil
	}
	items := reconcile.Sanitize(stored.Items)
	r.rememberGuest(items)
	return items
}

func (r *Reconciler) rememberGuest(items []model.CartItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guestLines = model.Cart{Items: items}.Clone().Items
}

// saveGuest persists items and installs their priced cart. Lines are stored
// as mutated, without computed prices, so a catalog loaded later still
// prices them.
func (r *Reconciler) saveGuest(ctx context.Context, gen uint64, items []model.CartItem) model.Cart {
	cart := reconcile.Recompute(items, r.prices)
	r.rememberGuest(items)

	stored := model.Cart{Items: items, TotalPrice: cart.TotalPrice}
	if stored.Items == nil {
		stored.Items = []model.CartItem{}
	}
	data, err := json.Marshal(stored)
	if err == nil {
		err = r.store.Set(ctx, GuestCartKey, string(data))
	}
	if err != nil {
		r.logger.WarnContext(ctx, "saving guest cart", slog.String("error", err.Error()))
	}

	r.apply(gen, cart)
	return cart.Clone()
}

func (r *Reconciler) clearGuest(ctx context.Context) {
	r.rememberGuest(nil)
	if err := r.store.Remove(ctx, GuestCartKey); err != nil {
		r.logger.WarnContext(ctx, "clearing guest cart", slog.String("error", err.Error()))
	}
}
