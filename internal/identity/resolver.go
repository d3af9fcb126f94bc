// Package identity resolves who is using the storefront: the identity-provider
// principal behind the backend session, and the backend application user it
// maps to. The resolved application-user id is cached in the device store and
// observers are told whenever it changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"storefront/internal/backend"
	"storefront/internal/kv"
	"storefront/internal/model"
)

// AppUserIDKey is the device-store key holding the resolved application-user id.
const AppUserIDKey = "onion.appUserId"

// Observer is called with the new application-user id, or 0 when the
// identity was cleared. Observers run synchronously on the goroutine that
// changed the id and must not call back into the Resolver's Subscribe.
type Observer func(ctx context.Context, userID model.ID)

// Resolver owns the application-user id and its observers.
type Resolver struct {
	api    backend.API
	store  kv.Store
	logger *slog.Logger

	strategies []Strategy

	mu        sync.Mutex
	userID    model.ID
	observers map[int]Observer
	nextID    int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategies replaces the default resolution order.
func WithStrategies(s ...Strategy) Option {
	return func(r *Resolver) { r.strategies = s }
}

// NewResolver creates a Resolver. The cached id is not read until Refresh or
// Resolve is called.
func NewResolver(api backend.API, store kv.Store, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Resolver{
		api:       api,
		store:     store,
		logger:    logger,
		observers: make(map[int]Observer),
	}
	r.strategies = r.DefaultStrategies()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CurrentUser asks the backend who is signed in. Anonymous visitors, failed
// calls and empty payloads all report false; none of them is an error.
func (r *Resolver) CurrentUser(ctx context.Context) (Claims, bool) {
	raw, err := r.api.CurrentUser(ctx)
	if err != nil {
		if !model.IsStatus(err, 401, 403) {
			r.logger.DebugContext(ctx, "current user lookup failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}

	provider, err := r.api.CurrentProvider(ctx)
	if err != nil {
		r.logger.DebugContext(ctx, "provider lookup failed", slog.String("error", err.Error()))
		provider = ""
	}
	return ParseClaims(provider, raw), true
}

// EnsureApplicationUser asks the backend to create or link the application
// user for the current session. It fails when the backend has no session.
func (r *Resolver) EnsureApplicationUser(ctx context.Context) (*model.AppUser, error) {
	u, err := r.api.EnsureUserFromMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensuring application user: %w", err)
	}
	if u == nil || !u.ID.Valid() {
		return nil, model.NewContractViolation("ensure-from-me", "id",
			"the backend linked the session but returned no user id")
	}
	return u, nil
}

// CreateApplicationUserFromSession creates the application user from the
// current session's claims. Used when the ensure endpoint is unavailable.
func (r *Resolver) CreateApplicationUserFromSession(ctx context.Context) (*model.AppUser, error) {
	claims, ok := r.CurrentUser(ctx)
	if !ok {
		return nil, model.ErrSessionAbsent
	}
	return r.createFromClaims(ctx, claims)
}

func (r *Resolver) createFromClaims(ctx context.Context, claims Claims) (*model.AppUser, error) {
	if claims == nil {
		return nil, model.ErrSessionAbsent
	}
	profile := claims.Profile()

	password, err := RandomPassword()
	if err != nil {
		return nil, err
	}

	u, err := r.api.CreateUser(ctx, model.NewUserRequest{
		Username:   DeriveUsername(profile),
		Email:      profile.Email,
		Password:   password,
		PictureURL: profile.AvatarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating application user: %w", err)
	}
	if u == nil || !u.ID.Valid() {
		return nil, model.NewContractViolation("create-user", "id",
			"the backend created the user but returned no user id")
	}
	return u, nil
}

// Resolve finds the application user for the signed-in session by trying
// each strategy in order. The winning id is cached and observers notified.
// Without a session it returns model.ErrSessionAbsent; when every strategy
// fails it returns the Resolution (with its failures) and ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	claims, ok := r.CurrentUser(ctx)
	if !ok {
		return nil, model.ErrSessionAbsent
	}

	res := &Resolution{}
	for _, s := range r.strategies {
		u, err := s.Resolve(ctx, claims)
		if err == nil && (u == nil || !u.ID.Valid()) {
			err = model.NewContractViolation(s.Name, "id", "strategy returned no user id")
		}
		if err != nil {
			failure := StrategyFailure{Strategy: s.Name, Reason: classify(err), Err: err}
			res.Failures = append(res.Failures, failure)
			r.logger.DebugContext(ctx, "resolution strategy failed",
				slog.String("strategy", s.Name),
				slog.String("reason", string(failure.Reason)),
				slog.String("error", err.Error()),
			)
			continue
		}

		res.User = u
		res.Strategy = s.Name
		r.setUserID(ctx, u.ID)
		r.logger.InfoContext(ctx, "application user resolved",
			slog.String("strategy", s.Name),
			slog.String("user_id", u.ID.String()),
		)
		return res, nil
	}

	errs := make([]error, 0, len(res.Failures)+1)
	errs = append(errs, ErrUnresolved)
	for _, f := range res.Failures {
		errs = append(errs, f)
	}
	return res, errors.Join(errs...)
}

// Register creates an account with explicit credentials, then tries to link
// it to the current session. The returned user is the linked one when a
// session exists, else the created one (and the id is not cached).
func (r *Resolver) Register(ctx context.Context, req model.NewUserRequest) (*model.AppUser, error) {
	created, err := r.api.CreateUser(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("registering: %w", err)
	}

	linked, err := r.EnsureApplicationUser(ctx)
	if err != nil {
		r.logger.DebugContext(ctx, "registered without a session to link", slog.String("error", err.Error()))
		return created, nil
	}
	r.setUserID(ctx, linked.ID)
	return linked, nil
}

// UserID returns the application-user id currently known to the resolver.
func (r *Resolver) UserID() (model.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID, r.userID.Valid()
}

// Subscribe registers an observer of id changes and returns a function that
// removes it.
func (r *Resolver) Subscribe(fn Observer) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// Refresh re-reads the cached id from the device store and notifies
// observers if it differs from the id the resolver holds. Call it when the
// process regains focus, or let Watch call it on store changes.
func (r *Resolver) Refresh(ctx context.Context) (model.ID, bool) {
	id, _ := r.readStoredID(ctx)
	r.apply(ctx, id)
	return id, id.Valid()
}

// Clear forgets the application user (logout). Observers are notified.
func (r *Resolver) Clear(ctx context.Context) {
	if err := r.store.Remove(ctx, AppUserIDKey); err != nil {
		r.logger.WarnContext(ctx, "clearing cached user id", slog.String("error", err.Error()))
	}
	r.apply(ctx, 0)
}

// Watch follows device-store changes to the cached id, made by this or
// another process, until ctx is done. Each change triggers a re-read rather
// than trusting the event payload, so late events cannot resurrect an id.
func (r *Resolver) Watch(ctx context.Context) {
	for change := range r.store.Watch(ctx) {
		if change.Key != AppUserIDKey {
			continue
		}
		r.Refresh(ctx)
	}
}

// Login signs in with a username and password, then resolves the
// application user. A rejected form login returns model.ErrUnauthorized.
func (r *Resolver) Login(ctx context.Context, username, password string) (*Resolution, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, model.NewValidationError("credentials", "username and password are required")
	}
	if err := r.api.Login(ctx, username, password); err != nil {
		return nil, err
	}
	res, err := r.Resolve(ctx)
	if errors.Is(err, model.ErrSessionAbsent) {
		return nil, fmt.Errorf("%w: the backend accepted the form but no session was established", model.ErrUnauthorized)
	}
	return res, err
}

// Logout ends the backend session and always clears the cached id, even
// when the backend call fails.
func (r *Resolver) Logout(ctx context.Context) error {
	err := r.api.Logout(ctx)
	r.Clear(ctx)
	return err
}

// LoginURL is where a browser starts OAuth login with provider.
func (r *Resolver) LoginURL(provider string) string {
	return r.api.LoginURL(provider)
}

func (r *Resolver) readStoredID(ctx context.Context) (model.ID, bool) {
	raw, ok, err := r.store.Get(ctx, AppUserIDKey)
	if err != nil {
		r.logger.WarnContext(ctx, "reading cached user id", slog.String("error", err.Error()))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	id, err := model.ParseID(raw)
	if err != nil || !id.Valid() {
		return 0, false
	}
	return id, true
}

// setUserID persists id and notifies observers. A store failure is logged;
// the id still applies to this process.
func (r *Resolver) setUserID(ctx context.Context, id model.ID) {
	if err := r.store.Set(ctx, AppUserIDKey, id.String()); err != nil {
		r.logger.WarnContext(ctx, "caching user id", slog.String("error", err.Error()))
	}
	r.apply(ctx, id)
}

// apply records id and notifies observers when it changed.
func (r *Resolver) apply(ctx context.Context, id model.ID) {
	if !id.Valid() {
		id = 0
	}

	r.mu.Lock()
	if r.userID == id {
		r.mu.Unlock()
		return
	}
	r.userID = id
	observers := make([]Observer, 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(ctx, id)
	}
}
