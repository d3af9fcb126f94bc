package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"storefront/internal/model"
)

// Strategy is one way of finding the application user for a session.
// Resolve walks strategies in order and stops at the first success.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, claims Claims) (*model.AppUser, error)
}

// Reason classifies why a strategy did not produce a user.
type Reason string

const (
	ReasonNoCachedID   Reason = "no-cached-id"
	ReasonMismatch     Reason = "cached-user-mismatch"
	ReasonUnavailable  Reason = "endpoint-unavailable" // 404, 405, 501
	ReasonRejected     Reason = "rejected"             // other 4xx
	ReasonBackendError Reason = "backend-error"        // 5xx
	ReasonContract     Reason = "contract-violation"
	ReasonTransport    Reason = "transport"
)

// StrategyFailure records a strategy that did not produce a user.
type StrategyFailure struct {
	Strategy string
	Reason   Reason
	Err      error
}

func (f StrategyFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Strategy, f.Reason, f.Err)
}

func (f StrategyFailure) Unwrap() error { return f.Err }

// Resolution is the outcome of Resolve.
type Resolution struct {
	User     *model.AppUser
	Strategy string // name of the strategy that succeeded
	Failures []StrategyFailure
}

var (
	// ErrUnresolved is returned when every strategy failed.
	ErrUnresolved = errors.New("application user could not be resolved")

	errNoCachedID = errors.New("no application user id cached on this device")

	// errCachedMismatch means the cached id belongs to another account than
	// the one signed in now.
	errCachedMismatch = errors.New("cached application user belongs to another account")
)

func classify(err error) Reason {
	var httpErr *model.HTTPError
	switch {
	case errors.Is(err, errNoCachedID):
		return ReasonNoCachedID
	case errors.Is(err, errCachedMismatch):
		return ReasonMismatch
	case errors.Is(err, model.ErrContractViolation):
		return ReasonContract
	case errors.As(err, &httpErr):
		switch {
		case httpErr.StatusCode == 404 || httpErr.StatusCode == 405 || httpErr.StatusCode == 501:
			return ReasonUnavailable
		case httpErr.StatusCode >= 500:
			return ReasonBackendError
		default:
			return ReasonRejected
		}
	default:
		return ReasonTransport
	}
}

// Strategy names used by DefaultStrategies.
const (
	StrategyCached = "cached-id"
	StrategyEnsure = "ensure-from-me"
	StrategyCreate = "create-from-session"
)

// DefaultStrategies is the resolution order: the id cached on this device,
// then the backend's create-or-link endpoint, then explicit creation from
// the session claims.
func (r *Resolver) DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyCached, Resolve: r.resolveCached},
		{Name: StrategyEnsure, Resolve: func(ctx context.Context, _ Claims) (*model.AppUser, error) {
			return r.EnsureApplicationUser(ctx)
		}},
		{Name: StrategyCreate, Resolve: r.createFromClaims},
	}
}

// resolveCached trusts the cached id unless the backend reports that it
// belongs to a different email than the session's. Without a user record to
// compare, the id alone resolves.
func (r *Resolver) resolveCached(ctx context.Context, claims Claims) (*model.AppUser, error) {
	id, ok := r.readStoredID(ctx)
	if !ok {
		return nil, errNoCachedID
	}
	u, err := r.api.User(ctx, id)
	if err != nil || u == nil || u.ID != id {
		return &model.AppUser{ID: id}, nil
	}
	if claims != nil {
		session := strings.TrimSpace(claims.Profile().Email)
		cached := strings.TrimSpace(u.Email)
		if session != "" && cached != "" && !strings.EqualFold(session, cached) {
			return nil, fmt.Errorf("%w: user %s is %s, session is %s", errCachedMismatch, id, cached, session)
		}
	}
	return u, nil
}

// =============================================================================
// ACCOUNT CREATION FROM SESSION CLAIMS
// =============================================================================
//
// The user-creation endpoint requires a username and a password even though
// the visitor authenticates through the identity provider. The username is
// derived from the claims; the password is random and never shown.
//
// =============================================================================

const (
	maxUsernameLength = 30
	passwordLength    = 24
	passwordAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// DeriveUsername prefers the display name, else the local part of the email,
// keeps only letters, digits, '.', '_' and '-', and truncates to 30
// characters. It returns "user" when nothing survives.
func DeriveUsername(p Profile) string {
	source := p.DisplayName
	if source == "" {
		source, _, _ = strings.Cut(p.Email, "@")
	}

	var b strings.Builder
	for _, r := range source {
		if isUsernameRune(r) {
			b.WriteRune(r)
			if b.Len() == maxUsernameLength {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func isUsernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}

// RandomPassword returns a 24-character alphanumeric password from crypto/rand.
func RandomPassword() (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, passwordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
