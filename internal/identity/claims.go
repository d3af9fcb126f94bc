package identity

import (
	"strings"
)

// Provider names the identity provider that authenticated the session.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderGoogle  Provider = "google"
	ProviderLocal   Provider = "local"
	ProviderUnknown Provider = ""
)

// Profile is the provider-agnostic projection of a principal's claims.
// Provider-agnostic code reads only this.
type Profile struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Claims is the identity of the signed-in principal. The concrete type is
// selected by provider: *GitHubClaims, *GoogleClaims, *LocalClaims or
// *GenericClaims.
type Claims interface {
	Provider() Provider
	Profile() Profile
}

// GitHubClaims are the claims of a GitHub OAuth login.
type GitHubClaims struct {
	Login     string
	Name      string
	Email     string
	AvatarURL string
	HTMLURL   string
	Raw       map[string]any
}

func (c *GitHubClaims) Provider() Provider { return ProviderGitHub }

func (c *GitHubClaims) Profile() Profile {
	return Profile{
		Email:       c.Email,
		DisplayName: firstNonEmpty(c.Name, c.Login),
		AvatarURL:   c.AvatarURL,
	}
}

// GoogleClaims are the claims of a Google OpenID Connect login.
type GoogleClaims struct {
	Subject       string
	Email         string
	EmailVerified *bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	Locale        string
	Raw           map[string]any
}

func (c *GoogleClaims) Provider() Provider { return ProviderGoogle }

func (c *GoogleClaims) Profile() Profile {
	full := strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	return Profile{
		Email:       c.Email,
		DisplayName: firstNonEmpty(c.Name, full),
		AvatarURL:   c.Picture,
	}
}

// LocalClaims are the claims of a username/password form login.
type LocalClaims struct {
	Username string
	Email    string
	Raw      map[string]any
}

func (c *LocalClaims) Provider() Provider { return ProviderLocal }

func (c *LocalClaims) Profile() Profile {
	return Profile{Email: c.Email, DisplayName: c.Username}
}

// GenericClaims hold claims from a provider this client does not model.
type GenericClaims struct {
	ProviderName string
	Raw          map[string]any
}

func (c *GenericClaims) Provider() Provider { return Provider(c.ProviderName) }

func (c *GenericClaims) Profile() Profile {
	return Profile{
		Email:       str(c.Raw, "email"),
		DisplayName: firstNonEmpty(str(c.Raw, "name"), str(c.Raw, "username"), str(c.Raw, "preferred_username")),
		AvatarURL:   str(c.Raw, "picture", "avatarUrl", "avatar_url"),
	}
}

// ParseClaims builds the variant for provider from the raw /users/me payload.
// An empty provider is inferred from the payload: a "login" field means
// GitHub, a given name means Google, a bare username means a form login.
func ParseClaims(provider string, raw map[string]any) Claims {
	p := Provider(strings.ToLower(strings.TrimSpace(provider)))
	if p == ProviderUnknown {
		p = inferProvider(raw)
	}

	switch p {
	case ProviderGitHub:
		return &GitHubClaims{
			Login:     str(raw, "login"),
			Name:      str(raw, "name"),
			Email:     str(raw, "email"),
			AvatarURL: str(raw, "avatarUrl", "avatar_url", "picture"),
			HTMLURL:   str(raw, "htmlUrl", "html_url"),
			Raw:       raw,
		}
	case ProviderGoogle:
		c := &GoogleClaims{
			Subject:    str(raw, "subject", "sub"),
			Email:      str(raw, "email"),
			Name:       str(raw, "name"),
			GivenName:  str(raw, "givenName", "given_name"),
			FamilyName: str(raw, "familyName", "family_name"),
			Picture:    str(raw, "picture"),
			Locale:     str(raw, "locale"),
			Raw:        raw,
		}
		for _, key := range []string{"emailVerified", "email_verified"} {
			if b, ok := raw[key].(bool); ok {
				c.EmailVerified = &b
				break
			}
		}
		return c
	case ProviderLocal, "form", "password":
		return &LocalClaims{
			Username: firstNonEmpty(str(raw, "username"), str(raw, "name")),
			Email:    str(raw, "email"),
			Raw:      raw,
		}
	default:
		return &GenericClaims{ProviderName: string(p), Raw: raw}
	}
}

func inferProvider(raw map[string]any) Provider {
	switch {
	case has(raw, "login"):
		return ProviderGitHub
	case has(raw, "givenName"), has(raw, "given_name"):
		return ProviderGoogle
	case has(raw, "username") && !has(raw, "name"):
		return ProviderLocal
	default:
		return ProviderUnknown
	}
}

func has(raw map[string]any, key string) bool {
	_, ok := raw[key]
	return ok
}

// str returns the first non-empty string value among keys.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
