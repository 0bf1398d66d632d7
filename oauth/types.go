package oauth

import (
	"strings"
	"time"
)

const TokenTypeBearer = "Bearer"

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

type Client struct {
	ClientID string
	Name     string
	// ClientSecret holds the plaintext secret for stores that keep it.
	// SecretHash holds a bcrypt hash; when set it takes precedence.
	ClientSecret string
	SecretHash   string
	RedirectURIs []string
	Scopes       []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllowsRedirect reports an exact, case-sensitive match against the
// registered set.
func (c Client) AllowsRedirect(redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if registered == redirectURI {
			return true
		}
	}
	return false
}

type AuthorizationCode struct {
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// Binding is hex HMAC-SHA256 over code, client id and user id, kept for
	// audit. It is not checked during exchange.
	Binding string `json:"binding"`
}

func (c AuthorizationCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

type TokenRecord struct {
	Kind      TokenKind `json:"kind"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t TokenRecord) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Claims is what a resource server learns from a valid access token.
type Claims struct {
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
}

type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func JoinScopes(scopes []string) string {
	return strings.Join(normalizeScopes(scopes), " ")
}

// ParseScopes splits a space or comma delimited scope parameter.
func ParseScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return normalizeScopes(fields)
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

func cloneClient(client Client) Client {
	cloned := client
	cloned.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	cloned.Scopes = append([]string(nil), client.Scopes...)
	return cloned
}
