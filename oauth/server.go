package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"golang.org/x/crypto/bcrypt"
)

const (
	codeEntropyBytes   = 32
	tokenEntropyBytes  = 32
	secretEntropyBytes = 32
)

type Option func(*Server)

func WithServerSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

func WithClock(clock core.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

func WithRandomSource(source core.RandomSource) Option {
	return func(s *Server) {
		s.random = source
	}
}

func WithAccessTokenLifetime(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

func WithRefreshTokenLifetime(ttl time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = ttl
	}
}

func WithCodeLifetime(ttl time.Duration) Option {
	return func(s *Server) {
		s.codeTTL = ttl
	}
}

// WithConfig applies lifetimes and the server secret from core config.
func WithConfig(cfg core.OAuthConfig) Option {
	return func(s *Server) {
		s.accessTTL = cfg.AccessTokenTTL()
		s.refreshTTL = cfg.RefreshTokenTTL()
		s.codeTTL = cfg.CodeTTL()
		if strings.TrimSpace(cfg.ServerSecret) != "" {
			s.secret = []byte(cfg.ServerSecret)
		}
	}
}

// WithPlaintextSecrets makes RegisterClient keep the generated secret as is
// instead of a bcrypt hash.
func WithPlaintextSecrets() Option {
	return func(s *Server) {
		s.hashSecrets = false
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		s.observer.Logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(s *Server) {
		s.observer.Metrics = recorder
	}
}

type Server struct {
	clients     ClientStore
	codes       CodeStore
	tokens      TokenStore
	clock       core.Clock
	random      core.RandomSource
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	codeTTL     time.Duration
	hashSecrets bool
	observer    core.Observer
}

func NewServer(clients ClientStore, codes CodeStore, tokens TokenStore, opts ...Option) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("oauth: client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("oauth: code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("oauth: token store is required")
	}
	server := &Server{
		clients:     clients,
		codes:       codes,
		tokens:      tokens,
		clock:       core.SystemClock{},
		random:      core.CryptoRandom{},
		accessTTL:   core.DefaultTokenLifetimeSeconds * time.Second,
		refreshTTL:  core.DefaultRefreshTokenLifetimeDay * 24 * time.Hour,
		codeTTL:     core.DefaultCodeLifetimeSeconds * time.Second,
		hashSecrets: true,
		observer:    core.NewObserver(nil, nil, "integrations.oauth"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	if len(server.secret) == 0 {
		return nil, fmt.Errorf("oauth: server secret is required")
	}
	server.clock = core.ResolveClock(server.clock)
	server.random = core.ResolveRandom(server.random)
	if server.accessTTL <= 0 || server.refreshTTL <= 0 || server.codeTTL <= 0 {
		return nil, fmt.Errorf("oauth: token and code lifetimes must be positive")
	}
	return server, nil
}

// NewKVServer wires code and token stores over a single key-value backend.
func NewKVServer(clients ClientStore, store core.KVStore, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("oauth: key-value store is required")
	}
	return NewServer(clients, NewKVCodeStore(store), NewKVTokenStore(store), opts...)
}

// ValidateClient returns the client when it is active and redirectURI is one
// of its registered URIs. Any other outcome is ok=false.
func (s *Server) ValidateClient(ctx context.Context, clientID, redirectURI string) (Client, bool, error) {
	if s == nil {
		return Client{}, false, fmt.Errorf("oauth: server is nil")
	}
	if clientID == "" || redirectURI == "" {
		return Client{}, false, nil
	}
	client, ok, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return Client{}, false, fmt.Errorf("oauth: load client: %w", err)
	}
	if !ok || !client.IsActive || client.ClientID != clientID {
		return Client{}, false, nil
	}
	if !client.AllowsRedirect(redirectURI) {
		return Client{}, false, nil
	}
	return client, true, nil
}

// GenerateAuthorizationCode issues a 256-bit code for client and userID that
// expires after the configured code lifetime. Empty scopes default to the
// client's registered scopes; requested scopes outside that set are refused.
func (s *Server) GenerateAuthorizationCode(ctx context.Context, client Client, userID string, scopes []string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("oauth: server is nil")
	}
	if strings.TrimSpace(client.ClientID) == "" {
		return "", fmt.Errorf("oauth: client id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("oauth: user id is required")
	}
	granted, err := grantScopes(client, scopes)
	if err != nil {
		return "", err
	}

	code, err := core.RandomToken(s.random, codeEntropyBytes)
	if err != nil {
		return "", fmt.Errorf("oauth: generate code: %w", err)
	}
	now := s.clock.Now()
	record := AuthorizationCode{
		ClientID:  client.ClientID,
		UserID:    userID,
		Scopes:    granted,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.codeTTL),
		Binding:   s.binding(code, client.ClientID, userID),
	}
	if err := s.codes.SaveCode(ctx, code, record, s.codeTTL); err != nil {
		return "", fmt.Errorf("oauth: save code: %w", err)
	}
	s.observer.IncCounter(ctx, "integrations.oauth.codes_issued", 1, map[string]string{"client_id": client.ClientID})
	return code, nil
}

// ExchangeCode trades a code for an access and refresh token pair. The code
// is deleted before expiry, client and secret are checked. Every rejection
// returns ErrInvalidGrant; store failures are returned as is.
func (s *Server) ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (bundle TokenBundle, err error) {
	if s == nil {
		return TokenBundle{}, fmt.Errorf("oauth: server is nil")
	}
	startedAt := time.Now()
	reason := ""
	defer func() {
		fields := map[string]any{"client_id": clientID}
		if reason != "" {
			fields["reason"] = reason
		}
		s.observer.ObserveOperation(ctx, startedAt, "exchange_code", err, fields)
	}()

	record, ok, err := s.codes.TakeCode(ctx, code)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("oauth: consume code: %w", err)
	}
	if !ok {
		reason = "code_not_found"
		return TokenBundle{}, ErrInvalidGrant
	}
	now := s.clock.Now()
	if record.Expired(now) {
		reason = "code_expired"
		return TokenBundle{}, ErrInvalidGrant
	}
	if record.ClientID != clientID {
		reason = "client_mismatch"
		return TokenBundle{}, ErrInvalidGrant
	}
	client, ok, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("oauth: load client: %w", err)
	}
	if !ok || !client.IsActive {
		reason = "client_unavailable"
		return TokenBundle{}, ErrInvalidGrant
	}
	if !SecretMatches(client, clientSecret) {
		reason = "secret_mismatch"
		return TokenBundle{}, ErrInvalidGrant
	}

	return s.issueTokens(ctx, record, now)
}

func (s *Server) issueTokens(ctx context.Context, code AuthorizationCode, now time.Time) (TokenBundle, error) {
	accessToken, err := core.RandomToken(s.random, tokenEntropyBytes)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("oauth: generate access token: %w", err)
	}
	refreshToken, err := core.RandomToken(s.random, tokenEntropyBytes)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("oauth: generate refresh token: %w", err)
	}

	access := TokenRecord{
		Kind:      TokenKindAccess,
		ClientID:  code.ClientID,
		UserID:    code.UserID,
		Scopes:    append([]string(nil), code.Scopes...),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	}
	if err := s.tokens.SaveToken(ctx, accessToken, access, s.accessTTL); err != nil {
		return TokenBundle{}, fmt.Errorf("oauth: save access token: %w", err)
	}
	refresh := access
	refresh.Kind = TokenKindRefresh
	refresh.ExpiresAt = now.Add(s.refreshTTL)
	if err := s.tokens.SaveToken(ctx, refreshToken, refresh, s.refreshTTL); err != nil {
		return TokenBundle{}, fmt.Errorf("oauth: save refresh token: %w", err)
	}

	return TokenBundle{
		AccessToken:  accessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		RefreshToken: refreshToken,
		Scope:        JoinScopes(code.Scopes),
	}, nil
}

// ValidateAccessToken resolves a bearer token. Unknown, expired and refresh
// tokens all yield ok=false; expired entries are deleted on sight.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (Claims, bool, error) {
	if s == nil {
		return Claims{}, false, fmt.Errorf("oauth: server is nil")
	}
	record, ok, err := s.tokens.GetToken(ctx, token)
	if err != nil {
		return Claims{}, false, fmt.Errorf("oauth: load token: %w", err)
	}
	if !ok {
		return Claims{}, false, nil
	}
	if record.Expired(s.clock.Now()) {
		if err := s.tokens.DeleteToken(ctx, token); err != nil {
			return Claims{}, false, fmt.Errorf("oauth: delete expired token: %w", err)
		}
		return Claims{}, false, nil
	}
	if record.Kind != TokenKindAccess {
		return Claims{}, false, nil
	}
	return Claims{
		ClientID:  record.ClientID,
		UserID:    record.UserID,
		Scopes:    append([]string(nil), record.Scopes...),
		ExpiresAt: record.ExpiresAt,
	}, true, nil
}

// RevokeToken deletes an access or refresh token. Unknown tokens are not an
// error.
func (s *Server) RevokeToken(ctx context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("oauth: server is nil")
	}
	if err := s.tokens.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("oauth: revoke token: %w", err)
	}
	return nil
}

type RegisterClientInput struct {
	ClientID     string
	Name         string
	RedirectURIs []string
	Scopes       []string
}

// RegisterClient stores a new active client and returns the plaintext secret.
// The secret cannot be recovered later when hashing is enabled.
func (s *Server) RegisterClient(ctx context.Context, in RegisterClientInput) (Client, string, error) {
	if s == nil {
		return Client{}, "", fmt.Errorf("oauth: server is nil")
	}
	redirects := make([]string, 0, len(in.RedirectURIs))
	for _, uri := range in.RedirectURIs {
		if uri = strings.TrimSpace(uri); uri != "" {
			redirects = append(redirects, uri)
		}
	}
	if len(redirects) == 0 {
		return Client{}, "", fmt.Errorf("oauth: at least one redirect uri is required")
	}

	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		generated, err := core.RandomToken(s.random, 12)
		if err != nil {
			return Client{}, "", fmt.Errorf("oauth: generate client id: %w", err)
		}
		clientID = "client_" + generated
	}
	if _, exists, err := s.clients.GetClient(ctx, clientID); err != nil {
		return Client{}, "", fmt.Errorf("oauth: load client: %w", err)
	} else if exists {
		return Client{}, "", fmt.Errorf("oauth: client %q already registered", clientID)
	}

	secret, err := core.RandomToken(s.random, secretEntropyBytes)
	if err != nil {
		return Client{}, "", fmt.Errorf("oauth: generate client secret: %w", err)
	}
	now := s.clock.Now()
	client := Client{
		ClientID:     clientID,
		Name:         strings.TrimSpace(in.Name),
		RedirectURIs: redirects,
		Scopes:       normalizeScopes(in.Scopes),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.hashSecrets {
		hash, err := HashClientSecret(secret)
		if err != nil {
			return Client{}, "", err
		}
		client.SecretHash = hash
	} else {
		client.ClientSecret = secret
	}
	if err := s.clients.SaveClient(ctx, client); err != nil {
		return Client{}, "", fmt.Errorf("oauth: save client: %w", err)
	}
	s.observer.Info(ctx, "oauth client registered", map[string]any{"client_id": clientID})
	return client, secret, nil
}

// RevokeClient deactivates a client. Outstanding codes for it stop
// exchanging; issued tokens stay valid until they expire or are revoked.
func (s *Server) RevokeClient(ctx context.Context, clientID string) error {
	if s == nil {
		return fmt.Errorf("oauth: server is nil")
	}
	client, ok, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("oauth: load client: %w", err)
	}
	if !ok {
		return ErrInvalidClient
	}
	if !client.IsActive {
		return nil
	}
	client.IsActive = false
	client.UpdatedAt = s.clock.Now()
	if err := s.clients.SaveClient(ctx, client); err != nil {
		return fmt.Errorf("oauth: save client: %w", err)
	}
	s.observer.Info(ctx, "oauth client revoked", map[string]any{"client_id": clientID})
	return nil
}

// InspectBinding reads an unspent code without consuming it and reports
// whether its stored binding matches a recomputation with the server secret.
// Exchange does not consult the binding.
func (s *Server) InspectBinding(ctx context.Context, code string) (AuthorizationCode, bool, error) {
	if s == nil {
		return AuthorizationCode{}, false, fmt.Errorf("oauth: server is nil")
	}
	record, ok, err := s.codes.PeekCode(ctx, code)
	if err != nil {
		return AuthorizationCode{}, false, fmt.Errorf("oauth: load code: %w", err)
	}
	if !ok {
		return AuthorizationCode{}, false, nil
	}
	expected := s.binding(code, record.ClientID, record.UserID)
	return record, hmac.Equal([]byte(expected), []byte(record.Binding)), nil
}

func (s *Server) binding(code, clientID, userID string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(code))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(clientID))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// SecretMatches compares against the bcrypt hash when present, otherwise
// the stored plaintext in constant time.
func SecretMatches(client Client, presented string) bool {
	if presented == "" {
		return false
	}
	if client.SecretHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(presented)) == nil
	}
	if client.ClientSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(presented)) == 1
}

func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("oauth: client secret is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("oauth: hash client secret: %w", err)
	}
	return string(hash), nil
}

func grantScopes(client Client, requested []string) ([]string, error) {
	requested = normalizeScopes(requested)
	allowed := normalizeScopes(client.Scopes)
	if len(requested) == 0 {
		return allowed, nil
	}
	if len(allowed) == 0 {
		return requested, nil
	}
	permitted := make(map[string]struct{}, len(allowed))
	for _, scope := range allowed {
		permitted[scope] = struct{}{}
	}
	for _, scope := range requested {
		if _, ok := permitted[scope]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
		}
	}
	return requested, nil
}
