// Package auth provides the bearer-token collaborator for the remote mailbox
// service: a refreshing token source loaded from a stored OAuth token, exposed
// both as an oauth2.TokenSource (for the API client) and as a TokenProvider
// (for callers that just need a valid bearer string).
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/inboxd/inboxd/internal/config"
	"github.com/inboxd/inboxd/internal/crypto"
)

// ErrReauthRequired means the refresh token itself was rejected; the user has
// to go through the authorization flow again.
var ErrReauthRequired = errors.New("reauthentication required")

// TokenProvider supplies a currently valid bearer token, refreshing under the
// hood when necessary. Token may block while a refresh is in flight.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Provider implements TokenProvider over an auto-refreshing oauth2.TokenSource.
type Provider struct {
	source *cachingTokenSource
}

// cachingTokenSource caches the access token like oauth2.ReuseTokenSource so
// concurrent callers share one refresh, but it can also drop the cache on
// demand. A token revoked mid-flight still looks valid by its expiry; only the
// remote's 401 reveals it, at which point the client invalidates the cache and
// retries with a freshly minted token.
type cachingTokenSource struct {
	base oauth2.TokenSource

	mu    sync.Mutex
	token *oauth2.Token
}

func (s *cachingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token.Valid() {
		return s.token, nil
	}
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.token = tok
	return tok, nil
}

// Invalidate drops the cached access token so the next Token call refreshes.
func (s *cachingTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

// NewProvider loads the stored OAuth token from cfg.OAuthTokenFile and wraps it
// in a refreshing token source using the configured client credentials. When
// cfg.TokenEncryptionKey is set, the token file is decrypted first.
func NewProvider(ctx context.Context, cfg *config.Config) (*Provider, error) {
	raw, err := os.ReadFile(cfg.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read OAuth token file: %w", err)
	}

	if cfg.TokenEncryptionKey != "" {
		encryptor, err := crypto.NewEncryptor(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, err
		}
		if raw, err = encryptor.Open(raw); err != nil {
			return nil, fmt.Errorf("failed to decrypt OAuth token file: %w", err)
		}
	}

	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("failed to parse OAuth token file: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Endpoint:     google.Endpoint,
	}

	source := &cachingTokenSource{
		base:  oauthCfg.TokenSource(ctx, &token),
		token: &token,
	}
	return &Provider{source: source}, nil
}

// TokenSource exposes the underlying source for API clients that consume
// oauth2.TokenSource directly.
func (p *Provider) TokenSource() oauth2.TokenSource {
	return p.source
}

// Token returns a currently valid bearer token, refreshing if needed.
// An invalid refresh token surfaces as ErrReauthRequired.
func (p *Provider) Token(_ context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return "", ErrReauthRequired
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	return tok.AccessToken, nil
}

// StaticProvider returns a fixed token; used by tests and the fake remote.
type StaticProvider string

func (s StaticProvider) Token(context.Context) (string, error) {
	return string(s), nil
}
