package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mikey/mail-triage/internal/core"
)

// TokenConfig builds refreshing token sources; *oauth2.Config satisfies it
type TokenConfig interface {
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

// TokenSource refreshes expired access tokens and writes every new token back to the
// credential store, so concurrent sync tasks for the same account observe it.
type TokenSource struct {
	ctx     context.Context
	config  TokenConfig
	store   core.CredentialStore
	ref     string
	account string
	logger  *zap.Logger

	mu      sync.Mutex
	base    oauth2.TokenSource
	current *oauth2.Token
}

// NewTokenSource creates a persisting token source for one account
func NewTokenSource(ctx context.Context, config TokenConfig, store core.CredentialStore, account *core.Account, creds *core.Credentials, logger *zap.Logger) *TokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok := ToOAuthToken(creds)
	return &TokenSource{
		ctx:     ctx,
		config:  config,
		store:   store,
		ref:     account.CredentialRef,
		account: account.Email,
		logger:  logger,
		base:    config.TokenSource(ctx, tok),
		current: tok,
	}
}

// Token returns a valid access token, refreshing and persisting it when needed
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.base.Token()
	if err != nil {
		return nil, ts.authError(err)
	}

	if ts.current == nil || tok.AccessToken != ts.current.AccessToken {
		ts.persist(tok)
	}
	ts.current = tok
	return tok, nil
}

// ForceRefresh discards the current access token so the next call refreshes it
func (ts *TokenSource) ForceRefresh(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.current == nil || ts.current.RefreshToken == "" {
		return &core.AuthError{Account: ts.account, Message: "no refresh token available"}
	}
	stale := &oauth2.Token{
		RefreshToken: ts.current.RefreshToken,
		TokenType:    ts.current.TokenType,
		Expiry:       time.Unix(1, 0),
	}
	ts.base = ts.config.TokenSource(ts.ctx, stale)

	tok, err := ts.base.Token()
	if err != nil {
		return ts.authError(err)
	}
	ts.persist(tok)
	ts.current = tok
	return nil
}

func (ts *TokenSource) persist(tok *oauth2.Token) {
	if ts.store == nil || ts.ref == "" {
		return
	}
	creds := FromOAuthToken(tok)
	if creds.RefreshToken == "" && ts.current != nil {
		creds.RefreshToken = ts.current.RefreshToken
	}
	if err := ts.store.Save(ts.ctx, ts.ref, creds); err != nil {
		ts.logger.Error("Failed to persist refreshed token",
			zap.String("account", ts.account),
			zap.Error(err))
		return
	}
	ts.logger.Debug("Persisted refreshed token", zap.String("account", ts.account))
}

func (ts *TokenSource) authError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		msg := rerr.ErrorCode
		if msg == "" && rerr.Response != nil {
			msg = fmt.Sprintf("token endpoint returned %d", rerr.Response.StatusCode)
		}
		if msg == "" {
			msg = "token refresh rejected"
		}
		return &core.AuthError{Account: ts.account, Message: msg, Err: err}
	}
	return fmt.Errorf("refreshing token for %s: %w", ts.account, err)
}

// ToOAuthToken converts stored credentials to an oauth2 token
func ToOAuthToken(c *core.Credentials) *oauth2.Token {
	if c == nil {
		return &oauth2.Token{}
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// FromOAuthToken converts an oauth2 token to storable credentials
func FromOAuthToken(t *oauth2.Token) *core.Credentials {
	return &core.Credentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}
