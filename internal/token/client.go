package token

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/calyxmail/calyx/internal/account"
	apperrors "github.com/calyxmail/calyx/internal/errors"
	"github.com/calyxmail/calyx/internal/metrics"
)

// PersistFunc writes a freshly minted token set back to the registry.
type PersistFunc func(ctx context.Context, accountID string, tokens account.TokenSet) error

// IssuedFunc is notified after a new token set has been minted and persisted.
type IssuedFunc func(accountID string, tokens account.TokenSet)

// Client is a ready-to-use OAuth client for one account. It refreshes its
// access token through the provider token endpoint and persists every newly
// minted token set before handing it out.
type Client struct {
	accountID string
	conf      *oauth2.Config
	clock     clockwork.Clock
	window    time.Duration
	base      *http.Client
	persist   PersistFunc
	onIssued  IssuedFunc

	mu      sync.Mutex
	current account.TokenSet
}

// AccountID returns the id of the account this client authenticates.
func (c *Client) AccountID() string {
	return c.accountID
}

// SetCredentials replaces the in-memory token set, e.g. after an external
// consent flow minted a brand-new grant.
func (c *Client) SetCredentials(tokens account.TokenSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = tokens
}

// Tokens returns a copy of the current in-memory token set.
func (c *Client) Tokens() account.TokenSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Expiring reports whether the access token is missing or due to expire
// within the safety window. A zero expiry means the token never expires.
func (c *Client) Expiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiringLocked()
}

func (c *Client) expiringLocked() bool {
	if c.current.AccessToken == "" {
		return true
	}
	if c.current.Expiry.IsZero() {
		return false
	}
	return !c.clock.Now().Add(c.window).Before(c.current.Expiry)
}

// AccessToken returns a valid access token, refreshing first if the current
// one is inside the safety window.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	tokens, err := c.ensure(ctx, false)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// Refresh forces a refresh regardless of the current expiry.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.ensure(ctx, true)
	return err
}

// HTTPClient returns an *http.Client whose transport injects a valid access
// token into every request, consumed by the mail/calendar API wrappers.
func (c *Client) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, clientSource{ctx: ctx, client: c})
}

// clientSource adapts Client to oauth2.TokenSource.
type clientSource struct {
	ctx    context.Context
	client *Client
}

func (s clientSource) Token() (*oauth2.Token, error) {
	tokens, err := s.client.ensure(s.ctx, false)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Expiry:       tokens.Expiry,
	}, nil
}

// ensure returns the current token set, minting a new one through the
// provider when forced or when the access token is inside the safety
// window. Only one refresh runs at a time per client; callers that arrive
// while one is in flight observe its result.
func (c *Client) ensure(ctx context.Context, force bool) (account.TokenSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && !c.expiringLocked() {
		return c.current, nil
	}

	if c.current.RefreshToken == "" {
		return account.TokenSet{}, apperrors.NotFoundError("account has no refresh token, re-authentication required").
			WithField("account_id", c.accountID)
	}

	seed := &oauth2.Token{RefreshToken: c.current.RefreshToken}
	callCtx := context.WithValue(ctx, oauth2.HTTPClient, c.base)

	tok, err := c.conf.TokenSource(callCtx, seed).Token()
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return account.TokenSet{}, classifyRefreshError(c.accountID, err)
	}

	minted := account.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		minted.Scope = scope
	} else {
		minted.Scope = c.current.Scope
	}

	// Many providers issue the refresh token only once. If this mint omits
	// it, carry the previous one forward before persisting; dropping it
	// silently produces an account that authenticates now but can never
	// refresh again.
	if minted.RefreshToken == "" {
		minted.RefreshToken = c.current.RefreshToken
	}

	if err := c.persist(ctx, c.accountID, minted); err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return account.TokenSet{}, err
	}

	c.current = minted
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()

	if c.onIssued != nil {
		c.onIssued(c.accountID, minted)
	}

	return c.current, nil
}

// classifyRefreshError maps a token endpoint failure onto the error
// taxonomy: 400/401 responses mean the grant itself was revoked upstream.
func classifyRefreshError(accountID string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code == http.StatusBadRequest || code == http.StatusUnauthorized {
			return apperrors.ExternalError("refresh token rejected, grant likely revoked", err).
				WithField("account_id", accountID).
				WithField("status", code)
		}
	}
	return apperrors.ExternalError("token refresh failed", err).WithField("account_id", accountID)
}
