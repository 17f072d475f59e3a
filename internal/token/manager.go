package token

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/calyxmail/calyx/internal/account"
	apperrors "github.com/calyxmail/calyx/internal/errors"
	"github.com/calyxmail/calyx/internal/metrics"
)

const revokeTimeout = 10 * time.Second

// Config carries the provider endpoints and refresh policy for the manager.
type Config struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	RevokeURL     string
	RefreshWindow time.Duration

	// HTTPClient is the base transport for token endpoint calls.
	// Defaults to a 10s-timeout client.
	HTTPClient *http.Client

	// OnTokenIssued, if set, is invoked after every persisted mint. It is
	// supplied explicitly at construction rather than hooked into a hidden
	// provider event.
	OnTokenIssued IssuedFunc
}

// Manager produces ready-to-use OAuth clients per account, refreshing
// proactively and preserving refresh tokens across rotations. Clients are
// cached by account id; concurrent requests for the same account share one
// in-flight build or refresh.
type Manager struct {
	registry *account.Registry
	cfg      Config
	clock    clockwork.Clock

	mu      sync.Mutex
	clients map[string]*Client
	group   singleflight.Group
}

// NewManager creates a Manager over the given registry.
func NewManager(registry *account.Registry, cfg Config, clock clockwork.Clock) *Manager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 60 * time.Second
	}
	return &Manager{
		registry: registry,
		cfg:      cfg,
		clock:    clock,
		clients:  make(map[string]*Client),
	}
}

// resolve looks an account up by subject id, then by email.
func (m *Manager) resolve(ctx context.Context, accountID string) (*account.Account, error) {
	acc, err := m.registry.Get(ctx, accountID)
	if err == nil {
		return acc, nil
	}
	if !apperrors.IsType(err, apperrors.TypeNotFound) {
		return nil, err
	}
	return m.registry.ResolveByEmail(ctx, accountID)
}

// Client returns a ready-to-use OAuth client for the account, building and
// caching one on first use and eagerly refreshing once if the stored access
// token is already inside the safety window.
func (m *Manager) Client(ctx context.Context, accountID string) (*Client, error) {
	acc, err := m.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Tokens == nil || (acc.Tokens.AccessToken == "" && acc.Tokens.RefreshToken == "") {
		return nil, apperrors.NotFoundError("account has no stored tokens").WithField("account_id", acc.ID)
	}

	// Fast path: cached client with a token comfortably outside the window.
	m.mu.Lock()
	cached, ok := m.clients[acc.ID]
	m.mu.Unlock()
	if ok && !cached.Expiring() {
		return cached, nil
	}

	// Build or refresh under singleflight so concurrent callers for the
	// same account observe the same in-progress client instead of
	// triggering duplicate refreshes.
	v, err, _ := m.group.Do(acc.ID, func() (any, error) {
		m.mu.Lock()
		client, ok := m.clients[acc.ID]
		if !ok {
			client = m.newClient(acc)
			m.clients[acc.ID] = client
			metrics.CachedClients.Set(float64(len(m.clients)))
		}
		m.mu.Unlock()

		if client.Expiring() {
			if _, err := client.ensure(ctx, false); err != nil {
				return nil, err
			}
		}
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (m *Manager) newClient(acc *account.Account) *Client {
	client := &Client{
		accountID: acc.ID,
		conf: &oauth2.Config{
			ClientID:     m.cfg.ClientID,
			ClientSecret: m.cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: m.cfg.TokenURL},
		},
		clock:    m.clock,
		window:   m.cfg.RefreshWindow,
		base:     m.cfg.HTTPClient,
		persist:  m.persistTokens,
		onIssued: m.cfg.OnTokenIssued,
	}
	if acc.Tokens != nil {
		client.current = *acc.Tokens
	}
	return client
}

// persistTokens is the persistence hook invoked on every mint, eager or
// demand-driven. The refresh token has already been carried forward by the
// client when the provider omitted it.
func (m *Manager) persistTokens(ctx context.Context, accountID string, tokens account.TokenSet) error {
	if _, err := m.registry.UpdateTokens(ctx, accountID, tokens); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Persisted refreshed tokens", "account_id", accountID, "expiry", tokens.Expiry)
	return nil
}

// Evict drops the cached client for an account. Called by the account
// removal path; the manager does not subscribe to removal events itself.
func (m *Manager) Evict(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, accountID)
	metrics.CachedClients.Set(float64(len(m.clients)))
}

// Revoke revokes the account's grant at the provider on a best-effort
// basis, then unconditionally clears the stored tokens and evicts the
// cached client. A failed remote revoke never blocks local clearing.
func (m *Manager) Revoke(ctx context.Context, accountID string) error {
	acc, err := m.resolve(ctx, accountID)
	if err != nil {
		return err
	}

	if acc.Tokens != nil {
		if err := m.revokeRemote(ctx, acc.Tokens); err != nil {
			metrics.TokenRevocationsTotal.WithLabelValues("failure").Inc()
			slog.WarnContext(ctx, "Remote token revocation failed, clearing local tokens anyway",
				"account_id", acc.ID, "error", err)
		} else {
			metrics.TokenRevocationsTotal.WithLabelValues("success").Inc()
		}
	}

	if err := m.registry.ClearTokens(ctx, acc.ID); err != nil {
		return err
	}
	m.Evict(acc.ID)
	return nil
}

func (m *Manager) revokeRemote(ctx context.Context, tokens *account.TokenSet) error {
	target := tokens.RefreshToken
	if target == "" {
		target = tokens.AccessToken
	}
	if target == "" || m.cfg.RevokeURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, revokeTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("token", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.ExternalError("revocation endpoint returned non-200", nil).
			WithField("status", resp.StatusCode).
			WithField("body", string(body))
	}
	return nil
}
