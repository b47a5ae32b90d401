package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/withings"
)

// ErrNotAuthenticated means no token record exists; the auth flow must run.
var ErrNotAuthenticated = errors.New("not authenticated with withings")

// ErrRefreshFailed means the provider rejected the refresh grant.
var ErrRefreshFailed = errors.New("token refresh failed")

// Manager owns the singleton token record: expiry checks, refresh, upsert.
type Manager struct {
	store storage.Store
	oauth *withings.OAuth

	// Serializes refresh so concurrent callers observing an expired token
	// produce one provider round trip instead of racing grants.
	mu sync.Mutex

	now func() time.Time
}

// NewManager creates a token lifecycle manager
func NewManager(store storage.Store, oauth *withings.OAuth) *Manager {
	return &Manager{
		store: store,
		oauth: oauth,
		now:   time.Now,
	}
}

// ValidAccessToken returns a non-expired bearer token, refreshing when the
// stored record has passed its expiry. Expiry uses strict now >= expires_at:
// a token observed exactly at the boundary instant counts as expired, and
// there is no clock-skew grace period.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetToken()
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrNotAuthenticated
	}

	if m.now().UnixMilli() < rec.ExpiresAt {
		return rec.AccessToken, nil
	}

	logging.Info("Access token expired, refreshing")

	tok, err := m.oauth.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if err := m.saveTokensLocked(tok.AccessToken, tok.RefreshToken, tok.ExpiresIn); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// SaveTokens upserts the singleton token record with an absolute expiry of
// now + expiresIn seconds.
func (m *Manager) SaveTokens(access, refresh string, expiresIn int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTokensLocked(access, refresh, expiresIn)
}

func (m *Manager) saveTokensLocked(access, refresh string, expiresIn int64) error {
	rec := &storage.TokenRecord{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    m.now().UnixMilli() + expiresIn*1000,
	}
	if err := m.store.SaveToken(rec); err != nil {
		return err
	}
	logging.Info("Tokens saved, expires in %ds", expiresIn)
	return nil
}
