package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mikey/mail-triage/internal/core"
)

type memoryCredentials struct {
	mu    sync.Mutex
	saved map[string]*core.Credentials
}

func (m *memoryCredentials) Load(ctx context.Context, ref string) (*core.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.saved[ref]
	if !ok {
		return nil, core.ErrNotFound
	}
	return c, nil
}

func (m *memoryCredentials) Save(ctx context.Context, ref string, creds *core.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[ref] = creds
	return nil
}

func (m *memoryCredentials) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, ref)
	return nil
}

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAccount() *core.Account {
	return &core.Account{ID: uuid.New(), Email: "me@example.com", CredentialRef: "gmail:me@example.com"}
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}}
	store := &memoryCredentials{saved: make(map[string]*core.Credentials)}

	ts := NewTokenSource(context.Background(), cfg, store, testAccount(), &core.Credentials{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}, zap.NewNop())

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)

	saved, err := store.Load(context.Background(), "gmail:me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestTokenSourceValidTokenIsNotRefreshed(t *testing.T) {
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: "http://127.0.0.1:1/unused"}}
	store := &memoryCredentials{saved: make(map[string]*core.Credentials)}

	ts := NewTokenSource(context.Background(), cfg, store, testAccount(), &core.Credentials{
		AccessToken:  "valid",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}, zap.NewNop())

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "valid", tok.AccessToken)
	assert.Empty(t, store.saved)
}

func TestTokenSourceRevokedRefreshIsAuthError(t *testing.T) {
	srv := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been revoked"}`)
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}}

	ts := NewTokenSource(context.Background(), cfg, nil, testAccount(), &core.Credentials{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}, zap.NewNop())

	_, err := ts.Token()
	require.Error(t, err)
	assert.True(t, core.IsAuthError(err))
}

func TestForceRefreshReplacesValidToken(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"access_token":"forced","token_type":"Bearer","expires_in":3600}`)
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}}
	store := &memoryCredentials{saved: make(map[string]*core.Credentials)}

	ts := NewTokenSource(context.Background(), cfg, store, testAccount(), &core.Credentials{
		AccessToken:  "valid-but-rejected",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}, zap.NewNop())

	require.NoError(t, ts.ForceRefresh(context.Background()))
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "forced", tok.AccessToken)
	assert.Equal(t, "forced", store.saved["gmail:me@example.com"].AccessToken)
}
