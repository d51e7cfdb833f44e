package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/mailsync"
)

type fakePush struct {
	mu       sync.Mutex
	gmail    []string
	outlook  []mailsync.OutlookNotification
	gmailErr error
}

func (f *fakePush) HandleGmailPush(ctx context.Context, email string, historyID uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gmail = append(f.gmail, fmt.Sprintf("%s:%d", email, historyID))
	return 1, f.gmailErr
}

func (f *fakePush) HandleOutlookNotification(ctx context.Context, n mailsync.OutlookNotification) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outlook = append(f.outlook, n)
	return 1, nil
}

type fakeOps struct {
	syncErr  error
	forced   bool
	category core.Category
}

func (f *fakeOps) SyncAll(ctx context.Context, userID string, forceFull bool) (*core.SyncReport, error) {
	f.forced = forceFull
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &core.SyncReport{UserID: userID, Success: true, TotalAccounts: 1, AccountsSynced: 1}, nil
}

func (f *fakeOps) Status(ctx context.Context, userID string) ([]core.AccountStatus, error) {
	return []core.AccountStatus{{Email: "me@example.com", TotalMessages: 3}}, nil
}

func (f *fakeOps) CategoryStats(ctx context.Context, userID string, days int) (*mailsync.CategoryStats, error) {
	return &mailsync.CategoryStats{UserID: userID, Days: days}, nil
}

func (f *fakeOps) RecategorizeAccount(ctx context.Context, userID string, accountID uuid.UUID, category core.Category) (*mailsync.RecategorizeResult, error) {
	f.category = category
	return &mailsync.RecategorizeResult{Processed: 2, Updated: 1, Changes: map[string]int{"other -> urgent": 1}}, nil
}

func (f *fakeOps) SetManualCategory(ctx context.Context, userID string, accountID uuid.UUID, providerMessageID string, category core.Category) (*core.Message, error) {
	return &core.Message{ProviderMessageID: providerMessageID, Category: category, Priority: category.Priority(), Confidence: 1, ManualOverride: true}, nil
}

func newTestServer() (*Server, *fakePush, *fakeOps) {
	push, ops := &fakePush{}, &fakeOps{}
	s := NewServer("127.0.0.1:0", push, ops, zap.NewNop())
	s.background = func(job func()) { job() }
	return s, push, ops
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func pubSubBody(payload string) string {
	data := base64.StdEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf(`{"message":{"data":%q,"messageId":"1"},"subscription":"projects/p/subscriptions/s"}`, data)
}

func TestGmailWebhook(t *testing.T) {
	s, push, _ := newTestServer()

	rec := do(s, http.MethodPost, "/webhooks/gmail", pubSubBody(`{"emailAddress":"me@example.com","historyId":12345}`))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(s, http.MethodPost, "/webhooks/gmail", pubSubBody(`{"emailAddress":"me@example.com","historyId":"777"}`))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []string{"me@example.com:12345", "me@example.com:777"}, push.gmail)
}

func TestGmailWebhookAcknowledgesMalformedPayloads(t *testing.T) {
	s, push, _ := newTestServer()

	for _, body := range []string{
		`not json`,
		`{"message":{"data":"%%%"}}`,
		pubSubBody(`{"emailAddress":"me@example.com"}`),
		pubSubBody(`[1,2,3]`),
	} {
		rec := do(s, http.MethodPost, "/webhooks/gmail", body)
		assert.Equal(t, http.StatusNoContent, rec.Code, body)
	}
	assert.Empty(t, push.gmail)
}

func TestGmailWebhookRequestsRetryOnFailure(t *testing.T) {
	s, push, _ := newTestServer()
	push.gmailErr = fmt.Errorf("store down")

	rec := do(s, http.MethodPost, "/webhooks/gmail", pubSubBody(`{"emailAddress":"me@example.com","historyId":1}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	push.gmailErr = fmt.Errorf("lookup: %w", core.ErrNotFound)
	rec = do(s, http.MethodPost, "/webhooks/gmail", pubSubBody(`{"emailAddress":"ghost@example.com","historyId":1}`))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOutlookWebhook(t *testing.T) {
	s, push, _ := newTestServer()

	rec := do(s, http.MethodPost, "/webhooks/outlook?validationToken=abc%20123", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc 123", rec.Body.String())

	accountID := uuid.New().String()
	body := fmt.Sprintf(`{"value":[{"subscriptionId":"sub-1","clientState":%q,"changeType":"created","resource":"me/messages/AAMk","resourceData":{"id":"AAMk"}}]}`, accountID)
	rec = do(s, http.MethodPost, "/webhooks/outlook", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, push.outlook, 1)
	assert.Equal(t, accountID, push.outlook[0].ClientState)
	assert.Equal(t, "AAMk", push.outlook[0].ResourceData.ID)

	rec = do(s, http.MethodPost, "/webhooks/outlook", `{"value":`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestOperatorEndpoints(t *testing.T) {
	s, _, ops := newTestServer()

	rec := do(s, http.MethodPost, "/users/u1/sync?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ops.forced)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report)

	ops.syncErr = core.ErrNoAccounts
	rec = do(s, http.MethodPost, "/users/u1/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodGet, "/users/u1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "me@example.com")

	rec = do(s, http.MethodGet, "/users/u1/stats?days=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	account := uuid.New().String()
	rec = do(s, http.MethodPost, "/users/u1/accounts/"+account+"/recategorize?category=Promotional", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.CategoryPromotional, ops.category)

	rec = do(s, http.MethodPost, "/users/u1/accounts/not-a-uuid/recategorize", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPut, "/users/u1/accounts/"+account+"/messages/m1/category", `{"category":"important"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"manual_override":true`)

	rec = do(s, http.MethodPut, "/users/u1/accounts/"+account+"/messages/m1/category", `{"category":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _ := newTestServer()

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
