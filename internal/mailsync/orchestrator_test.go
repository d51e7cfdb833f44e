package mailsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/core"
)

func TestWindow(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	lastSync := now.Add(-2 * time.Hour)
	synced := core.Account{Cursor: core.Cursor{LastSync: lastSync}}

	tests := []struct {
		name     string
		account  core.Account
		force    bool
		wantFrom time.Time
		wantFull bool
	}{
		{"incremental reopens overlap", synced, false, lastSync.Add(-time.Hour), false},
		{"forced run looks back fully", synced, true, now.AddDate(0, 0, -30), true},
		{"never synced looks back fully", core.Account{}, false, now.AddDate(0, 0, -30), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, full := Window(tt.account, tt.force, now, 30*24*time.Hour, time.Hour)
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantFull, full)
		})
	}
}

func TestSyncAllWithoutAccounts(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.orch.SyncAll(context.Background(), "nobody", false)
	assert.ErrorIs(t, err, core.ErrNoAccounts)
}

func TestSyncAllIsolatesAccountFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	good, goodClient := h.addAccount(t, "u1", "good@example.com", core.ProviderGmail)
	_, badClient := h.addAccount(t, "u1", "bad@example.com", core.ProviderGmail)
	goodClient.fetched = []core.FetchedMessage{urgentMessage("m1"), promoMessage("m2")}
	badClient.fetchErr = &core.AuthError{Account: "bad@example.com", Message: "token revoked"}

	report, err := h.orch.SyncAll(ctx, "u1", false)
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, 2, report.TotalAccounts)
	assert.Equal(t, 1, report.AccountsSynced)
	assert.Equal(t, 2, report.TotalProcessed)
	assert.True(t, report.LearningApplied)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "bad@example.com")

	for _, r := range report.Results {
		if r.AccountEmail == "bad@example.com" {
			assert.Equal(t, core.TaskError, r.Status)
			assert.True(t, r.AuthFailure)
		} else {
			assert.Equal(t, core.TaskSuccess, r.Status)
			assert.True(t, r.FullSync)
		}
	}

	stored, err := h.store.GetMessage(ctx, good.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, core.CategoryUrgent, stored.Category)

	refreshed, err := h.store.GetAccount(ctx, good.ID)
	require.NoError(t, err)
	assert.False(t, refreshed.Cursor.LastSync.IsZero())

	profile, err := h.store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, profile.SenderDomains, "company.com")

	types := h.notifier.types()
	assert.Contains(t, types, "sync_started")
	assert.Contains(t, types, "urgent_email")
	assert.Contains(t, types, "learning_applied")
	assert.Equal(t, "sync_completed", types[len(types)-1])

	assert.Equal(t, 2, goodClient.count("batch"))
	assert.Equal(t, 1, goodClient.count("important"))
	assert.Equal(t, 1, goodClient.count("promotions"))
}

func TestSyncAllDoesNotDuplicateMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	a, client := h.addAccount(t, "u1", "me@example.com", core.ProviderGmail)
	client.fetched = []core.FetchedMessage{urgentMessage("m1")}

	first, err := h.orch.SyncAll(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalProcessed)

	second, err := h.orch.SyncAll(ctx, "u1", false)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.TotalProcessed)
	assert.False(t, second.LearningApplied)
	assert.False(t, second.Results[0].FullSync)

	total, err := h.store.CountMessages(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSyncAllTimesOutHungAccount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	_, slow := h.addAccount(t, "u1", "slow@example.com", core.ProviderGmail)
	slow.block = make(chan struct{})
	t.Cleanup(func() { close(slow.block) })

	report, err := h.orch.SyncAll(context.Background(), "u1", false)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, core.TaskTimeout, report.Results[0].Status)
	assert.False(t, report.Success)
	assert.Equal(t, 0, report.AccountsSynced)
}

func TestSyncAllDiscardsLateResultOfTimedOutAccount(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	a, slow := h.addAccount(t, "u1", "slow@example.net", core.ProviderIMAP)
	late := promoMessage("77")
	late.Cursor = 77
	slow.fetched = []core.FetchedMessage{late}
	slow.block = make(chan struct{})

	report, err := h.orch.SyncAll(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, core.TaskTimeout, report.Results[0].Status)

	close(slow.block)
	assert.Never(t, func() bool {
		stored, err := h.store.GetAccount(ctx, a.ID)
		return err != nil || stored.Cursor.HistoryID != 0
	}, 150*time.Millisecond, 10*time.Millisecond)

	total, err := h.store.CountMessages(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	terminal := 0
	for _, typ := range h.notifier.types() {
		switch typ {
		case "account_sync_error":
			terminal++
		case "account_sync_completed":
			t.Fatalf("late result reported as completed")
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestSyncAccountUsesHistoryCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	a, client := h.addAccount(t, "u1", "me@example.com", core.ProviderGmail)
	require.NoError(t, h.store.AdvanceCursor(ctx, a.ID, core.Cursor{LastSync: time.Now().Add(-time.Hour), HistoryID: 100}))
	a, err := h.store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	client.since = []core.FetchedMessage{promoMessage("m9")}
	client.sinceNext = 150

	result := h.orch.SyncAccount(ctx, "u1", *a, false)

	assert.Equal(t, core.TaskSuccess, result.Status)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, client.count("fetch"))

	refreshed, err := h.store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), refreshed.Cursor.HistoryID)
}

func TestSyncAccountFallsBackToWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	a, client := h.addAccount(t, "u1", "me@example.com", core.ProviderOutlook)
	require.NoError(t, h.store.AdvanceCursor(ctx, a.ID, core.Cursor{LastSync: time.Now().Add(-time.Hour), HistoryID: 7}))
	a, err := h.store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	client.sinceErr = core.ErrUnsupported
	client.fetched = []core.FetchedMessage{promoMessage("m1")}

	result := h.orch.SyncAccount(ctx, "u1", *a, false)

	assert.Equal(t, core.TaskSuccess, result.Status)
	assert.Equal(t, 1, client.count("since"))
	assert.Equal(t, 1, client.count("fetch"))
	assert.Equal(t, 1, result.Processed)
}

func TestSyncAccountSeedsCursorForIncrementalIMAP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	a, client := h.addAccount(t, "u1", "me@example.net", core.ProviderIMAP)

	first, second := promoMessage("41"), promoMessage("42")
	first.Cursor, second.Cursor = 41, 42
	client.fetched = []core.FetchedMessage{first, second}

	result := h.orch.SyncAccount(ctx, "u1", *a, false)
	require.Equal(t, core.TaskSuccess, result.Status)

	a, err := h.store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), a.Cursor.HistoryID)

	next := promoMessage("43")
	next.Cursor = 43
	client.since = []core.FetchedMessage{next}
	client.sinceNext = 43

	result = h.orch.SyncAccount(ctx, "u1", *a, false)
	require.Equal(t, core.TaskSuccess, result.Status)
	assert.Equal(t, 1, client.count("fetch"))
	assert.Equal(t, 1, client.count("since"))
	assert.Equal(t, 1, result.Processed)

	a, err = h.store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), a.Cursor.HistoryID)
}
