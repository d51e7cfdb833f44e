package mailsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

func TestReconcileForcesFullSyncPerUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	_, c1 := h.addAccount(t, "u1", "a@example.com", core.ProviderGmail)
	_, c2 := h.addAccount(t, "u1", "b@example.com", core.ProviderIMAP)
	_, c3 := h.addAccount(t, "u2", "c@contoso.com", core.ProviderOutlook)

	s := NewScheduler(h.orch, nil, 0, 0, zap.NewNop())
	s.Reconcile(ctx)

	for _, c := range []*fakeProvider{c1, c2, c3} {
		assert.Equal(t, 1, c.count("fetch"))
		assert.Equal(t, 0, c.count("since"))
	}
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := NewScheduler(h.orch, nil, 0, 0, zap.NewNop())

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
