package mailsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/actions"
	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/core"
)

type fakeProvider struct {
	mu        sync.Mutex
	fetched   []core.FetchedMessage
	fetchErr  error
	since     []core.FetchedMessage
	sinceNext uint64
	sinceErr  error
	block     chan struct{}
	watch     *core.WatchInfo
	watchErr  error
	calls     map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(map[string]int)}
}

func (f *fakeProvider) called(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeProvider) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) FetchMessages(ctx context.Context, since time.Time, maxResults int, includeBodies bool) ([]core.FetchedMessage, error) {
	f.called("fetch")
	if f.block != nil {
		<-f.block
	}
	return f.fetched, f.fetchErr
}

func (f *fakeProvider) FetchSince(ctx context.Context, cursor uint64, maxResults int) ([]core.FetchedMessage, uint64, error) {
	f.called("since")
	return f.since, f.sinceNext, f.sinceErr
}

func (f *fakeProvider) StartWatch(ctx context.Context, topic string, labels []string) (*core.WatchInfo, error) {
	f.called("start_watch")
	return f.watch, f.watchErr
}

func (f *fakeProvider) StopWatch(ctx context.Context) error {
	f.called("stop_watch")
	return nil
}

func (f *fakeProvider) EnsureLabels(ctx context.Context, specs []core.LabelSpec) (map[core.Category]string, error) {
	f.called("ensure_labels")
	ids := make(map[core.Category]string, len(specs))
	for _, s := range specs {
		ids[s.Category] = "Label_" + string(s.Category)
	}
	return ids, nil
}

func (f *fakeProvider) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	f.called("apply_label")
	return nil
}

func (f *fakeProvider) BatchApplyLabels(ctx context.Context, messageIDs []string, labelID string) error {
	f.called("batch")
	return nil
}

func (f *fakeProvider) RemoveLabels(ctx context.Context, messageID string, labelIDs []string) error {
	f.called("remove")
	return nil
}

func (f *fakeProvider) MarkImportant(ctx context.Context, messageID string) error {
	f.called("important")
	return nil
}

func (f *fakeProvider) Star(ctx context.Context, messageID string) error {
	f.called("star")
	return nil
}

func (f *fakeProvider) MoveToSpam(ctx context.Context, messageID string) error {
	f.called("spam")
	return nil
}

func (f *fakeProvider) MoveToPromotions(ctx context.Context, messageID string) error {
	f.called("promotions")
	return nil
}

type fakeFactory struct {
	clients map[uuid.UUID]*fakeProvider
}

func (f *fakeFactory) ClientFor(ctx context.Context, account *core.Account) (core.ProviderClient, error) {
	c, ok := f.clients[account.ID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return c, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, event core.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store    *store.MemoryStore
	factory  *fakeFactory
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ms := store.NewMemoryStore()
	h := &harness{
		store:    ms,
		factory:  &fakeFactory{clients: make(map[uuid.UUID]*fakeProvider)},
		notifier: &recordingNotifier{},
	}
	engine := categorize.NewEngine(nil, categorize.DefaultOptions())
	h.orch = NewOrchestrator(Deps{
		Accounts:    ms,
		Messages:    ms,
		Profiles:    ms,
		Providers:   h.factory,
		Categorizer: categorize.NewService(engine, nil, nil, nil, zap.NewNop(), false, 0),
		Planner:     actions.NewPlanner(nil, true, zap.NewNop()),
		Notifier:    h.notifier,
	}, cfg, zap.NewNop())
	return h
}

func (h *harness) addAccount(t *testing.T, userID, email string, p core.Provider) (*core.Account, *fakeProvider) {
	t.Helper()
	a := &core.Account{UserID: userID, Email: email, Provider: p, Active: true, SyncEnabled: true}
	require.NoError(t, h.store.SaveAccount(context.Background(), a))
	client := newFakeProvider()
	h.factory.clients[a.ID] = client
	return a, client
}

// workday is a recent business-hours timestamp inside every default window
func workday() time.Time {
	y, m, d := time.Now().UTC().AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func urgentMessage(id string) core.FetchedMessage {
	return core.FetchedMessage{
		ID:       id,
		Subject:  "URGENT: Server outage requires immediate action",
		Sender:   "alerts@company.com",
		BodyText: "Critical server alert...",
		Date:     workday(),
	}
}

func promoMessage(id string) core.FetchedMessage {
	return core.FetchedMessage{
		ID:      id,
		Subject: "50% off everything this weekend!",
		Sender:  "sales@store.com",
		Date:    workday(),
	}
}
