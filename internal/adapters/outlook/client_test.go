package outlook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/provider"
)

type recorded struct {
	method string
	path   string
	query  string
	body   json.RawMessage
}

type fakeGraph struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]http.HandlerFunc
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.calls = append(f.calls, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: body})
	f.mu.Unlock()

	if h, ok := f.handlers[r.Method+" "+r.URL.Path]; ok {
		r.Body = http.NoBody
		h(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeGraph) callsTo(method, path string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func respond(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func newTestClient(t *testing.T, fake *fakeGraph) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	retrier := provider.NewRetrier(3, time.Second, zap.NewNop())
	retrier.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	c := NewClient(srv.Client(), "me@contoso.com", retrier, Options{Endpoint: srv.URL, BodyLimit: 5000}, zap.NewNop())
	return c, srv
}

func TestFetchMessagesFollowsNextLink(t *testing.T) {
	fake := &fakeGraph{handlers: map[string]http.HandlerFunc{}}
	c, srv := newTestClient(t, fake)

	fake.handlers["GET /me/mailFolders/inbox/messages"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			respond(map[string]any{"value": []map[string]any{
				{"id": "c", "subject": "third"},
				{"id": "d", "subject": "fourth"},
			}})(w, r)
			return
		}
		respond(map[string]any{
			"value": []map[string]any{
				{
					"id": "a", "conversationId": "conv-a", "subject": "first", "isRead": true,
					"receivedDateTime": "2026-03-02T10:00:00Z",
					"from":             map[string]any{"emailAddress": map[string]string{"name": "Alerts", "address": "alerts@company.com"}},
					"toRecipients":     []map[string]any{{"emailAddress": map[string]string{"address": "me@contoso.com"}}},
					"body":             map[string]string{"contentType": "html", "content": "<style>p{}</style><p>Server <b>down</b></p>"},
					"categories":       []string{"Blue"},
				},
				{"id": "b", "subject": "second"},
			},
			"@odata.nextLink": srv.URL + "/me/mailFolders/inbox/messages?page=2",
		})(w, r)
	}

	msgs, err := c.FetchMessages(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 3, true)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Len(t, fake.callsTo(http.MethodGet, "/me/mailFolders/inbox/messages"), 2)

	first := msgs[0]
	assert.Equal(t, "conv-a", first.ThreadID)
	assert.Equal(t, "Alerts <alerts@company.com>", first.Sender)
	assert.Equal(t, "me@contoso.com", first.Recipient)
	assert.Equal(t, "Server down", first.BodyText)
	assert.True(t, first.IsRead)
	assert.Equal(t, []string{"Blue"}, first.Labels)
	assert.Equal(t, "c", msgs[2].ID)

	q := fake.callsTo(http.MethodGet, "/me/mailFolders/inbox/messages")[0].query
	assert.Contains(t, q, "receivedDateTime+ge+2026-03-01T00%3A00%3A00Z")
	assert.Contains(t, q, "%24top=3")
}

func TestFetchSinceUnsupported(t *testing.T) {
	c, _ := newTestClient(t, &fakeGraph{})
	_, cursor, err := c.FetchSince(context.Background(), 7, 10)
	assert.ErrorIs(t, err, core.ErrUnsupported)
	assert.Equal(t, uint64(7), cursor)
}

func TestBatchApplyLabelsSkipsAlreadyLabelled(t *testing.T) {
	fake := &fakeGraph{handlers: map[string]http.HandlerFunc{}}
	c, _ := newTestClient(t, fake)

	batches := 0
	fake.handlers["POST /$batch"] = func(w http.ResponseWriter, r *http.Request) {
		batches++
		if batches == 1 {
			respond(map[string]any{"responses": []map[string]any{
				{"id": "0", "status": 200, "body": map[string]any{"categories": []string{"Triage/Urgent"}}},
				{"id": "1", "status": 200, "body": map[string]any{"categories": []string{"Blue"}}},
			}})(w, r)
			return
		}
		respond(map[string]any{"responses": []map[string]any{{"id": "1", "status": 200}}})(w, r)
	}

	require.NoError(t, c.BatchApplyLabels(context.Background(), []string{"m1", "m2"}, "Triage/Urgent"))

	calls := fake.callsTo(http.MethodPost, "/$batch")
	require.Len(t, calls, 2)

	var write struct {
		Requests []batchRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(calls[1].body, &write))
	require.Len(t, write.Requests, 1)
	assert.Equal(t, http.MethodPatch, write.Requests[0].Method)
	assert.Equal(t, "/me/messages/m2", write.Requests[0].URL)
	assert.Equal(t, map[string]any{"categories": []any{"Blue", "Triage/Urgent"}}, write.Requests[0].Body)
}

func TestBatchApplyLabelsReportsItemFailures(t *testing.T) {
	fake := &fakeGraph{handlers: map[string]http.HandlerFunc{
		"POST /$batch": respond(map[string]any{"responses": []map[string]any{
			{"id": "0", "status": 404},
		}}),
	}}
	c, _ := newTestClient(t, fake)

	err := c.BatchApplyLabels(context.Background(), []string{"gone"}, "Triage/Spam")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, provider.StatusCode(err))
}

func TestBatchApplyLabelsSkipsUndecodableReads(t *testing.T) {
	fake := &fakeGraph{handlers: map[string]http.HandlerFunc{}}
	c, _ := newTestClient(t, fake)

	batches := 0
	fake.handlers["POST /$batch"] = func(w http.ResponseWriter, r *http.Request) {
		batches++
		if batches == 1 {
			respond(map[string]any{"responses": []map[string]any{
				{"id": "0", "status": 200, "body": "<html>gateway</html>"},
				{"id": "1", "status": 200, "body": map[string]any{"categories": []string{"Blue"}}},
			}})(w, r)
			return
		}
		respond(map[string]any{"responses": []map[string]any{{"id": "1", "status": 200}}})(w, r)
	}

	err := c.BatchApplyLabels(context.Background(), []string{"m1", "m2"}, "Triage/Urgent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m1")

	calls := fake.callsTo(http.MethodPost, "/$batch")
	require.Len(t, calls, 2)

	var write struct {
		Requests []batchRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(calls[1].body, &write))
	require.Len(t, write.Requests, 1)
	assert.Equal(t, "/me/messages/m2", write.Requests[0].URL)
}

func TestMutations(t *testing.T) {
	fake := &fakeGraph{handlers: map[string]http.HandlerFunc{
		"GET /me/messages/m1": respond(map[string]any{"categories": []string{"Triage/Urgent", "Blue"}}),
	}}
	c, _ := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, c.MoveToSpam(ctx, "m1"))
	move := fake.callsTo(http.MethodPost, "/me/messages/m1/move")
	require.Len(t, move, 1)
	assert.JSONEq(t, `{"destinationId":"junkemail"}`, string(move[0].body))

	require.NoError(t, c.Star(ctx, "m1"))
	require.NoError(t, c.RemoveLabels(ctx, "m1", []string{"Triage/Urgent", "Triage/Spam"}))
	patches := fake.callsTo(http.MethodPatch, "/me/messages/m1")
	require.Len(t, patches, 2)
	assert.JSONEq(t, `{"flag":{"flagStatus":"flagged"}}`, string(patches[0].body))
	assert.JSONEq(t, `{"categories":["Blue"]}`, string(patches[1].body))
}

func TestStartWatch(t *testing.T) {
	fake := &fakeGraph{handlers: map[string]http.HandlerFunc{}}
	c, _ := newTestClient(t, fake)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	fake.handlers["POST /subscriptions"] = respond(map[string]any{
		"id":                 "sub-1",
		"expirationDateTime": now.Add(subscriptionLifetime).Format(time.RFC3339),
	})

	info, err := c.StartWatch(context.Background(), "https://triage.example.com/webhooks/outlook", nil)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", info.ResourceID)
	assert.Equal(t, now.Add(subscriptionLifetime), info.Expiration)

	var sub subscription
	require.NoError(t, json.Unmarshal(fake.callsTo(http.MethodPost, "/subscriptions")[0].body, &sub))
	assert.Equal(t, "created", sub.ChangeType)
	assert.Equal(t, inboxResource, sub.Resource)
}
