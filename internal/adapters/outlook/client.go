package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/provider"
)

const (
	// maxPageSize caps $top on message listings
	maxPageSize = 100

	// subscriptionLifetime stays under the Graph limit for mail resources
	subscriptionLifetime = 4230 * time.Minute

	inboxResource  = "me/mailFolders('inbox')/messages"
	junkFolder     = "junkemail"
	messageSelect  = "id,conversationId,subject,from,toRecipients,receivedDateTime,bodyPreview,hasAttachments,isRead,categories"
	categoryColor0 = "preset0"
)

// presetColors maps taxonomy background colors onto the closest Outlook category preset
var presetColors = map[string]string{
	"#d93025": "preset0",
	"#ff6d01": "preset1",
	"#fbbc04": "preset3",
	"#34a853": "preset4",
	"#9aa0a6": "preset12",
}

// Options configures an Outlook client
type Options struct {
	Endpoint         string
	PromotionsFolder string
	BodyLimit        int
	ClientState      string
}

// Client is the Microsoft Graph implementation of core.ProviderClient for one account
type Client struct {
	graph            *graphClient
	account          string
	promotionsFolder string
	bodyLimit        int
	clientState      string
	logger           *zap.Logger
	now              func() time.Time
}

// NewClient creates a Graph mail client. httpClient must attach the account's bearer token.
func NewClient(httpClient *http.Client, account string, retrier *provider.Retrier, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = provider.NewRetrier(3, time.Second, logger)
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	folder := opts.PromotionsFolder
	if folder == "" {
		folder = "archive"
	}
	return &Client{
		graph: &graphClient{
			baseURL:    endpoint,
			httpClient: httpClient,
			retrier:    retrier,
		},
		account:          account,
		promotionsFolder: folder,
		bodyLimit:        opts.BodyLimit,
		clientState:      opts.ClientState,
		logger:           logger.With(zap.String("account", account)),
		now:              time.Now,
	}
}

type emailAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (e emailAddress) String() string {
	if e.EmailAddress.Name == "" || e.EmailAddress.Name == e.EmailAddress.Address {
		return e.EmailAddress.Address
	}
	return fmt.Sprintf("%s <%s>", e.EmailAddress.Name, e.EmailAddress.Address)
}

type graphMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	From             *emailAddress  `json:"from"`
	ToRecipients     []emailAddress `json:"toRecipients"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	BodyPreview      string         `json:"bodyPreview"`
	Body             *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	HasAttachments bool     `json:"hasAttachments"`
	IsRead         bool     `json:"isRead"`
	Categories     []string `json:"categories"`
}

type messagePage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// FetchMessages lists inbox messages received since a time, following @odata.nextLink
func (c *Client) FetchMessages(ctx context.Context, since time.Time, maxResults int, includeBodies bool) ([]core.FetchedMessage, error) {
	remaining := maxResults
	var out []core.FetchedMessage

	sel := messageSelect
	if includeBodies {
		sel += ",body"
	}
	pageSize := remaining
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	q := url.Values{}
	q.Set("$filter", "receivedDateTime ge "+since.UTC().Format(time.RFC3339))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", sel)
	q.Set("$top", strconv.Itoa(pageSize))
	next := "/me/mailFolders/inbox/messages?" + q.Encode()

	for remaining > 0 && next != "" {
		var page messagePage
		if err := c.graph.get(ctx, "messages.list", next, &page); err != nil {
			return out, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range page.Value {
			out = append(out, c.normalize(m))
			remaining--
			if remaining <= 0 {
				break
			}
		}
		next = page.NextLink
	}
	return out, nil
}

func (c *Client) normalize(m graphMessage) core.FetchedMessage {
	fm := core.FetchedMessage{
		ID:             m.ID,
		ThreadID:       m.ConversationID,
		Subject:        m.Subject,
		Date:           m.ReceivedDateTime.UTC(),
		Snippet:        m.BodyPreview,
		HasAttachments: m.HasAttachments,
		IsRead:         m.IsRead,
		Labels:         m.Categories,
	}
	if m.From != nil {
		fm.Sender = m.From.String()
	}
	if len(m.ToRecipients) > 0 {
		fm.Recipient = m.ToRecipients[0].String()
	}
	if m.Body != nil {
		mime := "text/plain"
		if strings.EqualFold(m.Body.ContentType, "html") {
			mime = "text/html"
		}
		fm.BodyText = provider.ExtractBody(provider.Part{MimeType: mime, Body: m.Body.Content}, c.bodyLimit)
	}
	return fm
}

// FetchSince is not offered by Graph mail in a form the sync cursor can use
func (c *Client) FetchSince(ctx context.Context, cursor uint64, maxResults int) ([]core.FetchedMessage, uint64, error) {
	return nil, cursor, core.ErrUnsupported
}

type subscription struct {
	ID                 string    `json:"id,omitempty"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

// StartWatch creates a change notification subscription on the inbox. topic is the
// notification URL; labels are not used by Graph.
func (c *Client) StartWatch(ctx context.Context, topic string, labels []string) (*core.WatchInfo, error) {
	req := subscription{
		ChangeType:         "created",
		NotificationURL:    topic,
		Resource:           inboxResource,
		ExpirationDateTime: c.now().Add(subscriptionLifetime).UTC(),
		ClientState:        c.clientState,
	}
	var created subscription
	if err := c.graph.do(ctx, "subscriptions.create", http.MethodPost, "/subscriptions", req, &created); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &core.WatchInfo{
		Expiration: created.ExpirationDateTime.UTC(),
		ResourceID: created.ID,
	}, nil
}

// StopWatch deletes every inbox subscription owned by the application for this mailbox
func (c *Client) StopWatch(ctx context.Context) error {
	var list struct {
		Value []subscription `json:"value"`
	}
	if err := c.graph.get(ctx, "subscriptions.list", "/subscriptions", &list); err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	for _, s := range list.Value {
		if !strings.EqualFold(s.Resource, inboxResource) {
			continue
		}
		err := c.graph.do(ctx, "subscriptions.delete", http.MethodDelete, "/subscriptions/"+url.PathEscape(s.ID), nil, nil)
		if err != nil && provider.StatusCode(err) != http.StatusNotFound {
			return fmt.Errorf("failed to delete subscription %s: %w", s.ID, err)
		}
	}
	return nil
}

type outlookCategory struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

// EnsureLabels creates missing master categories. Outlook assigns categories by display
// name, so the returned ids are the names.
func (c *Client) EnsureLabels(ctx context.Context, specs []core.LabelSpec) (map[core.Category]string, error) {
	var list struct {
		Value []outlookCategory `json:"value"`
	}
	if err := c.graph.get(ctx, "categories.list", "/me/outlook/masterCategories", &list); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	existing := make(map[string]bool, len(list.Value))
	for _, cat := range list.Value {
		existing[cat.DisplayName] = true
	}

	ids := make(map[core.Category]string, len(specs))
	for _, spec := range specs {
		if !existing[spec.Name] {
			color, ok := presetColors[strings.ToLower(spec.BackgroundColor)]
			if !ok {
				color = categoryColor0
			}
			err := c.graph.do(ctx, "categories.create", http.MethodPost, "/me/outlook/masterCategories",
				outlookCategory{DisplayName: spec.Name, Color: color}, nil)
			if err != nil {
				return ids, fmt.Errorf("failed to create category %s: %w", spec.Name, err)
			}
			c.logger.Info("Created category", zap.String("category", spec.Name))
		}
		ids[spec.Category] = spec.Name
	}
	return ids, nil
}

func messagePath(id string) string {
	return "/me/messages/" + url.PathEscape(id)
}

func (c *Client) categories(ctx context.Context, messageID string) ([]string, error) {
	var m struct {
		Categories []string `json:"categories"`
	}
	if err := c.graph.get(ctx, "messages.get", messagePath(messageID)+"?$select=categories", &m); err != nil {
		return nil, err
	}
	return m.Categories, nil
}

func (c *Client) patch(ctx context.Context, op, messageID string, body any) error {
	if err := c.graph.do(ctx, op, http.MethodPatch, messagePath(messageID), body, nil); err != nil {
		return fmt.Errorf("failed to update message %s: %w", messageID, err)
	}
	return nil
}

// ApplyLabel adds a category to the message, keeping the ones already assigned
func (c *Client) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	current, err := c.categories(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to read categories of %s: %w", messageID, err)
	}
	if containsFold(current, labelID) {
		return nil
	}
	return c.patch(ctx, "apply_category", messageID, map[string]any{"categories": append(current, labelID)})
}

// BatchApplyLabels reads and then updates categories through $batch
func (c *Client) BatchApplyLabels(ctx context.Context, messageIDs []string, labelID string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	reads := make([]batchRequest, len(messageIDs))
	for i, id := range messageIDs {
		reads[i] = batchRequest{ID: strconv.Itoa(i), Method: http.MethodGet, URL: messagePath(id) + "?$select=categories"}
	}
	readResp, err := c.graph.batch(ctx, "batch.read_categories", reads)
	if err != nil {
		return fmt.Errorf("failed to read categories: %w", err)
	}

	var errs []error
	var writes []batchRequest
	for i, id := range messageIDs {
		r, ok := readResp[strconv.Itoa(i)]
		if !ok || r.Status < 200 || r.Status >= 300 {
			errs = append(errs, &core.ProviderError{Provider: core.ProviderOutlook, Op: "batch.read_categories", StatusCode: r.Status, Body: id})
			continue
		}
		var m struct {
			Categories []string `json:"categories"`
		}
		if err := json.Unmarshal(r.Body, &m); err != nil {
			// patching without the current categories would drop them
			errs = append(errs, fmt.Errorf("failed to decode categories of %s: %w", id, err))
			continue
		}
		if containsFold(m.Categories, labelID) {
			continue
		}
		writes = append(writes, batchRequest{
			ID:      strconv.Itoa(i),
			Method:  http.MethodPatch,
			URL:     messagePath(id),
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    map[string]any{"categories": append(m.Categories, labelID)},
		})
	}

	if len(writes) > 0 {
		writeResp, err := c.graph.batch(ctx, "batch.apply_category", writes)
		if err != nil {
			return fmt.Errorf("failed to apply categories: %w", err)
		}
		for _, w := range writes {
			if r := writeResp[w.ID]; r.Status < 200 || r.Status >= 300 {
				errs = append(errs, &core.ProviderError{Provider: core.ProviderOutlook, Op: "batch.apply_category", StatusCode: r.Status, Body: w.URL})
			}
		}
	}
	return errors.Join(errs...)
}

// RemoveLabels drops the given categories; absent ones are ignored
func (c *Client) RemoveLabels(ctx context.Context, messageID string, labelIDs []string) error {
	current, err := c.categories(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to read categories of %s: %w", messageID, err)
	}
	kept := make([]string, 0, len(current))
	for _, cat := range current {
		if !containsFold(labelIDs, cat) {
			kept = append(kept, cat)
		}
	}
	if len(kept) == len(current) {
		return nil
	}
	return c.patch(ctx, "remove_categories", messageID, map[string]any{"categories": kept})
}

func (c *Client) MarkImportant(ctx context.Context, messageID string) error {
	return c.patch(ctx, "mark_important", messageID, map[string]any{"importance": "high"})
}

// Star flags the message for follow up
func (c *Client) Star(ctx context.Context, messageID string) error {
	return c.patch(ctx, "flag", messageID, map[string]any{"flag": map[string]string{"flagStatus": "flagged"}})
}

func (c *Client) move(ctx context.Context, op, messageID, destination string) error {
	err := c.graph.do(ctx, op, http.MethodPost, messagePath(messageID)+"/move",
		map[string]string{"destinationId": destination}, nil)
	if err != nil {
		return fmt.Errorf("failed to move message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) MoveToSpam(ctx context.Context, messageID string) error {
	return c.move(ctx, "move_to_junk", messageID, junkFolder)
}

func (c *Client) MoveToPromotions(ctx context.Context, messageID string) error {
	return c.move(ctx, "move_to_folder", messageID, c.promotionsFolder)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
