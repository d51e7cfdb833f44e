package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/provider"
)

const (
	user = "me"

	// maxPageSize is the largest page messages.list accepts
	maxPageSize = 500

	// maxBatchModify is the largest id list messages.batchModify accepts
	maxBatchModify = 1000

	labelInbox      = "INBOX"
	labelUnread     = "UNREAD"
	labelImportant  = "IMPORTANT"
	labelStarred    = "STARRED"
	labelSpam       = "SPAM"
	labelPromotions = "CATEGORY_PROMOTIONS"
)

// Client is the Gmail implementation of core.ProviderClient for one account
type Client struct {
	svc       *gmail.Service
	account   string
	retrier   *provider.Retrier
	bodyLimit int
	logger    *zap.Logger
}

// NewClient wraps an authenticated Gmail service
func NewClient(svc *gmail.Service, account string, retrier *provider.Retrier, bodyLimit int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = provider.NewRetrier(3, time.Second, logger)
	}
	return &Client{
		svc:       svc,
		account:   account,
		retrier:   retrier,
		bodyLimit: bodyLimit,
		logger:    logger.With(zap.String("account", account)),
	}
}

func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := c.retrier.Do(ctx, op, fn)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderCall(string(core.ProviderGmail), op, status, time.Since(start))
	return err
}

// FetchMessages lists inbox messages received after since, at most maxResults of them
func (c *Client) FetchMessages(ctx context.Context, since time.Time, maxResults int, includeBodies bool) ([]core.FetchedMessage, error) {
	query := "in:inbox after:" + since.Format("2006/01/02")
	remaining := maxResults
	pageToken := ""
	var out []core.FetchedMessage

	for remaining > 0 {
		pageSize := remaining
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}

		var resp *gmail.ListMessagesResponse
		err := c.call(ctx, "messages.list", func() error {
			req := c.svc.Users.Messages.List(user).
				Q(query).
				LabelIds(labelInbox).
				IncludeSpamTrash(false).
				MaxResults(int64(pageSize)).
				Context(ctx)
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			var err error
			resp, err = req.Do()
			return err
		})
		if err != nil {
			return out, fmt.Errorf("failed to list messages: %w", err)
		}

		c.logger.Debug("Fetched message refs",
			zap.Int("count", len(resp.Messages)),
			zap.Int("remaining", remaining))

		for _, ref := range resp.Messages {
			msg, err := c.getMessage(ctx, ref.Id, includeBodies)
			if err != nil {
				if core.IsAuthError(err) {
					return out, err
				}
				c.logger.Warn("Failed to fetch message", zap.String("message_id", ref.Id), zap.Error(err))
				continue
			}
			out = append(out, *msg)
			remaining--
			if remaining <= 0 {
				break
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

// FetchSince returns inbox additions after the history id cursor. The returned cursor is the
// latest fully read history id, even when some message bodies could not be fetched. maxResults
// is checked between history records, so a record is never split across fetches.
func (c *Client) FetchSince(ctx context.Context, cursor uint64, maxResults int) ([]core.FetchedMessage, uint64, error) {
	if cursor == 0 {
		return nil, 0, fmt.Errorf("history cursor is required")
	}

	latest := cursor
	pageToken := ""
	var out []core.FetchedMessage

	for {
		var resp *gmail.ListHistoryResponse
		err := c.call(ctx, "history.list", func() error {
			req := c.svc.Users.History.List(user).
				StartHistoryId(cursor).
				HistoryTypes("messageAdded").
				LabelId(labelInbox).
				Context(ctx)
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			var err error
			resp, err = req.Do()
			return err
		})
		if err != nil {
			return out, latest, fmt.Errorf("failed to list history: %w", err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || added.Message.Id == "" {
					continue
				}
				msg, err := c.getMessage(ctx, added.Message.Id, true)
				if err != nil {
					c.logger.Warn("Failed to fetch added message",
						zap.String("message_id", added.Message.Id),
						zap.Error(err))
					continue
				}
				out = append(out, *msg)
			}
			if h.Id > latest {
				latest = h.Id
			}
			if maxResults > 0 && len(out) >= maxResults {
				return out, latest, nil
			}
		}

		if resp.HistoryId > latest && resp.NextPageToken == "" {
			latest = resp.HistoryId
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			return out, latest, nil
		}
	}
}

func (c *Client) getMessage(ctx context.Context, id string, includeBody bool) (*core.FetchedMessage, error) {
	var msg *gmail.Message
	err := c.call(ctx, "messages.get", func() error {
		req := c.svc.Users.Messages.Get(user, id).Context(ctx)
		if includeBody {
			req = req.Format("full")
		} else {
			req = req.Format("metadata").MetadataHeaders("Subject", "From", "To", "Date")
		}
		var err error
		msg, err = req.Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.normalize(msg, includeBody), nil
}

func (c *Client) normalize(msg *gmail.Message, includeBody bool) *core.FetchedMessage {
	fm := &core.FetchedMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
		IsRead:   !contains(msg.LabelIds, labelUnread),
		Cursor:   msg.HistoryId,
	}

	var dateHeader string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				fm.Subject = h.Value
			case "from":
				fm.Sender = h.Value
			case "to":
				fm.Recipient = h.Value
			case "date":
				dateHeader = h.Value
			}
		}
		if includeBody {
			root := toPart(msg.Payload)
			fm.BodyText = provider.ExtractBody(root, c.bodyLimit)
			fm.HasAttachments = provider.HasAttachments(root)
		}
	}

	fm.Date = parseDate(dateHeader, msg.InternalDate)
	return fm
}

// StartWatch registers a Pub/Sub push subscription for the given labels
func (c *Client) StartWatch(ctx context.Context, topic string, labels []string) (*core.WatchInfo, error) {
	if len(labels) == 0 {
		labels = []string{labelInbox}
	}
	var resp *gmail.WatchResponse
	err := c.call(ctx, "watch", func() error {
		var err error
		resp, err = c.svc.Users.Watch(user, &gmail.WatchRequest{
			TopicName:         topic,
			LabelIds:          labels,
			LabelFilterAction: "include",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start watch: %w", err)
	}
	return &core.WatchInfo{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatch cancels push notifications for the mailbox
func (c *Client) StopWatch(ctx context.Context) error {
	err := c.call(ctx, "stop", func() error {
		return c.svc.Users.Stop(user).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to stop watch: %w", err)
	}
	return nil
}

// EnsureLabels creates the missing taxonomy labels and returns every label id by category
func (c *Client) EnsureLabels(ctx context.Context, specs []core.LabelSpec) (map[core.Category]string, error) {
	var list *gmail.ListLabelsResponse
	err := c.call(ctx, "labels.list", func() error {
		var err error
		list, err = c.svc.Users.Labels.List(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	existing := make(map[string]string, len(list.Labels))
	for _, l := range list.Labels {
		existing[l.Name] = l.Id
	}

	ids := make(map[core.Category]string, len(specs))
	for _, spec := range specs {
		if id, ok := existing[spec.Name]; ok {
			ids[spec.Category] = id
			continue
		}

		var created *gmail.Label
		err := c.call(ctx, "labels.create", func() error {
			var err error
			created, err = c.svc.Users.Labels.Create(user, &gmail.Label{
				Name:                  spec.Name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
				Color: &gmail.LabelColor{
					BackgroundColor: spec.BackgroundColor,
					TextColor:       spec.TextColor,
				},
			}).Context(ctx).Do()
			return err
		})
		if err != nil {
			return ids, fmt.Errorf("failed to create label %s: %w", spec.Name, err)
		}
		c.logger.Info("Created label", zap.String("label", spec.Name))
		ids[spec.Category] = created.Id
	}
	return ids, nil
}

func (c *Client) modify(ctx context.Context, op, messageID string, add, remove []string) error {
	err := c.call(ctx, op, func() error {
		_, err := c.svc.Users.Messages.Modify(user, messageID, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to modify message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	return c.modify(ctx, "apply_label", messageID, []string{labelID}, nil)
}

// BatchApplyLabels adds one label to many messages, in chunks the API accepts
func (c *Client) BatchApplyLabels(ctx context.Context, messageIDs []string, labelID string) error {
	for start := 0; start < len(messageIDs); start += maxBatchModify {
		end := start + maxBatchModify
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		chunk := messageIDs[start:end]
		err := c.call(ctx, "batch_modify", func() error {
			return c.svc.Users.Messages.BatchModify(user, &gmail.BatchModifyMessagesRequest{
				Ids:         chunk,
				AddLabelIds: []string{labelID},
			}).Context(ctx).Do()
		})
		if err != nil {
			return fmt.Errorf("failed to batch modify %d messages: %w", len(chunk), err)
		}
	}
	return nil
}

func (c *Client) RemoveLabels(ctx context.Context, messageID string, labelIDs []string) error {
	if len(labelIDs) == 0 {
		return nil
	}
	return c.modify(ctx, "remove_labels", messageID, nil, labelIDs)
}

func (c *Client) MarkImportant(ctx context.Context, messageID string) error {
	return c.modify(ctx, "mark_important", messageID, []string{labelImportant}, nil)
}

func (c *Client) Star(ctx context.Context, messageID string) error {
	return c.modify(ctx, "add_star", messageID, []string{labelStarred}, nil)
}

func (c *Client) MoveToSpam(ctx context.Context, messageID string) error {
	return c.modify(ctx, "move_to_spam", messageID, []string{labelSpam}, []string{labelInbox})
}

func (c *Client) MoveToPromotions(ctx context.Context, messageID string) error {
	return c.modify(ctx, "move_to_promotions", messageID, []string{labelPromotions}, []string{labelInbox})
}

func toPart(p *gmail.MessagePart) provider.Part {
	part := provider.Part{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	if p.Body != nil && p.Body.Data != "" {
		part.Body = decodeBase64URL(p.Body.Data)
	}
	for _, child := range p.Parts {
		if child != nil {
			part.Parts = append(part.Parts, toPart(child))
		}
	}
	return part
}

func decodeBase64URL(s string) string {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return ""
		}
	}
	return string(data)
}

func parseDate(header string, internalDate int64) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate).UTC()
	}
	return time.Time{}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
