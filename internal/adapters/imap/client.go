package imap

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/provider"
)

const (
	inbox = "INBOX"

	// flagImportant is the keyword mail clients use for important messages
	flagImportant = imap.Flag("$Important")
)

// Options configures an IMAP client
type Options struct {
	Host             string
	Port             int
	TLS              bool
	JunkFolder       string
	PromotionsFolder string
	BodyLimit        int
}

// Client is the IMAP implementation of core.ProviderClient. Each call opens its own
// connection; message ids are UIDs in INBOX and the history cursor is the highest UID seen.
type Client struct {
	opts     Options
	username string
	password string
	logger   *zap.Logger
}

// NewClient creates an IMAP client for one mailbox
func NewClient(opts Options, username, password string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Port == 0 {
		opts.Port = 993
	}
	if opts.JunkFolder == "" {
		opts.JunkFolder = "Junk"
	}
	if opts.PromotionsFolder == "" {
		opts.PromotionsFolder = "Promotions"
	}
	return &Client{
		opts:     opts,
		username: username,
		password: password,
		logger:   logger.With(zap.String("account", username)),
	}
}

// session connects, logs in and selects INBOX, then runs fn
func (c *Client) session(ctx context.Context, op string, fn func(*imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := c.withInbox(fn)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderCall(string(core.ProviderIMAP), op, status, time.Since(start))
	return err
}

func (c *Client) withInbox(fn func(*imapclient.Client) error) error {
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))

	var client *imapclient.Client
	var err error
	if c.opts.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		return &core.AuthError{Account: c.username, Message: "IMAP login rejected", Err: err}
	}
	if _, err := client.Select(inbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}
	return fn(client)
}

// FetchMessages returns the most recent INBOX messages received since a date
func (c *Client) FetchMessages(ctx context.Context, since time.Time, maxResults int, includeBodies bool) ([]core.FetchedMessage, error) {
	var out []core.FetchedMessage
	err := c.session(ctx, "fetch_messages", func(client *imapclient.Client) error {
		data, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}
		uids := newestUIDs(data.AllUIDs(), maxResults)
		if len(uids) == 0 {
			return nil
		}
		out, err = c.fetch(client, uids, includeBodies)
		return err
	})
	return out, err
}

// FetchSince returns messages with a UID above cursor and the highest UID seen
func (c *Client) FetchSince(ctx context.Context, cursor uint64, maxResults int) ([]core.FetchedMessage, uint64, error) {
	latest := cursor
	var out []core.FetchedMessage
	err := c.session(ctx, "fetch_since", func(client *imapclient.Client) error {
		criteria := &imap.SearchCriteria{
			UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(cursor + 1), Stop: 0}}},
		}
		data, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}

		// "n:*" always matches the highest UID, even when it is below n
		var uids []imap.UID
		for _, uid := range data.AllUIDs() {
			if uint64(uid) > cursor {
				uids = append(uids, uid)
			}
		}
		uids = oldestUIDs(uids, maxResults)
		if len(uids) == 0 {
			return nil
		}
		latest = uint64(uids[len(uids)-1])

		out, err = c.fetch(client, uids, true)
		return err
	})
	return out, latest, err
}

func (c *Client) fetch(client *imapclient.Client, uids []imap.UID, includeBodies bool) ([]core.FetchedMessage, error) {
	opts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}
	var section *imap.FetchItemBodySection
	if includeBodies {
		section = &imap.FetchItemBodySection{Peek: true}
		opts.BodySection = []*imap.FetchItemBodySection{section}
	}

	cmd := client.Fetch(imap.UIDSetNum(uids...), opts)
	defer cmd.Close()

	var out []core.FetchedMessage
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			c.logger.Warn("Failed to read message", zap.Error(err))
			continue
		}
		fm := fromBuffer(buf)
		if section != nil {
			if raw := buf.FindBodySection(section); raw != nil {
				content, err := provider.ParseMIME(raw, c.opts.BodyLimit)
				if err != nil {
					c.logger.Warn("Failed to parse message body", zap.String("uid", fm.ID), zap.Error(err))
				} else {
					fm.BodyText = content.Text
					fm.HasAttachments = content.HasAttachments
				}
			}
		}
		out = append(out, fm)
	}
	if err := cmd.Close(); err != nil {
		return out, fmt.Errorf("fetching messages: %w", err)
	}
	return out, nil
}

// StartWatch is not available over plain IMAP
func (c *Client) StartWatch(ctx context.Context, topic string, labels []string) (*core.WatchInfo, error) {
	return nil, core.ErrUnsupported
}

func (c *Client) StopWatch(ctx context.Context) error {
	return core.ErrUnsupported
}

// EnsureLabels maps categories to keywords; IMAP keywords need no creation
func (c *Client) EnsureLabels(ctx context.Context, specs []core.LabelSpec) (map[core.Category]string, error) {
	ids := make(map[core.Category]string, len(specs))
	for _, spec := range specs {
		ids[spec.Category] = spec.Name
	}
	return ids, nil
}

func (c *Client) store(ctx context.Context, op string, messageIDs []string, storeOp imap.StoreFlagsOp, flags ...imap.Flag) error {
	uids, err := parseUIDs(messageIDs)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}
	return c.session(ctx, op, func(client *imapclient.Client) error {
		cmd := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
			Op:     storeOp,
			Silent: true,
			Flags:  flags,
		}, nil)
		if err := cmd.Close(); err != nil {
			return fmt.Errorf("storing flags: %w", err)
		}
		return nil
	})
}

func (c *Client) move(ctx context.Context, op, messageID, folder string) error {
	uids, err := parseUIDs([]string{messageID})
	if err != nil {
		return err
	}
	return c.session(ctx, op, func(client *imapclient.Client) error {
		if _, err := client.Move(imap.UIDSetNum(uids...), folder).Wait(); err != nil {
			return fmt.Errorf("moving message %s to %s: %w", messageID, folder, err)
		}
		return nil
	})
}

func (c *Client) ApplyLabel(ctx context.Context, messageID, labelID string) error {
	return c.store(ctx, "apply_label", []string{messageID}, imap.StoreFlagsAdd, imap.Flag(labelID))
}

// BatchApplyLabels sets a keyword on every message with one UID STORE
func (c *Client) BatchApplyLabels(ctx context.Context, messageIDs []string, labelID string) error {
	return c.store(ctx, "batch_apply_label", messageIDs, imap.StoreFlagsAdd, imap.Flag(labelID))
}

func (c *Client) RemoveLabels(ctx context.Context, messageID string, labelIDs []string) error {
	flags := make([]imap.Flag, len(labelIDs))
	for i, l := range labelIDs {
		flags[i] = imap.Flag(l)
	}
	return c.store(ctx, "remove_labels", []string{messageID}, imap.StoreFlagsDel, flags...)
}

func (c *Client) MarkImportant(ctx context.Context, messageID string) error {
	return c.store(ctx, "mark_important", []string{messageID}, imap.StoreFlagsAdd, flagImportant)
}

func (c *Client) Star(ctx context.Context, messageID string) error {
	return c.store(ctx, "add_star", []string{messageID}, imap.StoreFlagsAdd, imap.FlagFlagged)
}

func (c *Client) MoveToSpam(ctx context.Context, messageID string) error {
	return c.move(ctx, "move_to_spam", messageID, c.opts.JunkFolder)
}

func (c *Client) MoveToPromotions(ctx context.Context, messageID string) error {
	return c.move(ctx, "move_to_promotions", messageID, c.opts.PromotionsFolder)
}

func fromBuffer(buf *imapclient.FetchMessageBuffer) core.FetchedMessage {
	fm := core.FetchedMessage{
		ID:     strconv.FormatUint(uint64(buf.UID), 10),
		Cursor: uint64(buf.UID),
	}
	if env := buf.Envelope; env != nil {
		fm.Subject = env.Subject
		fm.Date = env.Date.UTC()
		fm.ThreadID = env.MessageID
		if len(env.From) > 0 {
			fm.Sender = formatAddress(env.From[0])
		}
		if len(env.To) > 0 {
			fm.Recipient = env.To[0].Addr()
		}
	}
	for _, f := range buf.Flags {
		if f == imap.FlagSeen {
			fm.IsRead = true
		}
		fm.Labels = append(fm.Labels, string(f))
	}
	return fm
}

func formatAddress(a imap.Address) string {
	if a.Name == "" {
		return a.Addr()
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Addr())
}

func parseUIDs(ids []string) ([]imap.UID, error) {
	uids := make([]imap.UID, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid IMAP message id %q", id)
		}
		uids = append(uids, imap.UID(n))
	}
	return uids, nil
}

// newestUIDs keeps the highest n UIDs
func newestUIDs(uids []imap.UID, n int) []imap.UID {
	sorted := append([]imap.UID(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n > 0 && len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

// oldestUIDs keeps the lowest n UIDs so an incremental pass resumes where it stopped
func oldestUIDs(uids []imap.UID, n int) []imap.UID {
	sorted := append([]imap.UID(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
