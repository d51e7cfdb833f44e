package imap

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

func TestFromBuffer(t *testing.T) {
	date := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:   42,
		Flags: []imap.Flag{imap.FlagSeen, "Triage/Urgent"},
		Envelope: &imap.Envelope{
			Date:      date,
			Subject:   "URGENT: disk full",
			MessageID: "<abc@company.com>",
			From:      []imap.Address{{Name: "Alerts", Mailbox: "alerts", Host: "company.com"}},
			To:        []imap.Address{{Mailbox: "me", Host: "example.com"}},
		},
	}

	fm := fromBuffer(buf)
	assert.Equal(t, "42", fm.ID)
	assert.Equal(t, uint64(42), fm.Cursor)
	assert.Equal(t, "URGENT: disk full", fm.Subject)
	assert.Equal(t, "Alerts <alerts@company.com>", fm.Sender)
	assert.Equal(t, "me@example.com", fm.Recipient)
	assert.Equal(t, date, fm.Date)
	assert.True(t, fm.IsRead)
	assert.Equal(t, []string{`\Seen`, "Triage/Urgent"}, fm.Labels)
}

func TestParseUIDs(t *testing.T) {
	uids, err := parseUIDs([]string{"7", "12"})
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{7, 12}, uids)

	_, err = parseUIDs([]string{"abc"})
	assert.Error(t, err)
	_, err = parseUIDs([]string{"0"})
	assert.Error(t, err)
}

func TestUIDWindows(t *testing.T) {
	uids := []imap.UID{9, 3, 5, 1}
	assert.Equal(t, []imap.UID{5, 9}, newestUIDs(uids, 2))
	assert.Equal(t, []imap.UID{1, 3}, oldestUIDs(uids, 2))
	assert.Equal(t, []imap.UID{1, 3, 5, 9}, newestUIDs(uids, 0))
	assert.Equal(t, []imap.UID{9, 3, 5, 1}, uids, "input is not reordered")
}

func TestWatchUnsupported(t *testing.T) {
	c := NewClient(Options{Host: "imap.example.com"}, "me@example.com", "secret", zap.NewNop())
	_, err := c.StartWatch(context.Background(), "", nil)
	assert.ErrorIs(t, err, core.ErrUnsupported)
	assert.ErrorIs(t, c.StopWatch(context.Background()), core.ErrUnsupported)

	ids, err := c.EnsureLabels(context.Background(), []core.LabelSpec{{Category: core.CategorySpam, Name: "Triage/Spam"}})
	require.NoError(t, err)
	assert.Equal(t, map[core.Category]string{core.CategorySpam: "Triage/Spam"}, ids)
}
