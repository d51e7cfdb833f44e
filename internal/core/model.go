package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the triage bucket assigned to a message
type Category string

const (
	CategoryUrgent      Category = "urgent"
	CategoryImportant   Category = "important"
	CategoryRoutine     Category = "routine"
	CategoryPromotional Category = "promotional"
	CategorySpam        Category = "spam"
	CategoryOther       Category = "other"
)

// RankedCategories lists the scored categories from the highest static priority to the lowest.
// Ties during selection resolve in this order.
var RankedCategories = []Category{
	CategoryUrgent,
	CategoryImportant,
	CategoryRoutine,
	CategoryPromotional,
	CategorySpam,
}

// OtherPriority is the priority reported for the fallback category
const OtherPriority = 2

// Priority returns the static priority rank of the category
func (c Category) Priority() int {
	switch c {
	case CategoryUrgent:
		return 5
	case CategoryImportant:
		return 4
	case CategoryRoutine:
		return 3
	case CategoryPromotional:
		return 2
	case CategorySpam:
		return 1
	default:
		return OtherPriority
	}
}

// Valid reports whether c is part of the fixed enumeration
func (c Category) Valid() bool {
	switch c {
	case CategoryUrgent, CategoryImportant, CategoryRoutine, CategoryPromotional, CategorySpam, CategoryOther:
		return true
	}
	return false
}

// Description returns the static, human readable meaning of the category
func (c Category) Description() string {
	switch c {
	case CategoryUrgent:
		return "Requires immediate attention within 1-2 hours"
	case CategoryImportant:
		return "Needs attention within 24 hours"
	case CategoryRoutine:
		return "Standard business communication"
	case CategoryPromotional:
		return "Marketing and promotional content"
	case CategorySpam:
		return "Unwanted or suspicious emails"
	default:
		return "General or unclassified emails"
	}
}

// ParseCategory converts a free-form string into a Category
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Provider identifies the mailbox backend of an account
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderIMAP    Provider = "imap"
)

// Cursor tracks sync progress for an account. Both fields only ever move forward.
type Cursor struct {
	LastSync  time.Time
	HistoryID uint64
}

// IsZero reports whether the account has never been synced
func (c Cursor) IsZero() bool {
	return c.LastSync.IsZero() && c.HistoryID == 0
}

// Advance merges next into c without moving either field backwards
func (c Cursor) Advance(next Cursor) Cursor {
	out := c
	if next.LastSync.After(out.LastSync) {
		out.LastSync = next.LastSync
	}
	if next.HistoryID > out.HistoryID {
		out.HistoryID = next.HistoryID
	}
	return out
}

// Account is a linked mailbox
type Account struct {
	ID              uuid.UUID
	UserID          string
	Email           string
	Provider        Provider
	CredentialRef   string
	Cursor          Cursor
	WatchExpiration time.Time
	Active          bool
	SyncEnabled     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Syncable reports whether the account takes part in a sync batch
func (a *Account) Syncable() bool {
	return a.Active && a.SyncEnabled
}

// Email is the scoring input handed to categorizers
type Email struct {
	From       string
	To         []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// FetchedMessage is a provider record normalized across backends
type FetchedMessage struct {
	ID             string
	ThreadID       string
	Subject        string
	Sender         string
	Recipient      string
	Date           time.Time
	Snippet        string
	BodyText       string
	HasAttachments bool
	IsRead         bool
	Labels         []string
	// Cursor is the provider change cursor the message was seen at (Gmail history id, IMAP UID);
	// zero when the provider has none.
	Cursor uint64
}

// Message is a stored, categorized message
type Message struct {
	AccountID         uuid.UUID
	ProviderMessageID string
	ThreadID          string
	Subject           string
	Sender            string
	Recipients        []string
	Snippet           string
	Body              string
	ReceivedAt        time.Time
	HasAttachments    bool
	IsRead            bool
	Labels            []string
	Category          Category
	Priority          int
	Confidence        float64
	Explanation       string
	ManualOverride    bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewMessage builds an uncategorized message from a provider record
func NewMessage(accountID uuid.UUID, accountEmail string, fm FetchedMessage) *Message {
	recipient := fm.Recipient
	if recipient == "" {
		recipient = accountEmail
	}
	return &Message{
		AccountID:         accountID,
		ProviderMessageID: fm.ID,
		ThreadID:          fm.ThreadID,
		Subject:           fm.Subject,
		Sender:            fm.Sender,
		Recipients:        []string{recipient},
		Snippet:           fm.Snippet,
		Body:              fm.BodyText,
		ReceivedAt:        fm.Date,
		HasAttachments:    fm.HasAttachments,
		IsRead:            fm.IsRead,
		Labels:            fm.Labels,
		Category:          CategoryOther,
		Priority:          OtherPriority,
	}
}

// Email returns the scoring view of the message
func (m *Message) Email() *Email {
	return &Email{
		From:       m.Sender,
		To:         m.Recipients,
		Subject:    m.Subject,
		Body:       m.Body,
		ReceivedAt: m.ReceivedAt,
	}
}

// Apply copies a categorization onto the message unless it carries a manual override.
// It reports whether the message changed.
func (m *Message) Apply(c *Categorization) bool {
	if m.ManualOverride || c == nil {
		return false
	}
	changed := m.Category != c.Category || m.Confidence != c.Confidence
	m.Category = c.Category
	m.Priority = c.Priority
	m.Confidence = c.Confidence
	m.Explanation = c.Explanation
	return changed
}

// Categorization is the output contract shared by the rule engine and AI scorers
type Categorization struct {
	Category    Category
	Confidence  float64
	Priority    int
	Explanation string
	Source      string
	AnalyzedAt  time.Time
}

// Sources of a categorization
const (
	SourceRules    = "rules"
	SourceLLM      = "llm"
	SourceCache    = "cache"
	SourceManual   = "manual"
	SourceFallback = "fallback"
)

// CategoryPattern holds category counts and the derived score adjustments for one key
// (a sender domain or a keyword)
type CategoryPattern struct {
	Counts      map[Category]int     `json:"counts"`
	Adjustments map[Category]float64 `json:"adjustments"`
}

// LearningProfile is the per-user history used to nudge scores
type LearningProfile struct {
	UserID         string                      `json:"user_id"`
	SenderDomains  map[string]*CategoryPattern `json:"sender_domains"`
	Keywords       map[string]*CategoryPattern `json:"keywords"`
	EmailsAnalyzed int                         `json:"emails_analyzed"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// NewLearningProfile returns an empty profile for a user
func NewLearningProfile(userID string) *LearningProfile {
	return &LearningProfile{
		UserID:        userID,
		SenderDomains: make(map[string]*CategoryPattern),
		Keywords:      make(map[string]*CategoryPattern),
	}
}

// TaskStatus is the structured outcome of one account sync task
type TaskStatus string

const (
	TaskSuccess TaskStatus = "success"
	TaskTimeout TaskStatus = "timeout"
	TaskError   TaskStatus = "error"
)

// SyncResult is the per-account outcome of a sync batch
type SyncResult struct {
	AccountID    uuid.UUID     `json:"account_id"`
	AccountEmail string        `json:"account_email"`
	Status       TaskStatus    `json:"status"`
	FullSync     bool          `json:"full_sync"`
	WindowStart  time.Time     `json:"window_start"`
	Fetched      int           `json:"fetched"`
	Processed    int           `json:"processed"`
	AuthFailure  bool          `json:"auth_failure"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Succeeded reports whether the task finished without error or timeout
func (r SyncResult) Succeeded() bool {
	return r.Status == TaskSuccess
}

// SyncReport aggregates a SyncAll invocation
type SyncReport struct {
	RunID           uuid.UUID    `json:"run_id"`
	UserID          string       `json:"user_id"`
	Success         bool         `json:"success"`
	AccountsSynced  int          `json:"accounts_synced"`
	TotalAccounts   int          `json:"total_accounts"`
	TotalProcessed  int          `json:"total_processed"`
	Results         []SyncResult `json:"results"`
	Errors          []string     `json:"errors"`
	LearningApplied bool         `json:"learning_applied"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

// ActionType is a provider mutation named in an action table
type ActionType string

const (
	ActionApplyLabel       ActionType = "apply_label"
	ActionMarkImportant    ActionType = "mark_important"
	ActionAddStar          ActionType = "add_star"
	ActionMoveToPromotions ActionType = "move_to_promotions"
	ActionMoveToSpam       ActionType = "move_to_spam"
	ActionApplyCategory    ActionType = "apply_category"
	ActionFlag             ActionType = "flag"
	ActionMoveToFolder     ActionType = "move_to_folder"
	ActionMoveToJunk       ActionType = "move_to_junk"
)

// ActionPlan groups message ids by category together with the actions each category triggers
type ActionPlan struct {
	Provider Provider
	Groups   map[Category][]string
	Actions  map[Category][]ActionType
	Order    []Category
}

// ActionResult summarizes an applied plan
type ActionResult struct {
	Processed map[Category]int
	Calls     int
	Errors    []string
}

// LabelSpec describes one taxonomy label to create on the provider
type LabelSpec struct {
	Category        Category
	Name            string
	TextColor       string
	BackgroundColor string
}

// WatchInfo is returned when a push subscription is registered
type WatchInfo struct {
	HistoryID  uint64
	Expiration time.Time
	ResourceID string
}

// Credentials is the decrypted OAuth token material of an account
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Password     string    `json:"password,omitempty"`
}

// Channel is the logical notifier channel
type Channel string

const (
	ChannelSync          Channel = "sync"
	ChannelNotifications Channel = "notifications"
)

// Event is a structured progress or result event
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	Channel   Channel        `json:"channel"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// AccountStatus is one row of a sync status report
type AccountStatus struct {
	AccountID       uuid.UUID `json:"account_id"`
	Email           string    `json:"email"`
	Provider        Provider  `json:"provider"`
	Active          bool      `json:"active"`
	LastSync        time.Time `json:"last_sync"`
	WatchExpiration time.Time `json:"watch_expiration"`
	RecentMessages  int       `json:"recent_messages"`
	TotalMessages   int       `json:"total_messages"`
}

// MessageFilter narrows message listings
type MessageFilter struct {
	Category Category
	Since    time.Time
	Limit    int
}
