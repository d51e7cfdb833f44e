package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LLMClient defines the interface for model-backed categorizers
type LLMClient interface {
	// CategorizeEmail returns the model's categorization of an email
	CategorizeEmail(ctx context.Context, email *Email) (*Categorization, error)
}

// CacheRepository is a TTL key/value cache keyed by account identity or content hash
type CacheRepository interface {
	// Get returns the value stored under key or ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a time to live
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores a value only if key is absent and reports whether it did
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a cache entry
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}

// ProviderClient is the per-account mailbox adapter
type ProviderClient interface {
	// FetchMessages lists messages received since a point in time, up to maxResults
	FetchMessages(ctx context.Context, since time.Time, maxResults int, includeBodies bool) ([]FetchedMessage, error)

	// FetchSince returns messages added after cursor and the advanced cursor
	FetchSince(ctx context.Context, cursor uint64, maxResults int) ([]FetchedMessage, uint64, error)

	// StartWatch registers a push subscription
	StartWatch(ctx context.Context, topic string, labels []string) (*WatchInfo, error)

	// StopWatch cancels the push subscription
	StopWatch(ctx context.Context) error

	// EnsureLabels creates missing taxonomy labels and returns their ids by category
	EnsureLabels(ctx context.Context, specs []LabelSpec) (map[Category]string, error)

	ApplyLabel(ctx context.Context, messageID, labelID string) error
	BatchApplyLabels(ctx context.Context, messageIDs []string, labelID string) error
	RemoveLabels(ctx context.Context, messageID string, labelIDs []string) error
	MarkImportant(ctx context.Context, messageID string) error
	Star(ctx context.Context, messageID string) error
	MoveToSpam(ctx context.Context, messageID string) error
	MoveToPromotions(ctx context.Context, messageID string) error
}

// ProviderFactory builds a ProviderClient for an account
type ProviderFactory interface {
	ClientFor(ctx context.Context, account *Account) (ProviderClient, error)
}

// AccountStore persists linked accounts
type AccountStore interface {
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
	ListActiveAccounts(ctx context.Context, provider Provider) ([]Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	FindAccountByEmail(ctx context.Context, provider Provider, email string) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error

	// AdvanceCursor moves the stored cursor forward; it never decreases either field
	AdvanceCursor(ctx context.Context, id uuid.UUID, cursor Cursor) error

	SetWatch(ctx context.Context, id uuid.UUID, expiration time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// MessageStore persists messages by their natural key (account, provider message id)
type MessageStore interface {
	// UpsertMessage inserts the message if new and reports whether it was created.
	// An existing message is left untouched.
	UpsertMessage(ctx context.Context, msg *Message) (bool, error)

	// UpdateCategorization stores a categorization unless the message carries a manual override
	UpdateCategorization(ctx context.Context, accountID uuid.UUID, providerID string, c *Categorization) (bool, error)

	// SetManualCategory records a user's choice and sets the manual override flag
	SetManualCategory(ctx context.Context, accountID uuid.UUID, providerID string, category Category) (*Message, error)

	GetMessage(ctx context.Context, accountID uuid.UUID, providerID string) (*Message, error)
	ListMessages(ctx context.Context, accountID uuid.UUID, filter MessageFilter) ([]Message, error)

	// CategoryCountsByDomain aggregates non-default categories by sender domain since a time
	CategoryCountsByDomain(ctx context.Context, userID string, since time.Time) (map[string]map[Category]int, error)

	// CategoryCounts aggregates message categories for a user since a time
	CategoryCounts(ctx context.Context, userID string, since time.Time) (map[Category]int, error)

	CountMessages(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
}

// ProfileStore persists learning profiles
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*LearningProfile, error)
	SaveProfile(ctx context.Context, profile *LearningProfile) error
}

// CredentialStore reads and writes encrypted tokens keyed by credential reference
type CredentialStore interface {
	Load(ctx context.Context, ref string) (*Credentials, error)
	Save(ctx context.Context, ref string, creds *Credentials) error
	Delete(ctx context.Context, ref string) error
}

// Notifier delivers structured events; delivery is best effort
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
