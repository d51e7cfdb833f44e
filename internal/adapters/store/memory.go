package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
)

type messageKey struct {
	accountID  uuid.UUID
	providerID string
}

// MemoryStore keeps accounts, messages and learning profiles in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*core.Account
	messages map[messageKey]*core.Message
	profiles map[string]*core.LearningProfile
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*core.Account),
		messages: make(map[messageKey]*core.Message),
		profiles: make(map[string]*core.LearningProfile),
		now:      time.Now,
	}
}

// ListAccounts returns the user's active, sync-enabled accounts
func (s *MemoryStore) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID && a.Syncable() {
			out = append(out, *a)
		}
	}
	sortAccounts(out)
	return out, nil
}

// ListActiveAccounts returns every active account of a provider
func (s *MemoryStore) ListActiveAccounts(ctx context.Context, provider core.Provider) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Account
	for _, a := range s.accounts {
		if a.Provider == provider && a.Active {
			out = append(out, *a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) FindAccountByEmail(ctx context.Context, provider core.Provider, email string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Provider == provider && strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

// SaveAccount inserts or replaces an account. A missing id is generated.
func (s *MemoryStore) SaveAccount(ctx context.Context, account *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if existing, ok := s.accounts[account.ID]; ok {
		account.CreatedAt = existing.CreatedAt
		account.Cursor = existing.Cursor.Advance(account.Cursor)
	} else if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *MemoryStore) AdvanceCursor(ctx context.Context, id uuid.UUID, cursor core.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return core.ErrNotFound
	}
	a.Cursor = a.Cursor.Advance(cursor)
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetWatch(ctx context.Context, id uuid.UUID, expiration time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return core.ErrNotFound
	}
	a.WatchExpiration = expiration
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return core.ErrNotFound
	}
	a.Active = false
	a.WatchExpiration = time.Time{}
	a.UpdatedAt = s.now()
	return nil
}

// UpsertMessage inserts msg unless (account, provider id) already exists
func (s *MemoryStore) UpsertMessage(ctx context.Context, msg *core.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey{msg.AccountID, msg.ProviderMessageID}
	if _, ok := s.messages[key]; ok {
		return false, nil
	}
	now := s.now()
	cp := *msg
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.messages[key] = &cp
	msg.CreatedAt, msg.UpdatedAt = now, now
	return true, nil
}

func (s *MemoryStore) UpdateCategorization(ctx context.Context, accountID uuid.UUID, providerID string, c *core.Categorization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageKey{accountID, providerID}]
	if !ok {
		return false, core.ErrNotFound
	}
	if m.ManualOverride {
		return false, nil
	}
	m.Apply(c)
	m.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) SetManualCategory(ctx context.Context, accountID uuid.UUID, providerID string, category core.Category) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageKey{accountID, providerID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	m.Category = category
	m.Priority = category.Priority()
	m.Confidence = 1.0
	m.Explanation = ManualExplanation
	m.ManualOverride = true
	m.UpdatedAt = s.now()
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, accountID uuid.UUID, providerID string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageKey{accountID, providerID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// ListMessages returns an account's messages, newest first
func (s *MemoryStore) ListMessages(ctx context.Context, accountID uuid.UUID, filter core.MessageFilter) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Message
	for k, m := range s.messages {
		if k.accountID != accountID {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && m.ReceivedAt.Before(filter.Since) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ProviderMessageID < out[j].ProviderMessageID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CategoryCountsByDomain(ctx context.Context, userID string, since time.Time) (map[string]map[core.Category]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]map[core.Category]int)
	for k, m := range s.messages {
		if !s.ownedBy(k.accountID, userID) || m.Category == core.CategoryOther || m.ReceivedAt.Before(since) {
			continue
		}
		domain := utils.SenderDomain(m.Sender)
		if domain == "" {
			continue
		}
		if counts[domain] == nil {
			counts[domain] = make(map[core.Category]int)
		}
		counts[domain][m.Category]++
	}
	return counts, nil
}

func (s *MemoryStore) CategoryCounts(ctx context.Context, userID string, since time.Time) (map[core.Category]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[core.Category]int)
	for k, m := range s.messages {
		if s.ownedBy(k.accountID, userID) && !m.ReceivedAt.Before(since) {
			counts[m.Category]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) CountMessages(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k, m := range s.messages {
		if k.accountID == accountID && !m.ReceivedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*core.LearningProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) SaveProfile(ctx context.Context, profile *core.LearningProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.UserID] = profile
	return nil
}

func (s *MemoryStore) ownedBy(accountID uuid.UUID, userID string) bool {
	a, ok := s.accounts[accountID]
	return ok && a.UserID == userID
}

func sortAccounts(accounts []core.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].Email < accounts[j].Email
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}
