package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
)

// ManualExplanation is stored on messages categorized by hand
const ManualExplanation = "Category set manually"

const schema = `
CREATE TABLE IF NOT EXISTS email_accounts (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	email TEXT NOT NULL,
	provider TEXT NOT NULL,
	credential_ref TEXT NOT NULL DEFAULT '',
	last_sync TIMESTAMPTZ,
	history_id BIGINT NOT NULL DEFAULT 0,
	watch_expiration TIMESTAMPTZ,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	sync_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (provider, email)
);
CREATE INDEX IF NOT EXISTS idx_email_accounts_user ON email_accounts(user_id);

CREATE TABLE IF NOT EXISTS emails (
	account_id UUID NOT NULL REFERENCES email_accounts(id),
	provider_message_id TEXT NOT NULL,
	thread_id TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	sender_domain TEXT NOT NULL DEFAULT '',
	recipients TEXT[] NOT NULL DEFAULT '{}',
	snippet TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	labels TEXT[] NOT NULL DEFAULT '{}',
	category TEXT NOT NULL DEFAULT 'other',
	priority INT NOT NULL DEFAULT 2,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	explanation TEXT NOT NULL DEFAULT '',
	manual_override BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (account_id, provider_message_id)
);
CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(account_id, received_at DESC);

CREATE TABLE IF NOT EXISTS learning_profiles (
	user_id TEXT PRIMARY KEY,
	profile JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const accountColumns = `id, user_id, email, provider, credential_ref, last_sync, history_id,
	watch_expiration, active, sync_enabled, created_at, updated_at`

const messageColumns = `account_id, provider_message_id, thread_id, subject, sender, recipients,
	snippet, body, received_at, has_attachments, is_read, labels, category, priority, confidence,
	explanation, manual_override, created_at, updated_at`

// PostgresStore persists accounts, messages and learning profiles in PostgreSQL
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewConnection opens a pgx pool and verifies it
func NewConnection(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	logger.Info("PostgreSQL connection established successfully",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("db", poolCfg.ConnConfig.Database))
	return pool, nil
}

// NewPostgresStore creates the store and applies the schema
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM email_accounts
		WHERE user_id = $1 AND active AND sync_enabled
		ORDER BY created_at, email`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context, provider core.Provider) ([]core.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM email_accounts
		WHERE provider = $1 AND active
		ORDER BY created_at, email`, string(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*core.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM email_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresStore) FindAccountByEmail(ctx context.Context, provider core.Provider, email string) (*core.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM email_accounts
		WHERE provider = $1 AND lower(email) = lower($2)`, string(provider), email)
	return scanAccount(row)
}

// SaveAccount inserts or updates an account; the stored cursor only moves forward
func (s *PostgresStore) SaveAccount(ctx context.Context, a *core.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO email_accounts (id, user_id, email, provider, credential_ref, last_sync, history_id,
			watch_expiration, active, sync_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			email = EXCLUDED.email,
			provider = EXCLUDED.provider,
			credential_ref = EXCLUDED.credential_ref,
			last_sync = GREATEST(email_accounts.last_sync, EXCLUDED.last_sync),
			history_id = GREATEST(email_accounts.history_id, EXCLUDED.history_id),
			watch_expiration = EXCLUDED.watch_expiration,
			active = EXCLUDED.active,
			sync_enabled = EXCLUDED.sync_enabled,
			updated_at = NOW()
	`, a.ID, a.UserID, a.Email, string(a.Provider), a.CredentialRef, nullTime(a.Cursor.LastSync),
		int64(a.Cursor.HistoryID), nullTime(a.WatchExpiration), a.Active, a.SyncEnabled)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// AdvanceCursor moves the cursor forward; GREATEST ignores NULLs so neither field can regress
func (s *PostgresStore) AdvanceCursor(ctx context.Context, id uuid.UUID, cursor core.Cursor) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE email_accounts SET
			last_sync = GREATEST(last_sync, $2),
			history_id = GREATEST(history_id, $3),
			updated_at = NOW()
		WHERE id = $1
	`, id, nullTime(cursor.LastSync), int64(cursor.HistoryID))
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetWatch(ctx context.Context, id uuid.UUID, expiration time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE email_accounts SET watch_expiration = $2, updated_at = NOW() WHERE id = $1`,
		id, nullTime(expiration))
	if err != nil {
		return fmt.Errorf("failed to set watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE email_accounts SET active = FALSE, watch_expiration = NULL, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// UpsertMessage inserts a message; an existing (account, provider id) row is left untouched
func (s *PostgresStore) UpsertMessage(ctx context.Context, m *core.Message) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO emails (account_id, provider_message_id, thread_id, subject, sender, sender_domain,
			recipients, snippet, body, received_at, has_attachments, is_read, labels, category, priority,
			confidence, explanation, manual_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (account_id, provider_message_id) DO NOTHING
	`, m.AccountID, m.ProviderMessageID, m.ThreadID, m.Subject, m.Sender, utils.SenderDomain(m.Sender),
		nonNil(m.Recipients), m.Snippet, m.Body, m.ReceivedAt, m.HasAttachments, m.IsRead, nonNil(m.Labels),
		string(m.Category), m.Priority, m.Confidence, m.Explanation, m.ManualOverride)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateCategorization(ctx context.Context, accountID uuid.UUID, providerID string, c *core.Categorization) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE emails SET category = $3, priority = $4, confidence = $5, explanation = $6, updated_at = NOW()
		WHERE account_id = $1 AND provider_message_id = $2 AND NOT manual_override
	`, accountID, providerID, string(c.Category), c.Priority, c.Confidence, c.Explanation)
	if err != nil {
		return false, fmt.Errorf("failed to update categorization: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetManualCategory(ctx context.Context, accountID uuid.UUID, providerID string, category core.Category) (*core.Message, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE emails SET category = $3, priority = $4, confidence = 1.0, explanation = $5,
			manual_override = TRUE, updated_at = NOW()
		WHERE account_id = $1 AND provider_message_id = $2
		RETURNING `+messageColumns,
		accountID, providerID, string(category), category.Priority(), ManualExplanation)
	return scanMessage(row)
}

func (s *PostgresStore) GetMessage(ctx context.Context, accountID uuid.UUID, providerID string) (*core.Message, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM emails
		WHERE account_id = $1 AND provider_message_id = $2`, accountID, providerID)
	return scanMessage(row)
}

func (s *PostgresStore) ListMessages(ctx context.Context, accountID uuid.UUID, filter core.MessageFilter) ([]core.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM emails
		WHERE account_id = $1
			AND ($2 = '' OR category = $2)
			AND ($3::timestamptz IS NULL OR received_at >= $3)
		ORDER BY received_at DESC, provider_message_id`
	args := []any{accountID, string(filter.Category), nullTime(filter.Since)}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CategoryCountsByDomain(ctx context.Context, userID string, since time.Time) (map[string]map[core.Category]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT e.sender_domain, e.category, COUNT(*)
		FROM emails e JOIN email_accounts a ON a.id = e.account_id
		WHERE a.user_id = $1 AND e.received_at >= $2 AND e.category <> 'other' AND e.sender_domain <> ''
		GROUP BY e.sender_domain, e.category
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[core.Category]int)
	for rows.Next() {
		var domain, category string
		var n int
		if err := rows.Scan(&domain, &category, &n); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		if counts[domain] == nil {
			counts[domain] = make(map[core.Category]int)
		}
		counts[domain][core.Category(category)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) CategoryCounts(ctx context.Context, userID string, since time.Time) (map[core.Category]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT e.category, COUNT(*)
		FROM emails e JOIN email_accounts a ON a.id = e.account_id
		WHERE a.user_id = $1 AND e.received_at >= $2
		GROUP BY e.category
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.Category]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts[core.Category(category)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) CountMessages(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM emails WHERE account_id = $1 AND received_at >= $2`,
		accountID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*core.LearningProfile, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT profile FROM learning_profiles WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	profile := core.NewLearningProfile(userID)
	if err := json.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, profile *core.LearningProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO learning_profiles (user_id, profile, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = NOW()
	`, profile.UserID, data)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func collectAccounts(rows pgx.Rows) ([]core.Account, error) {
	defer rows.Close()
	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*core.Account, error) {
	var (
		a                  core.Account
		provider           string
		lastSync, watchExp *time.Time
		historyID          int64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Email, &provider, &a.CredentialRef, &lastSync, &historyID,
		&watchExp, &a.Active, &a.SyncEnabled, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Provider = core.Provider(provider)
	a.Cursor.HistoryID = uint64(historyID)
	if lastSync != nil {
		a.Cursor.LastSync = *lastSync
	}
	if watchExp != nil {
		a.WatchExpiration = *watchExp
	}
	return &a, nil
}

func scanMessage(row pgx.Row) (*core.Message, error) {
	var (
		m        core.Message
		category string
	)
	err := row.Scan(&m.AccountID, &m.ProviderMessageID, &m.ThreadID, &m.Subject, &m.Sender, &m.Recipients,
		&m.Snippet, &m.Body, &m.ReceivedAt, &m.HasAttachments, &m.IsRead, &m.Labels, &category, &m.Priority,
		&m.Confidence, &m.Explanation, &m.ManualOverride, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Category = core.Category(category)
	return &m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
