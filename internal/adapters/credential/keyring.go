package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

const serviceName = "mail-triage"

// OpenKeyring returns a configured keyring. The "file" backend stores encrypted files under dir;
// "system" prefers the platform keychain and falls back to files.
func OpenKeyring(backend, dir, filePassword string) (keyring.Keyring, error) {
	backends := []keyring.BackendType{keyring.FileBackend}
	if backend == "system" {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	if dir == "" {
		dir = "~/.config/mail-triage/credentials"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore keeps secretbox-sealed OAuth tokens in a keyring, keyed by credential reference
type KeyringStore struct {
	ring   keyring.Keyring
	cipher *Cipher
	logger *zap.Logger
}

// NewKeyringStore creates a new credential store
func NewKeyringStore(ring keyring.Keyring, cipher *Cipher, logger *zap.Logger) *KeyringStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyringStore{ring: ring, cipher: cipher, logger: logger}
}

// Load returns the decrypted credentials stored under ref
func (s *KeyringStore) Load(ctx context.Context, ref string) (*core.Credentials, error) {
	item, err := s.ring.Get(ref)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("credential %q: %w", ref, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", ref, err)
	}

	plaintext, err := s.cipher.Decrypt(string(item.Data))
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", ref, err)
	}

	var creds core.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", ref, err)
	}
	return &creds, nil
}

// Save encrypts and stores credentials under ref, replacing any previous value
func (s *KeyringStore) Save(ctx context.Context, ref string, creds *core.Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credential %q: %w", ref, err)
	}
	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}

	err = s.ring.Set(keyring.Item{
		Key:   ref,
		Data:  []byte(sealed),
		Label: serviceName + " " + ref,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", ref, err)
	}
	s.logger.Debug("Stored credential", zap.String("ref", ref))
	return nil
}

// Delete removes the credentials stored under ref; a missing entry is not an error
func (s *KeyringStore) Delete(ctx context.Context, ref string) error {
	err := s.ring.Remove(ref)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", ref, err)
	}
	return nil
}
