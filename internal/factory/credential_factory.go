package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/credential"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
)

// CreateCredentialStore opens the keyring and wraps it with the configured secret key
func CreateCredentialStore(cfg *config.Config, logger *zap.Logger) (core.CredentialStore, error) {
	credCfg := cfg.GetCredentials()
	if credCfg.SecretKey == "" {
		return nil, fmt.Errorf("credentials.secret_key is required")
	}
	cipher, err := credential.NewCipher(credCfg.SecretKey)
	if err != nil {
		return nil, err
	}
	ring, err := credential.OpenKeyring(credCfg.Backend, credCfg.FileDir, credCfg.FilePassword)
	if err != nil {
		return nil, err
	}
	return credential.NewKeyringStore(ring, cipher, logger), nil
}
