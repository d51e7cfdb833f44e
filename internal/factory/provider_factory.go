package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gmailadapter "github.com/mikey/mail-triage/internal/adapters/gmail"
	"github.com/mikey/mail-triage/internal/adapters/imap"
	"github.com/mikey/mail-triage/internal/adapters/outlook"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/provider"
)

var graphScopes = []string{"offline_access", "https://graph.microsoft.com/Mail.ReadWrite"}

// ProviderFactory builds authenticated provider clients for accounts
type ProviderFactory struct {
	cfg         *config.Config
	credentials core.CredentialStore
	logger      *zap.Logger
}

// NewProviderFactory creates a provider factory
func NewProviderFactory(cfg *config.Config, credentials core.CredentialStore, logger *zap.Logger) *ProviderFactory {
	return &ProviderFactory{cfg: cfg, credentials: credentials, logger: logger}
}

// GmailOAuthConfig returns the OAuth application used for Gmail accounts
func GmailOAuthConfig(c config.OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope, gmail.GmailLabelsScope},
	}
}

// OutlookOAuthConfig returns the OAuth application used for Microsoft accounts
func OutlookOAuthConfig(c config.OutlookConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     microsoft.AzureADEndpoint(c.Tenant),
		Scopes:       graphScopes,
	}
}

// ClientFor returns a provider client authenticated as the account
func (f *ProviderFactory) ClientFor(ctx context.Context, account *core.Account) (core.ProviderClient, error) {
	creds, err := f.loadCredentials(ctx, account)
	if err != nil {
		return nil, err
	}
	providerCfg := f.cfg.GetProvider()
	retrier := provider.NewRetrier(providerCfg.MaxRetries, providerCfg.InitialBackoff, f.logger)

	switch account.Provider {
	case core.ProviderGmail:
		gmailCfg := f.cfg.GetGmail()
		httpClient := f.oauthClient(ctx, GmailOAuthConfig(gmailCfg), account, creds, retrier)
		opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
		if gmailCfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(gmailCfg.Endpoint))
		}
		svc, err := gmail.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail service: %w", err)
		}
		return gmailadapter.NewClient(svc, account.Email, retrier, providerCfg.BodyLimit, f.logger), nil

	case core.ProviderOutlook:
		outlookCfg := f.cfg.GetOutlook()
		httpClient := f.oauthClient(ctx, OutlookOAuthConfig(outlookCfg), account, creds, retrier)
		return outlook.NewClient(httpClient, account.Email, retrier, outlook.Options{
			Endpoint:         outlookCfg.Endpoint,
			PromotionsFolder: outlookCfg.PromotionsFolder,
			BodyLimit:        providerCfg.BodyLimit,
			ClientState:      account.ID.String(),
		}, f.logger), nil

	case core.ProviderIMAP:
		imapCfg := f.cfg.GetIMAP()
		if creds.Password == "" {
			return nil, &core.AuthError{Account: account.Email, Message: "no IMAP password stored"}
		}
		return imap.NewClient(imap.Options{
			Host:             imapCfg.Host,
			Port:             imapCfg.Port,
			TLS:              imapCfg.TLS,
			JunkFolder:       imapCfg.JunkFolder,
			PromotionsFolder: imapCfg.PromotionsFolder,
			BodyLimit:        providerCfg.BodyLimit,
		}, account.Email, creds.Password, f.logger), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", account.Provider)
	}
}

func (f *ProviderFactory) loadCredentials(ctx context.Context, account *core.Account) (*core.Credentials, error) {
	if f.credentials == nil {
		return nil, &core.AuthError{Account: account.Email, Message: "no credential store configured"}
	}
	creds, err := f.credentials.Load(ctx, account.CredentialRef)
	if errors.Is(err, core.ErrNotFound) {
		return nil, &core.AuthError{Account: account.Email, Message: "no stored credentials", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials for %s: %w", account.Email, err)
	}
	return creds, nil
}

// oauthClient returns an HTTP client that attaches the account's token. A 401 makes the
// retrier force one token refresh before retrying.
func (f *ProviderFactory) oauthClient(ctx context.Context, oc *oauth2.Config, account *core.Account, creds *core.Credentials, retrier *provider.Retrier) *http.Client {
	ts := provider.NewTokenSource(ctx, oc, f.credentials, account, creds, f.logger)
	retrier.Refresh = ts.ForceRefresh
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
	}
}
