package whitelist

import (
	"strings"

	"github.com/mikey/mail-triage/internal/utils"
	"go.uber.org/zap"
)

// Checker reports whether a sender belongs to a trusted domain. Subdomains of a trusted
// domain are trusted as well.
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new whitelist checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}

	normalized := make(map[string]struct{}, len(domains))
	list := make([]string, 0, len(domains))
	for _, domain := range domains {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d == "" {
			continue
		}
		normalized[d] = struct{}{}
		list = append(list, d)
	}

	if len(list) > 0 {
		logger.Info("Initialized trusted domain checker", zap.Strings("domains", list))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsWhitelisted checks if the sender's domain is trusted
func (c *Checker) IsWhitelisted(from string) bool {
	if c == nil || len(c.domains) == 0 {
		return false
	}

	domain := utils.SenderDomain(from)
	for domain != "" {
		if _, ok := c.domains[domain]; ok {
			c.logger.Debug("Domain is whitelisted",
				zap.String("domain", domain),
				zap.String("email", from))
			return true
		}
		i := strings.IndexByte(domain, '.')
		if i < 0 {
			break
		}
		domain = domain[i+1:]
	}

	return false
}

// Len returns the number of trusted domains
func (c *Checker) Len() int {
	if c == nil {
		return 0
	}
	return len(c.domains)
}
