package categorize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mikey/mail-triage/internal/core"
)

// Rule is the matching material for one category
type Rule struct {
	Category        core.Category `mapstructure:"category" yaml:"category"`
	Keywords        []string      `mapstructure:"keywords" yaml:"keywords"`
	SenderPatterns  []string      `mapstructure:"sender_patterns" yaml:"sender_patterns"`
	SubjectPatterns []string      `mapstructure:"subject_patterns" yaml:"subject_patterns"`
}

type compiledRule struct {
	Rule
	keywords []string
	senders  []string
	subjects []*regexp.Regexp
}

// RuleSet is a validated, compiled mapping from category to rule
type RuleSet struct {
	rules map[core.Category]*compiledRule
}

// DefaultRules returns the built-in rule table
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: core.CategoryUrgent,
			Keywords: []string{
				"urgent", "asap", "emergency", "critical", "deadline today",
				"immediate", "now", "rushing", "crisis", "breaking",
			},
			SenderPatterns: []string{
				"ceo", "president", "director", "manager", "boss",
				"supervisor", "legal", "compliance", "security", "incident", "alert",
			},
			SubjectPatterns: []string{
				`\b(urgent|emergency|critical|asap)\b`,
				`\b(deadline|due)\s+(today|now|immediately)\b`,
				`\b(action required|immediate (attention|action))\b`,
			},
		},
		{
			Category: core.CategoryImportant,
			Keywords: []string{
				"meeting", "project", "report", "review", "approval", "decision",
				"conference", "presentation", "proposal", "contract", "budget",
			},
			SenderPatterns: []string{
				"client", "customer", "partner", "vendor", "team lead",
				"project manager", "account manager", "stakeholder",
			},
			SubjectPatterns: []string{
				`\b(meeting|conference|call)\b`,
				`\b(project|proposal|contract)\b`,
				`\b(review|approval|decision)\b`,
				`\b(report|update|status)\b`,
			},
		},
		{
			Category: core.CategoryRoutine,
			Keywords: []string{
				"update", "information", "notification", "reminder", "follow-up",
				"schedule", "confirmation", "receipt", "invoice", "newsletter", "digest",
			},
			SenderPatterns: []string{
				"team", "colleague", "department", "hr", "admin", "support", "service", "billing",
			},
			SubjectPatterns: []string{
				`\b(update|information|notification)\b`,
				`\b(reminder|follow.?up|confirmation)\b`,
				`\b(newsletter|digest|summary)\b`,
			},
		},
		{
			Category: core.CategoryPromotional,
			Keywords: []string{
				"sale", "discount", "offer", "deal", "promotion", "special",
				"limited time", "exclusive", "save", "free", "coupon",
			},
			SenderPatterns: []string{
				"marketing", "sales", "promo", "deals", "offers", "newsletter", "no-reply", "noreply",
			},
			SubjectPatterns: []string{
				`\b(sale|discount|offer|deal)\b`,
				`\b(special|exclusive|limited)\b`,
				`\b(save|free|coupon)\b`,
				`%\s*off\b`,
			},
		},
		{
			Category: core.CategorySpam,
			Keywords: []string{
				"winner", "lottery", "prize", "congratulations", "claim now", "inheritance",
				"millions", "prince", "deceased", "beneficiary", "viagra", "pills",
				"weight loss", "bitcoin", "investment",
			},
			SenderPatterns: []string{
				"lottery", "winner", "claim", "inheritance", "beneficiary", "investment", "trading", "forex",
			},
			SubjectPatterns: []string{
				`\b(winner|lottery|prize|congratulations)\b`,
				`\b(claim|inheritance|millions)\b`,
				`\b(viagra|pills|weight.?loss)\b`,
				`\$\d+[,.]?\d*\s*(million|thousand)`,
			},
		},
	}
}

// NewRuleSet validates and compiles rules. Every ranked category must be present exactly once,
// "other" must not carry rules and every pattern must compile.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: make(map[core.Category]*compiledRule, len(rules))}

	for _, r := range rules {
		if r.Category == core.CategoryOther || !r.Category.Valid() {
			return nil, fmt.Errorf("%w: category %q cannot carry rules", core.ErrInvalidRule, r.Category)
		}
		if _, dup := rs.rules[r.Category]; dup {
			return nil, fmt.Errorf("%w: duplicate rule for %q", core.ErrInvalidRule, r.Category)
		}
		if len(r.Keywords) == 0 && len(r.SenderPatterns) == 0 && len(r.SubjectPatterns) == 0 {
			return nil, fmt.Errorf("%w: rule for %q is empty", core.ErrInvalidRule, r.Category)
		}

		cr := &compiledRule{Rule: r}
		var err error
		if cr.keywords, err = normalizeTerms(r.Category, "keyword", r.Keywords); err != nil {
			return nil, err
		}
		if cr.senders, err = normalizeTerms(r.Category, "sender pattern", r.SenderPatterns); err != nil {
			return nil, err
		}
		for _, p := range r.SubjectPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("%w: subject pattern %q for %q: %v", core.ErrInvalidRule, p, r.Category, err)
			}
			cr.subjects = append(cr.subjects, re)
		}
		rs.rules[r.Category] = cr
	}

	for _, c := range core.RankedCategories {
		if _, ok := rs.rules[c]; !ok {
			return nil, fmt.Errorf("%w: missing rule for %q", core.ErrInvalidRule, c)
		}
	}

	return rs, nil
}

// WithOverrides replaces the rules of base whose category appears in overrides. Overrides
// for other categories, and repeated ones, are appended so NewRuleSet rejects them.
func WithOverrides(base, overrides []Rule) []Rule {
	first := make(map[core.Category]int, len(overrides))
	for i, r := range overrides {
		if _, ok := first[r.Category]; !ok {
			first[r.Category] = i
		}
	}

	used := make(map[int]bool, len(overrides))
	out := make([]Rule, 0, len(base)+len(overrides))
	for _, r := range base {
		if i, ok := first[r.Category]; ok {
			r = overrides[i]
			used[i] = true
		}
		out = append(out, r)
	}
	for i, r := range overrides {
		if !used[i] {
			out = append(out, r)
		}
	}
	return out
}

// MustDefaultRuleSet compiles DefaultRules and panics if they are invalid
func MustDefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		panic(err)
	}
	return rs
}

// Rule returns the rule configured for a category
func (rs *RuleSet) Rule(c core.Category) (Rule, bool) {
	cr, ok := rs.rules[c]
	if !ok {
		return Rule{}, false
	}
	return cr.Rule, true
}

func normalizeTerms(c core.Category, kind string, terms []string) ([]string, error) {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			return nil, fmt.Errorf("%w: blank %s for %q", core.ErrInvalidRule, kind, c)
		}
		out = append(out, t)
	}
	return out, nil
}
