package categorize

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"github.com/mikey/mail-triage/internal/whitelist"
)

// Weights of the four scoring signals
type Weights struct {
	Keyword float64
	Sender  float64
	Subject float64
	Time    float64
}

// DefaultWeights returns the standard signal weights
func DefaultWeights() Weights {
	return Weights{Keyword: 0.4, Sender: 0.3, Subject: 0.2, Time: 0.1}
}

// Options tunes an Engine
type Options struct {
	Weights            Weights
	LowConfidenceFloor float64
	FallbackConfidence float64
	LearningCap        float64
	Trusted            *whitelist.Checker
	Now                func() time.Time
}

// DefaultOptions returns the standard engine tuning
func DefaultOptions() Options {
	return Options{
		Weights:            DefaultWeights(),
		LowConfidenceFloor: 0.05,
		FallbackConfidence: 0.3,
		LearningCap:        0.2,
		Now:                time.Now,
	}
}

// Score is the per-category signal breakdown
type Score struct {
	Keyword  float64
	Sender   float64
	Subject  float64
	Time     float64
	Learning float64
	Total    float64
}

// Engine is the deterministic, rule-based categorizer
type Engine struct {
	rules *RuleSet
	opts  Options
}

// NewEngine creates a rule engine. Zero option values fall back to the defaults.
func NewEngine(rules *RuleSet, opts Options) *Engine {
	def := DefaultOptions()
	if rules == nil {
		rules = MustDefaultRuleSet()
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = def.Weights
	}
	if opts.LowConfidenceFloor <= 0 {
		opts.LowConfidenceFloor = def.LowConfidenceFloor
	}
	if opts.FallbackConfidence <= 0 {
		opts.FallbackConfidence = def.FallbackConfidence
	}
	if opts.LearningCap <= 0 {
		opts.LearningCap = def.LearningCap
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Engine{rules: rules, opts: opts}
}

// LearningCap returns the configured cap on learned adjustments
func (e *Engine) LearningCap() float64 {
	return e.opts.LearningCap
}

// IsTrusted reports whether the sender belongs to a trusted domain
func (e *Engine) IsTrusted(from string) bool {
	return e.opts.Trusted.IsWhitelisted(from)
}

// Categorize scores an email against every ranked category and picks the best one
func (e *Engine) Categorize(email *core.Email, profile *core.LearningProfile) *core.Categorization {
	scores := e.Scores(email, profile)

	best := core.CategoryOther
	bestScore := -1.0
	for _, c := range core.RankedCategories {
		// strict comparison keeps the higher priority category on ties
		if s := scores[c].Total; s > bestScore {
			best, bestScore = c, s
		}
	}

	if bestScore < e.opts.LowConfidenceFloor {
		return &core.Categorization{
			Category:    core.CategoryOther,
			Confidence:  e.opts.FallbackConfidence,
			Priority:    core.OtherPriority,
			Explanation: explainFallback(e.opts.FallbackConfidence),
			Source:      core.SourceRules,
			AnalyzedAt:  e.opts.Now(),
		}
	}

	confidence := clamp01(bestScore)
	return &core.Categorization{
		Category:    best,
		Confidence:  confidence,
		Priority:    best.Priority(),
		Explanation: explain(best, confidence, scores[best]),
		Source:      core.SourceRules,
		AnalyzedAt:  e.opts.Now(),
	}
}

// Scores returns the signal breakdown for every ranked category
func (e *Engine) Scores(email *core.Email, profile *core.LearningProfile) map[core.Category]Score {
	fold := cases.Fold()
	subject := fold.String(email.Subject)
	sender := fold.String(email.From)
	text := fold.String(email.Subject + " " + email.Body)

	hour := e.hour(email)
	trusted := e.IsTrusted(email.From)
	domain := utils.SenderDomain(email.From)
	w := e.opts.Weights

	scores := make(map[core.Category]Score, len(core.RankedCategories))
	for _, c := range core.RankedCategories {
		rule := e.rules.rules[c]
		s := Score{
			Keyword: keywordScore(rule.keywords, text),
			Sender:  senderScore(rule.senders, sender),
			Subject: subjectScore(rule, email.Subject, subject),
			Time:    timeScore(c, hour),
		}
		s.Total = math.Min(w.Keyword*s.Keyword+w.Sender*s.Sender+w.Subject*s.Subject+w.Time*s.Time, 1.0)

		if profile != nil {
			s.Learning = learnedBoost(profile, c, domain, text, e.opts.LearningCap)
			s.Total = math.Min(s.Total+s.Learning, 1.0)
		}

		if trusted && c == core.CategorySpam {
			s = Score{}
		}
		scores[c] = s
	}
	return scores
}

func (e *Engine) hour(email *core.Email) int {
	if !email.ReceivedAt.IsZero() {
		return email.ReceivedAt.Hour()
	}
	return e.opts.Now().Hour()
}

// keywordScore is match density against 30% of the keyword list
func keywordScore(keywords []string, text string) float64 {
	if len(keywords) == 0 || strings.TrimSpace(text) == "" {
		return 0
	}
	matches := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			matches++
		}
	}
	return math.Min(float64(matches)/math.Max(float64(len(keywords))*0.3, 1), 1)
}

// senderScore is match density against half of the sender pattern list
func senderScore(patterns []string, sender string) float64 {
	if len(patterns) == 0 || sender == "" {
		return 0
	}
	matches := 0
	for _, p := range patterns {
		if strings.Contains(sender, p) {
			matches++
		}
	}
	return math.Min(float64(matches)/math.Max(float64(len(patterns))*0.5, 1), 1)
}

func subjectScore(rule *compiledRule, raw, folded string) float64 {
	if len(rule.subjects) == 0 || strings.TrimSpace(raw) == "" {
		return 0
	}
	matches := 0
	for _, re := range rule.subjects {
		if re.MatchString(raw) || re.MatchString(folded) {
			matches++
		}
	}
	return math.Min(float64(matches)/float64(len(rule.subjects)), 1)
}

// timeScore boosts urgent and important mail during business hours and spam at night
func timeScore(c core.Category, hour int) float64 {
	switch {
	case (c == core.CategoryUrgent || c == core.CategoryImportant) && hour >= 9 && hour <= 17:
		return 0.2
	case c == core.CategorySpam && (hour < 8 || hour > 20):
		return 0.1
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
