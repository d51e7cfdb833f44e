package categorize

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
)

// BuildProfile turns per-domain category counts into a learning profile. Each adjustment is the
// category's share of the domain's mail scaled by limit, so it never exceeds limit. Keyword patterns
// of the previous profile are carried over.
func BuildProfile(userID string, counts map[string]map[core.Category]int, previous *core.LearningProfile, limit float64, now time.Time) *core.LearningProfile {
	profile := core.NewLearningProfile(userID)
	if previous != nil {
		for k, p := range previous.Keywords {
			profile.Keywords[k] = p
		}
	}

	for domain, byCategory := range counts {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		pattern := profile.SenderDomains[domain]
		if pattern == nil {
			pattern = &core.CategoryPattern{Counts: make(map[core.Category]int)}
			profile.SenderDomains[domain] = pattern
		}
		for c, n := range byCategory {
			if c == core.CategoryOther || !c.Valid() || n <= 0 {
				continue
			}
			pattern.Counts[c] += n
			profile.EmailsAnalyzed += n
		}
		recompute(pattern, limit)
	}

	profile.UpdatedAt = now
	return profile
}

// RecordChoice adds a user's manual categorization of a message to the profile, against the
// sender's domain and the significant words of its subject.
func RecordChoice(profile *core.LearningProfile, sender, subject string, category core.Category, limit float64, now time.Time) {
	if profile == nil || category == core.CategoryOther || !category.Valid() {
		return
	}
	if profile.SenderDomains == nil {
		profile.SenderDomains = make(map[string]*core.CategoryPattern)
	}
	if profile.Keywords == nil {
		profile.Keywords = make(map[string]*core.CategoryPattern)
	}

	recorded := false
	if domain := utils.SenderDomain(sender); domain != "" {
		count(profile.SenderDomains, domain, category, limit)
		recorded = true
	}
	for _, word := range SubjectKeywords(subject) {
		count(profile.Keywords, word, category, limit)
		recorded = true
	}
	if !recorded {
		return
	}
	profile.EmailsAnalyzed++
	profile.UpdatedAt = now
}

func count(patterns map[string]*core.CategoryPattern, key string, category core.Category, limit float64) {
	pattern := patterns[key]
	if pattern == nil {
		pattern = &core.CategoryPattern{}
		patterns[key] = pattern
	}
	if pattern.Counts == nil {
		pattern.Counts = make(map[core.Category]int)
	}
	pattern.Counts[category]++
	recompute(pattern, limit)
}

const maxSubjectKeywords = 5

var stopWords = map[string]bool{
	"about": true, "also": true, "been": true, "from": true, "have": true,
	"here": true, "into": true, "just": true, "more": true, "re": true,
	"that": true, "their": true, "there": true, "this": true, "what": true,
	"when": true, "which": true, "will": true, "with": true, "your": true,
}

// SubjectKeywords returns the first distinct lowercase words of a subject that are long enough
// to be specific, skipping common stop words.
func SubjectKeywords(subject string) []string {
	words := strings.FieldsFunc(strings.ToLower(subject), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxSubjectKeywords {
			break
		}
	}
	return out
}

func recompute(p *core.CategoryPattern, limit float64) {
	total := 0
	for _, n := range p.Counts {
		total += n
	}
	p.Adjustments = make(map[core.Category]float64, len(p.Counts))
	if total == 0 {
		return
	}
	for c, n := range p.Counts {
		p.Adjustments[c] = math.Min(float64(n)/float64(total)*limit, limit)
	}
}

// learnedBoost sums domain and keyword adjustments for a category, bounded by limit
func learnedBoost(profile *core.LearningProfile, c core.Category, domain, text string, limit float64) float64 {
	boost := 0.0
	if p := profile.SenderDomains[domain]; p != nil && domain != "" {
		boost += p.Adjustments[c]
	}
	for keyword, p := range profile.Keywords {
		if p != nil && keyword != "" && strings.Contains(text, strings.ToLower(keyword)) {
			boost += p.Adjustments[c]
		}
	}
	return math.Max(0, math.Min(boost, limit))
}
