package categorize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/core"
)

func TestDefaultRulesCoverRankedCategories(t *testing.T) {
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)

	for _, c := range core.RankedCategories {
		r, ok := rs.Rule(c)
		require.True(t, ok, c)
		assert.NotEmpty(t, r.Keywords, c)
		assert.NotEmpty(t, r.SenderPatterns, c)
		assert.NotEmpty(t, r.SubjectPatterns, c)
	}

	_, ok := rs.Rule(core.CategoryOther)
	assert.False(t, ok)
}

func TestNewRuleSetValidation(t *testing.T) {
	withRule := func(mutate func(*Rule)) []Rule {
		rules := DefaultRules()
		mutate(&rules[0])
		return rules
	}

	tests := []struct {
		name  string
		rules []Rule
	}{
		{"bad regex", withRule(func(r *Rule) { r.SubjectPatterns = append(r.SubjectPatterns, "(unclosed") })},
		{"blank keyword", withRule(func(r *Rule) { r.Keywords = append(r.Keywords, "  ") })},
		{"empty rule", withRule(func(r *Rule) { *r = Rule{Category: r.Category} })},
		{"other category", withRule(func(r *Rule) { r.Category = core.CategoryOther })},
		{"unknown category", withRule(func(r *Rule) { r.Category = "later" })},
		{"duplicate", append(DefaultRules(), DefaultRules()[0])},
		{"missing", DefaultRules()[1:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleSet(tt.rules)
			assert.ErrorIs(t, err, core.ErrInvalidRule)
		})
	}
}

func TestRuleTermsAreNormalized(t *testing.T) {
	rules := DefaultRules()
	rules[0].Keywords = []string{"  OUTAGE "}
	rs, err := NewRuleSet(rules)
	require.NoError(t, err)

	e := NewEngine(rs, DefaultOptions())
	scores := e.Scores(&core.Email{Subject: "Major outage", ReceivedAt: nightTime}, nil)
	assert.Equal(t, 1.0, scores[core.CategoryUrgent].Keyword)
}

func TestWithOverridesReplacesByCategory(t *testing.T) {
	spam := Rule{Category: core.CategorySpam, Keywords: []string{"zzqx"}}
	rules := WithOverrides(DefaultRules(), []Rule{spam})
	assert.Len(t, rules, len(DefaultRules()))

	rs, err := NewRuleSet(rules)
	require.NoError(t, err)
	got, ok := rs.Rule(core.CategorySpam)
	require.True(t, ok)
	assert.Equal(t, []string{"zzqx"}, got.Keywords)

	_, err = NewRuleSet(WithOverrides(DefaultRules(), []Rule{spam, spam}))
	assert.ErrorIs(t, err, core.ErrInvalidRule)
}
