package categorize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/core"
)

func TestBuildProfileAdjustments(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	previous := core.NewLearningProfile("user-1")
	previous.Keywords["invoice"] = &core.CategoryPattern{
		Counts:      map[core.Category]int{core.CategoryRoutine: 3},
		Adjustments: map[core.Category]float64{core.CategoryRoutine: 0.2},
	}

	p := BuildProfile("user-1", map[string]map[core.Category]int{
		"Shop.COM": {core.CategoryPromotional: 3, core.CategorySpam: 1, core.CategoryOther: 9},
		"":         {core.CategoryUrgent: 2},
	}, previous, 0.2, now)

	require.Contains(t, p.SenderDomains, "shop.com")
	adj := p.SenderDomains["shop.com"].Adjustments
	assert.InDelta(t, 0.15, adj[core.CategoryPromotional], 1e-9)
	assert.InDelta(t, 0.05, adj[core.CategorySpam], 1e-9)
	assert.NotContains(t, adj, core.CategoryOther)
	assert.Len(t, p.SenderDomains, 1)
	assert.Equal(t, 4, p.EmailsAnalyzed)
	assert.Contains(t, p.Keywords, "invoice")
	assert.Equal(t, now, p.UpdatedAt)
}

func TestAdjustmentsNeverExceedCap(t *testing.T) {
	p := BuildProfile("user-1", map[string]map[core.Category]int{
		"a.com": {core.CategoryUrgent: 1000},
	}, nil, 0.2, time.Now())

	assert.InDelta(t, 0.2, p.SenderDomains["a.com"].Adjustments[core.CategoryUrgent], 1e-9)
}

func TestRecordChoice(t *testing.T) {
	p := core.NewLearningProfile("user-1")

	RecordChoice(p, "Boss <boss@work.io>", "", core.CategoryUrgent, 0.2, time.Now())
	RecordChoice(p, "boss@work.io", "", core.CategoryImportant, 0.2, time.Now())
	RecordChoice(p, "boss@work.io", "", core.CategoryOther, 0.2, time.Now())
	RecordChoice(p, "", "", core.CategoryUrgent, 0.2, time.Now())

	require.Contains(t, p.SenderDomains, "work.io")
	adj := p.SenderDomains["work.io"].Adjustments
	assert.InDelta(t, 0.1, adj[core.CategoryUrgent], 1e-9)
	assert.InDelta(t, 0.1, adj[core.CategoryImportant], 1e-9)
	assert.Equal(t, 2, p.EmailsAnalyzed)
	assert.Empty(t, p.Keywords)
}

func TestRecordChoiceLearnsSubjectKeywords(t *testing.T) {
	p := core.NewLearningProfile("user-1")

	RecordChoice(p, "billing@vendor.io", "Re: Your Invoice for March is ready", core.CategoryRoutine, 0.2, time.Now())
	RecordChoice(p, "", "Invoice overdue", core.CategoryImportant, 0.2, time.Now())

	require.Contains(t, p.Keywords, "invoice")
	assert.NotContains(t, p.Keywords, "your")
	assert.NotContains(t, p.Keywords, "for")
	adj := p.Keywords["invoice"].Adjustments
	assert.InDelta(t, 0.1, adj[core.CategoryRoutine], 1e-9)
	assert.InDelta(t, 0.1, adj[core.CategoryImportant], 1e-9)
	assert.Equal(t, 2, p.EmailsAnalyzed)

	// the learned keyword lifts mail from senders never seen before
	assert.InDelta(t, 0.2, learnedBoost(p, core.CategoryRoutine, "other.org", "invoice march attached", 0.2), 1e-9)
}

func TestSubjectKeywords(t *testing.T) {
	assert.Equal(t, []string{"quarterly", "report", "2026"}, SubjectKeywords("RE: the Quarterly report, 2026 report"))
	assert.Len(t, SubjectKeywords("alpha bravo charlie delta echoes foxtrot golf"), 5)
	assert.Empty(t, SubjectKeywords(""))
}

func TestLearnedBoostIncludesKeywords(t *testing.T) {
	p := core.NewLearningProfile("user-1")
	p.SenderDomains["x.com"] = &core.CategoryPattern{Adjustments: map[core.Category]float64{core.CategoryRoutine: 0.15}}
	p.Keywords["Invoice"] = &core.CategoryPattern{Adjustments: map[core.Category]float64{core.CategoryRoutine: 0.15}}

	assert.InDelta(t, 0.2, learnedBoost(p, core.CategoryRoutine, "x.com", "your invoice is ready", 0.2), 1e-9)
	assert.InDelta(t, 0.15, learnedBoost(p, core.CategoryRoutine, "x.com", "hello", 0.2), 1e-9)
	assert.Zero(t, learnedBoost(p, core.CategorySpam, "x.com", "your invoice", 0.2))
}
