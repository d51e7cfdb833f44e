package actions

import (
	"strings"

	"github.com/mikey/mail-triage/internal/core"
)

// DefaultLabelPrefix is the parent label of the taxonomy
const DefaultLabelPrefix = "Triage"

var gmailActions = map[core.Category][]core.ActionType{
	core.CategoryUrgent:      {core.ActionApplyLabel, core.ActionMarkImportant, core.ActionAddStar},
	core.CategoryImportant:   {core.ActionApplyLabel, core.ActionAddStar},
	core.CategoryRoutine:     {core.ActionApplyLabel},
	core.CategoryPromotional: {core.ActionApplyLabel, core.ActionMoveToPromotions},
	core.CategorySpam:        {core.ActionApplyLabel, core.ActionMoveToSpam},
}

var outlookActions = map[core.Category][]core.ActionType{
	core.CategoryUrgent:      {core.ActionApplyCategory, core.ActionMarkImportant, core.ActionFlag},
	core.CategoryImportant:   {core.ActionApplyCategory, core.ActionFlag},
	core.CategoryRoutine:     {core.ActionApplyCategory},
	core.CategoryPromotional: {core.ActionApplyCategory, core.ActionMoveToFolder},
	core.CategorySpam:        {core.ActionMoveToJunk},
}

// ActionsFor returns the actions a category triggers on a provider. IMAP mailboxes
// follow the Gmail table; "other" triggers nothing.
func ActionsFor(provider core.Provider, category core.Category) []core.ActionType {
	switch provider {
	case core.ProviderOutlook:
		return outlookActions[category]
	default:
		return gmailActions[category]
	}
}

// IsLabelAction reports whether an action attaches the category label, the only batchable action
func IsLabelAction(a core.ActionType) bool {
	return a == core.ActionApplyLabel || a == core.ActionApplyCategory
}

var labelColors = map[core.Category][2]string{
	core.CategoryUrgent:      {"#d93025", "#ffffff"},
	core.CategoryImportant:   {"#fbbc04", "#000000"},
	core.CategoryRoutine:     {"#34a853", "#ffffff"},
	core.CategoryPromotional: {"#ff6d01", "#000000"},
	core.CategorySpam:        {"#9aa0a6", "#ffffff"},
}

// LabelSpecs returns the taxonomy labels, e.g. "Triage/Urgent"
func LabelSpecs(prefix string) []core.LabelSpec {
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	specs := make([]core.LabelSpec, 0, len(core.RankedCategories))
	for _, c := range core.RankedCategories {
		colors := labelColors[c]
		specs = append(specs, core.LabelSpec{
			Category:        c,
			Name:            prefix + "/" + strings.ToUpper(string(c[:1])) + string(c[1:]),
			BackgroundColor: colors[0],
			TextColor:       colors[1],
		})
	}
	return specs
}
