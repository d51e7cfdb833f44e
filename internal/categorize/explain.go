package categorize

import (
	"fmt"
	"strings"

	"github.com/mikey/mail-triage/internal/core"
)

func explain(c core.Category, confidence float64, s Score) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Categorized as '%s' with %.1f%% confidence. %s.", c, confidence*100, c.Description())

	var signals []string
	if s.Keyword > 0 {
		signals = append(signals, "keywords")
	}
	if s.Sender > 0 {
		signals = append(signals, "sender")
	}
	if s.Subject > 0 {
		signals = append(signals, "subject")
	}
	if s.Time > 0 {
		signals = append(signals, "time of day")
	}
	if s.Learning > 0 {
		signals = append(signals, "learned history")
	}
	if len(signals) > 0 {
		fmt.Fprintf(&b, " Matched signals: %s.", strings.Join(signals, ", "))
	}
	return b.String()
}

func explainFallback(confidence float64) string {
	return fmt.Sprintf("Categorized as '%s' with %.1f%% confidence. %s. No category reached the confidence floor.",
		core.CategoryOther, confidence*100, core.CategoryOther.Description())
}
