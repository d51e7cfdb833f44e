package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mail-triage/internal/core"
)

const categorizationPrompt = `You are an email triage assistant. Assign the following email to exactly one category:
%s
Respond with a JSON object containing:
- category: string (one of the category names above)
- confidence: number between 0 and 1 (how confident you are in your assessment)
- priority: integer between 1 and 5 (5 is most pressing)
- explanation: string (one sentence on why the email fits the category)

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// SystemPrompt is the instruction sent as the system message to chat-style models
const SystemPrompt = "You are an email triage assistant. Respond only with JSON."

// CategorizationReply is the JSON object models are asked to return
type CategorizationReply struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Priority    int     `json:"priority"`
	Explanation string  `json:"explanation"`
}

// BuildCategorizationPrompt renders the categorization prompt for an email whose body was already
// processed for size
func BuildCategorizationPrompt(email *core.Email, body string) string {
	var categories strings.Builder
	for _, c := range append(append([]core.Category{}, core.RankedCategories...), core.CategoryOther) {
		fmt.Fprintf(&categories, "- %s: %s\n", c, c.Description())
	}

	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}

	return fmt.Sprintf(categorizationPrompt, categories.String(), email.From, to, email.Subject, body)
}

// ParseCategorizationReply decodes a model reply. The category is passed through as written;
// callers normalize it.
func ParseCategorizationReply(text string) (*core.Categorization, error) {
	var reply CategorizationReply
	if err := UnmarshalModelJSON(text, &reply); err != nil {
		return nil, err
	}
	return &core.Categorization{
		Category:    core.Category(strings.ToLower(strings.TrimSpace(reply.Category))),
		Confidence:  reply.Confidence,
		Priority:    reply.Priority,
		Explanation: reply.Explanation,
		Source:      core.SourceLLM,
		AnalyzedAt:  time.Now(),
	}, nil
}
