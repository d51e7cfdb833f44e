package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
)

// Planner turns categorized messages into provider mutations
type Planner struct {
	labels *LabelResolver
	batch  bool
	logger *zap.Logger
}

// NewPlanner creates a planner. In batch mode label mutations are grouped per category.
func NewPlanner(labels *LabelResolver, batch bool, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if labels == nil {
		labels = NewLabelResolver(nil, 0, "", logger)
	}
	return &Planner{
		labels: labels,
		batch:  batch,
		logger: logger,
	}
}

// Plan groups message ids by category, in static priority order
func (p *Planner) Plan(provider core.Provider, messages []core.Message) *core.ActionPlan {
	plan := &core.ActionPlan{
		Provider: provider,
		Groups:   make(map[core.Category][]string),
		Actions:  make(map[core.Category][]core.ActionType),
	}
	for _, m := range messages {
		actions := ActionsFor(provider, m.Category)
		if len(actions) == 0 {
			continue
		}
		plan.Groups[m.Category] = append(plan.Groups[m.Category], m.ProviderMessageID)
		plan.Actions[m.Category] = actions
	}
	for _, c := range core.RankedCategories {
		if len(plan.Groups[c]) > 0 {
			plan.Order = append(plan.Order, c)
		}
	}
	return plan
}

// Apply executes the plan for messages of one account. Failures are collected; one failed
// message or category never blocks the others.
func (p *Planner) Apply(ctx context.Context, account *core.Account, client core.ProviderClient, messages []core.Message) *core.ActionResult {
	plan := p.Plan(account.Provider, messages)
	result := &core.ActionResult{Processed: make(map[core.Category]int)}
	if len(plan.Order) == 0 {
		return result
	}

	var labelIDs map[core.Category]string
	if needsLabels(plan) {
		ids, err := p.labels.Resolve(ctx, account, client)
		if err != nil {
			p.logger.Error("Failed to resolve labels", zap.String("account", account.Email), zap.Error(err))
			result.Errors = append(result.Errors, err.Error())
		}
		labelIDs = ids
	}

	for _, category := range plan.Order {
		ids := plan.Groups[category]
		actions := plan.Actions[category]
		var processed int
		if p.batch {
			processed = p.applyBatch(ctx, client, category, ids, actions, labelIDs, result)
		} else {
			for _, id := range ids {
				if p.applyMessage(ctx, client, category, id, actions, labelIDs, result) {
					processed++
				}
			}
		}
		result.Processed[category] = processed
		metrics.AddActionsApplied(string(account.Provider), string(category), processed)
	}

	p.logger.Debug("Applied actions",
		zap.String("account", account.Email),
		zap.Int("calls", result.Calls),
		zap.Int("errors", len(result.Errors)))
	return result
}

func needsLabels(plan *core.ActionPlan) bool {
	for _, actions := range plan.Actions {
		for _, a := range actions {
			if IsLabelAction(a) {
				return true
			}
		}
	}
	return false
}

func (p *Planner) applyBatch(ctx context.Context, client core.ProviderClient, category core.Category, ids []string, actions []core.ActionType, labelIDs map[core.Category]string, result *core.ActionResult) int {
	failed := make(map[string]bool)

	for _, a := range actions {
		if !IsLabelAction(a) {
			continue
		}
		labelID, ok := labelIDs[category]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("no label for category %s", category))
			for _, id := range ids {
				failed[id] = true
			}
			continue
		}
		result.Calls++
		if err := client.BatchApplyLabels(ctx, ids, labelID); err != nil {
			p.logger.Warn("Batch label failed",
				zap.String("category", string(category)),
				zap.Int("messages", len(ids)),
				zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("%s: batch label: %v", category, err))
			for _, id := range ids {
				failed[id] = true
			}
		}
	}

	for _, id := range ids {
		for _, a := range actions {
			if IsLabelAction(a) {
				continue
			}
			result.Calls++
			if err := p.execute(ctx, client, a, id, ""); err != nil {
				p.recordFailure(result, category, a, id, err)
				failed[id] = true
			}
		}
	}
	return len(ids) - len(failed)
}

func (p *Planner) applyMessage(ctx context.Context, client core.ProviderClient, category core.Category, id string, actions []core.ActionType, labelIDs map[core.Category]string, result *core.ActionResult) bool {
	ok := true
	for _, a := range actions {
		result.Calls++
		if err := p.execute(ctx, client, a, id, labelIDs[category]); err != nil {
			p.recordFailure(result, category, a, id, err)
			ok = false
		}
	}
	return ok
}

func (p *Planner) recordFailure(result *core.ActionResult, category core.Category, a core.ActionType, id string, err error) {
	p.logger.Warn("Action failed",
		zap.String("category", string(category)),
		zap.String("action", string(a)),
		zap.String("message_id", id),
		zap.Error(err))
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %s on %s: %v", category, a, id, err))
}

func (p *Planner) execute(ctx context.Context, client core.ProviderClient, a core.ActionType, messageID, labelID string) error {
	switch a {
	case core.ActionApplyLabel, core.ActionApplyCategory:
		if labelID == "" {
			return fmt.Errorf("label not resolved")
		}
		return client.ApplyLabel(ctx, messageID, labelID)
	case core.ActionMarkImportant:
		return client.MarkImportant(ctx, messageID)
	case core.ActionAddStar, core.ActionFlag:
		return client.Star(ctx, messageID)
	case core.ActionMoveToPromotions, core.ActionMoveToFolder:
		return client.MoveToPromotions(ctx, messageID)
	case core.ActionMoveToSpam, core.ActionMoveToJunk:
		return client.MoveToSpam(ctx, messageID)
	default:
		return fmt.Errorf("unknown action %q", a)
	}
}

// Undo removes every taxonomy label from a message. Labels already absent are not an error.
func (p *Planner) Undo(ctx context.Context, account *core.Account, client core.ProviderClient, messageID string) error {
	ids, err := p.labels.Resolve(ctx, account, client)
	if err != nil {
		return err
	}
	labelIDs := make([]string, 0, len(ids))
	for _, c := range core.RankedCategories {
		if id, ok := ids[c]; ok {
			labelIDs = append(labelIDs, id)
		}
	}
	if err := client.RemoveLabels(ctx, messageID, labelIDs); err != nil {
		return fmt.Errorf("failed to remove labels from %s: %w", messageID, err)
	}
	return nil
}
