package mailsync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/core"
)

// ApplyLearning rebuilds the user's learning profile from recent categorized mail
func (o *Orchestrator) ApplyLearning(ctx context.Context, userID string) error {
	if o.Profiles == nil {
		return nil
	}
	now := o.now()
	counts, err := o.Messages.CategoryCountsByDomain(ctx, userID, now.Add(-o.cfg.LearningWindow))
	if err != nil {
		return fmt.Errorf("failed to aggregate categories: %w", err)
	}

	previous, err := o.Profiles.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	profile := categorize.BuildProfile(userID, counts, previous, o.Categorizer.Engine().LearningCap(), now)
	if err := o.Profiles.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	o.logger.Info("Learning profile updated",
		zap.String("user", userID),
		zap.Int("domains", len(profile.SenderDomains)),
		zap.Int("emails_analyzed", profile.EmailsAnalyzed))
	return nil
}

// LearnFromUserAction records a user's manual categorization against the sender's domain and
// the subject's keywords
func (o *Orchestrator) LearnFromUserAction(ctx context.Context, userID, sender, subject string, category core.Category) error {
	if o.Profiles == nil {
		return nil
	}
	profile, err := o.Profiles.GetProfile(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		profile = core.NewLearningProfile(userID)
	} else if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	categorize.RecordChoice(profile, sender, subject, category, o.Categorizer.Engine().LearningCap(), o.now())
	if err := o.Profiles.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
