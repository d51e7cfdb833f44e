package factory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
)

func TestCreateEngineAppliesConfiguredRules(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("categorize.rules", []map[string]any{
		{"category": "spam", "keywords": []string{"zzqx bargain"}},
	})

	engine, err := CreateEngine(config.NewFromViper(v), zap.NewNop())
	require.NoError(t, err)

	email := &core.Email{From: "deals@shop.example", Subject: "zzqx bargain inside"}
	scores := engine.Scores(email, nil)
	assert.Equal(t, 1.0, scores[core.CategorySpam].Keyword)
	// untouched categories keep the built-in rules
	assert.Greater(t, engine.Scores(&core.Email{Subject: "urgent: server down asap"}, nil)[core.CategoryUrgent].Keyword, 0.0)
}

func TestCreateEngineRejectsInvalidRules(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("categorize.rules", []map[string]any{
		{"category": "spam", "subject_patterns": []string{"("}},
	})

	_, err := CreateEngine(config.NewFromViper(v), zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidRule))
}

func TestCreateEngineDefaultsWithoutRules(t *testing.T) {
	engine, err := CreateEngine(config.NewFromViper(config.NewEmptyViper()), zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, engine.Scores(&core.Email{Subject: "zzqx bargain"}, nil)[core.CategorySpam].Keyword)
}
