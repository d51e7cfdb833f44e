package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/mailsync"
	"github.com/mikey/mail-triage/internal/ports"
)

func TestBuildContainerResolvesServices(t *testing.T) {
	cfg := config.NewFromViper(config.NewEmptyViper())

	container, err := BuildContainer(cfg)
	require.NoError(t, err)

	err = container.Invoke(func(services []ports.BackgroundService, orch *mailsync.Orchestrator, push *mailsync.PushHandler) {
		assert.Len(t, services, 2)
		assert.NotNil(t, orch)
		assert.NotNil(t, push)
	})
	require.NoError(t, err)
}

func TestParseArgs(t *testing.T) {
	flags, err := ParseArgs([]string{"-provider", "gemini", "-gemini-model", "gemini-1.5", "-trusted", "corp.com, partner.io", "-scores"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", flags.Provider)
	assert.True(t, flags.Scores)
	assert.False(t, flags.UseLLM)

	cfg := createConfigFromFlags(flags)
	assert.Equal(t, "gemini", cfg.GetLLM().Provider)
	assert.Equal(t, "gemini-1.5", cfg.GetGemini().ModelName)
	assert.Equal(t, []string{"corp.com", "partner.io"}, cfg.GetCategorize().TrustedDomains)

	_, err = ParseArgs([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestBuildCLIContainerRulesOnly(t *testing.T) {
	flags, err := ParseArgs(nil)
	require.NoError(t, err)

	container, err := BuildCLIContainer(flags)
	require.NoError(t, err)

	err = container.Invoke(func(svc *categorize.Service) {
		assert.NotNil(t, svc.Engine())
	})
	require.NoError(t, err)
}
