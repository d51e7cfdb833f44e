package factory

import (
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/utils"
)

// CreateTextProcessor creates the text processor shared by the LLM clients
func CreateTextProcessor(logger *zap.Logger) *utils.TextProcessor {
	return utils.NewTextProcessor(logger)
}
