package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/categorize"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/provider"
)

type output struct {
	From           string                      `json:"from"`
	Subject        string                      `json:"subject"`
	BodyLength     int                         `json:"body_length"`
	HasAttachments bool                        `json:"has_attachments"`
	Category       core.Category               `json:"category"`
	Confidence     float64                     `json:"confidence"`
	Priority       int                         `json:"priority"`
	Explanation    string                      `json:"explanation"`
	Source         string                      `json:"source"`
	Scores         map[core.Category]ruleScore `json:"scores,omitempty"`
	ProcessingTime string                      `json:"processing_time"`
}

type ruleScore struct {
	Keyword float64 `json:"keyword"`
	Sender  float64 `json:"sender"`
	Subject float64 `json:"subject"`
	Time    float64 `json:"time"`
	Total   float64 `json:"total"`
}

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags *di.CLIFlags, cfg *config.Config, logger *zap.Logger, svc *categorize.Service) error {
	defer logger.Sync()

	var reader io.Reader = os.Stdin
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file %s: %w", flags.InputFile, err)
		}
		defer file.Close()
		reader = file
		logger.Debug("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		logger.Debug("Reading email from stdin")
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}

	content, err := provider.ParseMIME(raw, cfg.GetProvider().BodyLimit)
	if err != nil {
		return fmt.Errorf("failed to parse email: %w", err)
	}

	email := &core.Email{
		From:       content.From,
		To:         content.To,
		Subject:    content.Subject,
		Body:       content.Text,
		ReceivedAt: content.Date,
	}

	start := time.Now()
	result := svc.Categorize(ctx, email, nil)

	out := output{
		From:           email.From,
		Subject:        email.Subject,
		BodyLength:     len(email.Body),
		HasAttachments: content.HasAttachments,
		Category:       result.Category,
		Confidence:     result.Confidence,
		Priority:       result.Priority,
		Explanation:    result.Explanation,
		Source:         result.Source,
		ProcessingTime: time.Since(start).String(),
	}
	if flags.Scores {
		out.Scores = make(map[core.Category]ruleScore)
		for c, s := range svc.Engine().Scores(email, nil) {
			out.Scores[c] = ruleScore{Keyword: s.Keyword, Sender: s.Sender, Subject: s.Subject, Time: s.Time, Total: s.Total}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
