package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
)

func newTestServer(t *testing.T, content string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCategorizeEmail(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := newTestServer(t, "```json\n{\"category\":\"Urgent\",\"confidence\":0.9,\"priority\":5,\"explanation\":\"Server outage\"}\n```", &seen)

	logger := zap.NewNop()
	client := NewOpenAIClient(NewClient("test-key", srv.URL), "gpt-4", 200, 0.1, 0.9, 100, logger, utils.NewTextProcessor(logger))

	result, err := client.CategorizeEmail(context.Background(), &core.Email{
		From:    "ops@example.com",
		To:      []string{"me@example.com"},
		Subject: "Production down",
		Body:    "The API is returning errors",
	})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryUrgent, result.Category)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, 5, result.Priority)
	assert.Equal(t, core.SourceLLM, result.Source)

	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "gpt-4", seen.Model)
	assert.Contains(t, seen.Messages[1].Content, "Subject: Production down")
	assert.Contains(t, seen.Messages[1].Content, "- promotional:")
}

func TestCategorizeEmailRejectsProse(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := newTestServer(t, "I think this is spam.", &seen)

	logger := zap.NewNop()
	client := NewOpenAIClient(NewClient("test-key", srv.URL), "gpt-4", 200, 0.1, 0.9, 100, logger, utils.NewTextProcessor(logger))

	_, err := client.CategorizeEmail(context.Background(), &core.Email{Subject: "hi"})
	assert.Error(t, err)
}
