package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"streamscribe/task"
)

// chatCompleter abstracts the OpenAI client for testability.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI translates record text through a chat completion model.
type OpenAI struct {
	client     chatCompleter
	model      string
	targetLang string
}

// NewOpenAI creates a translator targeting the given language name
// (for example "Arabic").
func NewOpenAI(apiKey, model, targetLang string) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client:     openai.NewClient(apiKey),
		model:      model,
		targetLang: targetLang,
	}
}

// Translate returns the record with translated text, or with ErrorMarker
// text on any failure.
func (t *OpenAI) Translate(ctx context.Context, rec task.Record) task.Record {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"You are a subtitle translator. Translate the user's text to %s. Reply with the translation only.",
					t.targetLang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: rec.Text,
			},
		},
	})
	if err != nil {
		slog.Warn("Translation request failed",
			"error", err,
			"segmentIndex", rec.Index)
		rec.Text = ErrorMarker
		return rec
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		slog.Warn("Translation response was empty", "segmentIndex", rec.Index)
		rec.Text = ErrorMarker
		return rec
	}

	rec.Text = strings.TrimSpace(resp.Choices[0].Message.Content)
	return rec
}
