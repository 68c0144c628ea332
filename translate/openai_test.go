package translate

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"streamscribe/task"
)

type fakeCompleter struct {
	reply string
	err   error
	empty bool
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.empty {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestTranslateReplacesText(t *testing.T) {
	tr := &OpenAI{client: &fakeCompleter{reply: " مرحبا "}, model: "m", targetLang: "Arabic"}

	rec := tr.Translate(context.Background(), task.Record{Index: 2, Start: 1, End: 2, Text: "hello"})
	assert.Equal(t, "مرحبا", rec.Text)
	assert.Equal(t, 2, rec.Index)
	assert.Equal(t, 1.0, rec.Start)
}

func TestTranslateFailureYieldsErrorMarker(t *testing.T) {
	tr := &OpenAI{client: &fakeCompleter{err: errors.New("boom")}, model: "m"}

	rec := tr.Translate(context.Background(), task.Record{Index: 3, Text: "hello"})
	assert.Equal(t, ErrorMarker, rec.Text)
	assert.Equal(t, 3, rec.Index)
}

func TestTranslateEmptyResponseYieldsErrorMarker(t *testing.T) {
	tr := &OpenAI{client: &fakeCompleter{empty: true}, model: "m"}

	rec := tr.Translate(context.Background(), task.Record{Text: "hello"})
	assert.Equal(t, ErrorMarker, rec.Text)
}
