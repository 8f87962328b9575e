package engine

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend streams chat completions from the OpenAI API or any
// API-compatible server.
type OpenAIBackend struct {
	client *openai.Client
}

var _ Backend = (*OpenAIBackend)(nil)

func NewOpenAIBackend(apiKey string, baseURL string) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(config)}
}

func (b *OpenAIBackend) Stream(ctx context.Context, messages []Message, model string, fn func(delta string) error) error {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMessages,
		Stream:   true,
	})
	if err != nil {
		return wrapBackendErr(err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapBackendErr(err)
		}
		for _, choice := range response.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := fn(choice.Delta.Content); err != nil {
				return wrapBackendErr(err)
			}
		}
	}
}

func (b *OpenAIBackend) Models(ctx context.Context) ([]ModelInfo, error) {
	list, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, wrapBackendErr(err)
	}
	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{Name: m.ID})
	}
	return models, nil
}

func (b *OpenAIBackend) Health(ctx context.Context) error {
	_, err := b.client.ListModels(ctx)
	return wrapBackendErr(err)
}
