package engine

import (
	"context"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

// OllamaBackend streams chat completions from a local ollama server.
type OllamaBackend struct {
	client *api.Client
}

var _ Backend = (*OllamaBackend)(nil)

// NewOllamaBackend builds a backend from the OLLAMA_HOST environment, falling
// back to the default local address.
func NewOllamaBackend() (*OllamaBackend, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "ollama client")
	}
	return &OllamaBackend{client: client}, nil
}

func NewOllamaBackendWithClient(client *api.Client) *OllamaBackend {
	return &OllamaBackend{client: client}
}

func (b *OllamaBackend) Stream(ctx context.Context, messages []Message, model string, fn func(delta string) error) error {
	ollamaMessages := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	stream := true
	req := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMessages,
		Stream:   &stream,
	}

	err := b.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		return fn(resp.Message.Content)
	})
	return wrapBackendErr(err)
}

func (b *OllamaBackend) Models(ctx context.Context) ([]ModelInfo, error) {
	resp, err := b.client.List(ctx)
	if err != nil {
		return nil, errors.Wrap(conversation.ErrBackendFailure, err.Error())
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			Name:       m.Name,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return models, nil
}

func (b *OllamaBackend) Health(ctx context.Context) error {
	if err := b.client.Heartbeat(ctx); err != nil {
		return errors.Wrap(conversation.ErrBackendFailure, err.Error())
	}
	return nil
}
