package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

// Message is one role-tagged entry of the prompt context, oldest first.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FromConversation converts a root-first path into the prompt context fed to
// a backend.
func FromConversation(conv conversation.Conversation) []Message {
	messages := make([]Message, 0, len(conv))
	for _, node := range conv {
		messages = append(messages, Message{
			Role:    string(node.Role),
			Content: node.Content,
		})
	}
	return messages
}

// ModelInfo describes one model a backend can serve.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// Backend is the model backend capability: an opaque token-generation
// service. Stream drives one completion, invoking fn once per token delta in
// per-stream order; it returns nil after the backend's end marker and an
// error if generation fails at any point (including fn returning an error or
// ctx being canceled). Implementations must not retry on their own.
type Backend interface {
	Stream(ctx context.Context, messages []Message, model string, fn func(delta string) error) error
	Models(ctx context.Context) ([]ModelInfo, error)
	Health(ctx context.Context) error
}

// wrapBackendErr tags provider errors as ErrBackendFailure while letting
// errors that already carry a domain sentinel (typically fn propagating a
// store failure) and cancellation pass through unchanged.
func wrapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		conversation.ErrNotFound,
		conversation.ErrInvalidState,
		conversation.ErrInvalidRole,
		conversation.ErrConflict,
		conversation.ErrCorruptTree,
		conversation.ErrBackendFailure,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrap(conversation.ErrBackendFailure, err.Error())
}
