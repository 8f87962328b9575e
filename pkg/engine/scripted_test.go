package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

func collect(t *testing.T, b Backend, messages []Message) (string, error) {
	t.Helper()
	var out string
	err := b.Stream(context.Background(), messages, "m", func(delta string) error {
		out += delta
		return nil
	})
	return out, err
}

func TestScriptedRoundRobin(t *testing.T) {
	b := NewScriptedBackend(
		Script{Tokens: []string{"one"}},
		Script{Tokens: []string{"two"}},
	)

	out, err := collect(t, b, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	out, err = collect(t, b, nil)
	require.NoError(t, err)
	assert.Equal(t, "two", out)

	out, err = collect(t, b, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)
}

func TestScriptedFailureAfterTokens(t *testing.T) {
	b := NewScriptedBackend(Script{
		Tokens: []string{"some ", "output"},
		Err:    errors.New("boom"),
	})

	out, err := collect(t, b, nil)
	assert.Equal(t, "some output", out)
	require.ErrorIs(t, err, conversation.ErrBackendFailure)
}

func TestScriptedCancellation(t *testing.T) {
	b := NewScriptedBackend(Script{
		Tokens: []string{"a", "b", "c"},
		Delay:  20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err := b.Stream(ctx, nil, "m", func(delta string) error {
		seen++
		if seen == 1 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, seen)
}

func TestFromConversation(t *testing.T) {
	u := conversation.NewNode("s", conversation.RoleUser, "hi")
	a := conversation.NewNode("s", conversation.RoleAssistant, "hello", conversation.WithParentID(u.ID))

	messages := FromConversation(conversation.Conversation{u, a})
	require.Len(t, messages, 2)
	assert.Equal(t, Message{Role: "user", Content: "hi"}, messages[0])
	assert.Equal(t, Message{Role: "assistant", Content: "hello"}, messages[1])
}
