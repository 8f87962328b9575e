package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

// Script is one canned completion: its tokens, an optional delay between
// them, and an optional failure returned after the tokens were delivered.
type Script struct {
	Tokens []string
	Delay  time.Duration
	Err    error
}

// ScriptedBackend replays canned completions in round-robin order. It backs
// tests and offline runs where no model server is available.
type ScriptedBackend struct {
	mu      sync.Mutex
	scripts []Script
	index   int
}

var _ Backend = (*ScriptedBackend)(nil)

func NewScriptedBackend(scripts ...Script) *ScriptedBackend {
	return &ScriptedBackend{scripts: scripts}
}

func (b *ScriptedBackend) next() Script {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.scripts) == 0 {
		return Script{Tokens: []string{"ok"}}
	}
	script := b.scripts[b.index]
	b.index = (b.index + 1) % len(b.scripts)
	return script
}

func (b *ScriptedBackend) Stream(ctx context.Context, _ []Message, _ string, fn func(delta string) error) error {
	script := b.next()
	for _, token := range script.Tokens {
		if script.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(script.Delay):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(token); err != nil {
			return err
		}
	}
	if script.Err != nil {
		return errors.Wrap(conversation.ErrBackendFailure, script.Err.Error())
	}
	return nil
}

func (b *ScriptedBackend) Models(_ context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{Name: "scripted"}}, nil
}

func (b *ScriptedBackend) Health(_ context.Context) error {
	return nil
}
