package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
	"github.com/multiverse-chat/multiverse/pkg/engine"
	"github.com/multiverse-chat/multiverse/pkg/events"
	"github.com/multiverse-chat/multiverse/pkg/store"
)

// Orchestrator drives token streams from the model backend into pending
// nodes. Each completion runs in its own goroutine and reports through its
// own event channel; two completions against different pending nodes never
// share mutable state, so concurrent divergent branches cannot corrupt each
// other.
type Orchestrator struct {
	store     *store.Store
	backend   engine.Backend
	publisher *events.PublisherManager
}

type OrchestratorOption func(*Orchestrator)

// WithPublisher fans completion events out to watermill subscribers in
// addition to the per-completion channel.
func WithPublisher(pm *events.PublisherManager) OrchestratorOption {
	return func(o *Orchestrator) {
		o.publisher = pm
	}
}

func NewOrchestrator(st *store.Store, backend engine.Backend, options ...OrchestratorOption) *Orchestrator {
	ret := &Orchestrator{
		store:   st,
		backend: backend,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Complete streams one completion into the pending node. The returned
// channel is a finite, non-restartable sequence: a start event, zero or more
// partial events in token order, then exactly one terminal event (final on
// success, error on failure) after which the channel closes. Whatever the
// outcome, the node ends up sealed: on failure or cancellation it is sealed
// with the partial content accumulated so far.
func (o *Orchestrator) Complete(ctx context.Context, promptContext []engine.Message, node *conversation.Node) <-chan events.Event {
	ch := make(chan events.Event, 64)
	go o.run(ctx, promptContext, node, ch)
	return ch
}

func (o *Orchestrator) run(ctx context.Context, promptContext []engine.Message, node *conversation.Node, ch chan<- events.Event) {
	defer close(ch)

	metadata := events.EventMetadata{
		NodeID:    node.ID,
		ParentID:  node.ParentID,
		SessionID: node.SessionID,
		Model:     node.Model,
	}

	log.Debug().
		Object("meta", metadata).
		Int("context_len", len(promptContext)).
		Msg("starting completion")

	o.emit(ctx, ch, events.NewStartEvent(metadata))

	var completion strings.Builder
	err := o.backend.Stream(ctx, promptContext, node.Model, func(delta string) error {
		if err := o.store.AppendContent(ctx, node.ID, delta); err != nil {
			return err
		}
		completion.WriteString(delta)
		o.emit(ctx, ch, events.NewPartialEvent(metadata, delta, completion.String()))
		return nil
	})

	// Sealing must survive caller cancellation: a client disconnect mid
	// stream still leaves the node sealed with its partial content.
	sealCtx := context.Background()

	if err != nil {
		if sealErr := o.store.Seal(sealCtx, node.ID, completion.String()); sealErr != nil {
			log.Error().Err(sealErr).Str("node_id", node.ID.String()).Msg("failed to seal node after stream failure")
		}
		log.Warn().Err(err).Object("meta", metadata).Msg("completion failed")
		o.emit(ctx, ch, events.NewErrorEvent(metadata, err, completion.String()))
		return
	}

	if sealErr := o.store.Seal(sealCtx, node.ID, completion.String()); sealErr != nil {
		log.Error().Err(sealErr).Str("node_id", node.ID.String()).Msg("failed to seal node")
		o.emit(ctx, ch, events.NewErrorEvent(metadata, sealErr, completion.String()))
		return
	}

	log.Debug().
		Object("meta", metadata).
		Int("content_len", completion.Len()).
		Msg("completion sealed")

	o.emit(ctx, ch, events.NewFinalEvent(metadata, completion.String()))
}

// emit delivers to the per-completion channel unless the caller is gone, and
// fans out to watermill subscribers when a publisher is configured. A
// disconnected caller only loses delivery; sealing already happened.
func (o *Orchestrator) emit(ctx context.Context, ch chan<- events.Event, e events.Event) {
	select {
	case ch <- e:
	default:
		// Buffer full: block until the caller drains or gives up.
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	}
	if o.publisher != nil {
		o.publisher.PublishBlind(e)
	}
}
