package chat

import (
	"context"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
	"github.com/multiverse-chat/multiverse/pkg/engine"
	"github.com/multiverse-chat/multiverse/pkg/events"
	"github.com/multiverse-chat/multiverse/pkg/store"
)

// Stream is one live completion: the pending assistant node being generated,
// the user node that prompted it (nil for regeneration) and the event
// sequence to consume.
type Stream struct {
	UserNode *conversation.Node
	Node     *conversation.Node
	Events   <-chan events.Event
}

// Service ties the branch writer, the navigator and the orchestrator into
// the operations clients invoke: send, regenerate, continue and diverge.
type Service struct {
	Store        *store.Store
	Writer       *Writer
	Navigator    *Navigator
	Orchestrator *Orchestrator
}

func NewService(st *store.Store, backend engine.Backend, options ...OrchestratorOption) *Service {
	return &Service{
		Store:        st,
		Writer:       NewWriter(st),
		Navigator:    NewNavigator(st),
		Orchestrator: NewOrchestrator(st, backend, options...),
	}
}

// SendMessage appends a user turn under parentID (null parent only for an
// empty session), creates a pending assistant child and starts streaming its
// completion with the user turn's full path as context.
func (s *Service) SendMessage(ctx context.Context, sessionID string, parentID conversation.NodeID, content string, model string) (*Stream, error) {
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	userNode, err := s.Writer.AppendUserTurn(ctx, sessionID, parentID, content)
	if err != nil {
		return nil, err
	}

	promptContext, err := s.PathContext(ctx, userNode.ID)
	if err != nil {
		return nil, err
	}

	assistantNode, err := s.Store.CreateNode(ctx, sessionID, userNode.ID, conversation.RoleAssistant, "", model, true)
	if err != nil {
		return nil, err
	}

	return &Stream{
		UserNode: userNode,
		Node:     assistantNode,
		Events:   s.Orchestrator.Complete(ctx, promptContext, assistantNode),
	}, nil
}

// Regenerate creates a new assistant sibling of nodeID and streams a fresh
// completion into it, using the path up to the shared parent as context.
func (s *Service) Regenerate(ctx context.Context, nodeID conversation.NodeID, model string) (*Stream, error) {
	node, err := s.Writer.Branch(ctx, nodeID, model)
	if err != nil {
		return nil, err
	}

	var promptContext []engine.Message
	if !node.ParentID.IsNull() {
		promptContext, err = s.PathContext(ctx, node.ParentID)
		if err != nil {
			return nil, err
		}
	}

	return &Stream{
		Node:   node,
		Events: s.Orchestrator.Complete(ctx, promptContext, node),
	}, nil
}

// Continue forks the conversation at any node: user turn plus pending
// assistant child in one operation, completion started immediately.
func (s *Service) Continue(ctx context.Context, parentID conversation.NodeID, content string, model string) (*Stream, error) {
	userNode, assistantNode, err := s.Writer.ContinueFrom(ctx, parentID, content, model)
	if err != nil {
		return nil, err
	}

	promptContext, err := s.PathContext(ctx, userNode.ID)
	if err != nil {
		return nil, err
	}

	return &Stream{
		UserNode: userNode,
		Node:     assistantNode,
		Events:   s.Orchestrator.Complete(ctx, promptContext, assistantNode),
	}, nil
}

// Diverge launches two independent completions from one shared parent, one
// per prompt. The parent context snapshot is taken exactly once, before
// either stream starts; after that the two streams share no mutable state,
// and a failure in one neither cancels nor corrupts the other.
func (s *Service) Diverge(ctx context.Context, parentID conversation.NodeID, prompts [2]string, model string) ([2]*Stream, error) {
	var streams [2]*Stream

	parentContext, err := s.PathContext(ctx, parentID)
	if err != nil {
		return streams, err
	}

	for i, prompt := range prompts {
		userNode, assistantNode, err := s.Writer.ContinueFrom(ctx, parentID, prompt, model)
		if err != nil {
			return streams, err
		}

		// Each branch gets its own copy of the shared snapshot plus its own
		// prompt; the slices must not alias each other.
		promptContext := make([]engine.Message, len(parentContext), len(parentContext)+1)
		copy(promptContext, parentContext)
		promptContext = append(promptContext, engine.Message{
			Role:    string(conversation.RoleUser),
			Content: prompt,
		})

		streams[i] = &Stream{
			UserNode: userNode,
			Node:     assistantNode,
			Events:   s.Orchestrator.Complete(ctx, promptContext, assistantNode),
		}
	}

	return streams, nil
}

// PathContext resolves the root-first path of nodeID into backend messages.
func (s *Service) PathContext(ctx context.Context, nodeID conversation.NodeID) ([]engine.Message, error) {
	path, err := s.Navigator.PathTo(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return engine.FromConversation(path), nil
}
