package chat

import (
	"context"

	"github.com/pkg/errors"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
	"github.com/multiverse-chat/multiverse/pkg/store"
)

// Writer creates new branches. Every operation is atomic: the store's insert
// transaction either produces a fully linked node or nothing. Regeneration
// and continuation return pending nodes whose content the orchestrator
// streams in afterwards.
type Writer struct {
	store *store.Store
}

func NewWriter(st *store.Store) *Writer {
	return &Writer{store: st}
}

// AppendUserTurn creates a sealed user node under parentID. A null parent is
// only legal while the session has no nodes; afterwards every new turn must
// attach somewhere in the tree.
func (w *Writer) AppendUserTurn(ctx context.Context, sessionID string, parentID conversation.NodeID, content string) (*conversation.Node, error) {
	if parentID.IsNull() {
		nodes, err := w.store.ListNodes(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			return nil, errors.Wrapf(conversation.ErrInvalidState, "session %s already has a root", sessionID)
		}
	}
	return w.store.CreateNode(ctx, sessionID, parentID, conversation.RoleUser, content, "", false)
}

// Branch regenerates an assistant turn: it locates the parent of nodeID and
// creates a brand-new pending assistant sibling under it. The original node
// and its subtree are never touched. Racing Branch calls both succeed; the
// resulting multiplicity under one parent is the intended semantics, ordered
// by creation.
func (w *Writer) Branch(ctx context.Context, nodeID conversation.NodeID, model string) (*conversation.Node, error) {
	node, err := w.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Role != conversation.RoleAssistant {
		return nil, errors.Wrapf(conversation.ErrInvalidRole, "cannot regenerate %s node %s", node.Role, nodeID)
	}
	return w.store.CreateNode(ctx, node.SessionID, node.ParentID, conversation.RoleAssistant, "", model, true)
}

// ContinueFrom forks the conversation at parentID: a sealed user node
// carrying content, then a pending assistant node as its child, so branch
// creation and generation start as one operation.
func (w *Writer) ContinueFrom(ctx context.Context, parentID conversation.NodeID, content string, model string) (*conversation.Node, *conversation.Node, error) {
	parent, err := w.store.GetNode(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}

	userNode, err := w.store.CreateNode(ctx, parent.SessionID, parentID, conversation.RoleUser, content, "", false)
	if err != nil {
		return nil, nil, err
	}
	assistantNode, err := w.store.CreateNode(ctx, parent.SessionID, userNode.ID, conversation.RoleAssistant, "", model, true)
	if err != nil {
		return nil, nil, err
	}
	return userNode, assistantNode, nil
}
