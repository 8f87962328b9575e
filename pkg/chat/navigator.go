package chat

import (
	"context"

	"github.com/pkg/errors"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
	"github.com/multiverse-chat/multiverse/pkg/store"
)

// Navigator serves the read side of the tree: path-to-root, sibling sets,
// children and the default leaf. It reads straight from the node store, so a
// query racing a writer sees an eventually-consistent snapshot but never a
// dangling parent (the store's insert transaction guarantees parents are
// visible first).
type Navigator struct {
	store *store.Store
}

func NewNavigator(st *store.Store) *Navigator {
	return &Navigator{store: st}
}

// PathTo walks parent pointers from nodeID up to the root and returns the
// path root-first, the causal order a model prompt is replayed in. The walk
// is O(depth); cycles and dangling parents are defensively reported as
// ErrCorruptTree.
func (n *Navigator) PathTo(ctx context.Context, nodeID conversation.NodeID) (conversation.Conversation, error) {
	node, err := n.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	var path conversation.Conversation
	seen := map[conversation.NodeID]struct{}{}
	for {
		if _, ok := seen[node.ID]; ok {
			return nil, errors.Wrapf(conversation.ErrCorruptTree, "cycle through node %s", node.ID)
		}
		seen[node.ID] = struct{}{}
		path = append(conversation.Conversation{node}, path...)

		if node.ParentID.IsNull() {
			return path, nil
		}
		parentID := node.ParentID
		node, err = n.store.GetNode(ctx, parentID)
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, errors.Wrapf(conversation.ErrCorruptTree, "dangling parent reference %s", parentID)
		}
		if err != nil {
			return nil, err
		}
	}
}

// SiblingsOf returns the ordered sibling set of nodeID (the node included),
// its zero-based index within the set and the total count. A node without
// siblings yields a single-element set with index 0.
func (n *Navigator) SiblingsOf(ctx context.Context, nodeID conversation.NodeID) (conversation.Conversation, int, error) {
	node, err := n.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, 0, err
	}

	var siblings conversation.Conversation
	if node.ParentID.IsNull() {
		siblings, err = n.store.Roots(ctx, node.SessionID)
	} else {
		siblings, err = n.store.ChildrenOf(ctx, node.ParentID)
	}
	if err != nil {
		return nil, 0, err
	}

	for i, sibling := range siblings {
		if sibling.ID == nodeID {
			return siblings, i, nil
		}
	}
	return nil, 0, errors.Wrapf(conversation.ErrCorruptTree, "node %s missing from its own sibling set", nodeID)
}

// ChildrenOf returns the direct children of nodeID in creation order.
func (n *Navigator) ChildrenOf(ctx context.Context, nodeID conversation.NodeID) (conversation.Conversation, error) {
	if _, err := n.store.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return n.store.ChildrenOf(ctx, nodeID)
}

// DefaultLeaf returns the most recently created leaf of the session, the
// branch tip a client restores by default. ErrEmptyTree when the session has
// no nodes.
func (n *Navigator) DefaultLeaf(ctx context.Context, sessionID string) (*conversation.Node, error) {
	tree, err := n.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return tree.DefaultLeaf()
}

// Snapshot loads the session's full node set into an in-memory tree, used
// for graph rendering and leaf selection.
func (n *Navigator) Snapshot(ctx context.Context, sessionID string) (*conversation.Tree, error) {
	nodes, err := n.store.ListNodes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return conversation.NewTree(nodes), nil
}
