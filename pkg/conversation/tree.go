package conversation

import (
	"sort"

	"github.com/pkg/errors"
)

// Tree is an in-memory snapshot of one session's conversation tree.
//
// Nodes are connected purely through parent IDs; the tree indexes them by ID
// and computes the children lists once at construction time. Sibling and
// children orderings are by (CreatedAt, Seq) ascending, which is the stable
// ordering contract used for previous/next branch navigation.
//
// A Tree is a read-side structure: it never mutates its nodes and writers do
// not go through it. It tolerates being built from a point-in-time listing
// while writers keep appending (the snapshot is simply slightly stale).
type Tree struct {
	nodes    map[NodeID]*Node
	children map[NodeID][]*Node
	roots    []*Node
}

// NewTree builds a tree snapshot from a flat node listing. The listing does
// not need to be ordered.
func NewTree(nodes []*Node) *Tree {
	t := &Tree{
		nodes:    make(map[NodeID]*Node, len(nodes)),
		children: make(map[NodeID][]*Node),
	}
	for _, n := range nodes {
		t.nodes[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID.IsNull() {
			t.roots = append(t.roots, n)
			continue
		}
		t.children[n.ParentID] = append(t.children[n.ParentID], n)
	}
	sortNodes(t.roots)
	for _, c := range t.children {
		sortNodes(c)
	}
	return t
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].Seq < nodes[j].Seq
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Get(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns all nodes ordered by (CreatedAt, Seq), for graph rendering.
func (t *Tree) Nodes() []*Node {
	all := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		all = append(all, n)
	}
	sortNodes(all)
	return all
}

// Path walks parent pointers from id to a root and returns the sequence
// root-first, so it can be replayed in causal order when building a model
// prompt. A cycle or a dangling parent reference means the core invariants
// were violated and is reported as ErrCorruptTree rather than looping or
// silently truncating.
func (t *Tree) Path(id NodeID) (Conversation, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "node %s", id)
	}

	var path Conversation
	seen := map[NodeID]struct{}{}
	for !id.IsNull() {
		if _, ok := seen[id]; ok {
			return nil, errors.Wrapf(ErrCorruptTree, "cycle through node %s", id)
		}
		seen[id] = struct{}{}

		node, ok := t.nodes[id]
		if !ok {
			return nil, errors.Wrapf(ErrCorruptTree, "dangling parent reference %s", id)
		}
		path = append(Conversation{node}, path...)
		id = node.ParentID
	}
	return path, nil
}

// Siblings returns the ordered sibling set of id (the nodes sharing its
// parent, the node itself included), the zero-based index of id within it and
// implicitly the total as len of the returned slice. Root nodes are siblings
// of the other roots in the session.
func (t *Tree) Siblings(id NodeID) (Conversation, int, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, 0, errors.Wrapf(ErrNotFound, "node %s", id)
	}

	set := t.roots
	if !node.ParentID.IsNull() {
		set = t.children[node.ParentID]
	}

	siblings := make(Conversation, len(set))
	copy(siblings, set)
	for i, sibling := range siblings {
		if sibling.ID == id {
			return siblings, i, nil
		}
	}
	return nil, 0, errors.Wrapf(ErrCorruptTree, "node %s missing from its own sibling set", id)
}

// Children returns the direct children of id in creation order.
func (t *Tree) Children(id NodeID) (Conversation, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "node %s", id)
	}
	set := t.children[id]
	children := make(Conversation, len(set))
	copy(children, set)
	return children, nil
}

// DefaultLeaf picks, among all leaves, the one with the maximum
// (CreatedAt, Seq): the most recent branch tip, used to restore a session's
// default view. Returns ErrEmptyTree when the snapshot has no nodes.
func (t *Tree) DefaultLeaf() (*Node, error) {
	if len(t.nodes) == 0 {
		return nil, ErrEmptyTree
	}

	var leaf *Node
	for _, n := range t.nodes {
		if len(t.children[n.ID]) > 0 {
			continue
		}
		if leaf == nil || newerThan(n, leaf) {
			leaf = n
		}
	}
	if leaf == nil {
		// Every node claims children: only possible if parent links cycle.
		return nil, errors.Wrap(ErrCorruptTree, "tree has nodes but no leaves")
	}
	return leaf, nil
}

func newerThan(a, b *Node) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq > b.Seq
	}
	return a.CreatedAt.After(b.CreatedAt)
}
