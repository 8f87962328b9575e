package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func newTestSession(t *testing.T, st *Store) *conversation.Session {
	t.Helper()
	session, err := st.CreateSession(context.Background(), "")
	require.NoError(t, err)
	return session
}

func TestCreateSessionDefaultName(t *testing.T) {
	st := newTestStore(t)

	session := newTestSession(t, st)
	assert.Equal(t, "New Chat", session.Name)

	got, err := st.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetSession(context.Background(), "nope")
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestRenameSession(t *testing.T) {
	st := newTestStore(t)
	session := newTestSession(t, st)

	renamed, err := st.RenameSession(context.Background(), session.ID, "Physics")
	require.NoError(t, err)
	assert.Equal(t, "Physics", renamed.Name)

	_, err = st.RenameSession(context.Background(), "nope", "x")
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestCreateNodeSessionMustExist(t *testing.T) {
	st := newTestStore(t)

	_, err := st.CreateNode(context.Background(), "nope", conversation.NullNode, conversation.RoleUser, "hi", "", false)
	require.ErrorIs(t, err, conversation.ErrInvalidState)
}

func TestCreateNodeParentMustExist(t *testing.T) {
	st := newTestStore(t)
	session := newTestSession(t, st)

	_, err := st.CreateNode(context.Background(), session.ID, conversation.NewNodeID(), conversation.RoleUser, "hi", "", false)
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestCreateNodeRejectsCrossSessionParent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sessionA := newTestSession(t, st)
	sessionB := newTestSession(t, st)

	rootA, err := st.CreateNode(ctx, sessionA.ID, conversation.NullNode, conversation.RoleUser, "hi", "", false)
	require.NoError(t, err)

	_, err = st.CreateNode(ctx, sessionB.ID, rootA.ID, conversation.RoleAssistant, "", "m", true)
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestCreateNodeRejectsInvalidRole(t *testing.T) {
	st := newTestStore(t)
	session := newTestSession(t, st)

	_, err := st.CreateNode(context.Background(), session.ID, conversation.NullNode, conversation.Role("oracle"), "hi", "", false)
	require.ErrorIs(t, err, conversation.ErrInvalidRole)
}

func TestAppendAndSeal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	node, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleAssistant, "", "m", true)
	require.NoError(t, err)
	assert.True(t, node.Pending)

	require.NoError(t, st.AppendContent(ctx, node.ID, "Hello "))
	require.NoError(t, st.AppendContent(ctx, node.ID, "world"))

	got, err := st.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got.Content)
	assert.True(t, got.Pending)

	require.NoError(t, st.Seal(ctx, node.ID, "Hello world"))
	got, err = st.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.False(t, got.Pending)

	// Append after sealing is rejected.
	err = st.AppendContent(ctx, node.ID, "!")
	require.ErrorIs(t, err, conversation.ErrInvalidState)

	// Re-sealing with identical content is a no-op.
	require.NoError(t, st.Seal(ctx, node.ID, "Hello world"))

	// Re-sealing with different content is a conflict.
	err = st.Seal(ctx, node.ID, "something else")
	require.ErrorIs(t, err, conversation.ErrConflict)
}

func TestSealReplacesContent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	node, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleAssistant, "", "m", true)
	require.NoError(t, err)
	require.NoError(t, st.AppendContent(ctx, node.ID, "partial"))

	require.NoError(t, st.Seal(ctx, node.ID, "final"))
	got, err := st.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Content)
}

func TestAppendAndSealMissingNode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.AppendContent(ctx, conversation.NewNodeID(), "x")
	require.ErrorIs(t, err, conversation.ErrNotFound)

	err = st.Seal(ctx, conversation.NewNodeID(), "x")
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestListNodesOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	root, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleUser, "q", "", false)
	require.NoError(t, err)
	var children []*conversation.Node
	for i := 0; i < 4; i++ {
		child, err := st.CreateNode(ctx, session.ID, root.ID, conversation.RoleAssistant, "", "m", false)
		require.NoError(t, err)
		children = append(children, child)
	}

	nodes, err := st.ListNodes(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 5)
	assert.Equal(t, root.ID, nodes[0].ID)
	for i, child := range children {
		assert.Equal(t, child.ID, nodes[i+1].ID)
	}

	// Sequence numbers are strictly increasing in creation order.
	for i := 1; i < len(nodes); i++ {
		assert.Greater(t, nodes[i].Seq, nodes[i-1].Seq)
	}
}

func TestChildrenOfAndRoots(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	root, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleUser, "q", "", false)
	require.NoError(t, err)
	a1, err := st.CreateNode(ctx, session.ID, root.ID, conversation.RoleAssistant, "one", "m", false)
	require.NoError(t, err)
	a2, err := st.CreateNode(ctx, session.ID, root.ID, conversation.RoleAssistant, "two", "m", false)
	require.NoError(t, err)

	children, err := st.ChildrenOf(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, a1.ID, children[0].ID)
	assert.Equal(t, a2.ID, children[1].ID)

	roots, err := st.Roots(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, root.ID, roots[0].ID)
}

func TestDeleteSessionCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	root, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleUser, "q", "", false)
	require.NoError(t, err)
	child, err := st.CreateNode(ctx, session.ID, root.ID, conversation.RoleAssistant, "a", "m", false)
	require.NoError(t, err)

	require.NoError(t, st.DeleteSession(ctx, session.ID))

	_, err = st.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, conversation.ErrNotFound)
	_, err = st.GetNode(ctx, root.ID)
	require.ErrorIs(t, err, conversation.ErrNotFound)
	_, err = st.GetNode(ctx, child.ID)
	require.ErrorIs(t, err, conversation.ErrNotFound)

	require.ErrorIs(t, st.DeleteSession(ctx, session.ID), conversation.ErrNotFound)
}

func TestReconcilePending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	node, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleAssistant, "", "m", true)
	require.NoError(t, err)
	require.NoError(t, st.AppendContent(ctx, node.ID, "interrupted"))

	sealed, err := st.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sealed)

	got, err := st.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.False(t, got.Pending)
	assert.Equal(t, "interrupted", got.Content)

	sealed, err = st.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, sealed)
}

func TestSetActivePath(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, st)

	root, err := st.CreateNode(ctx, session.ID, conversation.NullNode, conversation.RoleUser, "q", "", false)
	require.NoError(t, err)
	a1, err := st.CreateNode(ctx, session.ID, root.ID, conversation.RoleAssistant, "one", "m", false)
	require.NoError(t, err)
	a2, err := st.CreateNode(ctx, session.ID, root.ID, conversation.RoleAssistant, "two", "m", false)
	require.NoError(t, err)

	require.NoError(t, st.SetActivePath(ctx, a2.ID))

	active := map[string]bool{}
	nodes, err := st.ListNodes(ctx, session.ID)
	require.NoError(t, err)
	for _, n := range nodes {
		active[n.ID.String()] = n.Active
	}
	assert.True(t, active[root.ID.String()])
	assert.False(t, active[a1.ID.String()])
	assert.True(t, active[a2.ID.String()])
}
