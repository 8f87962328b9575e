package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

func TestPathToWalksToRoot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sessionID := newTestSession(t, st)
	w := NewWriter(st)
	nav := NewNavigator(st)

	root, err := w.AppendUserTurn(ctx, sessionID, conversation.NullNode, "q")
	require.NoError(t, err)
	a1, err := st.CreateNode(ctx, sessionID, root.ID, conversation.RoleAssistant, "a", "m", false)
	require.NoError(t, err)
	u2, err := w.AppendUserTurn(ctx, sessionID, a1.ID, "more")
	require.NoError(t, err)

	path, err := nav.PathTo(ctx, u2.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, root.ID, path[0].ID)
	assert.Equal(t, a1.ID, path[1].ID)
	assert.Equal(t, u2.ID, path[2].ID)

	_, err = nav.PathTo(ctx, conversation.NewNodeID())
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSiblingsOfAgreesAcrossSiblings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sessionID := newTestSession(t, st)
	w := NewWriter(st)
	nav := NewNavigator(st)

	root, err := w.AppendUserTurn(ctx, sessionID, conversation.NullNode, "q")
	require.NoError(t, err)
	a1, err := st.CreateNode(ctx, sessionID, root.ID, conversation.RoleAssistant, "one", "m", false)
	require.NoError(t, err)
	a2, err := st.CreateNode(ctx, sessionID, root.ID, conversation.RoleAssistant, "two", "m", false)
	require.NoError(t, err)

	set1, idx1, err := nav.SiblingsOf(ctx, a1.ID)
	require.NoError(t, err)
	set2, idx2, err := nav.SiblingsOf(ctx, a2.ID)
	require.NoError(t, err)

	require.Len(t, set1, 2)
	require.Len(t, set2, 2)
	assert.Equal(t, 0, idx1)
	assert.Equal(t, 1, idx2)
	for i := range set1 {
		assert.Equal(t, set1[i].ID, set2[i].ID)
	}

	rootSet, rootIdx, err := nav.SiblingsOf(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, rootSet, 1)
	assert.Equal(t, 0, rootIdx)
}

func TestDefaultLeafEmptySession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sessionID := newTestSession(t, st)
	nav := NewNavigator(st)

	_, err := nav.DefaultLeaf(ctx, sessionID)
	require.ErrorIs(t, err, conversation.ErrEmptyTree)
}

func TestDefaultLeafNewestBranchTip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sessionID := newTestSession(t, st)
	w := NewWriter(st)
	nav := NewNavigator(st)

	root, err := w.AppendUserTurn(ctx, sessionID, conversation.NullNode, "q")
	require.NoError(t, err)
	a1, err := st.CreateNode(ctx, sessionID, root.ID, conversation.RoleAssistant, "one", "m", false)
	require.NoError(t, err)
	_, err = st.CreateNode(ctx, sessionID, root.ID, conversation.RoleAssistant, "two", "m", false)
	require.NoError(t, err)
	u2, err := w.AppendUserTurn(ctx, sessionID, a1.ID, "more")
	require.NoError(t, err)

	leaf, err := nav.DefaultLeaf(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, u2.ID, leaf.ID)
}
