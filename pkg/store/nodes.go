package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

type nodeRow struct {
	Seq         int64          `db:"seq"`
	ID          string         `db:"id"`
	SessionID   string         `db:"session_id"`
	ParentID    sql.NullString `db:"parent_id"`
	Role        string         `db:"role"`
	Content     string         `db:"content"`
	CreatedAtNs int64          `db:"created_at_ns"`
	Model       sql.NullString `db:"model"`
	IsActive    bool           `db:"is_active"`
	Pending     bool           `db:"pending"`
}

const nodeColumns = `rowid AS seq, id, session_id, parent_id, role, content, created_at_ns, model, is_active, pending`

func (r nodeRow) toNode() (*conversation.Node, error) {
	id, err := conversation.ParseNodeID(r.ID)
	if err != nil {
		return nil, errors.Wrapf(conversation.ErrCorruptTree, "malformed node id %q", r.ID)
	}
	parentID := conversation.NullNode
	if r.ParentID.Valid {
		parentID, err = conversation.ParseNodeID(r.ParentID.String)
		if err != nil {
			return nil, errors.Wrapf(conversation.ErrCorruptTree, "malformed parent id %q", r.ParentID.String)
		}
	}
	return &conversation.Node{
		ID:        id,
		SessionID: r.SessionID,
		ParentID:  parentID,
		Role:      conversation.Role(r.Role),
		Content:   r.Content,
		CreatedAt: time.Unix(0, r.CreatedAtNs),
		Seq:       r.Seq,
		Model:     r.Model.String,
		Active:    r.IsActive,
		Pending:   r.Pending,
	}, nil
}

func rowsToNodes(rows []nodeRow) (conversation.Conversation, error) {
	nodes := make(conversation.Conversation, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// CreateNode inserts a new node. The session must exist (ErrInvalidState
// otherwise) and a non-null parent must resolve to a node of the same session
// (ErrNotFound otherwise) — both checked inside the insert transaction, while
// the per-session lock serializes racing inserts so (created_at, seq) is a
// total, stable sibling order.
//
// pending marks a node whose content is about to stream in; such a node is
// mutable through AppendContent until sealed.
func (s *Store) CreateNode(
	ctx context.Context,
	sessionID string,
	parentID conversation.NodeID,
	role conversation.Role,
	content string,
	model string,
	pending bool,
) (*conversation.Node, error) {
	if !role.Valid() {
		return nil, errors.Wrapf(conversation.ErrInvalidRole, "role %q", role)
	}

	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin create node")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var sessionCount int
	if err := tx.GetContext(ctx, &sessionCount, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID); err != nil {
		return nil, errors.Wrap(err, "check session")
	}
	if sessionCount == 0 {
		return nil, errors.Wrapf(conversation.ErrInvalidState, "session %s does not exist", sessionID)
	}

	if !parentID.IsNull() {
		var parentSession string
		err := tx.GetContext(ctx, &parentSession, `SELECT session_id FROM nodes WHERE id = ?`, parentID.String())
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(conversation.ErrNotFound, "parent node %s", parentID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "check parent")
		}
		if parentSession != sessionID {
			// Cross-session linkage is forbidden; from the caller's point of
			// view the parent does not exist within this session.
			return nil, errors.Wrapf(conversation.ErrNotFound, "parent node %s not in session %s", parentID, sessionID)
		}
	}

	node := conversation.NewNode(sessionID, role, content,
		conversation.WithParentID(parentID),
		conversation.WithModel(model),
		conversation.WithPending(pending),
	)

	var parent interface{}
	if !parentID.IsNull() {
		parent = parentID.String()
	}
	var modelValue interface{}
	if model != "" {
		modelValue = model
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, session_id, parent_id, role, content, created_at_ns, model, is_active, pending)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		node.ID.String(), sessionID, parent, string(role), content, node.CreatedAt.UnixNano(), modelValue, pending,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert node")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "node sequence")
	}
	node.Seq = seq

	if err := s.touchSession(ctx, tx, sessionID); err != nil {
		return nil, errors.Wrap(err, "touch session")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit create node")
	}

	log.Debug().
		Str("node_id", node.ID.String()).
		Str("session_id", sessionID).
		Str("parent_id", parentID.String()).
		Str("role", string(role)).
		Bool("pending", pending).
		Msg("created node")

	return node, nil
}

func (s *Store) GetNode(ctx context.Context, id conversation.NodeID) (*conversation.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(conversation.ErrNotFound, "node %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get node")
	}
	return row.toNode()
}

// ListNodes returns every node of a session ordered by (created_at, seq).
func (s *Store) ListNodes(ctx context.Context, sessionID string) (conversation.Conversation, error) {
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+nodeColumns+` FROM nodes WHERE session_id = ? ORDER BY created_at_ns ASC, seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list nodes")
	}
	return rowsToNodes(rows)
}

// ChildrenOf returns the direct children of a node in creation order.
func (s *Store) ChildrenOf(ctx context.Context, parentID conversation.NodeID) (conversation.Conversation, error) {
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? ORDER BY created_at_ns ASC, seq ASC`,
		parentID.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "children of node")
	}
	return rowsToNodes(rows)
}

// Roots returns the root nodes of a session in creation order. Roots form
// each other's sibling set.
func (s *Store) Roots(ctx context.Context, sessionID string) (conversation.Conversation, error) {
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+nodeColumns+` FROM nodes WHERE session_id = ? AND parent_id IS NULL ORDER BY created_at_ns ASC, seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "session roots")
	}
	return rowsToNodes(rows)
}

// AppendContent grows a pending node's content by delta. Sealed nodes reject
// the append with ErrInvalidState.
func (s *Store) AppendContent(ctx context.Context, id conversation.NodeID, delta string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET content = content || ? WHERE id = ? AND pending = 1`,
		delta, id.String(),
	)
	if err != nil {
		return errors.Wrap(err, "append content")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Distinguish a missing node from a sealed one.
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM nodes WHERE id = ?`, id.String()); err != nil {
		return errors.Wrap(err, "append content")
	}
	if count == 0 {
		return errors.Wrapf(conversation.ErrNotFound, "node %s", id)
	}
	return errors.Wrapf(conversation.ErrInvalidState, "node %s is sealed", id)
}

// Seal transitions a node pending → sealed with its terminal content.
// Sealing an already sealed node is idempotent when the content is identical
// and fails with ErrConflict otherwise.
func (s *Store) Seal(ctx context.Context, id conversation.NodeID, finalContent string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin seal")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var row struct {
		Content string `db:"content"`
		Pending bool   `db:"pending"`
	}
	err = tx.GetContext(ctx, &row, `SELECT content, pending FROM nodes WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(conversation.ErrNotFound, "node %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "seal node")
	}

	if !row.Pending {
		if row.Content == finalContent {
			return nil
		}
		return errors.Wrapf(conversation.ErrConflict, "node %s already sealed with different content", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET content = ?, pending = 0 WHERE id = ?`,
		finalContent, id.String(),
	); err != nil {
		return errors.Wrap(err, "seal node")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit seal")
	}

	log.Debug().Str("node_id", id.String()).Int("content_len", len(finalContent)).Msg("sealed node")
	return nil
}

// SetActivePath recomputes the advisory is_active flag along the path from
// the root to leafID. The flag is informational, used for default-path
// selection in clients; no tree operation depends on it.
func (s *Store) SetActivePath(ctx context.Context, leafID conversation.NodeID) error {
	leaf, err := s.GetNode(ctx, leafID)
	if err != nil {
		return err
	}

	ids := []string{}
	seen := map[conversation.NodeID]struct{}{}
	current := leaf
	for {
		if _, ok := seen[current.ID]; ok {
			return errors.Wrapf(conversation.ErrCorruptTree, "cycle through node %s", current.ID)
		}
		seen[current.ID] = struct{}{}
		ids = append(ids, current.ID.String())
		if current.ParentID.IsNull() {
			break
		}
		parentID := current.ParentID
		current, err = s.GetNode(ctx, parentID)
		if errors.Is(err, conversation.ErrNotFound) {
			return errors.Wrapf(conversation.ErrCorruptTree, "dangling parent reference %s", parentID)
		}
		if err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin active path")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET is_active = 0 WHERE session_id = ?`, leaf.SessionID); err != nil {
		return errors.Wrap(err, "clear active path")
	}
	query, args, err := sqlx.In(`UPDATE nodes SET is_active = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "active path query")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "mark active path")
	}
	return errors.Wrap(tx.Commit(), "commit active path")
}
