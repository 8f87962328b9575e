package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

type sessionRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	CreatedAtNs int64  `db:"created_at_ns"`
	UpdatedAtNs int64  `db:"updated_at_ns"`
}

func (r sessionRow) toSession() *conversation.Session {
	return &conversation.Session{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: time.Unix(0, r.CreatedAtNs),
		UpdatedAt: time.Unix(0, r.UpdatedAtNs),
	}
}

func (s *Store) CreateSession(ctx context.Context, name string) (*conversation.Session, error) {
	if name == "" {
		name = "New Chat"
	}
	now := time.Now()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at_ns, updated_at_ns) VALUES (?, ?, ?, ?)`,
		id, name, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert session")
	}

	log.Debug().Str("session_id", id).Str("name", name).Msg("created session")

	return &conversation.Session{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*conversation.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(conversation.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	return row.toSession(), nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*conversation.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions ORDER BY updated_at_ns DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	sessions := make([]*conversation.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}

func (s *Store) RenameSession(ctx context.Context, id string, name string) (*conversation.Session, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at_ns = ? WHERE id = ?`,
		name, time.Now().UnixNano(), id,
	)
	if err != nil {
		return nil, errors.Wrap(err, "rename session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.Wrapf(conversation.ErrNotFound, "session %s", id)
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session and cascades to its entire node set in one
// transaction.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete session")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "check session")
	}
	if exists == 0 {
		return errors.Wrapf(conversation.ErrNotFound, "session %s", id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE session_id = ?`, id); err != nil {
		return errors.Wrap(err, "delete session nodes")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "delete session")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit delete session")
	}

	s.locks.drop(id)
	log.Debug().Str("session_id", id).Msg("deleted session")
	return nil
}

func (s *Store) touchSession(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at_ns = ? WHERE id = ?`,
		time.Now().UnixNano(), id,
	)
	return err
}
