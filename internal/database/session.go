// internal/database/session.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ohlushko/unobot/internal/models"
)

// ErrVersionConflict is returned by Save when the conditional update matched
// no row: someone else committed against the same version first. Callers
// reload the session and re-apply their logical action.
var ErrVersionConflict = errors.New("session version conflict")

// SessionRepo persists room sessions with optimistic concurrency. Every
// committed save bumps the version by exactly 1; concurrent saves from the
// same version cannot both succeed.
type SessionRepo struct {
	pool *pgxpool.Pool
}

// NewSessionRepo wraps a pgx pool.
func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// GetByChat loads the session bound to a chat room, or nil if none exists.
func (r *SessionRepo) GetByChat(ctx context.Context, chatID int64) (*models.Session, error) {
	q := `SELECT id, chat_id, status, version, state FROM sessions WHERE chat_id = $1`

	var (
		sess models.Session
		raw  []byte
	)
	err := r.pool.QueryRow(ctx, q, chatID).Scan(&sess.ID, &sess.ChatID, &sess.Status, &sess.Version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session for chat %d: %w", chatID, err)
	}

	sess.State, err = models.DecodeState(raw)
	if err != nil {
		return nil, fmt.Errorf("session for chat %d: %w", chatID, err)
	}
	return &sess, nil
}

// CreateLobby inserts a fresh lobby session for the chat.
func (r *SessionRepo) CreateLobby(ctx context.Context, chatID int64, title string) (*models.Session, error) {
	state := models.NewLobbyState(title)
	raw, err := models.EncodeState(state)
	if err != nil {
		return nil, err
	}

	q := `INSERT INTO sessions (chat_id, status, version, state)
	      VALUES ($1, 'lobby', 0, $2)
	      RETURNING id`

	sess := &models.Session{ChatID: chatID, Status: models.StatusLobby, Version: 0, State: state}
	if err := r.pool.QueryRow(ctx, q, chatID, raw).Scan(&sess.ID); err != nil {
		return nil, fmt.Errorf("create lobby for chat %d: %w", chatID, err)
	}
	return sess, nil
}

// Save commits the session's current status and state with a single
// conditional update matching both the primary key and the expected version.
// Anything other than exactly one matched row is a conflict; no partial write
// occurs. On success the in-memory version is bumped to match the row.
func (r *SessionRepo) Save(ctx context.Context, sess *models.Session, expectedVersion int) error {
	raw, err := models.EncodeState(sess.State)
	if err != nil {
		return err
	}

	q := `UPDATE sessions
	      SET status = $1, state = $2, version = $3
	      WHERE id = $4 AND version = $5`

	tag, err := r.pool.Exec(ctx, q, string(sess.Status), raw, expectedVersion+1, sess.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("save session %d: %w", sess.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrVersionConflict
	}
	sess.Version = expectedVersion + 1
	return nil
}

// Delete drops the session row outright (stopping a lobby).
func (r *SessionRepo) Delete(ctx context.Context, sess *models.Session) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sess.ID); err != nil {
		return fmt.Errorf("delete session %d: %w", sess.ID, err)
	}
	return nil
}
