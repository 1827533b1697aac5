package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateSession(ctx context.Context, ttl time.Duration) (store.Session, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	session := store.Session{
		SessionID: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	session.ExpiresAt = session.CreatedAt.Add(ttl)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_sessions (session_id, created_at, expires_at)
		VALUES ($1, $2, $3)
	`, session.SessionID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, created_at, expires_at
		FROM admin_sessions
		WHERE session_id = $1 AND expires_at > now()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.CreatedAt, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM admin_sessions
		WHERE session_id = $1
	`, sessionID)
	return err
}
