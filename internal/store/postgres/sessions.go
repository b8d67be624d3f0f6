package postgres

import (
	"context"
	"errors"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) InsertSession(ctx context.Context, session models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_key, username, role, expires_at)
		VALUES ($1, $2, $3, $4)
	`, session.Key, session.Username, session.Role, session.ExpiresAt)
	return classify(err)
}

func (s *Store) FindSessionByKey(ctx context.Context, key string) (models.Session, error) {
	var session models.Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_key, username, role, expires_at
		FROM sessions
		WHERE session_key = $1
	`, key).Scan(&session.Key, &session.Username, &session.Role, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, classify(err)
	}
	session.ExpiresAt = session.ExpiresAt.UTC()
	return session, nil
}

func (s *Store) DeleteSessionByKey(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_key = $1`, key)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}
