package postgres

import (
	"context"
	"errors"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) InsertVerificationToken(ctx context.Context, token models.VerificationToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	candidate := token.Candidate
	_, err := s.pool.Exec(ctx, `
		INSERT INTO verification_tokens (token, name, email, password_hash, program, role, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.Token, candidate.Name, normalizeEmail(candidate.Email), candidate.PasswordHash, candidate.Program, candidate.Role, token.ExpiresAt, token.CreatedAt)
	return classify(err)
}

// RedeemVerificationToken deletes the token and creates the account in one
// transaction, so a token can only ever produce one user.
func (s *Store) RedeemVerificationToken(ctx context.Context, email, token string, now time.Time) (user models.User, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var candidate models.User
	err = tx.QueryRow(ctx, `
		DELETE FROM verification_tokens
		WHERE token = $1 AND email = $2 AND expires_at > $3
		RETURNING name, email, password_hash, program, role
	`, token, normalizeEmail(email), now).Scan(&candidate.Name, &candidate.Email, &candidate.PasswordHash, &candidate.Program, &candidate.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTokenNotFound
			return models.User{}, err
		}
		err = classify(err)
		return models.User{}, err
	}

	candidate.CreatedAt = now
	user, err = insertUser(ctx, tx, candidate)
	if err != nil {
		return models.User{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		err = classify(err)
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}
