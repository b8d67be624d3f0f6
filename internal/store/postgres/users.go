package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const userColumns = `user_id, name, email, password_hash, program, role, created_at, reset_key, reset_expiry`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	var resetKey sql.NullString
	var resetExpiry sql.NullTime
	if err := row.Scan(&user.UserID, &user.Name, &user.Email, &user.PasswordHash, &user.Program, &user.Role, &user.CreatedAt, &resetKey, &resetExpiry); err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.ResetKey = nullString(resetKey)
	user.ResetExpiry = nullTimePtr(resetExpiry)
	return user, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = $1
	`, normalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, classify(err)
	}
	return user, nil
}

func (s *Store) FindUserByName(ctx context.Context, name string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE name = $1
	`, name)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, classify(err)
	}
	return user, nil
}

func (s *Store) InsertUser(ctx context.Context, user models.User) (models.User, error) {
	return insertUser(ctx, s.pool, user)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, db execer, user models.User) (models.User, error) {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = models.RoleBasic
	}
	user.Email = normalizeEmail(user.Email)
	_, err := db.Exec(ctx, `
		INSERT INTO users (user_id, name, email, password_hash, program, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.UserID, user.Name, user.Email, user.PasswordHash, user.Program, user.Role, user.CreatedAt)
	if err != nil {
		return models.User{}, userConflict(err)
	}
	return user, nil
}

func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $1, reset_key = NULL, reset_expiry = NULL
		WHERE lower(email) = $2
	`, passwordHash, normalizeEmail(email))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetResetToken(ctx context.Context, email, key string, expiry time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET reset_key = $1, reset_expiry = $2
		WHERE lower(email) = $3
	`, key, expiry, normalizeEmail(email))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) FindByResetKey(ctx context.Context, key string) (models.User, error) {
	if key == "" {
		return models.User{}, store.ErrTokenNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_key = $1
	`, key)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrTokenNotFound
		}
		return models.User{}, classify(err)
	}
	return user, nil
}

func (s *Store) ResetPassword(ctx context.Context, key, passwordHash string, now time.Time) (string, error) {
	if key == "" {
		return "", store.ErrTokenNotFound
	}
	var email string
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $1, reset_key = NULL, reset_expiry = NULL
		WHERE reset_key = $2 AND reset_expiry > $3
		RETURNING email
	`, passwordHash, key, now)
	if err := row.Scan(&email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrTokenNotFound
		}
		return "", classify(err)
	}
	return email, nil
}
