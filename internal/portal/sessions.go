package portal

import (
	"context"
	"errors"
	"strings"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

// Login checks the credentials and mints a session. An identifier containing
// "@" is an email address, anything else a user name.
func (s *Service) Login(ctx context.Context, identifier, password string) (models.Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		_ = s.hasher.CompareDummy(password)
		return models.Session{}, ErrInvalidCredentials
	}

	var user models.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = s.store.FindUserByEmail(ctx, identifier)
	} else {
		user, err = s.store.FindUserByName(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			_ = s.hasher.CompareDummy(password)
			return models.Session{}, ErrInvalidCredentials
		}
		return models.Session{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return models.Session{}, ErrInvalidCredentials
	}

	key, err := s.newToken()
	if err != nil {
		return models.Session{}, err
	}
	session := models.Session{
		Key:       key,
		Username:  user.Name,
		Role:      user.Role,
		ExpiresAt: s.now().Add(s.sessionTTL),
	}
	if err := s.sessions.InsertSession(ctx, session); err != nil {
		return models.Session{}, err
	}
	s.logger.InfoContext(ctx, "session started", "username", user.Name, "role", user.Role)
	return session, nil
}

// GetSession returns the session for key while it is unexpired.
func (s *Service) GetSession(ctx context.Context, key string) (models.Session, error) {
	if key == "" {
		return models.Session{}, store.ErrSessionNotFound
	}
	session, err := s.sessions.FindSessionByKey(ctx, key)
	if err != nil {
		return models.Session{}, err
	}
	if !session.Valid(s.now()) {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

// Terminate deletes the session. Unknown keys are not an error.
func (s *Service) Terminate(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := s.sessions.DeleteSessionByKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	return nil
}

// CurrentUser loads the account behind a session.
func (s *Service) CurrentUser(ctx context.Context, session models.Session) (models.User, error) {
	return s.store.FindUserByName(ctx, session.Username)
}
