package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"udstportal/portal-service/internal/store"
)

// RequestReset issues a fresh reset key for email, replacing any earlier one,
// and mails the link to the owner.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !s.institutional(email) {
		return ErrEmailNotRegistered
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrEmailNotRegistered
		}
		return err
	}

	key, err := s.newToken()
	if err != nil {
		return err
	}
	if err := s.store.SetResetToken(ctx, user.Email, key, s.now().Add(s.resetTTL)); err != nil {
		return err
	}

	link := s.link("/resetPassword", url.Values{"key": {key}})
	if err := s.mailer.SendPasswordReset(ctx, user, link); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	s.logger.InfoContext(ctx, "password reset issued", "email", user.Email)
	return nil
}

// ValidateToken returns the email owning a live reset key. It never mutates state.
func (s *Service) ValidateToken(ctx context.Context, key string) (string, error) {
	user, err := s.store.FindByResetKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return "", ErrInvalidOrExpiredToken
		}
		return "", err
	}
	if user.ResetExpiry == nil || !user.ResetExpiry.After(s.now()) {
		return "", ErrInvalidOrExpiredToken
	}
	return user.Email, nil
}

// CompleteReset sets a new password for the owner of key. The email is taken
// from the key, never from the caller.
func (s *Service) CompleteReset(ctx context.Context, key, password, confirm string) error {
	if password == "" {
		return invalid("password", "password is required")
	}
	if password != confirm {
		return invalid("confirm_password", "passwords do not match")
	}
	if _, err := s.ValidateToken(ctx, key); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	email, err := s.store.ResetPassword(ctx, key, hash, s.now())
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}
	s.logger.InfoContext(ctx, "password reset completed", "email", email)
	return nil
}
