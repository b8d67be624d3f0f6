package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
	Program         string
}

// Register validates a sign-up and starts email verification. No account
// exists until the emailed link is followed.
func (s *Service) Register(ctx context.Context, input RegisterInput) error {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	program := strings.TrimSpace(input.Program)

	switch {
	case name == "":
		return invalid("name", "name is required")
	case email == "":
		return invalid("email", "email is required")
	case !s.institutional(email):
		return invalid("email", "email must end in @"+s.emailDomain)
	case input.Password == "":
		return invalid("password", "password is required")
	case input.Password != input.ConfirmPassword:
		return invalid("confirm_password", "passwords do not match")
	}

	if err := s.ensureAvailable(ctx, name, email); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return err
	}
	return s.StartVerification(ctx, models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Program:      program,
		Role:         models.RoleBasic,
	})
}

func (s *Service) ensureAvailable(ctx context.Context, name, email string) error {
	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return store.ErrEmailTaken
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return err
	}
	if _, err := s.store.FindUserByName(ctx, name); err == nil {
		return store.ErrNameTaken
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return err
	}
	return nil
}

// StartVerification stores the candidate account behind a fresh token and
// mails the verification link.
func (s *Service) StartVerification(ctx context.Context, candidate models.User) error {
	token, err := s.newToken()
	if err != nil {
		return err
	}
	now := s.now()
	candidate.Email = normalizeEmail(candidate.Email)
	if candidate.Role == "" {
		candidate.Role = models.RoleBasic
	}
	record := models.VerificationToken{
		Token:     token,
		Candidate: candidate,
		ExpiresAt: now.Add(s.verifyTTL),
		CreatedAt: now,
	}
	if err := s.store.InsertVerificationToken(ctx, record); err != nil {
		return err
	}

	link := s.link("/verify", url.Values{"email": {candidate.Email}, "token": {token}})
	if err := s.mailer.SendVerification(ctx, candidate, link); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	s.logger.InfoContext(ctx, "verification started", "email", candidate.Email)
	return nil
}

// CompleteVerification redeems the token and creates the account.
func (s *Service) CompleteVerification(ctx context.Context, email, token string) (models.User, error) {
	email = normalizeEmail(email)
	if email == "" || token == "" {
		return models.User{}, ErrInvalidOrExpiredToken
	}
	user, err := s.store.RedeemVerificationToken(ctx, email, token, s.now())
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return models.User{}, ErrInvalidOrExpiredToken
		}
		return models.User{}, err
	}
	s.logger.InfoContext(ctx, "account verified", "email", user.Email)
	return user, nil
}

// SeedAdmin creates an administrator account unless the email is already in use.
func (s *Service) SeedAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" || password == "" {
		return false, invalid("admin_seed", "name, email and password are required")
	}
	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return false, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	_, err = s.store.InsertUser(ctx, models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Sweep purges expired sessions and verification tokens.
func (s *Service) Sweep(ctx context.Context) (int64, int64, error) {
	now := s.now()
	sessions, err := s.sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep sessions: %w", err)
	}
	tokens, err := s.store.DeleteExpiredVerificationTokens(ctx, now)
	if err != nil {
		return sessions, 0, fmt.Errorf("sweep verification tokens: %w", err)
	}
	return sessions, tokens, nil
}
