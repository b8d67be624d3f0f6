// Package portal holds the course-request portal's business rules: sessions,
// password reset, email verification and the request lifecycle. Persistence
// and delivery are injected.
package portal

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"udstportal/portal-service/internal/auth"
	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultResetTTL    = 30 * time.Minute
	DefaultVerifyTTL   = 24 * time.Hour
	DefaultEmailDomain = "udst.edu.qa"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
	CompareDummy(password string) error
}

// Mailer delivers the account emails that carry bearer links.
type Mailer interface {
	SendVerification(ctx context.Context, user models.User, link string) error
	SendPasswordReset(ctx context.Context, user models.User, link string) error
}

type Options struct {
	// Sessions overrides where sessions live. Defaults to the main store.
	Sessions    store.SessionStore
	Mailer      Mailer
	Hasher      PasswordHasher
	NewToken    func() (string, error)
	Now         func() time.Time
	Logger      *slog.Logger
	SessionTTL  time.Duration
	ResetTTL    time.Duration
	VerifyTTL   time.Duration
	EmailDomain string
	BaseURL     string
}

type Service struct {
	store       store.Store
	sessions    store.SessionStore
	mailer      Mailer
	hasher      PasswordHasher
	newToken    func() (string, error)
	now         func() time.Time
	logger      *slog.Logger
	sessionTTL  time.Duration
	resetTTL    time.Duration
	verifyTTL   time.Duration
	emailDomain string
	baseURL     string
}

func New(st store.Store, opts Options) *Service {
	s := &Service{
		store:       st,
		sessions:    opts.Sessions,
		mailer:      opts.Mailer,
		hasher:      opts.Hasher,
		newToken:    opts.NewToken,
		now:         opts.Now,
		logger:      opts.Logger,
		sessionTTL:  opts.SessionTTL,
		resetTTL:    opts.ResetTTL,
		verifyTTL:   opts.VerifyTTL,
		emailDomain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.EmailDomain), "@")),
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
	}
	if s.sessions == nil {
		s.sessions = st
	}
	if s.mailer == nil {
		s.mailer = discardMailer{}
	}
	if s.hasher == nil {
		s.hasher = auth.NewPasswordHasher(0)
	}
	if s.newToken == nil {
		s.newToken = auth.NewToken
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.resetTTL <= 0 {
		s.resetTTL = DefaultResetTTL
	}
	if s.verifyTTL <= 0 {
		s.verifyTTL = DefaultVerifyTTL
	}
	if s.emailDomain == "" {
		s.emailDomain = DefaultEmailDomain
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) institutional(email string) bool {
	return strings.HasSuffix(email, "@"+s.emailDomain) && len(email) > len(s.emailDomain)+1
}

func (s *Service) link(path string, query url.Values) string {
	return s.baseURL + path + "?" + query.Encode()
}

type discardMailer struct{}

func (discardMailer) SendVerification(context.Context, models.User, string) error  { return nil }
func (discardMailer) SendPasswordReset(context.Context, models.User, string) error { return nil }
