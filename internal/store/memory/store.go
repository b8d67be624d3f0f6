// Package memory keeps every record in process memory. It backs local runs
// and the portal tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu            sync.RWMutex
	users         map[string]models.User // by lower-cased email
	sessions      map[string]models.Session
	verifications map[string]models.VerificationToken
	requests      map[string]models.Request
	outbox        []store.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]models.User),
		sessions:      make(map[string]models.Session),
		verifications: make(map[string]models.VerificationToken),
		requests:      make(map[string]models.Request),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) FindUserByName(ctx context.Context, name string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Name == name {
			return user, nil
		}
	}
	return models.User{}, store.ErrUserNotFound
}

func (s *Store) InsertUser(ctx context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertUserLocked(user)
}

func (s *Store) insertUserLocked(user models.User) (models.User, error) {
	user.Email = normalizeEmail(user.Email)
	if _, ok := s.users[user.Email]; ok {
		return models.User{}, store.ErrEmailTaken
	}
	for _, existing := range s.users {
		if existing.Name == user.Name {
			return models.User{}, store.ErrNameTaken
		}
	}
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Email] = user
	return user, nil
}

func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(email)
	user, ok := s.users[key]
	if !ok {
		return store.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.ResetKey = ""
	user.ResetExpiry = nil
	s.users[key] = user
	return nil
}

func (s *Store) SetResetToken(ctx context.Context, email, key string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	emailKey := normalizeEmail(email)
	user, ok := s.users[emailKey]
	if !ok {
		return store.ErrUserNotFound
	}
	user.ResetKey = key
	user.ResetExpiry = &expiry
	s.users[emailKey] = user
	return nil
}

func (s *Store) FindByResetKey(ctx context.Context, key string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key == "" {
		return models.User{}, store.ErrTokenNotFound
	}
	for _, user := range s.users {
		if user.ResetKey == key {
			return user, nil
		}
	}
	return models.User{}, store.ErrTokenNotFound
}

func (s *Store) ResetPassword(ctx context.Context, key, passwordHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		return "", store.ErrTokenNotFound
	}
	for email, user := range s.users {
		if user.ResetKey != key {
			continue
		}
		if user.ResetExpiry == nil || !user.ResetExpiry.After(now) {
			return "", store.ErrTokenNotFound
		}
		user.PasswordHash = passwordHash
		user.ResetKey = ""
		user.ResetExpiry = nil
		s.users[email] = user
		return user.Email, nil
	}
	return "", store.ErrTokenNotFound
}

func (s *Store) InsertSession(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Key] = session
	return nil
}

func (s *Store) FindSessionByKey(ctx context.Context, key string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) DeleteSessionByKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return store.ErrSessionNotFound
	}
	delete(s.sessions, key)
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for key, session := range s.sessions {
		if !session.Valid(now) {
			delete(s.sessions, key)
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertVerificationToken(ctx context.Context, token models.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token.Candidate.Email = normalizeEmail(token.Candidate.Email)
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	s.verifications[token.Token] = token
	return nil
}

func (s *Store) RedeemVerificationToken(ctx context.Context, email, token string, now time.Time) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.verifications[token]
	if !ok || record.Candidate.Email != normalizeEmail(email) || !record.ExpiresAt.After(now) {
		return models.User{}, store.ErrTokenNotFound
	}
	candidate := record.Candidate
	candidate.CreatedAt = now
	user, err := s.insertUserLocked(candidate)
	if err != nil {
		return models.User{}, err
	}
	delete(s.verifications, token)
	return user, nil
}

func (s *Store) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for key, record := range s.verifications {
		if !record.ExpiresAt.After(now) {
			delete(s.verifications, key)
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertRequest(ctx context.Context, request models.Request) (models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request.RequestID == "" {
		request.RequestID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.StatusSubmitted
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	s.requests[request.RequestID] = request
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[requestID]
	if !ok {
		return models.Request{}, store.ErrRequestNotFound
	}
	return request, nil
}

func (s *Store) TransitionRequest(ctx context.Context, input store.TransitionInput) (models.Request, error) {
	if _, ok := store.TargetStatus(input.Action); !ok {
		return models.Request{}, store.ErrInvalidState
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[input.RequestID]
	if !ok {
		return models.Request{}, store.ErrRequestNotFound
	}
	if !store.ValidTransition(input.Action, request.Status) {
		return models.Request{}, store.ErrInvalidState
	}
	updated := store.ApplyTransition(request, input.Action, input.Note, occurredAt)
	event, emit, err := store.NewDecisionEvent(updated, input.Action, occurredAt)
	if err != nil {
		return models.Request{}, err
	}
	s.requests[updated.RequestID] = updated
	if emit {
		s.outbox = append(s.outbox, event)
	}
	return updated, nil
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Request
	for _, request := range s.requests {
		if filter.Matches(request) {
			out = append(out, request)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) RequestStats(ctx context.Context) (models.RequestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStatus := map[string]int{}
	byType := map[string]int{}
	for _, request := range s.requests {
		byStatus[request.Status]++
		if request.Status == models.StatusSubmitted {
			byType[request.RequestType]++
		}
	}
	return store.BuildStats(byStatus, byType), nil
}

func (s *Store) ListPendingOutbox(ctx context.Context, maxAttempts, limit int) ([]store.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.OutboxEvent
	for _, event := range s.outbox {
		if event.DeliveredAt != nil || (maxAttempts > 0 && event.Attempts >= maxAttempts) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].EventID == eventID {
			s.outbox[i].Attempts++
			s.outbox[i].DeliveredAt = &at
			s.outbox[i].LastError = ""
			return nil
		}
	}
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, eventID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].EventID == eventID {
			s.outbox[i].Attempts++
			s.outbox[i].LastError = lastError
			return nil
		}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
