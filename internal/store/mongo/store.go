// Package mongo stores portal records in MongoDB collections. Conditional
// updates run as single-document operations, so the backend works without a
// replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	usersCollection         = "UserAccounts"
	sessionsCollection      = "SessionData"
	verificationsCollection = "VerificationTokens"
	requestsCollection      = "forms"
	outboxCollection        = "outbox"
)

type Store struct {
	client        *mongodriver.Client
	users         *mongodriver.Collection
	sessions      *mongodriver.Collection
	verifications *mongodriver.Collection
	requests      *mongodriver.Collection
	outbox        *mongodriver.Collection
}

// Connect opens a client for uri and returns a store bound to database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	st := NewStore(client, database)
	if err := st.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return st, nil
}

func NewStore(client *mongodriver.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:        client,
		users:         db.Collection(usersCollection),
		sessions:      db.Collection(sessionsCollection),
		verifications: db.Collection(verificationsCollection),
		requests:      db.Collection(requestsCollection),
		outbox:        db.Collection(outboxCollection),
	}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	plan := []struct {
		collection *mongodriver.Collection
		models     []mongodriver.IndexModel
	}{
		{s.users, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "reset_key", Value: 1}}, Options: options.Index().SetSparse(true)},
		}},
		{s.sessions, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		}},
		{s.verifications, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		}},
		{s.requests, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "requester_email", Value: 1}, {Key: "status", Value: 1}}},
		}},
		{s.outbox, []mongodriver.IndexModel{
			{Keys: bson.D{{Key: "delivered_at", Value: 1}, {Key: "created_at", Value: 1}}},
		}},
	}
	for _, entry := range plan {
		if _, err := entry.collection.Indexes().CreateMany(ctx, entry.models); err != nil {
			return classify(fmt.Errorf("create indexes on %s: %w", entry.collection.Name(), err))
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.client.Ping(ctx, readpref.Primary()))
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongodriver.IsNetworkError(err) || mongodriver.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return store.Unavailable(err)
	}
	return err
}

func userConflict(err error) error {
	if !mongodriver.IsDuplicateKeyError(err) {
		return classify(err)
	}
	var writeErr mongodriver.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if strings.Contains(we.Message, "name_1") {
				return store.ErrNameTaken
			}
		}
	}
	return store.ErrEmailTaken
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findUser(ctx, bson.D{{Key: "email", Value: normalizeEmail(email)}})
}

func (s *Store) FindUserByName(ctx context.Context, name string) (models.User, error) {
	return s.findUser(ctx, bson.D{{Key: "name", Value: name}})
}

func (s *Store) findUser(ctx context.Context, filter bson.D) (models.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, classify(err)
	}
	return doc.model(), nil
}

func (s *Store) InsertUser(ctx context.Context, user models.User) (models.User, error) {
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
	user.ResetKey = ""
	user.ResetExpiry = nil
	if _, err := s.users.InsertOne(ctx, newUserDocument(user)); err != nil {
		return models.User{}, userConflict(err)
	}
	return user, nil
}

func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	result, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "email", Value: normalizeEmail(email)}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "password_hash", Value: passwordHash}}},
			{Key: "$unset", Value: bson.D{{Key: "reset_key", Value: ""}, {Key: "reset_expiry", Value: ""}}},
		},
	)
	if err != nil {
		return classify(err)
	}
	if result.MatchedCount == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetResetToken(ctx context.Context, email, key string, expiry time.Time) error {
	result, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "email", Value: normalizeEmail(email)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "reset_key", Value: key}, {Key: "reset_expiry", Value: expiry}}}},
	)
	if err != nil {
		return classify(err)
	}
	if result.MatchedCount == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) FindByResetKey(ctx context.Context, key string) (models.User, error) {
	if key == "" {
		return models.User{}, store.ErrTokenNotFound
	}
	user, err := s.findUser(ctx, bson.D{{Key: "reset_key", Value: key}})
	if errors.Is(err, store.ErrUserNotFound) {
		return models.User{}, store.ErrTokenNotFound
	}
	return user, err
}

func (s *Store) ResetPassword(ctx context.Context, key, passwordHash string, now time.Time) (string, error) {
	if key == "" {
		return "", store.ErrTokenNotFound
	}
	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "reset_key", Value: key},
			{Key: "reset_expiry", Value: bson.D{{Key: "$gt", Value: now}}},
		},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "password_hash", Value: passwordHash}}},
			{Key: "$unset", Value: bson.D{{Key: "reset_key", Value: ""}, {Key: "reset_expiry", Value: ""}}},
		},
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return "", store.ErrTokenNotFound
		}
		return "", classify(err)
	}
	return doc.Email, nil
}

func (s *Store) InsertSession(ctx context.Context, session models.Session) error {
	_, err := s.sessions.InsertOne(ctx, sessionDocument{
		Key:       session.Key,
		Username:  session.Username,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
	})
	return classify(err)
}

func (s *Store) FindSessionByKey(ctx context.Context, key string) (models.Session, error) {
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, classify(err)
	}
	return models.Session{Key: doc.Key, Username: doc.Username, Role: doc.Role, ExpiresAt: doc.ExpiresAt.UTC()}, nil
}

func (s *Store) DeleteSessionByKey(ctx context.Context, key string) error {
	result, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	if err != nil {
		return classify(err)
	}
	if result.DeletedCount == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, s.sessions, now)
}

func (s *Store) deleteExpired(ctx context.Context, collection *mongodriver.Collection, now time.Time) (int64, error) {
	result, err := collection.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}}})
	if err != nil {
		return 0, classify(err)
	}
	return result.DeletedCount, nil
}

func (s *Store) InsertVerificationToken(ctx context.Context, token models.VerificationToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	candidate := token.Candidate
	_, err := s.verifications.InsertOne(ctx, verificationDocument{
		Token:        token.Token,
		Name:         candidate.Name,
		Email:        normalizeEmail(candidate.Email),
		PasswordHash: candidate.PasswordHash,
		Program:      candidate.Program,
		Role:         candidate.Role,
		ExpiresAt:    token.ExpiresAt,
		CreatedAt:    token.CreatedAt,
	})
	return classify(err)
}

// RedeemVerificationToken removes the token first so that only one caller can
// win it. If the account insert then fails the token is put back.
func (s *Store) RedeemVerificationToken(ctx context.Context, email, token string, now time.Time) (models.User, error) {
	var doc verificationDocument
	err := s.verifications.FindOneAndDelete(ctx, bson.D{
		{Key: "_id", Value: token},
		{Key: "email", Value: normalizeEmail(email)},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return models.User{}, store.ErrTokenNotFound
		}
		return models.User{}, classify(err)
	}

	candidate := doc.candidate()
	candidate.CreatedAt = now
	user, err := s.InsertUser(ctx, candidate)
	if err != nil {
		if _, restoreErr := s.verifications.InsertOne(ctx, doc); restoreErr != nil {
			return models.User{}, errors.Join(err, restoreErr)
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, s.verifications, now)
}
