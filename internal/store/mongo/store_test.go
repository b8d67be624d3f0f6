package mongo

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var _ store.Store = (*Store)(nil)

func TestTransitionUpdateResubmitUnsetsDecision(t *testing.T) {
	now := time.Now().UTC()
	update := transitionUpdate(store.ActionResubmit, models.StatusSubmitted, "ignored", now)
	require.Len(t, update, 2)
	assert.Equal(t, "$set", update[0].Key)
	assert.Equal(t, "$unset", update[1].Key)

	set := update[0].Value.(bson.D)
	assert.Contains(t, set, bson.E{Key: "note", Value: ""})
	assert.Contains(t, set, bson.E{Key: "created_at", Value: now})
}

func TestTransitionUpdateDecisionCarriesNote(t *testing.T) {
	now := time.Now().UTC()
	update := transitionUpdate(store.ActionReject, models.StatusRejected, "section full", now)
	require.Len(t, update, 1)
	set := update[0].Value.(bson.D)
	assert.Contains(t, set, bson.E{Key: "note", Value: "section full"})
	assert.Contains(t, set, bson.E{Key: "processed_at", Value: now})
}

func TestMongoStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, st.InsertVerificationToken(ctx, models.VerificationToken{
		Token:     "tok",
		Candidate: models.User{Name: "Sara", Email: "Sara@udst.edu.qa", PasswordHash: "hash", Role: models.RoleBasic},
		ExpiresAt: now.Add(time.Hour),
	}))
	user, err := st.RedeemVerificationToken(ctx, "sara@udst.edu.qa", "tok", now)
	require.NoError(t, err)
	assert.Equal(t, "sara@udst.edu.qa", user.Email)

	_, err = st.RedeemVerificationToken(ctx, "sara@udst.edu.qa", "tok", now)
	assert.ErrorIs(t, err, store.ErrTokenNotFound)

	_, err = st.InsertUser(ctx, models.User{Name: "Sara", Email: "x@udst.edu.qa"})
	assert.ErrorIs(t, err, store.ErrNameTaken)
	_, err = st.InsertUser(ctx, models.User{Name: "Other", Email: "SARA@udst.edu.qa"})
	assert.ErrorIs(t, err, store.ErrEmailTaken)

	require.NoError(t, st.SetResetToken(ctx, user.Email, "reset-key", now.Add(time.Minute)))
	email, err := st.ResetPassword(ctx, "reset-key", "new-hash", now)
	require.NoError(t, err)
	assert.Equal(t, user.Email, email)
	reset, err := st.FindUserByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", reset.PasswordHash)
	assert.Empty(t, reset.ResetKey)
	_, err = st.ResetPassword(ctx, "reset-key", "other-hash", now)
	assert.ErrorIs(t, err, store.ErrTokenNotFound)

	req, err := st.InsertRequest(ctx, models.Request{RequesterName: "Sara", RequesterEmail: user.Email, RequestType: models.TypeDropCourse, CourseCode: "CS101"})
	require.NoError(t, err)

	approved, err := st.TransitionRequest(ctx, store.TransitionInput{RequestID: req.RequestID, Action: store.ActionApprove, Note: "ok", OccurredAt: now})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ProcessedAt)

	_, err = st.TransitionRequest(ctx, store.TransitionInput{RequestID: req.RequestID, Action: store.ActionCancel})
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = st.TransitionRequest(ctx, store.TransitionInput{RequestID: uuid.NewString(), Action: store.ActionCancel})
	assert.ErrorIs(t, err, store.ErrRequestNotFound)

	events, err := st.ListPendingOutbox(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "request.approved", events[0].Type)
	require.NoError(t, st.MarkOutboxDelivered(ctx, events[0].EventID, now))
	events, err = st.ListPendingOutbox(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	stats, err := st.RequestStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusApproved])
}

func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI is required for integration tests")
	}
	database := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	st, err := Connect(ctx, uri, database)
	require.NoError(t, err)
	require.NoError(t, st.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = st.client.Database(database).Drop(context.Background())
		_ = st.Close(context.Background())
	})
	return st
}
