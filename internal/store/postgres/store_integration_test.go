package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ store.Store = (*Store)(nil)

func TestTransitionRequestRaceAllowsSingleWinner(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	req := createRequest(t, ctx, st, "sara@udst.edu.qa")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, action := range []string{store.ActionApprove, store.ActionCancel} {
		wg.Add(1)
		go func(action string) {
			defer wg.Done()
			_, err := st.TransitionRequest(ctx, store.TransitionInput{RequestID: req.RequestID, Action: action})
			results <- err
		}(action)
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case err == store.ErrInvalidState:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d and %d", ok, conflicts)
	}

	final, err := st.GetRequest(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events`).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if final.Status == models.StatusApproved && outboxCount != 1 {
		t.Fatalf("expected one outbox event for approval, got %d", outboxCount)
	}
	if final.Status == models.StatusCanceled && outboxCount != 0 {
		t.Fatalf("expected no outbox events for cancel, got %d", outboxCount)
	}
}

func TestResubmitClearsDecisionFields(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	req := createRequest(t, ctx, st, "sara@udst.edu.qa")
	if _, err := st.TransitionRequest(ctx, store.TransitionInput{RequestID: req.RequestID, Action: store.ActionCancel}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	later := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	resubmitted, err := st.TransitionRequest(ctx, store.TransitionInput{RequestID: req.RequestID, Action: store.ActionResubmit, OccurredAt: later})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.Status != models.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", resubmitted.Status)
	}
	if resubmitted.CanceledAt != nil || resubmitted.ProcessedAt != nil {
		t.Fatalf("expected cleared timestamps")
	}
	if !resubmitted.CreatedAt.Equal(later) {
		t.Fatalf("expected created_at %v, got %v", later, resubmitted.CreatedAt)
	}

	if _, err := st.TransitionRequest(ctx, store.TransitionInput{RequestID: uuid.NewString(), Action: store.ActionApprove}); err != store.ErrRequestNotFound {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestRedeemVerificationTokenCreatesUserOnce(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	err := st.InsertVerificationToken(ctx, models.VerificationToken{
		Token:     "tok",
		Candidate: models.User{Name: "Sara", Email: "Sara@udst.edu.qa", PasswordHash: "hash", Role: models.RoleBasic},
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("insert token: %v", err)
	}

	user, err := st.RedeemVerificationToken(ctx, "sara@udst.edu.qa", "tok", now)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if user.Email != "sara@udst.edu.qa" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if _, err := st.RedeemVerificationToken(ctx, "sara@udst.edu.qa", "tok", now); err != store.ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := st.InsertUser(ctx, models.User{Name: "Sara", Email: "another@udst.edu.qa", PasswordHash: "x"}); err != store.ErrNameTaken {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	if _, err := st.InsertUser(ctx, models.User{Name: "Other", Email: "SARA@udst.edu.qa", PasswordHash: "x"}); err != store.ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestResetPasswordSingleUse(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	if _, err := st.InsertUser(ctx, models.User{Name: "Sara", Email: "sara@udst.edu.qa", PasswordHash: "x"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := st.SetResetToken(ctx, "sara@udst.edu.qa", "key", now.Add(time.Minute)); err != nil {
		t.Fatalf("set reset token: %v", err)
	}
	email, err := st.ResetPassword(ctx, "key", "new-hash", now)
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if email != "sara@udst.edu.qa" {
		t.Fatalf("unexpected email %s", email)
	}
	user, err := st.FindUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.PasswordHash != "new-hash" || user.ResetKey != "" || user.ResetExpiry != nil {
		t.Fatalf("unexpected user after reset %+v", user)
	}
	if _, err := st.ResetPassword(ctx, "key", "other-hash", now); err != store.ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func createRequest(t *testing.T, ctx context.Context, st *Store, email string) models.Request {
	t.Helper()
	req, err := st.InsertRequest(ctx, models.Request{
		RequesterName:  "Sara",
		RequesterEmail: email,
		CourseCode:     "CS101",
		CourseName:     "Intro",
		RequestType:    models.TypeDropCourse,
	})
	if err != nil {
		t.Fatalf("insert request: %v", err)
	}
	return req
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}
