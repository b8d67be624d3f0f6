package store

import (
	"context"
	"encoding/json"
	"time"

	"udstportal/portal-service/internal/models"

	"github.com/google/uuid"
)

type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUserByName(ctx context.Context, name string) (models.User, error)
	InsertUser(ctx context.Context, user models.User) (models.User, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) error
	SetResetToken(ctx context.Context, email, key string, expiry time.Time) error
	FindByResetKey(ctx context.Context, key string) (models.User, error)
	// ResetPassword stores passwordHash for the owner of a live reset key and
	// clears the key in the same write, returning the owner's email.
	ResetPassword(ctx context.Context, key, passwordHash string, now time.Time) (string, error)
}

type SessionStore interface {
	InsertSession(ctx context.Context, session models.Session) error
	FindSessionByKey(ctx context.Context, key string) (models.Session, error)
	DeleteSessionByKey(ctx context.Context, key string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type VerificationStore interface {
	InsertVerificationToken(ctx context.Context, token models.VerificationToken) error
	RedeemVerificationToken(ctx context.Context, email, token string, now time.Time) (models.User, error)
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

type RequestStore interface {
	InsertRequest(ctx context.Context, request models.Request) (models.Request, error)
	GetRequest(ctx context.Context, requestID string) (models.Request, error)
	TransitionRequest(ctx context.Context, input TransitionInput) (models.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error)
	RequestStats(ctx context.Context) (models.RequestStats, error)
}

type OutboxStore interface {
	ListPendingOutbox(ctx context.Context, maxAttempts, limit int) ([]OutboxEvent, error)
	MarkOutboxDelivered(ctx context.Context, eventID string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, eventID, lastError string) error
}

// Store is everything a persistence backend provides.
type Store interface {
	UserStore
	SessionStore
	VerificationStore
	RequestStore
	OutboxStore
	Ping(ctx context.Context) error
}

type TransitionInput struct {
	RequestID  string
	Action     string
	Note       string
	OccurredAt time.Time
}

type RequestFilter struct {
	Statuses       []string
	RequesterEmail string
	RequestType    string
}

// Matches reports whether request passes the filter. Backends that cannot
// push the filter into a query use it directly.
func (f RequestFilter) Matches(request models.Request) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if status == request.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RequesterEmail != "" && f.RequesterEmail != request.RequesterEmail {
		return false
	}
	if f.RequestType != "" && f.RequestType != request.RequestType {
		return false
	}
	return true
}

type OutboxEvent struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// DecisionPayload is the outbox body for an administrator decision.
type DecisionPayload struct {
	RequestID      string `json:"request_id"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	RequestType    string `json:"request_type"`
	CourseCode     string `json:"course_code"`
	Status         string `json:"status"`
	Note           string `json:"note,omitempty"`
}

// NewDecisionEvent builds the outbox event written together with a decision
// transition. It returns false for actions the requester is not told about.
func NewDecisionEvent(request models.Request, action string, at time.Time) (OutboxEvent, bool, error) {
	if !IsDecision(action) {
		return OutboxEvent{}, false, nil
	}
	payload, err := json.Marshal(DecisionPayload{
		RequestID:      request.RequestID,
		RequesterName:  request.RequesterName,
		RequesterEmail: request.RequesterEmail,
		RequestType:    request.RequestType,
		CourseCode:     request.CourseCode,
		Status:         request.Status,
		Note:           request.Note,
	})
	if err != nil {
		return OutboxEvent{}, false, err
	}
	return OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      "request." + request.Status,
		Payload:   payload,
		CreatedAt: at,
	}, true, nil
}

// BuildStats folds per-status and per-type counts into the dashboard figures.
// Canceled requests are not part of the total.
func BuildStats(byStatus, submittedByType map[string]int) models.RequestStats {
	stats := models.RequestStats{
		ByStatus: map[string]int{
			models.StatusSubmitted: 0,
			models.StatusPending:   0,
			models.StatusApproved:  0,
			models.StatusRejected:  0,
			models.StatusCanceled:  0,
		},
		ByType: map[string]int{},
	}
	for _, t := range models.RequestTypes {
		stats.ByType[t] = 0
	}
	for status, count := range byStatus {
		stats.ByStatus[status] = count
		if status != models.StatusCanceled {
			stats.Total += count
		}
	}
	for t, count := range submittedByType {
		stats.ByType[t] = count
	}
	return stats
}
