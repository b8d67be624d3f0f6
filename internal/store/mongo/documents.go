package mongo

import (
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

type userDocument struct {
	ID           string     `bson:"_id"`
	Name         string     `bson:"name"`
	Email        string     `bson:"email"`
	PasswordHash string     `bson:"password_hash"`
	Program      string     `bson:"program"`
	Role         string     `bson:"role"`
	CreatedAt    time.Time  `bson:"created_at"`
	ResetKey     string     `bson:"reset_key,omitempty"`
	ResetExpiry  *time.Time `bson:"reset_expiry,omitempty"`
}

func newUserDocument(user models.User) userDocument {
	return userDocument{
		ID:           user.UserID,
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Program:      user.Program,
		Role:         user.Role,
		CreatedAt:    user.CreatedAt,
		ResetKey:     user.ResetKey,
		ResetExpiry:  user.ResetExpiry,
	}
}

func (d userDocument) model() models.User {
	user := models.User{
		UserID:       d.ID,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Program:      d.Program,
		Role:         d.Role,
		CreatedAt:    d.CreatedAt.UTC(),
		ResetKey:     d.ResetKey,
	}
	if d.ResetExpiry != nil {
		expiry := d.ResetExpiry.UTC()
		user.ResetExpiry = &expiry
	}
	return user
}

type sessionDocument struct {
	Key       string    `bson:"_id"`
	Username  string    `bson:"username"`
	Role      string    `bson:"role"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type verificationDocument struct {
	Token        string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Program      string    `bson:"program"`
	Role         string    `bson:"role"`
	ExpiresAt    time.Time `bson:"expires_at"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d verificationDocument) candidate() models.User {
	return models.User{
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Program:      d.Program,
		Role:         d.Role,
	}
}

type requestDocument struct {
	ID             string     `bson:"_id"`
	RequesterName  string     `bson:"requester_name"`
	RequesterEmail string     `bson:"requester_email"`
	CourseCode     string     `bson:"course_code"`
	CourseName     string     `bson:"course_name"`
	CurrentSection string     `bson:"current_section"`
	RequestType    string     `bson:"request_type"`
	Reason         string     `bson:"reason"`
	Status         string     `bson:"status"`
	Note           string     `bson:"note"`
	CreatedAt      time.Time  `bson:"created_at"`
	ProcessedAt    *time.Time `bson:"processed_at,omitempty"`
	CanceledAt     *time.Time `bson:"canceled_at,omitempty"`
}

func newRequestDocument(request models.Request) requestDocument {
	return requestDocument{
		ID:             request.RequestID,
		RequesterName:  request.RequesterName,
		RequesterEmail: request.RequesterEmail,
		CourseCode:     request.CourseCode,
		CourseName:     request.CourseName,
		CurrentSection: request.CurrentSection,
		RequestType:    request.RequestType,
		Reason:         request.Reason,
		Status:         request.Status,
		Note:           request.Note,
		CreatedAt:      request.CreatedAt,
		ProcessedAt:    request.ProcessedAt,
		CanceledAt:     request.CanceledAt,
	}
}

func (d requestDocument) model() models.Request {
	return models.Request{
		RequestID:      d.ID,
		RequesterName:  d.RequesterName,
		RequesterEmail: d.RequesterEmail,
		CourseCode:     d.CourseCode,
		CourseName:     d.CourseName,
		CurrentSection: d.CurrentSection,
		RequestType:    d.RequestType,
		Reason:         d.Reason,
		Status:         d.Status,
		Note:           d.Note,
		CreatedAt:      d.CreatedAt.UTC(),
		ProcessedAt:    utcPtr(d.ProcessedAt),
		CanceledAt:     utcPtr(d.CanceledAt),
	}
}

type outboxDocument struct {
	ID          string     `bson:"_id"`
	Type        string     `bson:"type"`
	Payload     string     `bson:"payload"`
	CreatedAt   time.Time  `bson:"created_at"`
	Attempts    int        `bson:"attempts"`
	LastError   string     `bson:"last_error,omitempty"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty"`
}

func (d outboxDocument) model() store.OutboxEvent {
	return store.OutboxEvent{
		EventID:     d.ID,
		Type:        d.Type,
		Payload:     []byte(d.Payload),
		CreatedAt:   d.CreatedAt.UTC(),
		Attempts:    d.Attempts,
		LastError:   d.LastError,
		DeliveredAt: utcPtr(d.DeliveredAt),
	}
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := value.UTC()
	return &t
}
