package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

// Mailer renders the portal's emails and hands them to a Provider.
type Mailer struct {
	provider  Provider
	resetTTL  time.Duration
	verifyTTL time.Duration
}

func NewMailer(provider Provider, resetTTL, verifyTTL time.Duration) *Mailer {
	return &Mailer{provider: provider, resetTTL: resetTTL, verifyTTL: verifyTTL}
}

func (m *Mailer) SendVerification(ctx context.Context, user models.User, link string) error {
	return m.provider.Send(ctx, Message{
		To:      user.Email,
		Subject: verificationSubject,
		TextBody: renderTemplate(verificationBody, templateData{
			"name":    user.Name,
			"link":    link,
			"expires": humanDuration(m.verifyTTL),
		}),
	})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, user models.User, link string) error {
	return m.provider.Send(ctx, Message{
		To:      user.Email,
		Subject: resetSubject,
		TextBody: renderTemplate(resetBody, templateData{
			"name":    user.Name,
			"link":    link,
			"expires": humanDuration(m.resetTTL),
		}),
	})
}

// DecisionMessage builds the email for an outbox decision event.
func DecisionMessage(event store.OutboxEvent) (Message, error) {
	var payload store.DecisionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	if payload.RequesterEmail == "" {
		return Message{}, fmt.Errorf("event %s has no recipient", event.EventID)
	}
	data := templateData{
		"requester_name": payload.RequesterName,
		"request_type":   models.RequestTypeLabel(payload.RequestType),
		"course_code":    payload.CourseCode,
		"status":         payload.Status,
		"action":         strings.ToUpper(payload.Status),
		"note_block":     noteBlock(payload.Note),
	}
	return Message{
		To:       payload.RequesterEmail,
		Subject:  renderTemplate(decisionSubject, data),
		TextBody: renderTemplate(decisionBody, data),
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
}
