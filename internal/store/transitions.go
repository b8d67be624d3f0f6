package store

import (
	"time"

	"udstportal/portal-service/internal/models"
)

const (
	ActionApprove     = "approve"
	ActionReject      = "reject"
	ActionMarkPending = "mark_pending"
	ActionCancel      = "cancel"
	ActionResubmit    = "resubmit"
)

type transition struct {
	from []string
	to   string
}

var transitionMap = map[string]transition{
	ActionApprove:     {from: []string{models.StatusSubmitted, models.StatusPending}, to: models.StatusApproved},
	ActionReject:      {from: []string{models.StatusSubmitted, models.StatusPending}, to: models.StatusRejected},
	ActionMarkPending: {from: []string{models.StatusSubmitted}, to: models.StatusPending},
	ActionCancel:      {from: []string{models.StatusSubmitted}, to: models.StatusCanceled},
	ActionResubmit:    {from: []string{models.StatusCanceled}, to: models.StatusSubmitted},
}

func ValidTransition(action, fromStatus string) bool {
	t, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range t.from {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// SourceStatuses lists the statuses an action may start from.
func SourceStatuses(action string) []string {
	t, ok := transitionMap[action]
	if !ok {
		return nil
	}
	out := make([]string, len(t.from))
	copy(out, t.from)
	return out
}

func TargetStatus(action string) (string, bool) {
	t, ok := transitionMap[action]
	if !ok {
		return "", false
	}
	return t.to, true
}

// IsDecision reports whether an action is an administrator decision that the
// requester is told about.
func IsDecision(action string) bool {
	switch action {
	case ActionApprove, ActionReject, ActionMarkPending:
		return true
	default:
		return false
	}
}

// ApplyTransition returns request as it looks after action at the given time.
// Callers must have checked ValidTransition against the stored status.
func ApplyTransition(request models.Request, action, note string, now time.Time) models.Request {
	to, _ := TargetStatus(action)
	request.Status = to
	switch action {
	case ActionApprove, ActionReject, ActionMarkPending:
		request.ProcessedAt = &now
		request.Note = note
	case ActionCancel:
		request.CanceledAt = &now
	case ActionResubmit:
		request.CreatedAt = now
		request.ProcessedAt = nil
		request.CanceledAt = nil
		request.Note = ""
	}
	return request
}
