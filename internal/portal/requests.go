package portal

import (
	"context"
	"errors"
	"strings"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"
)

type SubmitInput struct {
	CourseCode     string
	CourseName     string
	CurrentSection string
	RequestType    string
	Reason         string
}

// Submit files a new request on behalf of the session's user.
func (s *Service) Submit(ctx context.Context, actor models.Session, input SubmitInput) (models.Request, error) {
	input.CourseCode = strings.ToUpper(strings.TrimSpace(input.CourseCode))
	input.CourseName = strings.TrimSpace(input.CourseName)
	input.CurrentSection = strings.TrimSpace(input.CurrentSection)
	input.RequestType = strings.TrimSpace(input.RequestType)
	input.Reason = strings.TrimSpace(input.Reason)

	switch {
	case input.CourseCode == "":
		return models.Request{}, invalid("course_code", "course code is required")
	case input.CourseName == "":
		return models.Request{}, invalid("course_name", "course name is required")
	case !models.ValidRequestType(input.RequestType):
		return models.Request{}, invalid("request_type", "request type must be one of "+strings.Join(models.RequestTypes, ", "))
	case input.RequestType == models.TypeChangeSection && input.CurrentSection == "":
		return models.Request{}, invalid("current_section", "current section is required to change section")
	case input.Reason == "":
		return models.Request{}, invalid("reason", "reason is required")
	}

	user, err := s.CurrentUser(ctx, actor)
	if err != nil {
		return models.Request{}, err
	}
	request, err := s.store.InsertRequest(ctx, models.Request{
		RequesterName:  user.Name,
		RequesterEmail: user.Email,
		CourseCode:     input.CourseCode,
		CourseName:     input.CourseName,
		CurrentSection: input.CurrentSection,
		RequestType:    input.RequestType,
		Reason:         input.Reason,
		Status:         models.StatusSubmitted,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return models.Request{}, err
	}
	s.logger.InfoContext(ctx, "request submitted", "request_id", request.RequestID, "type", request.RequestType)
	return request, nil
}

func (s *Service) Approve(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error) {
	return s.decide(ctx, actor, store.ActionApprove, requestID, note)
}

func (s *Service) Reject(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error) {
	return s.decide(ctx, actor, store.ActionReject, requestID, note)
}

func (s *Service) MarkPending(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error) {
	return s.decide(ctx, actor, store.ActionMarkPending, requestID, note)
}

func (s *Service) decide(ctx context.Context, actor models.Session, action, requestID, note string) (models.Request, error) {
	if !actor.IsAdmin() {
		return models.Request{}, ErrForbidden
	}
	return s.transition(ctx, action, requestID, strings.TrimSpace(note))
}

// Cancel withdraws one of the actor's own submitted requests.
func (s *Service) Cancel(ctx context.Context, actor models.Session, requestID string) (models.Request, error) {
	if err := s.checkOwner(ctx, actor, requestID); err != nil {
		return models.Request{}, err
	}
	return s.transition(ctx, store.ActionCancel, requestID, "")
}

// Resubmit puts one of the actor's canceled requests back in the queue.
func (s *Service) Resubmit(ctx context.Context, actor models.Session, requestID string) (models.Request, error) {
	if err := s.checkOwner(ctx, actor, requestID); err != nil {
		return models.Request{}, err
	}
	return s.transition(ctx, store.ActionResubmit, requestID, "")
}

func (s *Service) transition(ctx context.Context, action, requestID, note string) (models.Request, error) {
	request, err := s.store.TransitionRequest(ctx, store.TransitionInput{
		RequestID:  requestID,
		Action:     action,
		Note:       note,
		OccurredAt: s.now(),
	})
	if err != nil {
		return models.Request{}, err
	}
	s.logger.InfoContext(ctx, "request transitioned", "request_id", request.RequestID, "action", action, "status", request.Status)
	return request, nil
}

func (s *Service) checkOwner(ctx context.Context, actor models.Session, requestID string) error {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	user, err := s.CurrentUser(ctx, actor)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrForbidden
		}
		return err
	}
	if request.RequesterEmail != user.Email {
		return ErrForbidden
	}
	return nil
}

// GetRequest returns any request to an administrator and only their own
// requests to everyone else.
func (s *Service) GetRequest(ctx context.Context, actor models.Session, requestID string) (models.Request, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return models.Request{}, err
	}
	if actor.IsAdmin() {
		return request, nil
	}
	user, err := s.CurrentUser(ctx, actor)
	if err != nil {
		return models.Request{}, err
	}
	if request.RequesterEmail != user.Email {
		return models.Request{}, store.ErrRequestNotFound
	}
	return request, nil
}

func (s *Service) ListByStatus(ctx context.Context, status string) ([]models.Request, error) {
	return s.store.ListRequests(ctx, store.RequestFilter{Statuses: []string{status}})
}

func (s *Service) ListSubmitted(ctx context.Context) ([]models.Request, error) {
	return s.ListByStatus(ctx, models.StatusSubmitted)
}

func (s *Service) ListPending(ctx context.Context) ([]models.Request, error) {
	return s.ListByStatus(ctx, models.StatusPending)
}

func (s *Service) ListApproved(ctx context.Context) ([]models.Request, error) {
	return s.ListByStatus(ctx, models.StatusApproved)
}

func (s *Service) ListRejected(ctx context.Context) ([]models.Request, error) {
	return s.ListByStatus(ctx, models.StatusRejected)
}

// ListByRequester returns the requester's open and canceled requests, oldest first.
func (s *Service) ListByRequester(ctx context.Context, email string) ([]models.Request, error) {
	return s.store.ListRequests(ctx, store.RequestFilter{
		Statuses:       []string{models.StatusSubmitted, models.StatusCanceled},
		RequesterEmail: normalizeEmail(email),
	})
}

// ListByType groups the submitted requests by request type. Every type has
// an entry, possibly empty.
func (s *Service) ListByType(ctx context.Context) (map[string][]models.Request, error) {
	requests, err := s.ListSubmitted(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]models.Request, len(models.RequestTypes))
	for _, t := range models.RequestTypes {
		grouped[t] = []models.Request{}
	}
	for _, request := range requests {
		grouped[request.RequestType] = append(grouped[request.RequestType], request)
	}
	return grouped, nil
}

func (s *Service) Stats(ctx context.Context) (models.RequestStats, error) {
	return s.store.RequestStats(ctx)
}
