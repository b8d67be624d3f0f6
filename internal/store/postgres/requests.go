package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const requestColumns = `request_id, requester_name, requester_email, course_code, course_name, current_section, request_type, reason, status, note, created_at, processed_at, canceled_at`

func scanRequest(row pgx.Row) (models.Request, error) {
	var request models.Request
	var processedAt sql.NullTime
	var canceledAt sql.NullTime
	err := row.Scan(
		&request.RequestID,
		&request.RequesterName,
		&request.RequesterEmail,
		&request.CourseCode,
		&request.CourseName,
		&request.CurrentSection,
		&request.RequestType,
		&request.Reason,
		&request.Status,
		&request.Note,
		&request.CreatedAt,
		&processedAt,
		&canceledAt,
	)
	if err != nil {
		return models.Request{}, err
	}
	request.CreatedAt = request.CreatedAt.UTC()
	request.ProcessedAt = nullTimePtr(processedAt)
	request.CanceledAt = nullTimePtr(canceledAt)
	return request, nil
}

func (s *Store) InsertRequest(ctx context.Context, request models.Request) (models.Request, error) {
	if request.RequestID == "" {
		request.RequestID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.StatusSubmitted
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO requests (request_id, requester_name, requester_email, course_code, course_name, current_section, request_type, reason, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, request.RequestID, request.RequesterName, request.RequesterEmail, request.CourseCode, request.CourseName,
		request.CurrentSection, request.RequestType, request.Reason, request.Status, request.Note, request.CreatedAt)
	if err != nil {
		return models.Request{}, classify(err)
	}
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (models.Request, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return models.Request{}, store.ErrRequestNotFound
	}
	request, err := scanRequest(s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE request_id = $1
	`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Request{}, store.ErrRequestNotFound
		}
		return models.Request{}, classify(err)
	}
	return request, nil
}

// transitionSet returns the SET clause for action along with its arguments.
func transitionSet(action, toStatus, note string, at time.Time) (string, []interface{}) {
	switch {
	case store.IsDecision(action):
		return "status = $1, processed_at = $2, note = $3", []interface{}{toStatus, at, note}
	case action == store.ActionCancel:
		return "status = $1, canceled_at = $2", []interface{}{toStatus, at}
	default:
		return "status = $1, created_at = $2, processed_at = NULL, canceled_at = NULL, note = ''", []interface{}{toStatus, at}
	}
}

func (s *Store) TransitionRequest(ctx context.Context, input store.TransitionInput) (request models.Request, err error) {
	toStatus, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.Request{}, store.ErrInvalidState
	}
	if _, parseErr := uuid.Parse(input.RequestID); parseErr != nil {
		return models.Request{}, store.ErrRequestNotFound
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Request{}, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	setClause, args := transitionSet(input.Action, toStatus, input.Note, occurredAt)
	args = append(args, input.RequestID, store.SourceStatuses(input.Action))
	query := fmt.Sprintf(`
		UPDATE requests
		SET %s
		WHERE request_id = $%d AND status = ANY($%d)
		RETURNING %s
	`, setClause, len(args)-1, len(args), requestColumns)

	request, err = scanRequest(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, loadErr := requestExists(ctx, tx, input.RequestID)
			if loadErr != nil {
				err = classify(loadErr)
				return models.Request{}, err
			}
			if !exists {
				err = store.ErrRequestNotFound
				return models.Request{}, err
			}
			err = store.ErrInvalidState
			return models.Request{}, err
		}
		err = classify(err)
		return models.Request{}, err
	}

	event, emit, err := store.NewDecisionEvent(request, input.Action, occurredAt)
	if err != nil {
		return models.Request{}, err
	}
	if emit {
		if err = insertOutboxEvent(ctx, tx, event); err != nil {
			err = classify(err)
			return models.Request{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		err = classify(err)
		return models.Request{}, err
	}
	return request, nil
}

func requestExists(ctx context.Context, tx pgx.Tx, requestID string) (bool, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM requests WHERE request_id = $1`, requestID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]models.Request, error) {
	var conditions []string
	var args []interface{}
	if len(filter.Statuses) > 0 {
		args = append(args, filter.Statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.RequesterEmail != "" {
		args = append(args, filter.RequesterEmail)
		conditions = append(conditions, fmt.Sprintf("requester_email = $%d", len(args)))
	}
	if filter.RequestType != "" {
		args = append(args, filter.RequestType)
		conditions = append(conditions, fmt.Sprintf("request_type = $%d", len(args)))
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, request_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var requests []models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return requests, nil
}

func (s *Store) RequestStats(ctx context.Context) (models.RequestStats, error) {
	byStatus := map[string]int{}
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return models.RequestStats{}, classify(err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return models.RequestStats{}, err
		}
		byStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.RequestStats{}, classify(err)
	}

	byType := map[string]int{}
	rows, err = s.pool.Query(ctx, `
		SELECT request_type, COUNT(*)
		FROM requests
		WHERE status = $1
		GROUP BY request_type
	`, models.StatusSubmitted)
	if err != nil {
		return models.RequestStats{}, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var requestType string
		var count int
		if err := rows.Scan(&requestType, &count); err != nil {
			return models.RequestStats{}, err
		}
		byType[requestType] = count
	}
	if err := rows.Err(); err != nil {
		return models.RequestStats{}, classify(err)
	}
	return store.BuildStats(byStatus, byType), nil
}
