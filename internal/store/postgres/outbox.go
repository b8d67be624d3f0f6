package postgres

import (
	"context"
	"database/sql"
	"time"

	"udstportal/portal-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event store.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, event.EventID, event.Type, []byte(event.Payload), event.CreatedAt)
	return err
}

func (s *Store) ListPendingOutbox(ctx context.Context, maxAttempts, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at, attempts, last_error
		FROM outbox_events
		WHERE delivered_at IS NULL AND ($1 <= 0 OR attempts < $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		var lastError sql.NullString
		if err := rows.Scan(&event.EventID, &event.Type, &payload, &event.CreatedAt, &event.Attempts, &lastError); err != nil {
			return nil, err
		}
		event.Payload = payload
		event.LastError = nullString(lastError)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return events, nil
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, delivered_at = $1, last_error = NULL
		WHERE event_id = $2
	`, at, eventID)
	return classify(err)
}

func (s *Store) MarkOutboxFailed(ctx context.Context, eventID, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $1
		WHERE event_id = $2
	`, nullIfEmpty(lastError), eventID)
	return classify(err)
}
