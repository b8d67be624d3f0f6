package mongo

import (
	"context"
	"errors"
	"time"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/store"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

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
	if _, err := s.requests.InsertOne(ctx, newRequestDocument(request)); err != nil {
		return models.Request{}, classify(err)
	}
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (models.Request, error) {
	var doc requestDocument
	if err := s.requests.FindOne(ctx, bson.D{{Key: "_id", Value: requestID}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return models.Request{}, store.ErrRequestNotFound
		}
		return models.Request{}, classify(err)
	}
	return doc.model(), nil
}

func transitionUpdate(action, toStatus, note string, at time.Time) bson.D {
	switch {
	case store.IsDecision(action):
		return bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: toStatus},
			{Key: "processed_at", Value: at},
			{Key: "note", Value: note},
		}}}
	case action == store.ActionCancel:
		return bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: toStatus},
			{Key: "canceled_at", Value: at},
		}}}
	default:
		return bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: toStatus},
				{Key: "created_at", Value: at},
				{Key: "note", Value: ""},
			}},
			{Key: "$unset", Value: bson.D{
				{Key: "processed_at", Value: ""},
				{Key: "canceled_at", Value: ""},
			}},
		}
	}
}

// TransitionRequest applies the move with a status-guarded FindOneAndUpdate.
// The outbox event is written after the update succeeds.
func (s *Store) TransitionRequest(ctx context.Context, input store.TransitionInput) (models.Request, error) {
	toStatus, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.Request{}, store.ErrInvalidState
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	filter := bson.D{
		{Key: "_id", Value: input.RequestID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: store.SourceStatuses(input.Action)}}},
	}
	var doc requestDocument
	err := s.requests.FindOneAndUpdate(ctx, filter,
		transitionUpdate(input.Action, toStatus, input.Note, occurredAt),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongodriver.ErrNoDocuments) {
			return models.Request{}, classify(err)
		}
		count, countErr := s.requests.CountDocuments(ctx, bson.D{{Key: "_id", Value: input.RequestID}})
		if countErr != nil {
			return models.Request{}, classify(countErr)
		}
		if count == 0 {
			return models.Request{}, store.ErrRequestNotFound
		}
		return models.Request{}, store.ErrInvalidState
	}

	request := doc.model()
	event, emit, err := store.NewDecisionEvent(request, input.Action, occurredAt)
	if err != nil {
		return models.Request{}, err
	}
	if emit {
		_, err := s.outbox.InsertOne(ctx, outboxDocument{
			ID:        event.EventID,
			Type:      event.Type,
			Payload:   string(event.Payload),
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			return request, classify(err)
		}
	}
	return request, nil
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]models.Request, error) {
	query := bson.D{}
	if len(filter.Statuses) > 0 {
		query = append(query, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: filter.Statuses}}})
	}
	if filter.RequesterEmail != "" {
		query = append(query, bson.E{Key: "requester_email", Value: filter.RequesterEmail})
	}
	if filter.RequestType != "" {
		query = append(query, bson.E{Key: "request_type", Value: filter.RequestType})
	}

	cursor, err := s.requests.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	var docs []requestDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	requests := make([]models.Request, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, doc.model())
	}
	return requests, nil
}

type groupCount struct {
	Key   string `bson:"_id"`
	Count int    `bson:"count"`
}

func (s *Store) countBy(ctx context.Context, match bson.D, field string) (map[string]int, error) {
	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.requests.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify(err)
	}
	var groups []groupCount
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, classify(err)
	}
	counts := make(map[string]int, len(groups))
	for _, group := range groups {
		counts[group.Key] = group.Count
	}
	return counts, nil
}

func (s *Store) RequestStats(ctx context.Context) (models.RequestStats, error) {
	byStatus, err := s.countBy(ctx, bson.D{}, "status")
	if err != nil {
		return models.RequestStats{}, err
	}
	byType, err := s.countBy(ctx, bson.D{{Key: "status", Value: models.StatusSubmitted}}, "request_type")
	if err != nil {
		return models.RequestStats{}, err
	}
	return store.BuildStats(byStatus, byType), nil
}

func (s *Store) ListPendingOutbox(ctx context.Context, maxAttempts, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.D{{Key: "delivered_at", Value: bson.D{{Key: "$exists", Value: false}}}}
	if maxAttempts > 0 {
		filter = append(filter, bson.E{Key: "attempts", Value: bson.D{{Key: "$lt", Value: maxAttempts}}})
	}
	cursor, err := s.outbox.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, classify(err)
	}
	var docs []outboxDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	events := make([]store.OutboxEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, doc.model())
	}
	return events, nil
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.outbox.UpdateOne(ctx, bson.D{{Key: "_id", Value: eventID}}, bson.D{
		{Key: "$set", Value: bson.D{{Key: "delivered_at", Value: at}}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
		{Key: "$unset", Value: bson.D{{Key: "last_error", Value: ""}}},
	})
	return classify(err)
}

func (s *Store) MarkOutboxFailed(ctx context.Context, eventID, lastError string) error {
	_, err := s.outbox.UpdateOne(ctx, bson.D{{Key: "_id", Value: eventID}}, bson.D{
		{Key: "$set", Value: bson.D{{Key: "last_error", Value: lastError}}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
	})
	return classify(err)
}
