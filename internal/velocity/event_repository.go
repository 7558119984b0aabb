package velocity

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"velo/internal/constants"
	"velo/internal/stage"
	"velo/pkg/circuitbreaker"
	pkgerrors "velo/pkg/errors"
	"velo/pkg/metrics"
	"velo/pkg/retry"
)

// EventSource is the normalized-event read contract. An empty result is
// an empty slice, never an error.
type EventSource interface {
	ListEvents(ctx context.Context, tenant string, workItemIDs []string, types []stage.EventType) ([]stage.Event, error)
}

// MongoEventSource reads the ingested event collection. Reads are
// wrapped in retry and a circuit breaker; an open breaker or exhausted
// retries surface as SERVICE_UNAVAILABLE, fatal to the whole request.
type MongoEventSource struct {
	events  *mongo.Collection
	policy  retry.Policy
	breaker *circuitbreaker.Wrapper
}

func NewMongoEventSource(db *mongo.Database) *MongoEventSource {
	return &MongoEventSource{
		events:  db.Collection(constants.CollectionEvents),
		policy:  retry.DefaultPolicy(),
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("event-store")),
	}
}

func (s *MongoEventSource) ListEvents(ctx context.Context, tenant string, workItemIDs []string, types []stage.EventType) ([]stage.Event, error) {
	query := bson.M{"tenant": tenant}
	if len(workItemIDs) > 0 {
		query["work_item_id"] = bson.M{"$in": workItemIDs}
	}
	if len(types) > 0 {
		query["type"] = bson.M{"$in": types}
	}

	var events []stage.Event
	_, err := s.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		retryErr := retry.Retry(ctx, s.policy, func() error {
			found, listErr := s.find(ctx, query)
			if listErr != nil {
				return listErr
			}
			events = found
			return nil
		})
		return nil, retryErr
	})
	if err != nil {
		metrics.IncEventStoreRequest("error")
		return nil, pkgerrors.ErrServiceUnavailable.WithCause(err).WithDetail("message", "event store unavailable")
	}
	metrics.IncEventStoreRequest("success")
	return events, nil
}

func (s *MongoEventSource) find(ctx context.Context, query bson.M) ([]stage.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.events.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]stage.Event, 0)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}

// eventsByItem groups a flat event list for per-item lookup during the
// fan-out.
func eventsByItem(events []stage.Event) map[string][]stage.Event {
	byItem := make(map[string][]stage.Event)
	for _, ev := range events {
		byItem[ev.WorkItemID] = append(byItem[ev.WorkItemID], ev)
	}
	return byItem
}
