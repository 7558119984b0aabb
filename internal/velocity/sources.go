package velocity

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"velo/internal/constants"
	"velo/internal/predicate"
	pkgerrors "velo/pkg/errors"
)

// ItemSource yields the work items of one kind that satisfy a composed
// predicate set, plus the eligible total.
type ItemSource interface {
	ListEligible(ctx context.Context, tenant string, kind ItemKind, set predicate.Set) ([]WorkItem, int, error)
}

// OrgDirectory resolves organizational units to their member user ids,
// for org-unit scoping of user filters.
type OrgDirectory interface {
	Members(ctx context.Context, tenant string, ouRefIDs []int) ([]string, error)
}

// MongoItemSource reads the ingested work-item collection. Kind and
// tenant narrow the query server-side; the full predicate vocabulary is
// then applied in-process, so every operator keeps its literal
// semantics regardless of what the storage engine would make of it.
type MongoItemSource struct {
	items *mongo.Collection
}

func NewMongoItemSource(db *mongo.Database) *MongoItemSource {
	return &MongoItemSource{items: db.Collection(constants.CollectionWorkItems)}
}

func (s *MongoItemSource) ListEligible(ctx context.Context, tenant string, kind ItemKind, set predicate.Set) ([]WorkItem, int, error) {
	cursor, err := s.items.Find(ctx, bson.M{"tenant": tenant, "kind": kind})
	if err != nil {
		return nil, 0, pkgerrors.ErrServiceUnavailable.WithCause(err).WithDetail("message", "work item store unavailable")
	}
	defer cursor.Close(ctx)

	var eligible []WorkItem
	for cursor.Next(ctx) {
		var item WorkItem
		if err := cursor.Decode(&item); err != nil {
			return nil, 0, fmt.Errorf("failed to decode work item: %w", err)
		}
		if set.Match(&item) {
			eligible = append(eligible, item)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, pkgerrors.ErrServiceUnavailable.WithCause(err).WithDetail("message", "work item store unavailable")
	}
	return eligible, len(eligible), nil
}

type orgUnit struct {
	Tenant  string   `bson:"tenant"`
	OuRefID int      `bson:"ou_ref_id"`
	Members []string `bson:"members"`
}

// MongoOrgDirectory reads the org_units collection maintained by the
// identity collaborator.
type MongoOrgDirectory struct {
	units *mongo.Collection
}

func NewMongoOrgDirectory(db *mongo.Database) *MongoOrgDirectory {
	return &MongoOrgDirectory{units: db.Collection(constants.CollectionOrgUnits)}
}

func (d *MongoOrgDirectory) Members(ctx context.Context, tenant string, ouRefIDs []int) ([]string, error) {
	cursor, err := d.units.Find(ctx, bson.M{
		"tenant":    tenant,
		"ou_ref_id": bson.M{"$in": ouRefIDs},
	})
	if err != nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithCause(err).WithDetail("message", "org directory unavailable")
	}
	defer cursor.Close(ctx)

	seen := make(map[string]struct{})
	var members []string
	for cursor.Next(ctx) {
		var unit orgUnit
		if err := cursor.Decode(&unit); err != nil {
			return nil, fmt.Errorf("failed to decode org unit: %w", err)
		}
		for _, member := range unit.Members {
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			members = append(members, member)
		}
	}
	return members, cursor.Err()
}
