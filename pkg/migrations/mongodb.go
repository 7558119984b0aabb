package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"velo/internal/constants"
)

// EnsureMongoIndexes creates the indexes the event store and item
// sources query against. Safe to call on every startup.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	eventIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant", Value: 1}, {Key: "work_item_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_events_tenant_item_ts"),
		},
		{
			Keys:    bson.D{{Key: "tenant", Value: 1}, {Key: "type", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_events_tenant_type_ts"),
		},
	}
	if err := createIndexes(ctx, db.Collection(constants.CollectionEvents), eventIndexes); err != nil {
		return err
	}

	itemIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant", Value: 1}, {Key: "kind", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_work_items_tenant_kind_created"),
		},
		{
			Keys:    bson.D{{Key: "tenant", Value: 1}, {Key: "kind", Value: 1}, {Key: "fields.pr_id", Value: 1}},
			Options: options.Index().SetName("idx_work_items_tenant_kind_pr"),
		},
	}
	if err := createIndexes(ctx, db.Collection(constants.CollectionWorkItems), itemIndexes); err != nil {
		return err
	}

	ouIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant", Value: 1}, {Key: "ou_ref_id", Value: 1}},
			Options: options.Index().SetName("idx_org_units_tenant_ref"),
		},
	}
	return createIndexes(ctx, db.Collection(constants.CollectionOrgUnits), ouIndexes)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
