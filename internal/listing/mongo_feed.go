package listing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"kostfinder/internal/db"
	"kostfinder/internal/models"
)

// MongoFeed turns a change stream on the listings collection into full
// snapshots: every change event triggers a re-read of the collection.
// Change streams need a replica set or sharded cluster.
type MongoFeed struct {
	coll   *mongo.Collection
	logger *logrus.Logger
}

// NewMongoFeed creates a feed over database's listings collection.
func NewMongoFeed(database *mongo.Database, logger *logrus.Logger) *MongoFeed {
	return &MongoFeed{coll: database.Collection(db.ListingsCollection), logger: logger}
}

// Run implements Feed.
func (f *MongoFeed) Run(ctx context.Context, onSnapshot func([]models.Listing)) error {
	// open the stream before the first read so no change falls in between
	stream, err := f.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return fmt.Errorf("failed to open listings change stream: %w", err)
	}
	defer stream.Close(context.Background())

	if err := f.push(ctx, onSnapshot); err != nil {
		return err
	}

	for stream.Next(ctx) {
		var event struct {
			OperationType string `bson:"operationType"`
		}
		if err := stream.Decode(&event); err == nil {
			f.logger.WithField("op", event.OperationType).Debug("Listings changed")
		}
		if err := f.push(ctx, onSnapshot); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("listings change stream failed: %w", err)
	}
	return nil
}

func (f *MongoFeed) push(ctx context.Context, onSnapshot func([]models.Listing)) error {
	snapshot, err := LoadAll(ctx, f.coll)
	if err != nil {
		return err
	}
	onSnapshot(snapshot)
	return nil
}

// LoadAll reads every listing in natural order.
func LoadAll(ctx context.Context, coll *mongo.Collection) ([]models.Listing, error) {
	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	listings := make([]models.Listing, 0)
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}
	return listings, nil
}
