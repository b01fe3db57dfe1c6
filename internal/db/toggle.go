package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const toggleAttempts = 5

// ArrayUpdater is the part of *mongo.Collection ToggleMember needs.
type ArrayUpdater interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// ToggleMember adds member to the array field of document id, or pulls it when
// already there, and reports whether member is present afterwards. Both steps
// are conditional updates, so a concurrent toggle makes a step match nothing
// rather than apply twice. Returns ErrNoMatch when the document does not exist.
func ToggleMember(ctx context.Context, coll ArrayUpdater, id interface{}, field string, member interface{}, now time.Time) (bool, error) {
	touch := bson.M{"updated_at": now}
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": id, field: bson.M{"$ne": member}},
			bson.M{"$addToSet": bson.M{field: member}, "$set": touch})
		if err != nil {
			return false, err
		}
		if res.MatchedCount > 0 {
			return true, nil
		}

		res, err = coll.UpdateOne(ctx,
			bson.M{"_id": id, field: member},
			bson.M{"$pull": bson.M{field: member}, "$set": touch})
		if err != nil {
			return false, err
		}
		if res.MatchedCount > 0 {
			return false, nil
		}

		n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, ErrNoMatch
		}
	}
	return false, fmt.Errorf("%s kept changing during toggle", field)
}
