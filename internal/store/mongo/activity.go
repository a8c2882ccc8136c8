package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/types"
)

// ActivityRepository persists activity records in MongoDB.
type ActivityRepository struct {
	col *mongo.Collection
}

func (r *ActivityRepository) Create(ctx context.Context, activity types.Activity) (types.Activity, error) {
	activity.CreatedAt = mongoTime(activity.CreatedAt)
	if _, err := r.col.InsertOne(ctx, activity); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.Activity{}, store.ErrDuplicate
		}
		return types.Activity{}, fmt.Errorf("wordgate/mongo: create activity: %w", err)
	}
	return activity, nil
}

func (r *ActivityRepository) Recent(ctx context.Context, accountID string, limit int) ([]types.Activity, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("wordgate/mongo: recent activities: %w", err)
	}
	activities := make([]types.Activity, 0, limit)
	if err := cursor.All(ctx, &activities); err != nil {
		return nil, fmt.Errorf("wordgate/mongo: recent activities: %w", err)
	}
	for i := range activities {
		activities[i].CreatedAt = activities[i].CreatedAt.UTC()
	}
	return activities, nil
}

func (r *ActivityRepository) CountByDay(ctx context.Context, accountID string, since time.Time) ([]types.DailyCount, error) {
	match := bson.M{"created_at": bson.M{"$gte": mongoTime(since)}}
	if accountID != "" {
		match["account_id"] = accountID
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format":   "%Y-%m-%d",
				"date":     "$created_at",
				"timezone": "UTC",
			}},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("wordgate/mongo: count by day: %w", err)
	}
	var rows []struct {
		Day   string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("wordgate/mongo: count by day: %w", err)
	}

	counts := make([]types.DailyCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, types.DailyCount{Date: row.Day, Count: row.Count})
	}
	return counts, nil
}

func (r *ActivityRepository) Stats(ctx context.Context, accountID string) (types.ActivityStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"account_id": accountID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"words": bson.M{"$sum": "$word_count"},
		}}},
	}
	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return types.ActivityStats{}, fmt.Errorf("wordgate/mongo: activity stats: %w", err)
	}
	var rows []struct {
		Count int64 `bson:"count"`
		Words int64 `bson:"words"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return types.ActivityStats{}, fmt.Errorf("wordgate/mongo: activity stats: %w", err)
	}
	if len(rows) == 0 {
		return types.ActivityStats{}, nil
	}
	return types.ActivityStats{TotalActivities: rows[0].Count, TotalWords: rows[0].Words}, nil
}
