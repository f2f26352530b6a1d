package mongo

import (
	"context"

	"bot-admission-gateway/internal/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type LogRepository struct {
	coll *mongo.Collection
}

func NewLogRepository(client *mongo.Client, dbName string) *LogRepository {
	return &LogRepository{
		coll: client.Database(dbName).Collection("traffic_logs"),
	}
}

// EnsureIndexes creates the timestamp index used by RecentLogs.
func (r *LogRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "ip", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	return err
}

func (r *LogRepository) SaveLogs(ctx context.Context, records []core.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}
	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

func (r *LogRepository) RecentLogs(ctx context.Context, limit int64) ([]core.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []core.LogRecord
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
