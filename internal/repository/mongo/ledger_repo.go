package mongo

import (
	"context"
	"errors"

	"bot-admission-gateway/internal/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LedgerRepository stores the blocklist keyed by source id and the
// detection trail with a unique (ip, reason) index.
type LedgerRepository struct {
	db *mongo.Database
}

func NewLedgerRepository(client *mongo.Client, dbName string) *LedgerRepository {
	return &LedgerRepository{db: client.Database(dbName)}
}

func (r *LedgerRepository) blocklist() *mongo.Collection  { return r.db.Collection("blocklist") }
func (r *LedgerRepository) detections() *mongo.Collection { return r.db.Collection("detections") }

func (r *LedgerRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.detections().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ip", Value: 1}, {Key: "reason", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *LedgerRepository) SaveBlock(ctx context.Context, rec core.BlockRecord) error {
	_, err := r.blocklist().ReplaceOne(ctx, bson.M{"_id": rec.SourceID}, rec, options.Replace().SetUpsert(true))
	return err
}

func (r *LedgerRepository) DeleteBlock(ctx context.Context, sourceID string) error {
	_, err := r.blocklist().DeleteOne(ctx, bson.M{"_id": sourceID})
	return err
}

// SaveDetections ignores entries the unique index already holds.
func (r *LedgerRepository) SaveDetections(ctx context.Context, detections []core.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	docs := make([]interface{}, len(detections))
	for i := range detections {
		docs[i] = detections[i]
	}
	_, err := r.detections().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && onlyDuplicates(err) {
		return nil
	}
	return err
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

func (r *LedgerRepository) LoadBlocks(ctx context.Context) ([]core.BlockRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "blocked_at", Value: 1}})
	cursor, err := r.blocklist().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []core.BlockRecord
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LedgerRepository) LoadDetections(ctx context.Context) ([]core.Detection, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := r.detections().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []core.Detection
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
