package report

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/essync/internal/etl"
	"github.com/BartekS5/essync/pkg/logger"
)

const (
	kindModel   = "model"
	kindSummary = "summary"
)

// MongoSink stores migration reports in a MongoDB collection: one document
// per (task, model) and one summary per task. Re-recording a task
// overwrites its documents.
type MongoSink struct {
	Client     *mongo.Client
	Database   string
	Collection string
}

func NewMongoSink(client *mongo.Client, database, collection string) *MongoSink {
	return &MongoSink{Client: client, Database: database, Collection: collection}
}

func (m *MongoSink) Record(ctx context.Context, run *etl.RunReport) error {
	if run == nil {
		return nil
	}
	coll := m.Client.Database(m.Database).Collection(m.Collection)

	var writes []mongo.WriteModel
	for _, doc := range Documents(run) {
		filter := bson.M{"task_id": doc["task_id"], "kind": doc["kind"], "model": doc["model"]}
		update := bson.M{"$set": doc}
		writes = append(writes, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return err
	}
	logger.Infof("Mongo BulkWrite: Match %d, Mod %d, Upsert %d", res.MatchedCount, res.ModifiedCount, res.UpsertedCount)
	return nil
}

// Documents renders a run as the documents MongoSink stores, model
// documents first and the summary last.
func Documents(run *etl.RunReport) []bson.M {
	out := make([]bson.M, 0, len(run.Models)+1)
	for _, r := range run.Models {
		doc := bson.M{
			"task_id":            run.TaskID,
			"kind":               kindModel,
			"model":              r.Model,
			"index":              r.Index,
			"state":              r.State.String(),
			"skipped":            r.Skipped,
			"pages":              r.Pages,
			"documents":          r.Documents,
			"failed_items":       r.FailedItems,
			"dropped_fields":     r.DroppedFields,
			"transform_failures": r.TransformFailures,
			"extract_ms":         r.ExtractDuration.Milliseconds(),
			"load_ms":            r.LoadDuration.Milliseconds(),
			"started_at":         r.Started,
			"finished_at":        r.Finished,
		}
		if r.Err != nil {
			doc["error"] = r.Err.Error()
		}
		out = append(out, doc)
	}

	summary := bson.M{
		"task_id":       run.TaskID,
		"kind":          kindSummary,
		"model":         "",
		"models":        len(run.Models),
		"failed_models": len(run.Failed()),
		"documents":     run.Documents(),
		"started_at":    run.Started,
		"finished_at":   run.Finished,
	}
	if run.Err != nil {
		summary["error"] = run.Err.Error()
	}
	return append(out, summary)
}
