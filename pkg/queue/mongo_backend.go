package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongoconn "github.com/dmitrymomot/jobqueue/pkg/mongo"
)

// MongoBackend implements Backend and Pruner with one MongoDB collection per queue.
//
// Claims use a single FindOneAndUpdate, so exactly one caller can claim a given job.
// Eligible jobs are claimed in run_at order, then by creation time.
type MongoBackend struct {
	coll *mongo.Collection
	opts backendOptions
}

// NewMongoBackend creates a backend storing queue queueName in the "<queueName>_jobs" collection of db.
// The caller owns the client behind db and disconnects it.
func NewMongoBackend(db *mongo.Database, queueName string, opts ...BackendOption) (*MongoBackend, error) {
	if db == nil {
		return nil, ErrBackendNil
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}

	return &MongoBackend{
		coll: db.Collection(queueName + "_jobs"),
		opts: defaultBackendOptions(opts),
	}, nil
}

// EnsureIndexes creates the indexes used by Dequeue and PruneCompleted.
// It is idempotent.
func (b *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := b.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "run_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "completed_at", Value: 1}}},
	})
	if err != nil {
		return storageErr("create indexes", err)
	}
	return nil
}

// Enqueue implements Backend
func (b *MongoBackend) Enqueue(ctx context.Context, taskName string, payload map[string]any, opts ...EnqueueOption) (string, error) {
	job, err := newJob(taskName, payload, b.opts.now(), opts)
	if err != nil {
		return "", err
	}

	if _, err := b.coll.InsertOne(ctx, job); err != nil {
		return "", storageErr("enqueue job", err)
	}

	return job.ID, nil
}

// Dequeue implements Backend
func (b *MongoBackend) Dequeue(ctx context.Context) (*Job, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "status", Value: StatusPending}},
		bson.D{
			{Key: "status", Value: StatusDelayed},
			{Key: "run_at", Value: bson.D{{Key: "$lte", Value: b.opts.now()}}},
		},
	}}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: StatusProcessing}}}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "run_at", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var job Job
	if err := b.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoJobToClaim
		}
		return nil, storageErr("claim job", err)
	}

	return normalizeJob(&job), nil
}

// CompleteJob implements Backend
func (b *MongoBackend) CompleteJob(ctx context.Context, jobID string, result any) error {
	job, err := b.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case StatusCompleted:
		return nil
	case StatusProcessing:
	default:
		return fmt.Errorf("complete job %s in status %s: %w", jobID, job.Status, ErrInvalidState)
	}

	now := b.opts.now()
	set := bson.D{
		{Key: "status", Value: StatusCompleted},
		{Key: "completed_at", Value: now},
	}
	if result != nil {
		set = append(set, bson.E{Key: "payload.result", Value: result})
	}

	matched, err := b.updateInStatus(ctx, jobID, StatusProcessing, set)
	if err != nil {
		return err
	}
	if matched {
		return nil
	}

	// Someone else moved the job first; a concurrent completion still counts as success
	current, err := b.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Status == StatusCompleted {
		return nil
	}
	return fmt.Errorf("complete job %s in status %s: %w", jobID, current.Status, ErrInvalidState)
}

// FailJob implements Backend
func (b *MongoBackend) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := b.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status != StatusProcessing {
		return fmt.Errorf("fail job %s in status %s: %w", jobID, job.Status, ErrInvalidState)
	}

	applyFailure(job, errMsg, b.opts.now())

	matched, err := b.updateInStatus(ctx, jobID, StatusProcessing, bson.D{
		{Key: "status", Value: job.Status},
		{Key: "retries", Value: job.Retries},
		{Key: "run_at", Value: job.RunAt},
		{Key: "error", Value: job.Error},
	})
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("fail job %s: status changed concurrently: %w", jobID, ErrInvalidState)
	}

	return nil
}

// GetJob implements Backend
func (b *MongoBackend) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := b.coll.FindOne(ctx, bson.D{{Key: "_id", Value: jobID}}).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("get job %s: %w", jobID, ErrJobNotFound)
		}
		return nil, storageErr("get job", err)
	}

	return normalizeJob(&job), nil
}

// GetStats implements Backend
func (b *MongoBackend) GetStats(ctx context.Context) (*Stats, error) {
	cursor, err := b.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, storageErr("aggregate stats", err)
	}

	var groups []struct {
		Status Status `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, storageErr("decode stats", err)
	}

	total, err := b.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, storageErr("count jobs", err)
	}

	stats := &Stats{TotalJobs: total}
	for _, g := range groups {
		switch g.Status {
		case StatusPending:
			stats.Pending = g.Count
		case StatusProcessing:
			stats.Processing = g.Count
		case StatusFailed:
			stats.Failed = g.Count
		case StatusDelayed:
			stats.Delayed = g.Count
		case StatusCompleted:
			stats.Completed = g.Count
		}
	}

	return stats, nil
}

// ListJobs implements Backend
func (b *MongoBackend) ListJobs(ctx context.Context, limit, offset int, status Status) ([]*Job, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	filter := bson.D{}
	if status != "" {
		filter = bson.D{{Key: "status", Value: status}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := b.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}

	jobs := make([]*Job, 0, limit)
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, storageErr("decode jobs", err)
	}
	for _, job := range jobs {
		normalizeJob(job)
	}

	return jobs, nil
}

// RetryJob implements Backend
func (b *MongoBackend) RetryJob(ctx context.Context, jobID string) (bool, error) {
	var revived Job
	applyRevival(&revived, b.opts.now())

	matched, err := b.updateInStatus(ctx, jobID, StatusFailed, bson.D{
		{Key: "status", Value: revived.Status},
		{Key: "retries", Value: revived.Retries},
		{Key: "error", Value: revived.Error},
		{Key: "run_at", Value: revived.RunAt},
	})
	if err != nil {
		return false, err
	}
	if matched {
		return true, nil
	}

	// Tell an unknown id apart from a job in another status
	if _, err := b.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// ClearFailed implements Backend
func (b *MongoBackend) ClearFailed(ctx context.Context) (int64, error) {
	res, err := b.coll.DeleteMany(ctx, bson.D{{Key: "status", Value: StatusFailed}})
	if err != nil {
		return 0, storageErr("clear failed jobs", err)
	}
	return res.DeletedCount, nil
}

// PruneCompleted implements Pruner
func (b *MongoBackend) PruneCompleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.coll.DeleteMany(ctx, bson.D{
		{Key: "status", Value: StatusCompleted},
		{Key: "completed_at", Value: bson.D{{Key: "$lte", Value: before}}},
	})
	if err != nil {
		return 0, storageErr("prune completed jobs", err)
	}
	return res.DeletedCount, nil
}

// Ping implements Pinger
func (b *MongoBackend) Ping(ctx context.Context) error {
	return mongoconn.Healthcheck(b.coll.Database().Client())(ctx)
}

// updateInStatus applies set to the job only while it is still in status.
// It reports whether a document matched.
func (b *MongoBackend) updateInStatus(ctx context.Context, jobID string, status Status, set bson.D) (bool, error) {
	res, err := b.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: jobID}, {Key: "status", Value: status}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return false, storageErr("update job", err)
	}
	return res.MatchedCount > 0, nil
}

// normalizeJob converts BSON container types inside the payload back into plain Go maps and slices
func normalizeJob(job *Job) *Job {
	for k, v := range job.Payload {
		job.Payload[k] = normalizeValue(v)
	}
	if job.Payload == nil {
		job.Payload = make(map[string]any)
	}
	if job.CompletedAt != nil {
		t := job.CompletedAt.UTC()
		job.CompletedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.RunAt = job.RunAt.UTC()
	return job
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = normalizeValue(e)
		}
		return m
	case map[string]any:
		for k, e := range val {
			val[k] = normalizeValue(e)
		}
		return val
	case bson.A:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = normalizeValue(e)
		}
		return s
	case []any:
		for i, e := range val {
			val[i] = normalizeValue(e)
		}
		return val
	default:
		return v
	}
}
